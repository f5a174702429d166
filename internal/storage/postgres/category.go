package postgres

import (
	"context"
	"database/sql"
	"errors"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"topic_syncer/internal/domain"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

type CategoryStore struct {
	db *sqlx.DB
}

func NewCategoryStore(db *sqlx.DB) *CategoryStore {
	return &CategoryStore{db: db}
}

func (s *CategoryStore) UpsertCategory(ctx context.Context, category *domain.Category) error {
	query := `
		INSERT INTO categories (name, listing_url, description)
		VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE SET
			listing_url = EXCLUDED.listing_url,
			description = EXCLUDED.description,
			updated_at = NOW()`

	_, err := GetExecutor(ctx, s.db).ExecContext(ctx, query,
		category.Name,
		category.ListingURL,
		category.Description,
	)
	return domain.WrapStorage("upsert category", err)
}

func (s *CategoryStore) AllCategories(ctx context.Context) ([]domain.Category, error) {
	query, args, err := psql.
		Select("name", "listing_url", "description").
		From("categories").
		OrderBy("name ASC").
		ToSql()
	if err != nil {
		return nil, domain.WrapStorage("build categories query", err)
	}

	categories := make([]domain.Category, 0)
	if err := sqlx.SelectContext(ctx, GetExecutor(ctx, s.db), &categories, query, args...); err != nil {
		return nil, domain.WrapStorage("select categories", err)
	}
	return categories, nil
}

// CategoryByName returns nil, nil when the category does not exist.
func (s *CategoryStore) CategoryByName(ctx context.Context, name string) (*domain.Category, error) {
	query, args, err := psql.
		Select("name", "listing_url", "description").
		From("categories").
		Where(sq.Eq{"name": name}).
		ToSql()
	if err != nil {
		return nil, domain.WrapStorage("build category query", err)
	}

	var category domain.Category
	err = sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &category, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.WrapStorage("select category", err)
	}
	return &category, nil
}
