package postgres

import (
	"context"
	"database/sql"
	"errors"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"topic_syncer/internal/domain"
)

type CursorStore struct {
	db *sqlx.DB
}

func NewCursorStore(db *sqlx.DB) *CursorStore {
	return &CursorStore{db: db}
}

// CursorFor returns nil, nil for a category that has never been ingested.
func (s *CursorStore) CursorFor(ctx context.Context, category string) (*domain.SyncCursor, error) {
	query, args, err := psql.
		Select("category", "last_seen_topic_name", "last_synced_at").
		From("sync_cursors").
		Where(sq.Eq{"category": category}).
		ToSql()
	if err != nil {
		return nil, domain.WrapStorage("build cursor query", err)
	}

	var cursor domain.SyncCursor
	err = sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &cursor, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.WrapStorage("select cursor", err)
	}
	return &cursor, nil
}

// UpsertCursor ignores writes older than the stored last_synced_at.
func (s *CursorStore) UpsertCursor(ctx context.Context, cursor *domain.SyncCursor) error {
	query := `
		INSERT INTO sync_cursors (category, last_seen_topic_name, last_synced_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (category) DO UPDATE SET
			last_seen_topic_name = EXCLUDED.last_seen_topic_name,
			last_synced_at = EXCLUDED.last_synced_at
		WHERE sync_cursors.last_synced_at <= EXCLUDED.last_synced_at`

	_, err := GetExecutor(ctx, s.db).ExecContext(ctx, query,
		cursor.Category,
		cursor.LastSeenTopicName,
		cursor.LastSyncedAt,
	)
	return domain.WrapStorage("upsert cursor", err)
}
