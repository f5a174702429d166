package postgres

import (
	"context"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"topic_syncer/internal/domain"
)

type TopicStore struct {
	db *sqlx.DB
}

func NewTopicStore(db *sqlx.DB) *TopicStore {
	return &TopicStore{db: db}
}

// UpsertTopic writes the topic keyed by (category, url) and reports whether
// the row was newly inserted.
func (s *TopicStore) UpsertTopic(ctx context.Context, topic *domain.Topic) (bool, error) {
	query := `
		INSERT INTO topics (category, name, topic_url, body_text, summary, position, synced_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (category, topic_url) DO UPDATE SET
			name = EXCLUDED.name,
			body_text = EXCLUDED.body_text,
			summary = EXCLUDED.summary,
			position = EXCLUDED.position,
			synced_at = EXCLUDED.synced_at
		RETURNING (xmax = 0) AS created`

	var created bool
	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &created, query,
		topic.Category,
		topic.Name,
		topic.URL,
		topic.Body,
		topic.Summary,
		topic.Position,
		topic.SyncedAt,
	)
	if err != nil {
		return false, domain.WrapStorage("upsert topic", err)
	}
	return created, nil
}

// TopTopics returns up to limit topics, latest ingest first and in listing
// order within an ingest. limit <= 0 returns all.
func (s *TopicStore) TopTopics(ctx context.Context, category string, limit int) ([]domain.Topic, error) {
	query, args, err := topTopicsQuery(category, limit)
	if err != nil {
		return nil, domain.WrapStorage("build topics query", err)
	}

	topics := make([]domain.Topic, 0)
	if err := sqlx.SelectContext(ctx, GetExecutor(ctx, s.db), &topics, query, args...); err != nil {
		return nil, domain.WrapStorage("select topics", err)
	}
	return topics, nil
}

func topTopicsQuery(category string, limit int) (string, []interface{}, error) {
	builder := psql.
		Select("category", "name", "topic_url", "body_text", "summary", "position", "synced_at").
		From("topics").
		Where(sq.Eq{"category": category}).
		OrderBy("synced_at DESC", "position ASC", "id ASC")
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}
	return builder.ToSql()
}
