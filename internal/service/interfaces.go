package service

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks

import (
	"context"

	"topic_syncer/internal/domain"
)

type Origin interface {
	ID() string
	Name() string
	ListCategories(ctx context.Context) ([]domain.Category, error)
	ListTopics(ctx context.Context, listingURL string, limit int) ([]domain.TopicRef, error)
	FetchTopicBody(ctx context.Context, topicURL string) (string, error)
}

type Summarizer interface {
	Summarize(ctx context.Context, text string) string
}

type CategoryStore interface {
	UpsertCategory(ctx context.Context, category *domain.Category) error
	AllCategories(ctx context.Context) ([]domain.Category, error)
}

type TopicStore interface {
	UpsertTopic(ctx context.Context, topic *domain.Topic) (bool, error)
}

type CursorStore interface {
	CursorFor(ctx context.Context, category string) (*domain.SyncCursor, error)
	UpsertCursor(ctx context.Context, cursor *domain.SyncCursor) error
}

type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type Publisher interface {
	Publish(ctx context.Context, topic *domain.Topic, isNew bool) error
	Close() error
}
