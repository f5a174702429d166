package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"topic_syncer/internal/domain"
	"topic_syncer/internal/metrics"
)

// ErrClosed is returned for calls made after Close.
var ErrClosed = errors.New("query service closed")

type CategoryReader interface {
	AllCategories(ctx context.Context) ([]domain.Category, error)
	CategoryByName(ctx context.Context, name string) (*domain.Category, error)
}

type TopicReader interface {
	TopTopics(ctx context.Context, category string, limit int) ([]domain.Topic, error)
}

// Cache is an optional read-through cache. Misses return found=false.
type Cache interface {
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
}

// TopicView is what front ends show for a topic.
type TopicView struct {
	Name    string `json:"name"`
	URL     string `json:"url"`
	Summary string `json:"summary"`
}

// Service answers read-only questions about the mirror.
type Service struct {
	categories CategoryReader
	topics     TopicReader
	cache      Cache
	ttl        time.Duration
	metrics    *metrics.Metrics
	logger     *slog.Logger
	closed     atomic.Bool
}

type Option func(*Service)

// WithCache enables read-through caching with the given TTL.
func WithCache(c Cache, ttl time.Duration) Option {
	return func(s *Service) {
		s.cache = c
		s.ttl = ttl
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func NewService(categories CategoryReader, topics TopicReader, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		categories: categories,
		topics:     topics,
		logger:     logger.With("component", "query"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close refuses new calls. Calls already running complete normally.
func (s *Service) Close() {
	s.closed.Store(true)
}

// Categories returns every known category name. An empty slice is a valid answer.
func (s *Service) Categories(ctx context.Context) ([]string, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	const key = "categories"
	var names []string
	if s.cacheGet(ctx, key, &names) {
		s.metrics.Query("categories", "ok")
		return names, nil
	}

	categories, err := s.categories.AllCategories(ctx)
	if err != nil {
		s.metrics.Query("categories", "error")
		return nil, fmt.Errorf("load categories: %w", err)
	}

	names = make([]string, len(categories))
	for i, c := range categories {
		names[i] = c.Name
	}

	s.cacheSet(ctx, key, names)
	s.metrics.Query("categories", "ok")
	return names, nil
}

// TopicsFor returns up to limit topics of category. It returns
// domain.ErrCategoryNotFound for a category that was never discovered and an
// empty slice for a known category without topics.
func (s *Service) TopicsFor(ctx context.Context, category string, limit int) ([]TopicView, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	key := fmt.Sprintf("topics:%d:%s", limit, category)
	var views []TopicView
	if s.cacheGet(ctx, key, &views) {
		s.metrics.Query("topics", "ok")
		return views, nil
	}

	known, err := s.categories.CategoryByName(ctx, category)
	if err != nil {
		s.metrics.Query("topics", "error")
		return nil, fmt.Errorf("load category: %w", err)
	}
	if known == nil {
		s.metrics.Query("topics", "not_found")
		return nil, domain.ErrCategoryNotFound
	}

	topics, err := s.topics.TopTopics(ctx, category, limit)
	if err != nil {
		s.metrics.Query("topics", "error")
		return nil, fmt.Errorf("load topics: %w", err)
	}

	views = make([]TopicView, len(topics))
	for i, t := range topics {
		views[i] = TopicView{Name: t.Name, URL: t.URL, Summary: t.Summary}
	}

	s.cacheSet(ctx, key, views)
	s.metrics.Query("topics", "ok")
	return views, nil
}

func (s *Service) cacheGet(ctx context.Context, key string, dest any) bool {
	if s.cache == nil {
		return false
	}

	found, err := s.cache.Get(ctx, key, dest)
	if err != nil {
		s.logger.Warn("cache get failed", "key", key, "error", err)
		return false
	}
	s.metrics.CacheLookup(found)
	return found
}

func (s *Service) cacheSet(ctx context.Context, key string, value any) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, key, value, s.ttl); err != nil {
		s.logger.Warn("cache set failed", "key", key, "error", err)
	}
}

// UserMessage maps an error to text safe to show to end users.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, domain.ErrCategoryNotFound):
		return "Unknown category."
	default:
		return "Something went wrong, please try later."
	}
}
