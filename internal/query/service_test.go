package query

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"topic_syncer/internal/domain"
	"topic_syncer/internal/metrics"
	"topic_syncer/internal/storage/memory"
)

type mapCache struct {
	mu      sync.Mutex
	values  map[string][]byte
	failGet bool
	sets    int
}

func newMapCache() *mapCache {
	return &mapCache{values: make(map[string][]byte)}
}

func (c *mapCache) Get(_ context.Context, key string, dest any) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failGet {
		return false, errors.New("redis: connection refused")
	}
	raw, ok := c.values[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, dest)
}

func (c *mapCache) Set(_ context.Context, key string, value any, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.values[key] = raw
	c.sets++
	return nil
}

type QueryServiceTestSuite struct {
	suite.Suite
	ctx   context.Context
	store *memory.Store
	cache *mapCache
	svc   *Service
}

func TestQueryServiceTestSuite(t *testing.T) {
	suite.Run(t, new(QueryServiceTestSuite))
}

func (s *QueryServiceTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = memory.New()
	s.cache = newMapCache()
	s.svc = NewService(s.store, s.store, slog.New(slog.NewTextHandler(io.Discard, nil)),
		WithCache(s.cache, time.Minute),
		WithMetrics(metrics.New()),
	)
}

func (s *QueryServiceTestSuite) seed() {
	s.Require().NoError(s.store.UpsertCategory(s.ctx, &domain.Category{Name: "Gov", ListingURL: "g"}))
	s.Require().NoError(s.store.UpsertCategory(s.ctx, &domain.Category{Name: "Tech", ListingURL: "t"}))

	at := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	for i, name := range []string{"T2", "T1"} {
		_, err := s.store.UpsertTopic(s.ctx, &domain.Topic{
			Category: "Gov", Name: name, URL: "u-" + name, Summary: "summary " + name, Position: i, SyncedAt: at,
		})
		s.Require().NoError(err)
	}
}

func (s *QueryServiceTestSuite) TestCategories_EmptyIsNotError() {
	names, err := s.svc.Categories(s.ctx)
	s.NoError(err)
	s.NotNil(names)
	s.Empty(names)
}

func (s *QueryServiceTestSuite) TestCategories() {
	s.seed()

	names, err := s.svc.Categories(s.ctx)
	s.NoError(err)
	s.Equal([]string{"Gov", "Tech"}, names)
}

func (s *QueryServiceTestSuite) TestTopicsFor_UnknownCategory() {
	s.seed()

	_, err := s.svc.TopicsFor(s.ctx, "Nope", 2)
	s.ErrorIs(err, domain.ErrCategoryNotFound)
	s.Equal("Unknown category.", UserMessage(err))

	_, cached := s.cache.values["topics:2:Nope"]
	s.False(cached)
}

func (s *QueryServiceTestSuite) TestTopicsFor_KnownCategoryWithoutTopics() {
	s.seed()

	views, err := s.svc.TopicsFor(s.ctx, "Tech", 2)
	s.NoError(err)
	s.NotNil(views)
	s.Empty(views)
}

func (s *QueryServiceTestSuite) TestTopicsFor_ReturnsViewsInOrder() {
	s.seed()

	views, err := s.svc.TopicsFor(s.ctx, "Gov", 2)
	s.NoError(err)
	s.Equal([]TopicView{
		{Name: "T2", URL: "u-T2", Summary: "summary T2"},
		{Name: "T1", URL: "u-T1", Summary: "summary T1"},
	}, views)
}

func (s *QueryServiceTestSuite) TestTopicsFor_ServedFromCache() {
	s.seed()

	first, err := s.svc.TopicsFor(s.ctx, "Gov", 1)
	s.NoError(err)
	s.Equal(1, s.cache.sets)

	_, err = s.store.UpsertTopic(s.ctx, &domain.Topic{
		Category: "Gov", Name: "T3", URL: "u-T3", SyncedAt: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
	})
	s.Require().NoError(err)

	second, err := s.svc.TopicsFor(s.ctx, "Gov", 1)
	s.NoError(err)
	s.Equal(first, second)
	s.Equal(1, s.cache.sets)
}

func (s *QueryServiceTestSuite) TestCacheFailureIsBypassed() {
	s.seed()
	s.cache.failGet = true

	views, err := s.svc.TopicsFor(s.ctx, "Gov", 2)
	s.NoError(err)
	s.Len(views, 2)
}

func (s *QueryServiceTestSuite) TestClose_RefusesNewCalls() {
	s.seed()
	s.svc.Close()

	_, err := s.svc.Categories(s.ctx)
	s.ErrorIs(err, ErrClosed)

	_, err = s.svc.TopicsFor(s.ctx, "Gov", 2)
	s.ErrorIs(err, ErrClosed)
	s.Equal("Something went wrong, please try later.", UserMessage(err))
}

func (s *QueryServiceTestSuite) TestStorageErrorIsWrapped() {
	ctx, cancel := context.WithCancel(s.ctx)
	cancel()

	svc := NewService(s.store, s.store, slog.New(slog.NewTextHandler(io.Discard, nil)))
	_, err := svc.Categories(ctx)
	s.Error(err)
	s.True(domain.IsStorage(err))
}
