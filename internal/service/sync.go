package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"topic_syncer/internal/config"
	"topic_syncer/internal/domain"
	"topic_syncer/internal/metrics"
)

type SyncService struct {
	origin     Origin
	categories CategoryStore
	topics     TopicStore
	cursors    CursorStore
	txManager  TransactionManager
	summarizer Summarizer
	publisher  Publisher
	logger     *slog.Logger
	config     config.SyncConfig

	metrics    *metrics.Metrics
	now        func() time.Time
	discovered atomic.Bool
}

type Option func(*SyncService)

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *SyncService) {
		s.metrics = m
	}
}

// WithClock overrides the time source used for cursor and topic timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *SyncService) {
		s.now = now
	}
}

// NewSyncService wires the engine. publisher may be nil.
func NewSyncService(
	origin Origin,
	categories CategoryStore,
	topics TopicStore,
	cursors CursorStore,
	txManager TransactionManager,
	summarizer Summarizer,
	publisher Publisher,
	logger *slog.Logger,
	cfg config.SyncConfig,
	opts ...Option,
) *SyncService {
	if cfg.TopicsPerCategory < 1 {
		cfg.TopicsPerCategory = 1
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}

	s := &SyncService{
		origin:     origin,
		categories: categories,
		topics:     topics,
		cursors:    cursors,
		txManager:  txManager,
		summarizer: summarizer,
		publisher:  publisher,
		logger:     logger.With("source", origin.ID()),
		config:     cfg,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Discover reads the origin's category index and stores it in one transaction.
func (s *SyncService) Discover(ctx context.Context) error {
	categories, err := s.origin.ListCategories(ctx)
	if err != nil {
		return fmt.Errorf("list categories: %w", err)
	}
	if len(categories) == 0 {
		return fmt.Errorf("origin listed no categories")
	}

	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		for i := range categories {
			if err := s.categories.UpsertCategory(txCtx, &categories[i]); err != nil {
				return fmt.Errorf("upsert category %q: %w", categories[i].Name, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.discovered.Store(true)
	s.logger.Info("categories discovered", "count", len(categories))
	return nil
}

// Discovered reports whether a discovery pass has succeeded.
func (s *SyncService) Discovered() bool {
	return s.discovered.Load()
}

// Sync runs one poll cycle. Per-category failures are counted in the stats;
// only failing to read the stored category set fails the cycle.
func (s *SyncService) Sync(ctx context.Context) (*domain.SyncStats, error) {
	startTime := time.Now()
	s.logger.Info("starting sync",
		"source_name", s.origin.Name(),
		"topics_per_category", s.config.TopicsPerCategory,
		"workers", s.config.Workers,
	)

	if !s.discovered.Load() {
		if err := s.Discover(ctx); err != nil {
			s.logger.Warn("category discovery failed, retrying next cycle", "error", err)
		}
	}

	categories, err := s.categories.AllCategories(ctx)
	if err != nil {
		s.metrics.ObserveCycle(time.Since(startTime), err)
		return nil, fmt.Errorf("load categories: %w", err)
	}

	stats := &domain.SyncStats{Categories: len(categories)}
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(s.config.Workers)

	for _, category := range categories {
		if ctx.Err() != nil {
			break
		}
		category := category
		g.Go(func() error {
			res := s.syncCategory(ctx, category)
			s.metrics.CategoryOutcome(string(res.outcome))

			mu.Lock()
			res.addTo(stats)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	stats.Duration = time.Since(startTime)
	s.metrics.ObserveCycle(stats.Duration, ctx.Err())

	s.logger.Info("sync completed",
		"categories", stats.Categories,
		"unchanged", stats.Unchanged,
		"empty", stats.Empty,
		"ingested", stats.Ingested,
		"failed", stats.Failed,
		"topics_written", stats.TopicsWritten,
		"topics_created", stats.TopicsCreated,
		"published", stats.Published,
		"duration", stats.Duration,
	)

	if err := ctx.Err(); err != nil {
		return stats, err
	}
	return stats, nil
}

type categoryResult struct {
	outcome       domain.Outcome
	fetched       int
	written       int
	created       int
	published     int
	publishErrors int
}

func (r categoryResult) addTo(stats *domain.SyncStats) {
	stats.Record(r.outcome)
	stats.TopicsFetched += r.fetched
	stats.TopicsWritten += r.written
	stats.TopicsCreated += r.created
	stats.Published += r.published
	stats.PublishErrors += r.publishErrors
}

func (s *SyncService) syncCategory(ctx context.Context, category domain.Category) categoryResult {
	logger := s.logger.With("category", category.Name)
	res := categoryResult{outcome: domain.OutcomeFailed}

	if category.ListingURL == "" || category.ListingURL == domain.NoLink {
		logger.Debug("category has no listing url")
		res.outcome = domain.OutcomeEmpty
		return res
	}

	refs, err := s.origin.ListTopics(ctx, category.ListingURL, s.config.TopicsPerCategory)
	if err != nil {
		logger.Error("list topics failed", "error", err, "error_kind", errorKind(err))
		return res
	}
	if len(refs) == 0 {
		logger.Debug("category has no topics")
		res.outcome = domain.OutcomeEmpty
		return res
	}

	cursor, err := s.cursors.CursorFor(ctx, category.Name)
	if err != nil {
		logger.Error("read cursor failed", "error", err, "error_kind", errorKind(err))
		return res
	}

	newest := refs[0].Name
	if cursor != nil && cursor.LastSeenTopicName == newest {
		touched := &domain.SyncCursor{Category: category.Name, LastSeenTopicName: newest, LastSyncedAt: s.now()}
		if err := s.cursors.UpsertCursor(ctx, touched); err != nil {
			logger.Warn("refresh cursor failed", "error", err)
		}
		logger.Debug("category unchanged", "newest", newest)
		res.outcome = domain.OutcomeUnchanged
		return res
	}

	logger.Info("ingesting category", "newest", newest, "previous", previousName(cursor), "topics", len(refs))

	ingestedAt := s.now()
	for i, ref := range refs {
		body, err := s.origin.FetchTopicBody(ctx, ref.URL)
		res.fetched++
		if err != nil {
			logger.Error("fetch topic failed", "url", ref.URL, "error", err, "error_kind", errorKind(err))
			return res
		}

		summary := domain.NoSummary
		if body != domain.NoTopicBody {
			summary = s.summarizer.Summarize(ctx, body)
		}

		// A cancelled summary is a placeholder; never store it.
		if err := ctx.Err(); err != nil {
			logger.Info("ingest abandoned", "error", err)
			return res
		}

		topic := &domain.Topic{
			Category: category.Name,
			Name:     ref.Name,
			URL:      ref.URL,
			Body:     body,
			Summary:  summary,
			Position: i,
			SyncedAt: ingestedAt,
		}

		created, err := s.topics.UpsertTopic(ctx, topic)
		if err != nil {
			logger.Error("upsert topic failed", "url", ref.URL, "error", err, "error_kind", errorKind(err))
			return res
		}
		res.written++
		s.metrics.TopicWritten()
		if created {
			res.created++
		}

		if s.publisher != nil {
			err := s.publisher.Publish(ctx, topic, created)
			s.metrics.Published(err)
			if err != nil {
				res.publishErrors++
				logger.Warn("publish topic failed", "url", ref.URL, "error", err)
			} else {
				res.published++
			}
		}
	}

	next := &domain.SyncCursor{Category: category.Name, LastSeenTopicName: newest, LastSyncedAt: s.now()}
	if err := s.cursors.UpsertCursor(ctx, next); err != nil {
		logger.Error("advance cursor failed", "error", err, "error_kind", errorKind(err))
		return res
	}

	res.outcome = domain.OutcomeIngested
	return res
}

// errorKind names the failure class for log filtering.
func errorKind(err error) string {
	switch {
	case domain.IsFetch(err):
		return "fetch"
	case domain.IsParse(err):
		return "parse"
	case domain.IsStorage(err):
		return "storage"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "other"
	}
}

func previousName(c *domain.SyncCursor) string {
	if c == nil {
		return ""
	}
	return c.LastSeenTopicName
}
