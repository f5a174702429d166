package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"topic_syncer/internal/cache"
	"topic_syncer/internal/config"
	"topic_syncer/internal/httpapi"
	"topic_syncer/internal/metrics"
	"topic_syncer/internal/publisher"
	"topic_syncer/internal/query"
	"topic_syncer/internal/scheduler"
	"topic_syncer/internal/service"
	"topic_syncer/internal/source/discourse"
	"topic_syncer/internal/storage/memory"
	"topic_syncer/internal/storage/postgres"
	"topic_syncer/internal/summarizer"
	"topic_syncer/internal/telegram"
)

type stores struct {
	categories interface {
		service.CategoryStore
		query.CategoryReader
	}
	topics interface {
		service.TopicStore
		query.TopicReader
	}
	cursors   service.CursorStore
	txManager service.TransactionManager
	closer    io.Closer
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	logger := setupLogger("info")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger = setupLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg.Database, logger)
	if err != nil {
		logger.Error("failed to open storage", "error", err)
		os.Exit(1)
	}
	if st.closer != nil {
		defer st.closer.Close()
	}

	m := metrics.New()

	origin, err := discourse.New(discourse.Config{
		BaseURL:   cfg.Origin.BaseURL,
		Timeout:   cfg.Origin.Timeout,
		UserAgent: cfg.Origin.UserAgent,
		Selectors: discourse.Selectors(cfg.Origin.Selectors),
	}, logger)
	if err != nil {
		logger.Error("failed to create origin source", "error", err)
		os.Exit(1)
	}

	sum := newSummarizer(cfg.Summarizer, m, logger)

	var pub service.Publisher
	if cfg.RabbitMQ.Enabled {
		rabbitMQ, err := publisher.NewRabbitMQ(publisher.Config{
			URL:        cfg.RabbitMQ.URL,
			Exchange:   cfg.RabbitMQ.Exchange,
			RoutingKey: cfg.RabbitMQ.RoutingKey,
			QueueName:  cfg.RabbitMQ.QueueName,
		}, logger)
		if err != nil {
			logger.Error("failed to connect to rabbitmq", "error", err)
			os.Exit(1)
		}
		defer rabbitMQ.Close()
		pub = rabbitMQ
	}

	queryOpts := []query.Option{query.WithMetrics(m)}
	if cfg.Redis.Addr != "" {
		redisCache, err := cache.NewRedis(ctx, cache.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   "topic_syncer:",
		})
		if err != nil {
			logger.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer redisCache.Close()
		queryOpts = append(queryOpts, query.WithCache(redisCache, cfg.Redis.TTL))
	}
	querySvc := query.NewService(st.categories, st.topics, logger, queryOpts...)

	syncService := service.NewSyncService(
		origin,
		st.categories,
		st.topics,
		st.cursors,
		st.txManager,
		sum,
		pub,
		logger,
		cfg.Sync,
		service.WithMetrics(m),
	)

	sched := scheduler.NewScheduler(syncService, cfg.Sync.Interval, cfg.Sync.CycleTimeout, logger)

	logger.Info("starting topic syncer",
		"source", origin.Name(),
		"storage", cfg.Database.Driver,
		"summarizer", cfg.Summarizer.Provider,
		"interval", cfg.Sync.Interval,
		"topics_per_category", cfg.Sync.TopicsPerCategory,
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := sched.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("scheduler: %w", err)
		}
		return nil
	})

	var bot frontEnd
	if cfg.Telegram.Token != "" {
		bot = telegram.NewBot(
			telegram.NewAPI(cfg.Telegram.APIURL, cfg.Telegram.Token, cfg.Telegram.PollTimeout),
			querySvc,
			cfg.Telegram.TopicsLimit,
			cfg.Telegram.PollTimeout,
			logger,
		)
	} else {
		logger.Info("telegram token not set, bot disabled")
	}
	g.Go(func() error {
		return runFrontEnd(gctx, bot, querySvc)
	})

	if cfg.HTTP.Addr != "" {
		srv := httpapi.NewServer(cfg.HTTP.Addr, httpapi.NewHandler(querySvc, cfg.Telegram.TopicsLimit, logger), m.Handler(), logger)
		g.Go(func() error {
			if err := srv.Run(gctx, cfg.HTTP.ShutdownTimeout); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
	}

	<-gctx.Done()
	logger.Info("shutting down")

	if err := g.Wait(); err != nil {
		logger.Error("topic syncer stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("topic syncer stopped")
}

type frontEnd interface {
	Run(ctx context.Context) error
}

// runFrontEnd runs the bot until ctx is done and closes the query service only
// after the bot has drained its in-flight updates.
func runFrontEnd(ctx context.Context, bot frontEnd, q interface{ Close() }) error {
	var err error
	if bot != nil {
		err = bot.Run(ctx)
	} else {
		<-ctx.Done()
	}
	q.Close()
	return err
}

func openStores(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (*stores, error) {
	if cfg.Driver == "memory" {
		logger.Warn("using in-memory storage, data is lost on restart")
		store := memory.New()
		return &stores{
			categories: store,
			topics:     store,
			cursors:    store,
			txManager:  store,
		}, nil
	}

	db, err := postgres.Connect(ctx, cfg.DSN(), cfg.MaxOpenConns)
	if err != nil {
		return nil, err
	}
	if err := postgres.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Info("connected to database")

	return &stores{
		categories: postgres.NewCategoryStore(db),
		topics:     postgres.NewTopicStore(db),
		cursors:    postgres.NewCursorStore(db),
		txManager:  postgres.NewTransactionManager(db),
		closer:     db,
	}, nil
}

func newSummarizer(cfg config.SummarizerConfig, m *metrics.Metrics, logger *slog.Logger) service.Summarizer {
	httpClient := &http.Client{Timeout: cfg.Timeout}

	var gen summarizer.Generator
	switch cfg.Provider {
	case "gemini":
		gen = summarizer.NewGeminiClient(cfg.Endpoint, cfg.Model, cfg.APIKey, httpClient)
	case "openai":
		gen = summarizer.NewOpenAIClient(cfg.Endpoint, cfg.Model, cfg.APIKey, httpClient)
	default:
		logger.Info("summarizer disabled")
		return summarizer.Disabled{}
	}

	return summarizer.New(
		gen,
		summarizer.NewGate(cfg.Cooldown, summarizer.RealClock()),
		summarizer.Config{
			Prompt:          cfg.Prompt,
			Timeout:         cfg.Timeout,
			MaxInputChars:   cfg.MaxInputChars,
			MaxSummaryChars: cfg.MaxSummaryChars,
			BreakerFailures: cfg.BreakerFailures,
			BreakerTimeout:  cfg.BreakerTimeout,
		},
		m,
		logger,
	)
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}
	handler := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(handler)
}
