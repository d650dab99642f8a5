package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/presswire/contentqueue/internal/api"
	"github.com/presswire/contentqueue/internal/channel"
	"github.com/presswire/contentqueue/internal/config"
	"github.com/presswire/contentqueue/internal/contextfile"
	"github.com/presswire/contentqueue/internal/db"
	"github.com/presswire/contentqueue/internal/dispatch"
	"github.com/presswire/contentqueue/internal/domain"
	"github.com/presswire/contentqueue/internal/language"
	"github.com/presswire/contentqueue/internal/metrics"
	"github.com/presswire/contentqueue/internal/notify"
	"github.com/presswire/contentqueue/internal/planner"
	"github.com/presswire/contentqueue/internal/provider"
	"github.com/presswire/contentqueue/internal/ratelimiter"
	"github.com/presswire/contentqueue/internal/repository"
	"github.com/presswire/contentqueue/internal/service"
	"github.com/presswire/contentqueue/internal/trigger"
	"github.com/presswire/contentqueue/internal/worker"
)

func main() {
	// ---- configuration ----
	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("failed to load config", zap.Error(err))
	}

	logger := newLogger(cfg.LogLevel)
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ---- database ----
	pool, err := db.Connect(ctx, cfg.DB, logger)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	if err := db.Migrate(pool, cfg.DB, logger); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}

	queueRepo := repository.NewPgQueueRepository(pool)
	contextRepo := repository.NewPgContextRepository(pool)

	// ---- contexts and policies ----
	policies, err := loadPolicies(cfg.Planner.PoliciesFile)
	if err != nil {
		logger.Fatal("failed to load content type policies", zap.Error(err))
	}
	if err := importContexts(ctx, cfg.Planner.ContextsFile, contextRepo, logger); err != nil {
		logger.Fatal("failed to import contexts", zap.Error(err))
	}

	languages := language.NewResolver(
		language.StaticHost{Languages: cfg.Languages.HostLanguages, LocaleTag: cfg.Languages.HostLocale},
		cfg.Languages.Default,
		cfg.Languages.Supported,
	)

	// ---- metrics ----
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// ---- collaborators ----
	var model provider.TextModel
	if cfg.Gemini.APIKey != "" {
		model, err = provider.NewGenaiModel(ctx, cfg.Gemini.APIKey, cfg.Gemini.Model)
		if err != nil {
			logger.Fatal("failed to create generation client", zap.Error(err))
		}
	} else {
		logger.Warn("GEMINI_API_KEY not set; primary items will wait until it is configured")
	}
	generator := provider.NewGeminiGenerator(model, cfg.Gemini.CostPerToken, cfg.Gemini.Timeout, logger)
	publisher := provider.NewCMSPublisher(cfg.CMS.BaseURL, cfg.CMS.Token, cfg.CMS.Timeout)

	channels, search, err := buildChannels(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to build distribution channels", zap.Error(err))
	}
	logger.Info("distribution channels registered", zap.Any("channels", channels.Names()))

	handlers := dispatch.NewHandlerRegistry()
	if search.IsEnabled() {
		if err := handlers.Register(channel.ContentTypeSearchRefresh, channel.NewSearchRefresh(search)); err != nil {
			logger.Fatal("failed to register job handler", zap.Error(err))
		}
	}
	logger.Info("job handlers registered", zap.Strings("content_types", handlers.List()))

	// ---- planner, worker, service ----
	plan := planner.New(contextRepo, queueRepo, policies, languages, planner.Options{
		Location:    cfg.Planner.Location(),
		MaxAttempts: cfg.Worker.MaxAttempts,
		Hooks: planner.MetricHooks{
			OnItem:         m.ObservePlannerItem,
			OnContextError: m.ObservePlannerContextError,
		},
	}, logger)

	deps := worker.Deps{
		Queue:     queueRepo,
		Contexts:  contextRepo,
		Generator: generator,
		Scorer:    provider.NewWordCountScorer(0, 0),
		Publisher: publisher,
		Channels:  channels,
		Handlers:  handlers,
		Limiter:   ratelimiter.New(cfg.ChannelRateLimit),
	}
	if n := buildNotifier(cfg.Postmark, logger); n != nil {
		deps.Notifier = n
	}

	wrk := worker.New(deps, worker.Options{
		BatchSize:            cfg.Worker.BatchSize,
		TimeBudget:           cfg.Worker.TimeBudget,
		MaxExecutionTime:     cfg.Worker.MaxExecutionTime,
		LockTTL:              cfg.Worker.LockTTL,
		MaxAttempts:          cfg.Worker.MaxAttempts,
		Backoff:              cfg.Worker.RetryBackoff,
		AutoPublish:          cfg.Publishing.AutoPublish,
		AutoPublishThreshold: cfg.Publishing.AutoPublishThreshold,
		DistributionChannels: toChannels(cfg.Publishing.DistributionChannels),
		ReviewNotifyTimeout:  cfg.Publishing.ReviewNotifyTimeout,
	}, logger, worker.MetricHooks{
		OnItem:       m.ObserveItem,
		OnBatch:      m.ObserveBatch,
		OnStaleLocks: m.ObserveStaleLocks,
		OnTokens:     m.ObserveTokens,
	})
	workerPool := worker.NewPool(wrk, cfg.Worker.Concurrency, logger)

	svc := service.NewContentService(service.Deps{
		Queue:     queueRepo,
		Contexts:  contextRepo,
		Policies:  policies,
		Handlers:  handlers,
		Channels:  channels,
		Languages: languages,
	}, cfg.Worker.MaxAttempts, logger, service.WithStatsHook(m.SetQueueDepth))

	// ---- cron triggers ----
	sched := trigger.New(logger, cfg.Planner.Location())
	if err := sched.Add("planner", cfg.PlannerSchedule, func(ctx context.Context) {
		if _, err := plan.Run(ctx); err != nil {
			logger.Error("scheduled planner run failed", zap.Error(err))
		}
	}); err != nil {
		logger.Fatal("invalid PLANNER_SCHEDULE", zap.Error(err))
	}
	if err := sched.Add("worker", cfg.WorkerSchedule, func(ctx context.Context) {
		workerPool.Run(ctx, 0)
	}); err != nil {
		logger.Fatal("invalid WORKER_SCHEDULE", zap.Error(err))
	}

	// ---- HTTP server ----
	router := api.NewRouter(api.Deps{
		Service:       svc,
		Planner:       plan,
		Batches:       workerPool,
		Processor:     wrk,
		DB:            pool,
		Gatherer:      reg,
		TriggerSecret: cfg.TriggerSecret,
		MaxBatchSize:  cfg.Worker.BatchSize * cfg.Worker.Concurrency * 4,
	}, logger)
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	if cfg.TriggerSecret == "" {
		logger.Warn("TRIGGER_SECRET not set; /api/v1 routes answer 503")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	sched.Start()

	// ---- graceful shutdown ----
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		// Stop accepting requests first, then wait for running cron jobs.
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", zap.Error(err))
		}
		if err := sched.Stop(shutdownCtx); err != nil {
			logger.Error("cron jobs did not finish before shutdown timeout", zap.Error(err))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("server error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("server stopped cleanly")
}

func newLogger(level string) *zap.Logger {
	var (
		logger *zap.Logger
		err    error
	)
	if level == "debug" {
		logger, err = zap.NewDevelopment()
	} else {
		cfg := zap.NewProductionConfig()
		if lvl, perr := zap.ParseAtomicLevel(level); perr == nil {
			cfg.Level = lvl
		}
		logger, err = cfg.Build()
	}
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func loadPolicies(path string) (*domain.PolicyTable, error) {
	var overrides []domain.Policy
	if path != "" {
		f, err := contextfile.LoadFile(path)
		if err != nil {
			return nil, err
		}
		if overrides, err = f.PolicyOverrides(); err != nil {
			return nil, err
		}
	}
	return contextfile.PolicyTable(domain.DefaultPolicies(), overrides)
}

func importContexts(ctx context.Context, path string, repo repository.ContextRepository, logger *zap.Logger) error {
	if path == "" {
		return nil
	}
	f, err := contextfile.LoadFile(path)
	if err != nil {
		return err
	}
	models, err := f.ContextModels()
	if err != nil {
		return err
	}
	n, err := contextfile.Import(ctx, repo, models, logger)
	if err != nil {
		return err
	}
	logger.Info("contexts imported", zap.String("file", path), zap.Int("count", n))
	return nil
}

// buildChannels registers every auxiliary adapter. Unconfigured adapters are
// still registered but report themselves disabled, so items targeting them
// are skipped with a clear reason instead of failing as unknown.
func buildChannels(ctx context.Context, cfg *config.Config) (*dispatch.ChannelRegistry, *channel.OpenSearchIndex, error) {
	reg := dispatch.NewChannelRegistry()

	s3Archive, err := channel.NewS3Archive(ctx, cfg.S3)
	if err != nil {
		return nil, nil, err
	}
	search, err := channel.NewOpenSearchIndex(cfg.OpenSearch)
	if err != nil {
		return nil, nil, err
	}

	// A nil *redis.Client must not reach the adapter as a non-nil interface.
	var rdb redis.UniversalClient
	if cfg.Redis.URL != "" {
		client, err := channel.NewRedisClient(cfg.Redis.URL)
		if err != nil {
			return nil, nil, err
		}
		rdb = client
	}

	adapters := []dispatch.ChannelAdapter{
		channel.NewWebhook(cfg.Webhook.URL, cfg.Webhook.Secret, cfg.Webhook.Timeout),
		s3Archive,
		search,
		channel.NewRedisStream(rdb, cfg.Redis.Stream, cfg.Redis.MaxLen),
	}
	for _, a := range adapters {
		if err := reg.Register(a); err != nil {
			return nil, nil, err
		}
	}
	return reg, search, nil
}

// buildNotifier prefers Postmark and falls back to logging review requests.
func buildNotifier(cfg config.PostmarkConfig, logger *zap.Logger) dispatch.Notifier {
	if cfg.ServerToken == "" {
		return notify.NewLogNotifier(logger)
	}
	n, err := notify.NewPostmarkNotifier(notify.NewPostmarkClient(cfg.ServerToken, cfg.AccountToken), cfg.From, cfg.To)
	if err != nil {
		logger.Warn("review email disabled", zap.Error(err))
		return notify.NewLogNotifier(logger)
	}
	return n
}

func toChannels(names []string) []domain.Channel {
	out := make([]domain.Channel, 0, len(names))
	for _, n := range names {
		if n != "" {
			out = append(out, domain.Channel(n))
		}
	}
	return out
}
