package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/redis/go-redis/v9"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/brandrag/internal/activities"
	"github.com/Kocoro-lab/brandrag/internal/auth"
	"github.com/Kocoro-lab/brandrag/internal/circuitbreaker"
	"github.com/Kocoro-lab/brandrag/internal/config"
	"github.com/Kocoro-lab/brandrag/internal/db"
	"github.com/Kocoro-lab/brandrag/internal/docstore"
	"github.com/Kocoro-lab/brandrag/internal/embeddings"
	"github.com/Kocoro-lab/brandrag/internal/health"
	"github.com/Kocoro-lab/brandrag/internal/httpapi"
	"github.com/Kocoro-lab/brandrag/internal/rag"
	"github.com/Kocoro-lab/brandrag/internal/ratecontrol"
	"github.com/Kocoro-lab/brandrag/internal/schedules"
	"github.com/Kocoro-lab/brandrag/internal/temporal"
	"github.com/Kocoro-lab/brandrag/internal/tracing"
	"github.com/Kocoro-lab/brandrag/internal/vectordb"
	"github.com/Kocoro-lab/brandrag/internal/workflows"
)

func main() {
	settings, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load settings: %v", err)
	}
	logger, err := newLogger(settings.LogLevel)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Initialize(tracing.Config{
		Enabled:      settings.Tracing.Enabled,
		ServiceName:  settings.Tracing.ServiceName,
		OTLPEndpoint: settings.Tracing.OTLPEndpoint,
	}, logger)
	if err != nil {
		logger.Warn("Tracing disabled", zap.Error(err))
		shutdownTracing = func(context.Context) error { return nil }
	}

	circuitbreaker.StartMetricsCollection(ctx, 10*time.Second)
	hm := health.NewManager(30*time.Second, logger.Named("health"))
	_ = hm.RegisterChecker(health.NewBreakerChecker(circuitbreaker.GlobalMetricsCollector))

	// Document store
	docs, err := openDocStore(ctx, settings, logger)
	if err != nil {
		logger.Fatal("Failed to open document store", zap.String("backend", settings.Store.Backend), zap.Error(err))
	}
	defer docs.Close()
	var docsBreaker func() bool
	if sqlStore, ok := docs.(*docstore.SQLStore); ok {
		docsBreaker = sqlStore.BreakerOpen
	}
	_ = hm.RegisterChecker(health.NewPingChecker("docstore", docs, true, docsBreaker))

	// System config
	var (
		configCache *config.ConfigCache
		configMgr   *config.ConfigManager
	)
	switch settings.SystemConfig.Source {
	case "file":
		configMgr, err = config.NewConfigManager(settings.ConfigDir, logger.Named("config"))
		if err != nil {
			logger.Fatal("Config manager init failed", zap.Error(err))
		}
		fileStore := config.NewFileStore(configMgr, func() { configCache.Invalidate() }, logger.Named("config"))
		configCache = config.NewConfigCache(fileStore, logger.Named("config"))
		if err := configMgr.Start(ctx); err != nil {
			logger.Fatal("Config manager start failed", zap.Error(err))
		}
		defer configMgr.Stop()
	default:
		configCache = config.NewConfigCache(config.NewDocStore(docs), logger.Named("config"))
	}
	_ = hm.RegisterChecker(health.NewConfigChecker(configCache))
	logger.Info("System config loaded",
		zap.String("source", settings.SystemConfig.Source),
		zap.Bool("rate_limiting", configCache.Load(ctx).RateLimiting.Enabled))

	// Embeddings
	embedClient := newEmbeddingClient(ctx, settings, configCache, hm, logger.Named("embeddings"))

	// Rate window
	var window *ratecontrol.RedisWindow
	if settings.RateLimit.Backend == "redis" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     settings.RedisAddr(),
			Password: settings.Redis.Password,
			DB:       settings.Redis.DB,
		})
		defer rdb.Close()
		window = ratecontrol.NewRedisWindow(rdb, logger.Named("ratecontrol"))
		_ = hm.RegisterChecker(health.NewPingChecker("rate_window", window, false, nil))
	}

	policy, err := vectordb.ParseDuplicatePolicy(settings.Vectors.DuplicatePolicy)
	if err != nil {
		logger.Fatal("Invalid duplicate policy", zap.Error(err))
	}
	engine := rag.NewEngine(configCache, embedClient, docs, logger, rag.Options{
		Window:          window,
		DuplicatePolicy: policy,
	})

	// Auth
	var jwtManager *auth.JWTManager
	skipAuth := false
	if settings.Auth.JWTSecret != "" {
		jwtManager = auth.NewJWTManager(settings.Auth.JWTSecret, 24*time.Hour)
	} else if settings.Environment == "development" {
		logger.Warn("JWT_SECRET not set, authentication disabled in development")
		skipAuth = true
	} else {
		logger.Fatal("JWT_SECRET is required outside development")
	}
	mw := auth.NewMiddleware(jwtManager, settings.Auth.AdminToken, skipAuth, logger.Named("auth"))

	// HTTP
	mux := httpapi.NewMux(
		health.NewHTTPHandler(hm, logger.Named("health")),
		httpapi.NewVectorHandler(engine, mw, logger.Named("httpapi")),
		httpapi.NewAdminHandler(engine, mw, jwtManager, logger.Named("httpapi")),
	)
	hm.Start(ctx)
	srv := httpapi.StartServer(settings.HTTP.Port, mux, logger)

	// Maintenance worker
	temporalDone := make(chan struct{})
	if settings.Temporal.Enabled {
		go runMaintenanceWorker(ctx, settings, engine, hm, logger.Named("temporal"), temporalDone)
	} else {
		close(temporalDone)
	}

	<-ctx.Done()
	logger.Info("Shutting down brandrag service")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), settings.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", zap.Error(err))
	}
	hm.Stop()
	select {
	case <-temporalDone:
	case <-shutdownCtx.Done():
		logger.Warn("Temporal worker did not stop before shutdown timeout")
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("Tracing shutdown failed", zap.Error(err))
	}
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if level != "" {
		lvl, err := zap.ParseAtomicLevel(level)
		if err != nil {
			return nil, err
		}
		cfg.Level = lvl
	}
	return cfg.Build()
}

func openDocStore(ctx context.Context, s *config.Settings, logger *zap.Logger) (docstore.Store, error) {
	var dbc db.Config
	switch s.Store.Backend {
	case "memory":
		logger.Warn("Using in-memory document store; vectors are lost on restart")
		return docstore.NewMemoryStore(), nil
	case "sqlite3":
		dbc = db.Config{Driver: "sqlite3", Path: s.Store.SQLitePath}
	default:
		dbc = db.Config{
			Driver:         "postgres",
			Host:           s.Postgres.Host,
			Port:           s.Postgres.Port,
			User:           s.Postgres.User,
			Password:       s.Postgres.Password,
			Database:       s.Postgres.Database,
			SSLMode:        s.Postgres.SSLMode,
			MaxConnections: s.Postgres.MaxConnections,
		}
	}

	sqlDB, err := db.Open(ctx, dbc, logger)
	if err != nil {
		return nil, err
	}
	store := docstore.NewSQLStore(sqlDB, docstore.Dialect(dbc.Driver), docstore.SQLOptions{}, logger.Named("docstore"))
	if err := store.EnsureSchema(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return store, nil
}

func newEmbeddingClient(ctx context.Context, s *config.Settings, source embeddings.ConfigSource, hm *health.Manager, logger *zap.Logger) embeddings.Client {
	var base embeddings.Client
	switch s.Embedding.Provider {
	case "openai":
		base = embeddings.NewOpenAIClient(s.Embedding.APIKey, s.Embedding.BaseURL, logger)
	default:
		base = embeddings.NewHTTPClient(embeddings.HTTPConfig{
			BaseURL:           s.Embedding.BaseURL,
			Timeout:           s.Embedding.Timeout,
			RequestsPerSecond: s.Embedding.RequestsPerSecond,
			Burst:             s.Embedding.Burst,
			MaxRetries:        s.Embedding.MaxRetries,
		}, logger)
	}

	var shared embeddings.Cache
	if s.Embedding.RedisCache {
		rdb := goredis.NewClient(&goredis.Options{
			Addr:     s.RedisAddr(),
			Password: s.Redis.Password,
			DB:       s.Redis.DB,
		})
		rc, err := embeddings.NewRedisCache(ctx, rdb, logger)
		if err != nil {
			logger.Warn("Embedding Redis cache unavailable, using local cache only", zap.Error(err))
			_ = rdb.Close()
		} else {
			shared = rc
			_ = hm.RegisterChecker(health.NewPingChecker("embedding_cache", rc, false, rc.BreakerOpen))
		}
	}
	return embeddings.NewCachedClient(base, embeddings.NewLocalCache(s.Embedding.LocalCacheSize), shared, source)
}

// runMaintenanceWorker dials Temporal until ctx ends, then serves the cleanup workflow
// and keeps its schedule in sync with settings.
func runMaintenanceWorker(ctx context.Context, s *config.Settings, engine *rag.Engine, hm *health.Manager, logger *zap.Logger, done chan<- struct{}) {
	defer close(done)

	var (
		tClient client.Client
		err     error
	)
	for attempt := 1; ; attempt++ {
		tClient, err = client.Dial(client.Options{
			HostPort:  s.Temporal.Host,
			Namespace: s.Temporal.Namespace,
			Logger:    temporal.NewLogger(logger),
		})
		if err == nil {
			break
		}
		delay := time.Duration(min(attempt, 15)) * time.Second
		logger.Warn("Temporal not ready, retrying",
			zap.Int("attempt", attempt),
			zap.String("host", s.Temporal.Host),
			zap.Duration("sleep", delay),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
	defer tClient.Close()

	_ = hm.RegisterChecker(health.NewPingChecker("temporal", health.PingFunc(func(ctx context.Context) error {
		_, err := tClient.CheckHealth(ctx, &client.CheckHealthRequest{})
		return err
	}), false, nil))

	w := worker.New(tClient, s.Temporal.TaskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize:     2,
		MaxConcurrentWorkflowTaskExecutionSize: 4,
	})
	w.RegisterWorkflowWithOptions(workflows.VectorCleanupWorkflow, workflow.RegisterOptions{Name: workflows.VectorCleanupWorkflowName})
	cleanup := activities.NewVectorCleanupActivities(engine, logger.Named("cleanup"))
	w.RegisterActivityWithOptions(cleanup.CleanupVectors, activity.RegisterOptions{Name: activities.CleanupVectorsActivity})
	if err := w.Start(); err != nil {
		logger.Error("Temporal worker failed to start", zap.String("queue", s.Temporal.TaskQueue), zap.Error(err))
		return
	}
	defer w.Stop()
	logger.Info("Temporal worker started", zap.String("queue", s.Temporal.TaskQueue))

	if s.Temporal.CleanupCron != "" {
		mgr := schedules.NewManager(tClient.ScheduleClient(), logger)
		err := mgr.EnsureCleanupSchedule(ctx, schedules.CleanupSchedule{
			CronExpression: s.Temporal.CleanupCron,
			TaskQueue:      s.Temporal.TaskQueue,
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Failed to ensure vector cleanup schedule", zap.Error(err))
		}
	}

	<-ctx.Done()
}
