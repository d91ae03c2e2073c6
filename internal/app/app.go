package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/utafrali/catalogsync/internal/auth"
	"github.com/utafrali/catalogsync/internal/config"
	"github.com/utafrali/catalogsync/internal/domain"
	"github.com/utafrali/catalogsync/internal/embedding"
	"github.com/utafrali/catalogsync/internal/engine"
	esengine "github.com/utafrali/catalogsync/internal/engine/elasticsearch"
	"github.com/utafrali/catalogsync/internal/engine/memory"
	"github.com/utafrali/catalogsync/internal/event"
	handler "github.com/utafrali/catalogsync/internal/handler/http"
	"github.com/utafrali/catalogsync/internal/lock"
	"github.com/utafrali/catalogsync/internal/metrics"
	"github.com/utafrali/catalogsync/internal/repository/postgres"
	"github.com/utafrali/catalogsync/internal/service"
	"github.com/utafrali/catalogsync/pkg/database"
	"github.com/utafrali/catalogsync/pkg/health"
	"github.com/utafrali/catalogsync/pkg/httpclient"
	pkgkafka "github.com/utafrali/catalogsync/pkg/kafka"
	"github.com/utafrali/catalogsync/pkg/middleware"
	"github.com/utafrali/catalogsync/pkg/tracing"
)

// ServiceName identifies the process in logs, traces and metrics.
const ServiceName = "catalogsync"

// Version is set at build time.
var Version = "dev"

// App wires together all dependencies of catalogsync.
type App struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *prometheus.Registry

	pool     *pgxpool.Pool
	redis    *redis.Client
	producer *pkgkafka.Producer
	index    engine.SearchIndex

	indexer    *service.Indexer
	embeddings *service.EmbeddingService
	health     *health.Handler

	shutdownTracer tracing.ShutdownFunc
	httpServer     *http.Server
}

// NewApp connects to every configured backend and builds the services.
// Optional backends (Redis, Kafka) are skipped when not configured.
func NewApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *App, err error) {
	a := &App{
		cfg:      cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
		health:   health.NewHandler(),
	}
	defer func() {
		if err != nil {
			a.closeBackends()
		}
	}()

	a.shutdownTracer, err = tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    ServiceName,
		ServiceVersion: Version,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SampleRate:     cfg.OTELSampleRate,
		Enabled:        cfg.OTELEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	if err := a.registerCollectors(); err != nil {
		return nil, err
	}

	// PostgreSQL catalog.
	pgCfg := database.DefaultPostgresConfig()
	pgCfg.Host = cfg.PostgresHost
	pgCfg.Port = cfg.PostgresPort
	pgCfg.User = cfg.PostgresUser
	pgCfg.Password = cfg.PostgresPassword
	pgCfg.DBName = cfg.PostgresDB
	pgCfg.SSLMode = cfg.PostgresSSLMode

	a.pool, err = database.NewPostgresPool(ctx, &pgCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	database.SetSlowQueryLogging(cfg.SlowQueryThreshold, logger)
	if err := database.RegisterPoolMetrics(a.registry, a.pool, ServiceName); err != nil {
		return nil, fmt.Errorf("register pool metrics: %w", err)
	}
	if err := database.RunMigrations(ctx, a.pool, postgres.Migrations(), logger); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	a.health.RegisterCritical("postgres", a.pool.Ping)
	logger.Info("postgres connected",
		slog.String("host", cfg.PostgresHost),
		slog.String("database", cfg.PostgresDB),
	)

	// Search index.
	switch cfg.SearchEngine {
	case config.EngineElasticsearch:
		es, err := esengine.New(esengine.Config{
			Addresses:        []string{cfg.ElasticsearchURL},
			Username:         cfg.ElasticsearchUsername,
			Password:         cfg.ElasticsearchPassword,
			LanguageAnalyzer: cfg.IndexLanguageAnalyzer,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("init elasticsearch engine: %w", err)
		}
		a.index = es
		logger.Info("elasticsearch search index initialized",
			slog.String("url", cfg.ElasticsearchURL),
			slog.String("index", cfg.ElasticsearchIndex),
		)
	default:
		a.index = memory.New()
		logger.Info("in-memory search index initialized")
	}
	a.health.RegisterCritical("search_index", a.index.Ping)

	var indexerOpts []service.IndexerOption

	// Redis reindex lock.
	if cfg.RedisEnabled() {
		a.redis, err = database.NewRedisClient(ctx, database.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		indexerOpts = append(indexerOpts, service.WithLocker(lock.NewRedisLocker(a.redis)))
		a.health.RegisterNonCritical("redis", func(ctx context.Context) error {
			return a.redis.Ping(ctx).Err()
		})
		logger.Info("reindex lock shared through redis", slog.String("addr", cfg.RedisAddr))
	}

	// Kafka completion events.
	var publisher *event.Publisher
	if cfg.KafkaEnabled() {
		a.producer = pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), logger)
		publisher = event.NewPublisher(a.producer)
		indexerOpts = append(indexerOpts, service.WithReindexNotifier(publisher))
		a.health.RegisterNonCritical("kafka", a.producer.Ping)
		logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))
	}

	retry := service.RetryConfig{
		MaxAttempts:     cfg.RetryMaxAttempts,
		InitialInterval: cfg.RetryInitialInterval,
		MaxInterval:     cfg.RetryMaxInterval,
		Multiplier:      cfg.RetryMultiplier,
	}
	products := postgres.NewProductRepository(a.pool)

	a.indexer = service.NewIndexer(products, a.index, service.IndexerConfig{
		Index:     cfg.ElasticsearchIndex,
		AliasSwap: cfg.IndexAliasSwap,
		PageSize:  cfg.ReindexPageSize,
		Retry:     retry,
		LockTTL:   cfg.ReindexLockTTL,
	}, logger, indexerOpts...)

	embedder := embedding.New(embedding.Config{
		BaseURL:           cfg.EmbeddingURL,
		Model:             cfg.EmbeddingModel,
		APIKey:            cfg.EmbeddingAPIKey,
		Dimensions:        cfg.EmbeddingDimensions,
		RequestsPerSecond: cfg.EmbeddingRPS,
		HTTP:              httpclient.DefaultConfig(),
	}, logger)
	a.health.RegisterNonCritical("embedding", embedder.Check)

	// A nil *event.Publisher must not reach the interface.
	var backfillNotifier service.BackfillNotifier
	if publisher != nil {
		backfillNotifier = publisher
	}
	a.embeddings = service.NewEmbeddingService(
		products,
		postgres.NewEmbeddingRepository(a.pool),
		embedder,
		backfillNotifier,
		service.EmbeddingConfig{
			PageSize:  cfg.ReindexPageSize,
			BatchSize: cfg.EmbeddingBatchSize,
			MaxLength: cfg.EmbeddingMaxLength,
			Retry:     retry,
		},
		logger,
	)

	return a, nil
}

func (a *App) registerCollectors() error {
	cs := []prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	}
	cs = append(cs, metrics.Collectors()...)
	cs = append(cs, middleware.Collectors()...)
	cs = append(cs, httpclient.Collectors()...)
	cs = append(cs, pkgkafka.Collectors()...)

	for _, c := range cs {
		if err := a.registry.Register(c); err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
	}
	return nil
}

// Reindex runs one reindex in the foreground.
func (a *App) Reindex(ctx context.Context, recreate bool) (domain.ReindexReport, error) {
	return a.indexer.Reindex(ctx, recreate)
}

// Backfill runs one embedding backfill in the foreground.
func (a *App) Backfill(ctx context.Context) (domain.BackfillReport, error) {
	return a.embeddings.Backfill(ctx)
}

// Run serves the admin API, blocking until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	routerCfg := handler.RouterConfig{
		Gatherer:          a.registry,
		PprofAllowedCIDRs: a.cfg.PprofAllowedCIDRs,
	}
	if a.cfg.AuthEnabled() {
		routerCfg.Authenticate = auth.NewJWTManager(a.cfg.AdminJWTSecret).Validate
		routerCfg.AdminRole = auth.RoleAdmin
	} else {
		a.logger.Warn("ADMIN_JWT_SECRET not set, admin API is unauthenticated")
	}

	router := handler.NewRouter(
		handler.NewAdminHandler(a.indexer, a.embeddings, a.logger),
		a.health,
		routerCfg,
		a.logger,
	)

	a.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.cfg.HTTPPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 35 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("starting HTTP server", slog.String("addr", a.httpServer.Addr))
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		return errors.Join(err, a.Shutdown())
	}

	return a.Shutdown()
}

// Shutdown stops the HTTP server, waits for background runs and closes all
// backends.
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	if a.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	// Runs detached from requests finish before their backends go away.
	waitCtx, cancelWait := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancelWait()
	if a.indexer.Running() {
		a.logger.Info("waiting for active reindex", slog.Duration("timeout", a.cfg.ShutdownTimeout))
	}
	if err := a.indexer.Wait(waitCtx); err != nil {
		a.logger.Warn("reindex canceled at shutdown", slog.String("error", err.Error()))
	}
	if a.embeddings.Running() {
		a.logger.Info("waiting for active embedding backfill", slog.Duration("timeout", a.cfg.ShutdownTimeout))
	}
	if err := a.embeddings.Wait(waitCtx); err != nil {
		a.logger.Warn("embedding backfill canceled at shutdown", slog.String("error", err.Error()))
	}

	errs = append(errs, a.closeBackends())

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}

func (a *App) closeBackends() error {
	var errs []error

	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Error("redis close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if a.shutdownTracer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.shutdownTracer(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown tracer: %w", err))
		}
	}
	return errors.Join(errs...)
}
