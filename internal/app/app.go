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
	"github.com/redis/go-redis/v9"

	"github.com/tejasdc/starter-stack/internal/config"
	"github.com/tejasdc/starter-stack/internal/event"
	"github.com/tejasdc/starter-stack/internal/gate"
	handler "github.com/tejasdc/starter-stack/internal/handler/http"
	"github.com/tejasdc/starter-stack/internal/repository/postgres"
	"github.com/tejasdc/starter-stack/internal/service"
	"github.com/tejasdc/starter-stack/migrations"
	"github.com/tejasdc/starter-stack/pkg/database"
	"github.com/tejasdc/starter-stack/pkg/detach"
	"github.com/tejasdc/starter-stack/pkg/health"
	pkgkafka "github.com/tejasdc/starter-stack/pkg/kafka"
	"github.com/tejasdc/starter-stack/pkg/middleware"
	"github.com/tejasdc/starter-stack/pkg/ratelimit"
	"github.com/tejasdc/starter-stack/pkg/tracing"
)

// App wires together all dependencies and runs the API server.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	pool           *pgxpool.Pool
	redis          *redis.Client
	producer       *pkgkafka.Producer
	tasks          *detach.Runner
	httpServer     *http.Server
	tracerShutdown func(context.Context) error
}

// NewApp creates a new application instance, initializing all dependencies.
// Postgres is required; Redis and Kafka are used only when configured.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	a := &App{cfg: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			a.closeClients()
		}
	}()

	// Initialize OpenTelemetry tracing.
	tracerShutdown, err := tracing.InitTracer(ctx, cfg.Tracing())
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}
	a.tracerShutdown = tracerShutdown

	// Initialize PostgreSQL connection pool.
	pgCfg := cfg.Postgres()
	pool, err := database.NewPostgresPool(ctx, &pgCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	a.pool = pool
	logger.Info("connected to PostgreSQL",
		slog.String("host", pgCfg.Host),
		slog.Int("port", pgCfg.Port),
		slog.String("database", pgCfg.DBName),
	)
	if err := database.RegisterPoolMetrics(prometheus.DefaultRegisterer, pool, config.ServiceName); err != nil {
		logger.Warn("pool metrics not registered", slog.String("error", err.Error()))
	}

	if cfg.MigrateOnStart {
		if err := database.RunMigrations(ctx, pool, migrations.FS, logger); err != nil {
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		logger.Info("database migrations completed")
	}

	if cfg.SlowQueryMs > 0 {
		database.SetSlowQueryLogging(cfg.SlowQueryThreshold(), logger)
	}

	// Redis is optional. It makes rate limits hold across replicas.
	if cfg.RedisURL != "" {
		client, err := database.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		a.redis = client
		logger.Info("connected to Redis")
	}

	// Kafka is optional. Without brokers events are dropped.
	var publisher event.Publisher = event.Noop{}
	if len(cfg.KafkaBrokers) > 0 {
		a.producer = pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), logger)
		publisher = event.NewProducer(a.producer, logger)
		logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))
	}

	// Build the dependency graph.
	a.tasks = detach.NewRunner(logger, cfg.TouchTimeout)
	userRepo := postgres.NewUserRepository(pool)
	keyRepo := postgres.NewAPIKeyRepository(pool)
	txRunner := postgres.NewTxRunner(pool)
	authService := service.NewAuthService(userRepo, keyRepo, txRunner, publisher, a.tasks, logger)

	var gateOpts []gate.Option
	if cfg.RateLimitPerMinute > 0 {
		var limiter ratelimit.Limiter = ratelimit.NewMemoryLimiter(cfg.RateLimitPerMinute)
		if a.redis != nil {
			limiter = ratelimit.NewRedisLimiter(a.redis, cfg.RateLimitPerMinute)
		}
		gateOpts = append(gateOpts, gate.WithRateLimiter(limiter))
	}
	authGate := gate.New(authService, a.tasks, logger, gateOpts...)

	// Health checks.
	healthHandler := health.NewHandler().WithTimeout(cfg.HealthTimeout)
	healthHandler.Register("db", func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	if a.redis != nil {
		healthHandler.RegisterNonCritical("redis", func(ctx context.Context) error {
			return a.redis.Ping(ctx).Err()
		})
	}
	if a.producer != nil {
		healthHandler.RegisterNonCritical("kafka", a.producer.Ping)
	}

	// HTTP router.
	corsCfg := middleware.DefaultCORSConfig()
	corsCfg.Environment = cfg.Environment
	corsCfg.MaxAge = 86400
	if len(cfg.CORSOrigins) > 0 {
		corsCfg.AllowedOrigins = cfg.CORSOrigins
	}
	pprofAllowed, err := cfg.PprofAllowlist()
	if err != nil {
		return nil, fmt.Errorf("parse pprof allowlist: %w", err)
	}
	router := handler.NewRouter(authService, authGate, healthHandler, logger, handler.RouterConfig{
		ServiceName:  config.ServiceName,
		CORS:         corsCfg,
		PprofAllowed: pprofAllowed,
	})

	a.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ok = true
	return a, nil
}

// Run starts the HTTP server and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		_ = a.Shutdown()
		return err
	}

	return a.Shutdown()
}

// Shutdown gracefully stops all components in the correct order:
// 1. HTTP server (drain in-flight requests)
// 2. Detached tasks (usage writes and events started by those requests)
// 3. Tracer (flush spans from both)
// 4. Kafka producer, Redis, PostgreSQL pool
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()

	var errs []error

	if err := a.httpServer.Shutdown(ctx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	if err := a.tasks.Shutdown(ctx); err != nil {
		a.logger.Error("detached tasks shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	errs = append(errs, a.closeClients())

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}

// closeClients releases broker and database connections. It is safe on a
// partially constructed App.
func (a *App) closeClients() error {
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
	return errors.Join(errs...)
}
