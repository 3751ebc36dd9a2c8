package main

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/cart-engine/db"
	"github.com/noah-isme/cart-engine/internal/common"
	"github.com/noah-isme/cart-engine/internal/config"
	"github.com/noah-isme/cart-engine/internal/events"
	"github.com/noah-isme/cart-engine/internal/health"
	"github.com/noah-isme/cart-engine/internal/httpapi"
	"github.com/noah-isme/cart-engine/internal/lock"
	"github.com/noah-isme/cart-engine/internal/migration"
	"github.com/noah-isme/cart-engine/internal/obs"
	"github.com/noah-isme/cart-engine/internal/ratelimit"
	"github.com/noah-isme/cart-engine/internal/security"
	"github.com/noah-isme/cart-engine/internal/store"
	"github.com/noah-isme/cart-engine/internal/store/memstore"
	"github.com/noah-isme/cart-engine/internal/store/pgstore"
	"github.com/noah-isme/cart-engine/internal/store/redistore"
)

const metricsNamespace = "cart"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel).With().Str("env", cfg.AppEnv).Logger()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	probes := map[string]health.Probe{}

	var pool *pgxpool.Pool
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		pool = connectPostgres(ctx, cfg, logger)
		defer pool.Close()
		probes["db"] = func(ctx context.Context, timeout time.Duration) error {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			return pool.Ping(ctx)
		}
	}

	var redisClient *redis.Client
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("parse redis url")
		}
		redisClient = redis.NewClient(redisOpts)
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Error().Err(err).Msg("close redis")
			}
		}()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatal().Err(err).Msg("ping redis")
		}
		probes["redis"] = func(ctx context.Context, timeout time.Duration) error {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			return redisClient.Ping(ctx).Err()
		}
	}

	backend := selectBackend(cfg, logger, pool, redisClient)

	bus := &events.Bus{Notifiers: []events.Notifier{
		events.LogNotifier{Logger: logger.With().Str("component", "events").Logger()},
	}}

	cartMetrics := obs.NewCartMetrics(metricsNamespace, nil)
	httpMetrics := obs.NewHTTPMetrics(metricsNamespace, nil, nil)

	migrations := &migration.Service{
		Backend: backend,
		Events:  bus,
		Logger:  logger.With().Str("component", "migration").Logger(),
	}

	apiHandler := &httpapi.Handler{
		Backend:         backend,
		Events:          bus,
		Migrations:      migrations,
		Metrics:         cartMetrics,
		Logger:          logger.With().Str("component", "httpapi").Logger(),
		Validate:        validator.New(),
		DefaultInstance: cfg.DefaultInstance,
		MergeStrategy:   migration.Strategy(cfg.MergeStrategy),
		Currency:        cfg.CurrencyCode,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(obs.RoutePatternMiddleware)
	r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(security.Headers{Enable: cfg.SecurityHeaders, EnableHSTS: cfg.AppEnv == "production"}.Middleware)
	r.Use(security.BodyLimit{Max: cfg.MaxPayloadBytes}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", httpapi.IdentityHeader},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Handle("/metrics", promhttp.Handler())

	healthHandler := health.Handler{Probes: probes}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Route("/api/v1", func(v chi.Router) {
		if redisClient != nil {
			v.Use(common.Idem{R: redisClient, TTL: cfg.IdempotencyTTL}.Middleware)
			if cfg.RateLimitMax > 0 {
				v.Use(ratelimit.Handler{
					Limiter: ratelimit.Limiter{Client: redisClient, Prefix: "ratelimit:"},
					Config: ratelimit.Config{
						Key:    ratelimit.IdentityKey(httpapi.IdentityHeader),
						Window: cfg.RateLimitWindow,
						Max:    cfg.RateLimitMax,
					},
					OnError: func(err error) {
						logger.Warn().Err(err).Msg("rate limiter unavailable")
					},
				}.Middleware)
			}
		}
		apiHandler.Routes(v)
	})

	srv := &http.Server{
		Addr:    cfg.HTTPAddr(),
		Handler: r,
	}

	logger.Info().Str("addr", srv.Addr).Msg("server starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server exited unexpectedly")
	}
}

func connectPostgres(ctx context.Context, cfg *config.Config, logger zerolog.Logger) *pgxpool.Pool {
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse database config")
	}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "cart-engine"

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	if err := pool.Ping(ctx); err != nil {
		logger.Fatal().Err(err).Msg("ping database")
	}
	if err := applyMigrations(cfg.DatabaseURL); err != nil {
		logger.Fatal().Err(err).Msg("apply migrations")
	}
	return pool
}

func applyMigrations(databaseURL string) error {
	source, err := iofs.New(db.Migrations, "migrations")
	if err != nil {
		return err
	}
	m, err := migrate.NewWithSourceInstance("iofs", source, migrateURL(databaseURL))
	if err != nil {
		return err
	}
	defer m.Close()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// migrateURL rewrites the connection scheme to select the pgx/v5 migrate
// driver.
func migrateURL(databaseURL string) string {
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(databaseURL, scheme) {
			return "pgx5://" + strings.TrimPrefix(databaseURL, scheme)
		}
	}
	return databaseURL
}

// selectBackend picks the storage backend by configuration: Postgres when a
// database is configured, Redis when only Redis is, in-memory otherwise.
func selectBackend(cfg *config.Config, logger zerolog.Logger, pool *pgxpool.Pool, redisClient *redis.Client) store.Backend {
	if pool != nil {
		backend, err := pgstore.New(pgstore.Config{
			Pool:            pool,
			Locking:         cfg.LockingEnabled,
			MaxPayloadBytes: cfg.MaxPayloadBytes,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("initialise postgres backend")
		}
		logger.Info().Bool("locking", cfg.LockingEnabled).Msg("using postgres backend")
		return backend
	}
	if redisClient != nil {
		var locker *lock.Locker
		if cfg.LockingEnabled {
			locker = &lock.Locker{R: redisClient, TTL: cfg.LockTTL}
		}
		backend, err := redistore.New(redistore.Config{
			Client:          redisClient,
			Locker:          locker,
			TTL:             cfg.SessionTTL,
			MaxPayloadBytes: cfg.MaxPayloadBytes,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("initialise redis backend")
		}
		logger.Info().Bool("locking", cfg.LockingEnabled).Msg("using redis backend")
		return backend
	}
	logger.Warn().Msg("no database or redis configured, using in-memory backend")
	return memstore.New(memstore.Config{MaxPayloadBytes: cfg.MaxPayloadBytes})
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}
