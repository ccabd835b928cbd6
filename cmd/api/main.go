package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	mhttp "github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/noah-isme/backend-tix/internal/app"
	"github.com/noah-isme/backend-tix/internal/checkout"
	"github.com/noah-isme/backend-tix/internal/config"
	"github.com/noah-isme/backend-tix/internal/events"
	"github.com/noah-isme/backend-tix/internal/gateway"
	"github.com/noah-isme/backend-tix/internal/health"
	"github.com/noah-isme/backend-tix/internal/notify"
	"github.com/noah-isme/backend-tix/internal/obs"
	"github.com/noah-isme/backend-tix/internal/order"
	"github.com/noah-isme/backend-tix/internal/queue"
	"github.com/noah-isme/backend-tix/internal/reconcile"
	"github.com/noah-isme/backend-tix/internal/resilience"
	"github.com/noah-isme/backend-tix/internal/security"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel).With().Str("env", cfg.AppEnv).Logger()
	obs.MustRegisterDomainMetrics(cfg.MetricsNamespace, nil)

	tracingEnabled := cfg.TracingEnabled
	if tracingEnabled {
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   "tix-api",
			Endpoint:      cfg.TracingEndpoint,
			Exporter:      cfg.TracingExporter,
			SamplingRatio: cfg.TracingSampling,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			tracingEnabled = false
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var (
		store order.Store
		pool  *pgxpool.Pool
	)
	switch cfg.StoreDriver {
	case "memory":
		store = order.NewMemStore()
		logger.Warn().Msg("using in-memory order store")
	default:
		if err := app.RunMigrations(os.Getenv("MIGRATIONS_DIR"), cfg.DatabaseURL); err != nil {
			logger.Fatal().Err(err).Msg("run migrations")
		}
		poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("parse database config")
		}
		poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
		if poolConfig.ConnConfig.RuntimeParams == nil {
			poolConfig.ConnConfig.RuntimeParams = map[string]string{}
		}
		poolConfig.ConnConfig.RuntimeParams["application_name"] = "tix-api"

		pool, err = pgxpool.NewWithConfig(ctx, poolConfig)
		if err != nil {
			logger.Fatal().Err(err).Msg("connect database")
		}
		defer pool.Close()
		if err := pool.Ping(ctx); err != nil {
			logger.Fatal().Err(err).Msg("ping database")
		}
		store = &order.PGStore{Pool: pool}
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if err := redisotel.InstrumentMetrics(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis metrics")
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}

	httpClient := &resilience.HTTPClient{
		Client: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		Breaker:     resilience.NewBreaker(20, 0.5, 30*time.Second),
		MaxAttempts: 3,
		BaseBackoff: 200 * time.Millisecond,
		Jitter:      0.2,
		Timeout:     cfg.GatewayTimeout,
	}

	gateways := gateway.NewRegistry()
	if cfg.Instamojo.Configured() {
		gateways.Register(gateway.NewInstamojo(cfg.Instamojo.Active(), "", httpClient))
	}
	if cfg.Razorpay.Configured() {
		gateways.Register(gateway.NewRazorpay(cfg.Razorpay.Active(), "", httpClient))
	}
	if len(gateways.Names()) == 0 {
		logger.Fatal().Msg("no payment gateway configured")
	}
	logger.Info().Strs("gateways", gateways.Names()).Msg("payment gateways registered")

	enqueuer := queue.Enqueuer{R: redisClient, Prefix: "tix"}
	bus := events.NewBus(
		notify.EmailNotifier{Q: enqueuer},
		notify.LogNotifier{L: logger},
	)

	checkoutSvc := &checkout.Service{
		Store:          store,
		Gateways:       gateways,
		Bus:            bus,
		PublicBaseURL:  cfg.PublicBaseURL,
		GatewayTimeout: cfg.GatewayTimeout,
		Log:            logger,
	}
	checkoutHandler := &checkout.Handler{
		Svc:      checkoutSvc,
		Validate: app.NewValidator(),
		Log:      logger,
	}

	reconcileSvc := &reconcile.Service{Store: store, Bus: bus, Log: logger}
	webhookHandler := reconcile.Webhook{
		Svc:       reconcileSvc,
		Gateways:  gateways,
		Replay:    redisClient,
		ReplayTTL: cfg.WebhookReplayTTL,
		Log:       logger,
	}
	returnHandler := reconcile.Return{
		Svc:      reconcileSvc,
		Store:    store,
		Gateways: gateways,
		Pages: reconcile.Pages{
			Success:  cfg.SuccessPageURL,
			Pending:  cfg.PendingPageURL,
			Cancel:   cfg.CancelPageURL,
			Failed:   cfg.FailedPageURL,
			NotFound: cfg.NotFoundPageURL,
		},
		Log: logger,
	}

	rateLimiter, err := app.NewRateLimiter(redisClient, cfg.RateLimit)
	if err != nil {
		logger.Fatal().Err(err).Msg("configure rate limiter")
	}

	httpMetrics := obs.NewHTTPMetrics(cfg.MetricsNamespace, nil, nil)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(obs.RoutePatternMiddleware)
	if tracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(security.BodyLimit{Max: cfg.BodyLimitBytes}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins(cfg),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Handle("/metrics", promhttp.Handler())

	healthHandler := health.Handler{
		DB:    dbProbe(pool),
		Redis: func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
	}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	limited := mhttp.NewMiddleware(rateLimiter)
	r.Route("/api/v1", func(v chi.Router) {
		v.Group(func(pub chi.Router) {
			pub.Use(limited.Handler)
			checkoutHandler.Routes(pub)
			returnHandler.Routes(pub)
		})
		// Gateways retry on 429, so webhooks bypass the client rate limit.
		webhookHandler.Routes(v)
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	stopCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server exited unexpectedly")
		}
	}()

	<-stopCtx.Done()
	logger.Info().Msg("shutting down")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}

func dbProbe(pool *pgxpool.Pool) health.Probe {
	if pool == nil {
		return nil
	}
	return func(ctx context.Context) error { return pool.Ping(ctx) }
}
