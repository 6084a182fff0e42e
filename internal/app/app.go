package app

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/xenking/marketplace/internal/domain/money"
	"github.com/xenking/marketplace/internal/domain/order"
	"github.com/xenking/marketplace/internal/domain/promo"
	"github.com/xenking/marketplace/internal/events"
	"github.com/xenking/marketplace/internal/handler"
	"github.com/xenking/marketplace/internal/idempotency"
	"github.com/xenking/marketplace/internal/storage/postgres"
	"github.com/xenking/marketplace/pkg/health"
	"github.com/xenking/marketplace/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr), zap.String("currency", cfg.Currency))

	policy, err := money.NewPolicy(cfg.Currency)
	if err != nil {
		return errors.Wrap(err, "money policy")
	}

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}
	store := postgres.New(pool, postgres.WithLockTimeout(cfg.Orders.LockTimeout))

	healthSvc := health.New(lg.Named("health"))
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(store))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))

	orderOpts := []order.Option{
		order.WithMoneyPolicy(policy),
		order.WithRateLimit(cfg.Orders.RateLimitInterval),
		order.WithTracerProvider(m.TracerProvider()),
		order.WithMeterProvider(m.MeterProvider()),
	}

	// Optional Redis-backed idempotency keys.
	if cfg.Redis.Addr != "" {
		rdb := idempotency.NewClient(cfg.Redis.Addr)
		defer func() { _ = rdb.Close() }()

		healthSvc.AddReadinessCheck("redis", 2*time.Second, health.RedisCheck(rdb))
		orderOpts = append(orderOpts, order.WithIdempotency(idempotency.New(rdb, cfg.Redis.IdempotencyTTL)))
		lg.Info("Idempotency keys enabled", zap.String("redis", cfg.Redis.Addr))
	}

	// Optional Kafka order events.
	if len(cfg.Kafka.Brokers) > 0 {
		publisher := events.NewPublisher(
			events.NewWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic),
			events.WithMoneyPolicy(policy),
		)
		defer func() {
			if err := publisher.Close(); err != nil {
				lg.Warn("Close event publisher", zap.Error(err))
			}
		}()
		orderOpts = append(orderOpts, order.WithPublisher(publisher))
		lg.Info("Order events enabled", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
	}

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	limiter := httpmiddleware.NewLimiter(httpmiddleware.RateLimitConfig{
		Max:     cfg.RateLimit.Max,
		Window:  cfg.RateLimit.Window,
		KeyFunc: handler.RateLimitKey,
	})
	go limiter.Run(ctx)

	h := handler.New(
		order.NewService(store, orderOpts...),
		promo.NewService(store),
		store,
		handler.NewTokenVerifier([]byte(cfg.JWTSecret)),
		handler.WithMoneyPolicy(policy),
		handler.WithLimiter(limiter),
	)

	// Router: probes + API on one server. Route-aware middlewares must be
	// registered on the router itself to see the matched pattern.
	r := chi.NewRouter()
	r.Use(httpmiddleware.LogRequests(), httpmiddleware.Labeler())
	r.Get("/livez", healthSvc.LiveEndpoint)
	r.Get("/readyz", healthSvc.ReadyEndpoint)
	h.Routes(r)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
		Handler: httpmiddleware.Wrap(
			otelhttp.NewHandler(r, "marketplace-api",
				otelhttp.WithTracerProvider(m.TracerProvider()),
				otelhttp.WithMeterProvider(m.MeterProvider()),
			),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Recovery(),
		),
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}
