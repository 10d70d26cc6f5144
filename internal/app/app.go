package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/payment"
	"github.com/xenking/storefront/internal/domain/pricing"
	"github.com/xenking/storefront/internal/handler"
	"github.com/xenking/storefront/internal/notify"
	"github.com/xenking/storefront/internal/payment/gateway"
	"github.com/xenking/storefront/internal/storage/postgres"
	"github.com/xenking/storefront/pkg/health"
	"github.com/xenking/storefront/pkg/httpmiddleware"
)

// newProcessor returns the configured payment processor: the HTTP gateway
// when a base URL is set, the in-process sandbox otherwise.
func newProcessor(lg *zap.Logger, m *app.Telemetry, cfg PaymentConfig) (payment.Processor, error) {
	if cfg.BaseURL == "" {
		lg.Warn("Payment base URL not set, using sandbox processor")
		return payment.NewSandbox(), nil
	}
	client, err := gateway.New(gateway.Config{BaseURL: cfg.BaseURL, SecretKey: cfg.SecretKey},
		gateway.WithTracerProvider(m.TracerProvider()),
		gateway.WithMeterProvider(m.MeterProvider()),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create payment gateway")
	}
	return client, nil
}

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	// Health check service.
	healthSvc := health.New()
	healthSvc.Register(health.Check{Name: "postgres", Kind: health.Readiness, Timeout: 5 * time.Second, Func: health.PingCheck("postgres", pool)})
	healthSvc.Register(health.Check{Name: "postgres_pool", Kind: health.Readiness, Func: health.PoolSaturationCheck(pool, 0.95), FailureThreshold: 6})
	healthSvc.Register(health.Check{Name: "goroutines", Kind: health.Liveness, Func: health.GoroutineCountCheck(10000)})
	healthSvc.Register(health.Check{Name: "gc", Kind: health.Liveness, Func: health.GCMaxPauseCheck(time.Second)})
	if err := healthSvc.RegisterMetrics(m.MeterProvider()); err != nil {
		return err
	}
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Repositories.
	productRepo := postgres.NewProductRepository(pool)
	couponRepo := postgres.NewCouponRepository(pool)
	orderRepo := postgres.NewOrderRepository(pool)
	apikeyRepo := postgres.NewAPIKeyRepository(pool)

	// Domain services.
	processor, err := newProcessor(lg, m, cfg.Payment)
	if err != nil {
		return err
	}
	ledger := coupon.NewLedger(couponRepo, []byte(cfg.CouponSecret),
		coupon.WithMeterProvider(m.MeterProvider()),
	)
	engine := pricing.NewEngine(cfg.Pricing.Policy(), ledger)
	transitions, err := notify.NewMetrics(m.MeterProvider())
	if err != nil {
		return err
	}
	orderService := order.NewService(productRepo, orderRepo, engine, ledger, processor,
		order.WithNotifier(notify.Fanout{notify.NewLog(lg.Named("notify")), transitions}),
		order.WithCurrency(cfg.Pricing.Currency),
		order.WithPaymentTimeout(cfg.Payment.Timeout),
		order.WithTracerProvider(m.TracerProvider()),
		order.WithMeterProvider(m.MeterProvider()),
	)

	// HTTP handlers.
	h := handler.NewHandler(handler.HandlerConfig{
		APIKeyPepper: []byte(cfg.APIKeyPepper),
		CouponRateLimit: httpmiddleware.RateLimitConfig{
			Max:    cfg.RateLimit.CouponMax,
			Window: cfg.RateLimit.CouponWindow,
		},
	}, orderService, ledger, apikeyRepo)

	// Router: health endpoints + API routes on one server.
	router := chi.NewRouter()
	healthSvc.Routes(router)
	h.Routes(router)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		// Checkout may wait for the payment processor.
		WriteTimeout:   cfg.Payment.Timeout + 10*time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
		Addr:           cfg.Addr,
		Handler: httpmiddleware.Wrap(router,
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", "Authorization", handler.APIKeyHeader, handler.UserHeader},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
			}),
			httpmiddleware.Instrument("storefront-api", m),
			httpmiddleware.LogRequests(),
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
