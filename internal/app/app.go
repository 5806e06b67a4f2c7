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
	"golang.org/x/sync/errgroup"

	"github.com/xenking/qpay-checkout/internal/domain/auth"
	"github.com/xenking/qpay-checkout/internal/domain/order"
	"github.com/xenking/qpay-checkout/internal/domain/payment"
	"github.com/xenking/qpay-checkout/internal/domain/promo"
	"github.com/xenking/qpay-checkout/internal/domain/sale"
	"github.com/xenking/qpay-checkout/internal/handler"
	"github.com/xenking/qpay-checkout/internal/paycode"
	"github.com/xenking/qpay-checkout/internal/qpay"
	"github.com/xenking/qpay-checkout/internal/storage/postgres"
	"github.com/xenking/qpay-checkout/internal/storage/redis"
	"github.com/xenking/qpay-checkout/pkg/health"
	"github.com/xenking/qpay-checkout/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server and the gateway
// token refresher, and handles graceful shutdown. It is the single wiring
// point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	vat, err := cfg.VAT()
	if err != nil {
		return err
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

	healthSvc := health.New()
	healthSvc.Add(health.Readiness, "postgres", 5*time.Second, health.PingCheck(pool))
	healthSvc.Add(health.Liveness, "goroutines", time.Second, health.GoroutineCountCheck(10000))

	// Repositories.
	tx := postgres.NewTransactor(pool)
	productRepo := postgres.NewProductRepository(pool)
	promoRepo := postgres.NewPromoRepository(pool)
	orderRepo := postgres.NewOrderRepository(pool)
	paymentRepo := postgres.NewPaymentRepository(pool)
	ledgerRepo := postgres.NewLedgerRepository(pool)
	apikeyRepo := postgres.NewAPIKeyRepository(pool)

	var saleRepo sale.Repository = postgres.NewSaleRepository(pool)
	if cfg.RedisURL != "" {
		rdb, err := redis.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			return errors.Wrap(err, "connect redis")
		}
		defer func() { _ = rdb.Close() }()

		saleRepo = redis.NewSaleCache(saleRepo, rdb, cfg.SaleCacheTTL)
		healthSvc.Add(health.Readiness, "redis", 2*time.Second, func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})
		lg.Info("Active sale cache enabled", zap.Duration("ttl", cfg.SaleCacheTTL))
	}

	// Gateway.
	gateway := qpay.New(qpay.Config{
		BaseURL:     cfg.QPay.BaseURL,
		Username:    cfg.QPay.Username,
		Password:    cfg.QPay.Password,
		InvoiceCode: cfg.QPay.InvoiceCode,
		Timeout:     cfg.QPay.Timeout,
	}, qpay.WithTelemetry(m.TracerProvider(), m.MeterProvider()))
	if !gateway.Configured() {
		lg.Warn("QPay credentials missing, invoice creation will fail")
	}
	healthSvc.Add(health.Readiness, "qpay", cfg.QPay.Timeout,
		health.Optional(gateway.Configured, func(ctx context.Context) error {
			_, err := gateway.EnsureToken(ctx)
			return err
		}),
		health.WithThresholds(10, 1),
	)

	// Domain services.
	payments, err := payment.NewService(paymentRepo, orderRepo, ledgerRepo, gateway, tx, payment.Config{
		WebhookSecret: cfg.QPay.WebhookSecret,
		CallbackURL:   cfg.QPay.CallbackURL,
		MeterProvider: m.MeterProvider(),
	})
	if err != nil {
		return errors.Wrap(err, "create payment service")
	}
	orders := order.NewService(
		productRepo,
		sale.NewEvaluator(saleRepo),
		promo.NewEvaluator(promoRepo),
		paycode.NewGenerator(postgres.NewSequenceRepository(pool), loc),
		orderRepo,
		paymentRepo,
		payments,
		ledgerRepo,
		tx,
		order.WithVATRate(vat),
	)

	// HTTP.
	mux := chi.NewRouter()
	mux.Get("/livez", healthSvc.LiveEndpoint)
	mux.Get("/readyz", healthSvc.ReadyEndpoint)
	handler.New(orders, payments, auth.NewAuthenticator(apikeyRepo, []byte(cfg.APIKeyPepper))).Routes(mux)

	routeFinder := httpmiddleware.MakeRouteFinder(mux)
	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		// Invoice creation waits on the gateway.
		WriteTimeout:   cfg.QPay.Timeout + 10*time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
		Addr:           cfg.Addr,
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", "Authorization", handler.APIKeyHeader},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
				Skip:   handler.IsCallback,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Instrument("shop-api", routeFinder, m),
			httpmiddleware.LogRequests(routeFinder),
			httpmiddleware.Labeler(routeFinder),
		),
	}

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	g, gctx := errgroup.WithContext(ctx)
	if gateway.Configured() {
		g.Go(func() error {
			refreshTokens(gctx, lg, gateway, cfg.QPay.TokenRefreshInterval)
			return nil
		})
	}
	g.Go(func() error {
		// Graceful shutdown: wait for cancellation, drain, then stop.
		<-gctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		defer healthSvc.Stop()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return errors.Wrap(err, "shutdown")
		}
		return nil
	})
	g.Go(func() error {
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})
	return g.Wait()
}

// TokenSource is a gateway whose access token can be renewed ahead of use.
type TokenSource interface {
	EnsureToken(ctx context.Context) (string, error)
}

// refreshTokens renews the gateway token once at start and then every
// interval so request paths rarely pay for a token exchange. Failures are
// logged and retried on the next tick.
func refreshTokens(ctx context.Context, lg *zap.Logger, src TokenSource, interval time.Duration) {
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		if _, err := src.EnsureToken(ctx); err != nil && ctx.Err() == nil {
			lg.Warn("QPay token refresh failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}
