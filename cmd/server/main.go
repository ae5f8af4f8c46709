package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dukerupert/suya/internal"
	"github.com/dukerupert/suya/internal/bootstrap"
	"github.com/dukerupert/suya/internal/handler/api"
	"github.com/dukerupert/suya/internal/handler/webhook"
	"github.com/dukerupert/suya/internal/middleware"
	"github.com/dukerupert/suya/internal/router"
	"github.com/dukerupert/suya/internal/routes"
	"github.com/dukerupert/suya/internal/telemetry"
	"github.com/dukerupert/suya/internal/worker"
)

const metricsNamespace = "suya"

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	// Configure logger
	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	// Initialize Sentry
	flushSentry, err := telemetry.InitSentry(bootstrap.SentryConfig(cfg), logger)
	if err != nil {
		return err
	}
	defer flushSentry()

	// Initialize Prometheus metrics
	telemetry.InitBusinessMetrics(metricsNamespace)
	metrics := middleware.NewMetrics(metricsNamespace)

	// Initialize order store, gateway and payment services
	res, err := bootstrap.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer res.Close()

	// Start the background reconciler
	if cfg.Reconciler.Enabled {
		reconciler := worker.NewReconciler(res.Store, res.Payments, worker.Config{
			PollInterval:   cfg.Reconciler.Interval,
			MinAge:         cfg.Reconciler.MinAge,
			MaxAge:         cfg.Reconciler.MaxAge,
			MaxConcurrency: cfg.Reconciler.Concurrency,
		}, logger)
		go func() {
			if err := reconciler.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("reconciler stopped", "error", err)
			}
		}()
	} else {
		logger.Info("Reconciler disabled (RECONCILER_ENABLED=false)")
	}

	// ==========================================================================
	// Build route dependencies
	// ==========================================================================

	paymentHandler := api.NewPaymentHandler(res.Checkout, res.Payments, res.Store, logger)

	// Configure rate limiting
	defaultRateLimiter := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	defer defaultRateLimiter.Stop()
	payRateLimiter := middleware.NewRateLimiter(middleware.StrictRateLimiterConfig())
	defer payRateLimiter.Stop()

	paymentDeps := routes.PaymentDeps{
		Handler:        paymentHandler,
		PayRateLimiter: payRateLimiter,
	}
	webhookDeps := routes.WebhookDeps{
		PesapalHandler: webhook.NewPesapalHandler(res.Payments, logger),
	}
	opsDeps := routes.OpsDeps{
		Metrics: metrics.Handler(),
		Ready:   res.Ready,
	}

	// Configure security headers
	securityConfig := middleware.DefaultSecurityHeadersConfig()
	if cfg.Env == "dev" {
		securityConfig.HSTSMaxAge = 0 // Disable HSTS in development
	}

	// ==========================================================================
	// Create router and register routes
	// ==========================================================================

	// Timeouts are applied per route: the order watch stream stays open.
	r := router.New(
		router.Recovery(logger),
		middleware.RequestID,
		middleware.WithClientIP(),
		telemetry.SentryMiddleware(),
		metrics.Middleware,
		middleware.SecurityHeaders(securityConfig),
		defaultRateLimiter.Middleware,
		middleware.WithRequestLogger(logger),
		router.Logger(logger),
	)

	routes.RegisterOpsRoutes(r, opsDeps)
	routes.RegisterPaymentRoutes(r, paymentDeps)
	routes.RegisterWebhookRoutes(r, webhookDeps)

	// ==========================================================================
	// Start server
	// ==========================================================================

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router.CORS(cfg.AllowedOrigins)(r),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting payment server", "address", addr, "env", cfg.Env, "order_store", cfg.OrderStore)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down payment server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
