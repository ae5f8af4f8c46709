// Package bootstrap builds the long-lived clients both binaries share:
// the order store, the gateway client, the event publisher and the
// receipt sender.
package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"github.com/dukerupert/suya/internal"
	"github.com/dukerupert/suya/internal/domain"
	"github.com/dukerupert/suya/internal/email"
	"github.com/dukerupert/suya/internal/events"
	"github.com/dukerupert/suya/internal/firestore"
	"github.com/dukerupert/suya/internal/memstore"
	"github.com/dukerupert/suya/internal/pesapal"
	"github.com/dukerupert/suya/internal/postgres"
	"github.com/dukerupert/suya/internal/service"
	"github.com/dukerupert/suya/internal/telemetry"
)

// announceDrainTimeout bounds how long Close waits for paid-order events
// and receipts that are still being sent.
const announceDrainTimeout = 30 * time.Second

// Resources holds everything built from configuration. Close releases
// the connections in reverse order of creation.
type Resources struct {
	Store    domain.OrderStore
	Gateway  *pesapal.Client
	Checkout service.CheckoutService
	Payments service.PaymentService

	// Ready checks that the order store is reachable.
	Ready func(ctx context.Context) error

	closers []func()
}

// Close releases every connection opened by Open.
func (r *Resources) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
	r.closers = nil
}

func (r *Resources) onClose(fn func()) {
	r.closers = append(r.closers, fn)
}

// Open connects the order store and builds the gateway client and the
// payment services. On error everything opened so far is closed.
func Open(ctx context.Context, cfg *internal.Config, logger *slog.Logger) (_ *Resources, err error) {
	res := &Resources{Ready: func(context.Context) error { return nil }}
	defer func() {
		if err != nil {
			res.Close()
		}
	}()

	if err := res.openOrderStore(ctx, cfg, logger); err != nil {
		return nil, err
	}

	cache, err := res.openTokenCache(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	opts := []pesapal.Option{pesapal.WithLogger(logger)}
	if cache != nil {
		opts = append(opts, pesapal.WithTokenCache(cache))
	}
	res.Gateway, err = pesapal.NewClient(GatewayConfig(cfg), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize pesapal client: %w", err)
	}
	logger.Info("Pesapal client initialized",
		"environment", cfg.Pesapal.Env,
		"token_cache", cfg.Pesapal.TokenCache,
	)

	publisher, err := res.openPublisher(cfg, logger)
	if err != nil {
		return nil, err
	}
	receipts, err := NewReceiptSender(cfg, logger)
	if err != nil {
		return nil, err
	}

	paymentOpts := []service.PaymentOption{service.WithPublisher(publisher)}
	if receipts != nil {
		paymentOpts = append(paymentOpts, service.WithReceiptSender(receipts))
	}

	res.Checkout = service.NewCheckoutService(res.Store, res.Gateway, service.CheckoutConfig{
		Callbacks:  CallbackURLs(cfg),
		Pricing:    Pricing(cfg),
		AttemptTTL: cfg.Payments.AttemptTTL,
	}, logger)
	res.Payments = service.NewPaymentService(res.Store, res.Gateway, logger, paymentOpts...)

	// Registered last so it runs before the publisher and store close.
	res.onClose(func() {
		ctx, cancel := context.WithTimeout(context.Background(), announceDrainTimeout)
		defer cancel()
		if err := res.Payments.Wait(ctx); err != nil {
			logger.Warn("paid-order announcements still pending at shutdown", "error", err)
		}
	})

	return res, nil
}

func (r *Resources) openOrderStore(ctx context.Context, cfg *internal.Config, logger *slog.Logger) error {
	switch cfg.OrderStore {
	case internal.OrderStorePostgres:
		// Initialize database/sql connection for migrations
		logger.Info("Connecting to database...")
		sqlDB, err := sql.Open("pgx", cfg.DatabaseUrl)
		if err != nil {
			return fmt.Errorf("database connection failed: %w", err)
		}
		defer sqlDB.Close()

		if err := sqlDB.PingContext(ctx); err != nil {
			return fmt.Errorf("database ping failed: %w", err)
		}

		logger.Info("Running database migrations...")
		if err := internal.RunMigrations(sqlDB); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		logger.Info("Database migrations completed successfully")

		pool, err := pgxpool.New(ctx, cfg.DatabaseUrl)
		if err != nil {
			return fmt.Errorf("failed to create connection pool: %w", err)
		}
		r.onClose(pool.Close)
		r.Store = postgres.NewOrderStore(pool, logger)
		r.Ready = pool.Ping

	case internal.OrderStoreFirestore:
		client, err := firestore.NewClient(ctx, firestore.Config{
			ProjectID:       cfg.Firestore.ProjectID,
			Collection:      cfg.Firestore.Collection,
			CredentialsFile: cfg.Firestore.CredentialsFile,
		})
		if err != nil {
			return err
		}
		r.onClose(func() {
			if err := client.Close(); err != nil {
				logger.Warn("firestore close failed", "error", err)
			}
		})
		r.Store = firestore.NewOrderStore(client, cfg.Firestore.Collection, logger)

	default:
		logger.Warn("Using in-memory order store; orders are lost on restart")
		r.Store = memstore.New()
	}

	logger.Info("Order store initialized", "backend", cfg.OrderStore)
	return nil
}

func (r *Resources) openTokenCache(ctx context.Context, cfg *internal.Config, logger *slog.Logger) (pesapal.TokenCache, error) {
	switch cfg.Pesapal.TokenCache {
	case internal.TokenCacheMemory:
		return pesapal.NewMemoryTokenCache(), nil
	case internal.TokenCacheRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		r.onClose(func() { _ = rdb.Close() })

		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			return nil, fmt.Errorf("redis ping failed: %w", err)
		}
		logger.Info("Redis token cache connected", "addr", cfg.Redis.Addr)
		return pesapal.NewRedisTokenCache(rdb), nil
	default:
		return nil, nil
	}
}

func (r *Resources) openPublisher(cfg *internal.Config, logger *slog.Logger) (service.Publisher, error) {
	if cfg.NATS.URL == "" {
		logger.Info("NATS_URL not set; order events are not published")
		return events.NopPublisher{}, nil
	}

	nc, err := events.Connect(cfg.NATS.URL, logger)
	if err != nil {
		return nil, err
	}
	r.onClose(func() {
		if err := nc.Drain(); err != nil {
			logger.Warn("nats drain failed", "error", err)
		}
	})
	logger.Info("NATS connected", "url", nc.ConnectedUrl(), "subject_prefix", cfg.NATS.SubjectPrefix)
	return events.NewNATSPublisher(nc, cfg.NATS.SubjectPrefix, logger), nil
}

// NewReceiptSender returns nil when SMTP is not configured.
func NewReceiptSender(cfg *internal.Config, logger *slog.Logger) (service.ReceiptSender, error) {
	if cfg.Email.Host == "" {
		logger.Info("SMTP_HOST not set; payment receipts are not emailed")
		return nil, nil
	}

	sender := email.NewSMTPSender(email.SMTPConfig{
		Host:     cfg.Email.Host,
		Port:     int(cfg.Email.Port),
		Username: cfg.Email.Username,
		Password: cfg.Email.Password,
		From:     cfg.Email.From,
		FromName: cfg.Email.FromName,
	}, logger)

	svc, err := email.NewService(sender, cfg.Email.From, cfg.Email.FromName)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize email service: %w", err)
	}
	return svc, nil
}

// GatewayConfig maps the Pesapal settings onto the client config.
func GatewayConfig(cfg *internal.Config) pesapal.GatewayConfig {
	gc := pesapal.NewGatewayConfig(pesapal.Environment(cfg.Pesapal.Env), cfg.Pesapal.ConsumerKey, cfg.Pesapal.ConsumerSecret)
	if cfg.Pesapal.Timeout > 0 {
		gc.Timeout = cfg.Pesapal.Timeout
	}
	return gc
}

// CallbackURLs builds the gateway callback settings from cfg.
func CallbackURLs(cfg *internal.Config) service.CallbackURLs {
	return service.CallbackURLs{
		PublicOrigin:      cfg.URL,
		DevFrontendOrigin: cfg.DevFrontendOrigin,
		IPNPath:           cfg.Pesapal.IPNPath,
		IPNPlaceholder:    cfg.Pesapal.IPNPlaceholder,
	}
}

// Pricing builds the amount rules from cfg.
func Pricing(cfg *internal.Config) service.Pricing {
	return service.Pricing{
		DefaultDeliveryFee: cfg.Payments.DeliveryFee,
		Tolerance:          cfg.Payments.AmountTolerance,
	}
}

// SentryConfig maps the Sentry settings onto the telemetry config.
func SentryConfig(cfg *internal.Config) telemetry.SentryConfig {
	return telemetry.SentryConfig{
		DSN:              cfg.Sentry.DSN,
		Enabled:          cfg.Sentry.Enabled,
		Environment:      cfg.Sentry.Environment,
		Release:          cfg.Sentry.Release,
		SampleRate:       cfg.Sentry.SampleRate,
		TracesSampleRate: cfg.Sentry.TracesSampleRate,
		Debug:            cfg.Sentry.Debug,
	}
}
