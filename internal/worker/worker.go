package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/suya/internal/domain"
	"github.com/dukerupert/suya/internal/service"
	"github.com/dukerupert/suya/internal/telemetry"
)

// Config holds reconciler configuration
type Config struct {
	// WorkerID uniquely identifies this reconciler instance
	WorkerID string

	// PollInterval is how often to sweep for unconfirmed orders
	PollInterval time.Duration

	// MinAge is how long an attempt must have been in flight before the
	// reconciler asks the gateway about it
	MinAge time.Duration

	// MaxAge is how long after it started an attempt is still checked.
	// Older attempts are treated as abandoned.
	MaxAge time.Duration

	// MaxConcurrency is the maximum number of orders reconciled at once
	MaxConcurrency int

	// BatchSize caps the orders picked up per sweep
	BatchSize int
}

// Reconciler periodically confirms payments for orders whose status page
// was abandoned and whose IPN never arrived.
type Reconciler struct {
	config   Config
	store    domain.OrderStore
	payments service.PaymentService
	logger   *slog.Logger
	now      func() time.Time
}

// NewReconciler creates a new background reconciler
func NewReconciler(
	store domain.OrderStore,
	payments service.PaymentService,
	config Config,
	logger *slog.Logger,
) *Reconciler {
	if config.WorkerID == "" {
		config.WorkerID = fmt.Sprintf("reconciler-%s", uuid.New().String()[:8])
	}
	if config.PollInterval == 0 {
		config.PollInterval = time.Minute
	}
	if config.MinAge == 0 {
		config.MinAge = 2 * time.Minute
	}
	if config.MaxAge == 0 {
		config.MaxAge = 24 * time.Hour
	}
	if config.MaxConcurrency == 0 {
		config.MaxConcurrency = 4
	}
	if config.BatchSize == 0 {
		config.BatchSize = 50
	}

	return &Reconciler{
		config:   config,
		store:    store,
		payments: payments,
		logger:   logger,
		now:      time.Now,
	}
}

// Start sweeps until the context is cancelled
func (r *Reconciler) Start(ctx context.Context) error {
	r.logger.Info("reconciler starting",
		"worker_id", r.config.WorkerID,
		"poll_interval", r.config.PollInterval,
		"min_age", r.config.MinAge,
		"max_age", r.config.MaxAge,
		"max_concurrency", r.config.MaxConcurrency,
	)

	ticker := time.NewTicker(r.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reconciler shutting down", "worker_id", r.config.WorkerID)
			return ctx.Err()

		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil {
				r.logger.Error("reconciler sweep failed", "worker_id", r.config.WorkerID, "error", err)
			}
		}
	}
}

// SweepResult summarises one pass.
type SweepResult struct {
	Checked   int
	Confirmed int
	Failed    int
}

// Sweep reconciles one batch of orders awaiting payment and waits for them
// to finish. Every order checked is stamped so the next sweep starts with
// the ones that have waited longest.
func (r *Reconciler) Sweep(ctx context.Context) (SweepResult, error) {
	now := r.now()
	orders, err := r.store.ListAwaitingPayment(ctx, domain.AwaitingPaymentWindow{
		StartedAfter:  now.Add(-r.config.MaxAge),
		StartedBefore: now.Add(-r.config.MinAge),
		Limit:         r.config.BatchSize,
	})
	if err != nil {
		return SweepResult{}, fmt.Errorf("list orders awaiting payment: %w", err)
	}
	telemetry.Business.RecordReconcilerSweep()

	var (
		mu     sync.Mutex
		result = SweepResult{Checked: len(orders)}
		wg     sync.WaitGroup
		sem    = make(chan struct{}, r.config.MaxConcurrency)
	)

	for _, order := range orders {
		select {
		case <-ctx.Done():
			wg.Wait()
			return result, ctx.Err()
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(o *domain.Order) {
			defer wg.Done()
			defer func() { <-sem }()

			confirmed, err := r.reconcile(ctx, o)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				result.Failed++
			case confirmed:
				result.Confirmed++
			}
		}(order)
	}
	wg.Wait()

	if result.Checked > 0 {
		r.logger.Info("reconciler sweep complete",
			"worker_id", r.config.WorkerID,
			"checked", result.Checked,
			"confirmed", result.Confirmed,
			"failed", result.Failed,
		)
	}
	return result, nil
}

func (r *Reconciler) reconcile(ctx context.Context, o *domain.Order) (bool, error) {
	attempt := o.PaymentAttempt

	rec, err := r.payments.Reconcile(ctx, o.ID, attempt.TrackingID)
	if err == nil && rec.Transitioned {
		r.logger.Info("order confirmed by reconciler",
			"order_id", o.ID,
			"tracking_id", attempt.TrackingID,
		)
		return true, nil
	}

	if noteErr := r.store.NoteAttemptChecked(ctx, o.ID, attempt.Token, r.now()); noteErr != nil {
		r.logger.Warn("failed to record reconcile check",
			"order_id", o.ID,
			"error", noteErr,
		)
	}

	if err != nil {
		r.logger.Warn("reconcile failed",
			"order_id", o.ID,
			"tracking_id", attempt.TrackingID,
			"error", err,
		)
		return false, err
	}
	return false, nil
}
