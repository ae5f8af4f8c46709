package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/dukerupert/suya/internal/domain"
)

// DefaultWatchInterval is how often Watch polls for changes.
const DefaultWatchInterval = time.Second

// OrderStore implements domain.OrderStore using PostgreSQL.
type OrderStore struct {
	pool          *pgxpool.Pool
	logger        *slog.Logger
	watchInterval time.Duration
	now           func() time.Time
}

// Compile-time check that OrderStore implements domain.OrderStore.
var _ domain.OrderStore = (*OrderStore)(nil)

// NewOrderStore creates a new PostgreSQL-backed order store.
func NewOrderStore(pool *pgxpool.Pool, logger *slog.Logger) *OrderStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &OrderStore{
		pool:          pool,
		logger:        logger,
		watchInterval: DefaultWatchInterval,
		now:           time.Now,
	}
}

// SetWatchInterval changes the Watch polling interval.
func (s *OrderStore) SetWatchInterval(d time.Duration) {
	if d > 0 {
		s.watchInterval = d
	}
}

const orderColumns = `
	id, customer_name, email, phone, address, notes, items,
	delivery_fee::text, total_amount::text, status,
	pesapal_tracking_id, payment_method, paid_at,
	attempt_token, attempt_started_at, attempt_tracking_id, attempt_redirect_url,
	attempt_checked_at, created_at, updated_at`

// =============================================================================
// READS
// =============================================================================

func (s *OrderStore) CreateOrder(ctx context.Context, order *domain.Order) (*domain.Order, error) {
	o := *order
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if o.Status == "" {
		o.Status = domain.OrderStatusPending
	}

	items, err := json.Marshal(itemsOrEmpty(o.Items))
	if err != nil {
		return nil, domain.Internal(err, "order.create", "failed to encode order items")
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO orders (
			id, customer_name, email, phone, address, notes, items,
			delivery_fee, total_amount, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8::text::numeric, $9::text::numeric, $10)
		RETURNING `+orderColumns,
		o.ID, o.CustomerName, o.Email, o.Phone, o.Address, o.Notes, items,
		nullDecimalText(o.DeliveryFee), o.TotalAmount.String(), string(o.Status),
	)

	created, err := scanOrder(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, domain.Conflict("order.create", fmt.Sprintf("order %s already exists", o.ID))
		}
		return nil, domain.Internal(err, "order.create", "failed to create order")
	}
	return created, nil
}

func (s *OrderStore) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, orderID)
	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, domain.Internal(err, "order.get", "failed to get order")
	}
	return o, nil
}

func (s *OrderStore) ListAwaitingPayment(ctx context.Context, window domain.AwaitingPaymentWindow) ([]*domain.Order, error) {
	limit := window.Limit
	if limit <= 0 {
		limit = 100
	}
	var startedAfter *time.Time
	if !window.StartedAfter.IsZero() {
		startedAfter = &window.StartedAfter
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE status = 'pending'
		  AND attempt_tracking_id IS NOT NULL
		  AND attempt_tracking_id <> ''
		  AND attempt_started_at < $1
		  AND ($2::timestamptz IS NULL OR attempt_started_at > $2)
		ORDER BY attempt_checked_at NULLS FIRST, attempt_started_at
		LIMIT $3`,
		window.StartedBefore, startedAfter, limit,
	)
	if err != nil {
		return nil, domain.Internal(err, "order.list_awaiting_payment", "failed to list orders")
	}
	defer rows.Close()

	var orders []*domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, domain.Internal(err, "order.list_awaiting_payment", "failed to read order")
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Internal(err, "order.list_awaiting_payment", "failed to list orders")
	}
	return orders, nil
}

// =============================================================================
// WRITES
// =============================================================================

func (s *OrderStore) BeginPaymentAttempt(ctx context.Context, orderID string, attempt domain.PaymentAttempt, ttl time.Duration) error {
	_, err := s.update(ctx, "order.begin_payment_attempt", orderID, func(o *domain.Order) (bool, error) {
		return true, o.StartAttempt(attempt, ttl)
	})
	return err
}

func (s *OrderStore) UpdatePaymentAttempt(ctx context.Context, orderID string, attempt domain.PaymentAttempt) error {
	_, err := s.update(ctx, "order.update_payment_attempt", orderID, func(o *domain.Order) (bool, error) {
		return true, o.UpdateAttempt(attempt)
	})
	return err
}

func (s *OrderStore) ReleasePaymentAttempt(ctx context.Context, orderID, token string) error {
	_, err := s.update(ctx, "order.release_payment_attempt", orderID, func(o *domain.Order) (bool, error) {
		return o.ReleaseAttempt(token), nil
	})
	return err
}

func (s *OrderStore) NoteAttemptChecked(ctx context.Context, orderID, token string, at time.Time) error {
	_, err := s.update(ctx, "order.note_attempt_checked", orderID, func(o *domain.Order) (bool, error) {
		return o.NoteAttemptChecked(token, at), nil
	})
	return err
}

func (s *OrderStore) MarkPaid(ctx context.Context, c domain.PaymentConfirmation) (bool, error) {
	return s.update(ctx, "order.mark_paid", c.OrderID, func(o *domain.Order) (bool, error) {
		return o.ConfirmPayment(c)
	})
}

// update locks the order row, applies fn and writes the mutable columns
// back when fn reports a change.
func (s *OrderStore) update(ctx context.Context, op, orderID string, fn func(o *domain.Order) (bool, error)) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, domain.Internal(err, op, "failed to begin transaction")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	row := tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, orderID)
	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, domain.ErrOrderNotFound
		}
		return false, domain.Internal(err, op, "failed to lock order")
	}

	changed, err := fn(o)
	if err != nil {
		return false, err
	}
	if !changed {
		return false, nil
	}

	var (
		token, trackingID, redirectURL *string
		startedAt, checkedAt           *time.Time
	)
	if a := o.PaymentAttempt; a != nil {
		token = &a.Token
		startedAt = &a.StartedAt
		trackingID = &a.TrackingID
		redirectURL = &a.RedirectURL
		if !a.CheckedAt.IsZero() {
			checkedAt = &a.CheckedAt
		}
	}

	_, err = tx.Exec(ctx, `
		UPDATE orders SET
			status = $2,
			pesapal_tracking_id = $3,
			payment_method = $4,
			paid_at = $5,
			attempt_token = $6,
			attempt_started_at = $7,
			attempt_tracking_id = $8,
			attempt_redirect_url = $9,
			attempt_checked_at = $10,
			updated_at = $11
		WHERE id = $1`,
		o.ID, string(o.Status), nullString(o.PesapalTrackingID), nullString(o.PaymentMethod), o.PaidAt,
		token, startedAt, trackingID, redirectURL, checkedAt, s.now().UTC(),
	)
	if err != nil {
		return false, domain.Internal(err, op, "failed to update order")
	}

	if err := tx.Commit(ctx); err != nil {
		return false, domain.Internal(err, op, "failed to commit order update")
	}
	return true, nil
}

// =============================================================================
// WATCH
// =============================================================================

// Watch polls the order row and emits it whenever updated_at moves.
func (s *OrderStore) Watch(ctx context.Context, orderID string) (<-chan *domain.Order, error) {
	current, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	ch := make(chan *domain.Order, 1)
	ch <- current

	go func() {
		defer close(ch)

		ticker := time.NewTicker(s.watchInterval)
		defer ticker.Stop()

		last := current.UpdatedAt
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			o, err := s.GetOrder(ctx, orderID)
			if err != nil {
				if ctx.Err() == nil {
					s.logger.Warn("order watch poll failed", "order_id", orderID, "error", err)
				}
				continue
			}
			if o.UpdatedAt.Equal(last) {
				continue
			}
			last = o.UpdatedAt

			select {
			case ch <- o:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func scanOrder(row pgx.Row) (*domain.Order, error) {
	var (
		o                                       domain.Order
		status                                  string
		items                                   []byte
		deliveryFee                             *string
		totalAmount                             string
		trackingID, paymentMethod               *string
		attemptToken, attemptTracking, redirect *string
		attemptStartedAt, attemptCheckedAt      *time.Time
	)

	err := row.Scan(
		&o.ID, &o.CustomerName, &o.Email, &o.Phone, &o.Address, &o.Notes, &items,
		&deliveryFee, &totalAmount, &status,
		&trackingID, &paymentMethod, &o.PaidAt,
		&attemptToken, &attemptStartedAt, &attemptTracking, &redirect,
		&attemptCheckedAt, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	o.Status = domain.OrderStatus(status)
	o.PesapalTrackingID = deref(trackingID)
	o.PaymentMethod = deref(paymentMethod)

	if len(items) > 0 {
		if err := json.Unmarshal(items, &o.Items); err != nil {
			return nil, fmt.Errorf("decode items: %w", err)
		}
	}

	if o.TotalAmount, err = decimal.NewFromString(totalAmount); err != nil {
		return nil, fmt.Errorf("decode total_amount: %w", err)
	}
	if deliveryFee != nil {
		fee, err := decimal.NewFromString(*deliveryFee)
		if err != nil {
			return nil, fmt.Errorf("decode delivery_fee: %w", err)
		}
		o.DeliveryFee = decimal.NewNullDecimal(fee)
	}

	if attemptToken != nil && *attemptToken != "" {
		o.PaymentAttempt = &domain.PaymentAttempt{
			Token:       *attemptToken,
			TrackingID:  deref(attemptTracking),
			RedirectURL: deref(redirect),
		}
		if attemptStartedAt != nil {
			o.PaymentAttempt.StartedAt = *attemptStartedAt
		}
		if attemptCheckedAt != nil {
			o.PaymentAttempt.CheckedAt = *attemptCheckedAt
		}
	}

	return &o, nil
}

func itemsOrEmpty(items []domain.LineItem) []domain.LineItem {
	if items == nil {
		return []domain.LineItem{}
	}
	return items
}

func nullDecimalText(d decimal.NullDecimal) *string {
	if !d.Valid {
		return nil
	}
	s := d.Decimal.String()
	return &s
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
