package domain

import (
	"context"
	"time"
)

// OrderStore persists orders. The storefront creates them; the payment
// flow takes the initiation lock and performs the pending → paid write.
//
// Implementations must make MarkPaid idempotent and must apply
// BeginPaymentAttempt as a compare-and-set against concurrent callers.
type OrderStore interface {
	// CreateOrder stores a new pending order. An empty ID is assigned by
	// the store.
	CreateOrder(ctx context.Context, order *Order) (*Order, error)

	// GetOrder returns ErrOrderNotFound when no order has the ID.
	GetOrder(ctx context.Context, orderID string) (*Order, error)

	// BeginPaymentAttempt takes the per-order initiation lock. It returns
	// ErrOrderNotPending when the order cannot be paid and
	// ErrPaymentInProgress when another attempt started less than ttl
	// before attempt.StartedAt.
	BeginPaymentAttempt(ctx context.Context, orderID string, attempt PaymentAttempt, ttl time.Duration) error

	// UpdatePaymentAttempt records the gateway tracking ID and redirect URL
	// on the attempt identified by attempt.Token.
	UpdatePaymentAttempt(ctx context.Context, orderID string, attempt PaymentAttempt) error

	// ReleasePaymentAttempt drops the lock if token still holds it.
	ReleasePaymentAttempt(ctx context.Context, orderID, token string) error

	// MarkPaid performs the pending → paid transition. It reports false
	// when the order was already paid.
	MarkPaid(ctx context.Context, confirmation PaymentConfirmation) (bool, error)

	// NoteAttemptChecked records when the attempt held by token was last
	// checked with the gateway. It is a no-op when token no longer holds
	// the lock.
	NoteAttemptChecked(ctx context.Context, orderID, token string, at time.Time) error

	// ListAwaitingPayment returns pending orders whose submitted attempt
	// started inside the window, least recently checked first (see
	// LessRecentlyChecked).
	ListAwaitingPayment(ctx context.Context, window AwaitingPaymentWindow) ([]*Order, error)

	// Watch streams the order: the current state first, then every
	// change. The channel closes when ctx is done.
	Watch(ctx context.Context, orderID string) (<-chan *Order, error)
}
