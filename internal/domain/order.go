package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order-related domain errors.
var (
	ErrOrderNotFound     = &Error{Code: ENOTFOUND, Message: "Order not found"}
	ErrOrderNotPending   = &Error{Code: ECONFLICT, Message: "Order is not awaiting payment"}
	ErrOrderCancelled    = &Error{Code: ECONFLICT, Message: "Order has been cancelled"}
	ErrPaymentInProgress = &Error{Code: ECONFLICT, Message: "A payment for this order is already in progress"}
	ErrAttemptSuperseded = &Error{Code: ECONFLICT, Message: "Payment attempt no longer holds this order"}
	ErrInvalidTransition = &Error{Code: ECONFLICT, Message: "Order status transition not allowed"}
	ErrMissingOrderID    = &Error{Code: EINVALID, Message: "Order ID is required"}
	ErrMissingTrackingID = &Error{Code: EINVALID, Message: "Missing ID"}
	ErrReferenceMismatch = &Error{Code: EINVALID, Message: "Merchant reference does not match order"}
	ErrAmountMismatch    = &Error{Code: EINVALID, Message: "Amount does not match order total"}
	ErrNonPositiveAmount = &Error{Code: EINVALID, Message: "Order total must be a positive amount"}
)

// PaymentMethodPesapal is recorded on orders confirmed through Pesapal.
const PaymentMethodPesapal = "Pesapal"

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusPreparing OrderStatus = "preparing"
	OrderStatusReady     OrderStatus = "ready"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusCancelled OrderStatus = "cancelled"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:   {OrderStatusPaid, OrderStatusCancelled},
	OrderStatusPaid:      {OrderStatusPreparing, OrderStatusCancelled},
	OrderStatusPreparing: {OrderStatusReady, OrderStatusCancelled},
	OrderStatusReady:     {OrderStatusCompleted},
}

// Valid reports whether s is a known status.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusPaid, OrderStatusPreparing,
		OrderStatusReady, OrderStatusCompleted, OrderStatusCancelled:
		return true
	}
	return false
}

// CanTransitionTo reports whether moving from s to next is a forward step.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// LineItem is one cart line captured on the order.
type LineItem struct {
	ID         string              `json:"id,omitempty"`
	Name       string              `json:"name"`
	Quantity   int                 `json:"qty"`
	Price      decimal.Decimal     `json:"price"`
	FinalPrice decimal.NullDecimal `json:"finalPrice"`
	Options    []string            `json:"selectedOptions,omitempty"`
}

// UnitPrice is the final (option-adjusted) price when set and non-zero,
// otherwise the base price.
func (li LineItem) UnitPrice() decimal.Decimal {
	if li.FinalPrice.Valid && !li.FinalPrice.Decimal.IsZero() {
		return li.FinalPrice.Decimal
	}
	return li.Price
}

// Qty treats a missing or non-positive quantity as one.
func (li LineItem) Qty() int {
	if li.Quantity <= 0 {
		return 1
	}
	return li.Quantity
}

// Total is UnitPrice × Qty.
func (li LineItem) Total() decimal.Decimal {
	return li.UnitPrice().Mul(decimal.NewFromInt(int64(li.Qty())))
}

// PaymentAttempt is the per-order initiation lock. Token identifies the
// attempt that holds it; StartedAt bounds how long it is honoured.
type PaymentAttempt struct {
	Token       string    `json:"token"`
	StartedAt   time.Time `json:"startedAt"`
	TrackingID  string    `json:"trackingId,omitempty"`
	RedirectURL string    `json:"redirectUrl,omitempty"`

	// CheckedAt is when the reconciler last asked the gateway about the
	// transaction. Zero until the first check.
	CheckedAt time.Time `json:"checkedAt,omitempty"`
}

// InFlight reports whether the attempt still holds the order at now.
func (a *PaymentAttempt) InFlight(now time.Time, ttl time.Duration) bool {
	return a != nil && a.Token != "" && now.Sub(a.StartedAt) < ttl
}

// PaymentConfirmation is the provenance written when the gateway confirms
// payment for an order.
type PaymentConfirmation struct {
	OrderID       string
	TrackingID    string
	PaymentMethod string
	PaidAt        time.Time
}

// Order is a customer order as held by the order store.
type Order struct {
	ID           string
	CustomerName string
	Email        string
	Phone        string
	Address      string
	Notes        string
	Items        []LineItem

	// DeliveryFee is the fee captured when the order was placed. Invalid
	// when the storefront did not record one.
	DeliveryFee decimal.NullDecimal

	// TotalAmount is the storefront-computed total.
	TotalAmount decimal.Decimal

	Status OrderStatus

	PesapalTrackingID string
	PaymentMethod     string
	PaidAt            *time.Time

	PaymentAttempt *PaymentAttempt

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Subtotal sums the line items.
func (o *Order) Subtotal() decimal.Decimal {
	sum := decimal.Zero
	for _, item := range o.Items {
		sum = sum.Add(item.Total())
	}
	return sum
}

// IsPaid reports whether payment has been confirmed. Downstream kitchen
// states imply payment.
func (o *Order) IsPaid() bool {
	switch o.Status {
	case OrderStatusPaid, OrderStatusPreparing, OrderStatusReady, OrderStatusCompleted:
		return true
	}
	return false
}

// StartAttempt takes the initiation lock for attempt. It fails when the
// order is not pending or another attempt is still in flight at
// attempt.StartedAt.
func (o *Order) StartAttempt(attempt PaymentAttempt, ttl time.Duration) error {
	if o.Status != OrderStatusPending {
		return ErrOrderNotPending
	}
	if o.PaymentAttempt.InFlight(attempt.StartedAt, ttl) && o.PaymentAttempt.Token != attempt.Token {
		return ErrPaymentInProgress
	}
	a := attempt
	o.PaymentAttempt = &a
	return nil
}

// UpdateAttempt records gateway results on the attempt that holds the lock.
func (o *Order) UpdateAttempt(attempt PaymentAttempt) error {
	if o.PaymentAttempt == nil || o.PaymentAttempt.Token != attempt.Token {
		return ErrAttemptSuperseded
	}
	o.PaymentAttempt.TrackingID = attempt.TrackingID
	o.PaymentAttempt.RedirectURL = attempt.RedirectURL
	return nil
}

// ReleaseAttempt drops the lock if token still holds it.
func (o *Order) ReleaseAttempt(token string) bool {
	if o.PaymentAttempt == nil || o.PaymentAttempt.Token != token {
		return false
	}
	o.PaymentAttempt = nil
	return true
}

// ConfirmPayment applies the pending → paid transition. It returns false
// without error when the order is already paid, so repeating a
// confirmation is harmless.
func (o *Order) ConfirmPayment(c PaymentConfirmation) (bool, error) {
	if o.IsPaid() {
		return false, nil
	}
	if o.Status == OrderStatusCancelled {
		return false, ErrOrderCancelled
	}
	if !o.Status.CanTransitionTo(OrderStatusPaid) {
		return false, ErrInvalidTransition
	}

	paidAt := c.PaidAt
	o.Status = OrderStatusPaid
	o.PesapalTrackingID = c.TrackingID
	o.PaymentMethod = c.PaymentMethod
	o.PaidAt = &paidAt
	return true, nil
}

// AwaitingPayment reports whether the order is pending with a submitted
// gateway transaction that started inside w.
func (o *Order) AwaitingPayment(w AwaitingPaymentWindow) bool {
	if o.Status != OrderStatusPending || o.PaymentAttempt == nil || o.PaymentAttempt.TrackingID == "" {
		return false
	}
	started := o.PaymentAttempt.StartedAt
	if !started.Before(w.StartedBefore) {
		return false
	}
	return w.StartedAfter.IsZero() || started.After(w.StartedAfter)
}

// NoteAttemptChecked stamps the attempt held by token with the time of a
// gateway status check.
func (o *Order) NoteAttemptChecked(token string, at time.Time) bool {
	if o.PaymentAttempt == nil || o.PaymentAttempt.Token != token {
		return false
	}
	o.PaymentAttempt.CheckedAt = at
	return true
}

// AwaitingPaymentWindow selects orders for a reconciler sweep. Attempts
// that started at or before StartedAfter are considered abandoned; a zero
// StartedAfter disables that bound.
type AwaitingPaymentWindow struct {
	StartedAfter  time.Time
	StartedBefore time.Time
	Limit         int
}

// LessRecentlyChecked orders a sweep batch: never-checked attempts first,
// then the longest since their last check, then the oldest attempt.
func LessRecentlyChecked(a, b *Order) bool {
	ac, bc := a.PaymentAttempt.CheckedAt, b.PaymentAttempt.CheckedAt
	if !ac.Equal(bc) {
		return ac.Before(bc)
	}
	return a.PaymentAttempt.StartedAt.Before(b.PaymentAttempt.StartedAt)
}
