package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dukerupert/suya/internal/domain"
	"github.com/dukerupert/suya/internal/pesapal"
	"github.com/dukerupert/suya/internal/telemetry"
)

// PaymentService checks transactions with the gateway and records
// confirmed payments.
type PaymentService interface {
	// Verify looks up a transaction and normalizes its status. It never
	// writes to the order store.
	Verify(ctx context.Context, trackingID string) (*Verification, error)

	// Reconcile verifies trackingID and, only when the gateway confirms
	// payment, moves orderID from pending to paid. Orders that are
	// already paid are returned without contacting the gateway.
	Reconcile(ctx context.Context, orderID, trackingID string) (*Reconciliation, error)

	// Wait blocks until the paid-order event and receipt of every
	// confirmed payment have been sent, or ctx ends.
	Wait(ctx context.Context) error
}

// Verification is the normalized result of a status lookup.
type Verification struct {
	TrackingID string

	// Status is the gateway's description upper-cased, e.g. "COMPLETED".
	Status  string
	Outcome domain.PaymentOutcome

	MerchantReference string
	ConfirmationCode  string
	PaymentMethod     string
}

// Reconciliation is the outcome of Reconcile.
type Reconciliation struct {
	Order *domain.Order

	// Verification is nil when the order was already paid.
	Verification *Verification

	// Transitioned is true only for the call that moved the order to paid.
	Transitioned bool
}

// Confirmed reports whether the order is now paid.
func (r *Reconciliation) Confirmed() bool {
	return r.Order != nil && r.Order.IsPaid()
}

// Publisher announces orders that have just been paid.
type Publisher interface {
	PublishOrderPaid(ctx context.Context, order *domain.Order) error
}

// ReceiptSender emails the customer once payment is confirmed.
type ReceiptSender interface {
	SendPaymentReceipt(ctx context.Context, order *domain.Order) error
}

// PaymentOption configures a payment service.
type PaymentOption func(*paymentService)

// WithPublisher publishes an event whenever an order becomes paid.
func WithPublisher(p Publisher) PaymentOption {
	return func(s *paymentService) { s.publisher = p }
}

// WithReceiptSender emails a receipt whenever an order becomes paid.
func WithReceiptSender(r ReceiptSender) PaymentOption {
	return func(s *paymentService) { s.receipts = r }
}

// WithClock replaces time.Now for paidAt timestamps.
func WithClock(now func() time.Time) PaymentOption {
	return func(s *paymentService) { s.now = now }
}

type paymentService struct {
	store     domain.OrderStore
	gateway   pesapal.Gateway
	publisher Publisher
	receipts  ReceiptSender
	logger    *slog.Logger
	now       func() time.Time

	announcing sync.WaitGroup
}

// NewPaymentService creates a payment service.
func NewPaymentService(store domain.OrderStore, gateway pesapal.Gateway, logger *slog.Logger, opts ...PaymentOption) PaymentService {
	if logger == nil {
		logger = slog.Default()
	}
	s := &paymentService{
		store:   store,
		gateway: gateway,
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *paymentService) Verify(ctx context.Context, trackingID string) (*Verification, error) {
	if trackingID == "" {
		return nil, domain.ErrMissingTrackingID
	}

	token, err := s.gateway.Authenticate(ctx)
	if err != nil {
		telemetry.Business.RecordVerification("error")
		return nil, err
	}

	status, err := s.gateway.GetTransactionStatus(ctx, token.Value, trackingID)
	if err != nil {
		telemetry.Business.RecordVerification("error")
		return nil, err
	}

	v := &Verification{
		TrackingID:        trackingID,
		Status:            status.StatusDescription(),
		Outcome:           domain.NormalizePaymentStatus(status.PaymentStatusDescription),
		MerchantReference: status.MerchantReference,
		ConfirmationCode:  status.ConfirmationCode,
		PaymentMethod:     status.PaymentMethod,
	}
	telemetry.Business.RecordVerification(string(v.Outcome))

	s.logger.Info("payment status checked",
		"tracking_id", trackingID,
		"status", v.Status,
		"outcome", v.Outcome,
	)
	return v, nil
}

func (s *paymentService) Reconcile(ctx context.Context, orderID, trackingID string) (*Reconciliation, error) {
	const op = "payment.reconcile"

	if orderID == "" {
		return nil, domain.ErrMissingOrderID
	}
	if trackingID == "" {
		return nil, domain.ErrMissingTrackingID
	}

	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.IsPaid() {
		return &Reconciliation{Order: order}, nil
	}

	v, err := s.Verify(ctx, trackingID)
	if err != nil {
		telemetry.CapturePaymentError(ctx, err, op, orderID, trackingID)
		return nil, err
	}
	result := &Reconciliation{Order: order, Verification: v}

	if v.MerchantReference != "" && v.MerchantReference != orderID {
		s.logger.Warn("tracking ID belongs to another order",
			"order_id", orderID,
			"tracking_id", trackingID,
			"merchant_reference", v.MerchantReference,
		)
		return nil, domain.ErrReferenceMismatch
	}

	if !v.Outcome.Confirmed() {
		return result, nil
	}

	changed, err := s.store.MarkPaid(ctx, domain.PaymentConfirmation{
		OrderID:       orderID,
		TrackingID:    trackingID,
		PaymentMethod: domain.PaymentMethodPesapal,
		PaidAt:        s.now().UTC(),
	})
	if err != nil {
		s.logger.Error("failed to mark order paid", "order_id", orderID, "tracking_id", trackingID, "error", err)
		telemetry.CapturePaymentError(ctx, err, op, orderID, trackingID)
		return nil, err
	}
	result.Transitioned = changed

	paid, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	result.Order = paid

	if changed {
		telemetry.Business.RecordPaymentConfirmed()
		s.logger.Info("order paid", "order_id", orderID, "tracking_id", trackingID)
		s.announcing.Add(1)
		go func() {
			defer s.announcing.Done()
			s.announce(context.WithoutCancel(ctx), paid)
		}()
	}
	return result, nil
}

func (s *paymentService) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.announcing.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// announce publishes the paid event and sends the receipt. Both are best
// effort; the order is already paid.
func (s *paymentService) announce(ctx context.Context, order *domain.Order) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if s.publisher != nil {
		if err := s.publisher.PublishOrderPaid(ctx, order); err != nil {
			s.logger.Error("failed to publish order paid event", "order_id", order.ID, "error", err)
		}
	}
	if s.receipts != nil && order.Email != "" {
		err := s.receipts.SendPaymentReceipt(ctx, order)
		telemetry.Business.RecordEmail(err)
		if err != nil {
			s.logger.Error("failed to send payment receipt", "order_id", order.ID, "error", err)
		}
	}
}
