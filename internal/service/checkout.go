package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dukerupert/suya/internal/domain"
	"github.com/dukerupert/suya/internal/pesapal"
	"github.com/dukerupert/suya/internal/telemetry"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DefaultAttemptTTL is how long a payment attempt holds an order.
const DefaultAttemptTTL = 5 * time.Minute

// CheckoutService starts gateway payments for pending orders.
type CheckoutService interface {
	// Initiate authenticates with the gateway, registers the IPN URL and
	// submits the order. It returns the URL the customer must visit.
	Initiate(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error)
}

// CheckoutRequest is the customer's request to pay for an order.
type CheckoutRequest struct {
	OrderID string
	Name    string
	Email   string
	Phone   string

	// Amount is what the client believes the order costs. It is compared
	// against the stored order and never sent to the gateway.
	Amount decimal.Decimal
}

// CheckoutResult is the outcome of a successful initiation.
type CheckoutResult struct {
	RedirectURL string
	TrackingID  string
	Amount      decimal.Decimal

	// Reused is true when an in-flight attempt's redirect was returned
	// instead of submitting a new gateway order.
	Reused bool
}

// CheckoutConfig holds the settings the checkout flow needs.
type CheckoutConfig struct {
	Callbacks  CallbackURLs
	Pricing    Pricing
	AttemptTTL time.Duration
}

type checkoutService struct {
	store   domain.OrderStore
	gateway pesapal.Gateway
	cfg     CheckoutConfig
	logger  *slog.Logger
	now     func() time.Time
}

// NewCheckoutService creates a checkout service.
func NewCheckoutService(store domain.OrderStore, gateway pesapal.Gateway, cfg CheckoutConfig, logger *slog.Logger) CheckoutService {
	if cfg.AttemptTTL <= 0 {
		cfg.AttemptTTL = DefaultAttemptTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &checkoutService{
		store:   store,
		gateway: gateway,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
}

func (s *checkoutService) Initiate(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	const op = "checkout.initiate"

	telemetry.Business.RecordCheckoutStarted()

	result, err := s.initiate(ctx, req)
	if err != nil {
		reason := failureReason(err)
		telemetry.Business.RecordCheckoutFailed(reason)
		if reason == "auth" || reason == "submission" || reason == "unavailable" || reason == "internal" {
			telemetry.CapturePaymentError(ctx, err, op, req.OrderID, "")
		}
		return nil, err
	}
	telemetry.Business.RecordCheckoutInitiated()
	return result, nil
}

func (s *checkoutService) initiate(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	if req.OrderID == "" {
		return nil, domain.ErrMissingOrderID
	}
	if req.Name == "" || req.Email == "" || req.Phone == "" {
		return nil, ErrMissingContact
	}

	order, err := s.store.GetOrder(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	if order.Status != domain.OrderStatusPending {
		return nil, domain.ErrOrderNotPending
	}

	amount, err := s.cfg.Pricing.ChargeableAmount(order)
	if err != nil {
		return nil, err
	}
	if err := s.cfg.Pricing.CrossCheck(req.Amount, amount); err != nil {
		s.logger.Warn("checkout amount mismatch",
			"order_id", order.ID,
			"client_amount", req.Amount.String(),
			"order_amount", amount.String(),
		)
		return nil, err
	}

	now := s.now()
	if a := order.PaymentAttempt; a.InFlight(now, s.cfg.AttemptTTL) {
		if a.RedirectURL == "" {
			return nil, domain.ErrPaymentInProgress
		}
		s.logger.Info("returning in-flight payment attempt", "order_id", order.ID, "tracking_id", a.TrackingID)
		return &CheckoutResult{RedirectURL: a.RedirectURL, TrackingID: a.TrackingID, Amount: amount, Reused: true}, nil
	}

	attempt := domain.PaymentAttempt{Token: uuid.NewString(), StartedAt: now}
	if err := s.store.BeginPaymentAttempt(ctx, order.ID, attempt, s.cfg.AttemptTTL); err != nil {
		return nil, err
	}

	resp, err := s.submit(ctx, order.ID, amount, req)
	if err != nil {
		// The customer may retry straight away.
		if relErr := s.store.ReleasePaymentAttempt(context.WithoutCancel(ctx), order.ID, attempt.Token); relErr != nil {
			s.logger.Error("failed to release payment attempt", "order_id", order.ID, "error", relErr)
		}
		return nil, err
	}

	attempt.TrackingID = resp.OrderTrackingID
	attempt.RedirectURL = resp.RedirectURL
	if err := s.store.UpdatePaymentAttempt(context.WithoutCancel(ctx), order.ID, attempt); err != nil {
		// The gateway order exists regardless. Without the tracking ID on
		// record only the status page or an IPN can confirm it.
		s.logger.Error("failed to record payment attempt",
			"order_id", order.ID,
			"tracking_id", resp.OrderTrackingID,
			"error", err,
		)
	}

	s.logger.Info("payment initiated",
		"order_id", order.ID,
		"tracking_id", resp.OrderTrackingID,
		"amount", amount.String(),
	)
	return &CheckoutResult{RedirectURL: resp.RedirectURL, TrackingID: resp.OrderTrackingID, Amount: amount}, nil
}

// submit runs authenticate, register IPN and submit order in sequence,
// stopping at the first failure.
func (s *checkoutService) submit(ctx context.Context, orderID string, amount decimal.Decimal, req CheckoutRequest) (*pesapal.SubmitOrderResponse, error) {
	crumb := map[string]any{"order_id": orderID}

	telemetry.AddBreadcrumb(ctx, "pesapal", "authenticate", crumb)
	token, err := s.gateway.Authenticate(ctx)
	if err != nil {
		return nil, err
	}

	telemetry.AddBreadcrumb(ctx, "pesapal", "register ipn", crumb)
	ipnID, err := s.gateway.RegisterIPN(ctx, token.Value, s.cfg.Callbacks.IPNURL())
	if err != nil {
		return nil, err
	}

	telemetry.AddBreadcrumb(ctx, "pesapal", "submit order", map[string]any{"order_id": orderID, "amount": amount.String()})
	return s.gateway.SubmitOrder(ctx, token.Value, pesapal.SubmitOrderRequest{
		ID:             orderID,
		Currency:       pesapal.CurrencyKES,
		Amount:         amount,
		Description:    pesapal.OrderDescription,
		CallbackURL:    s.cfg.Callbacks.OrderCallbackURL(orderID),
		NotificationID: ipnID,
		BillingAddress: pesapal.BillingAddress{
			EmailAddress: req.Email,
			PhoneNumber:  req.Phone,
			FirstName:    req.Name,
			CountryCode:  pesapal.CountryCodeKenya,
		},
	})
}

// failureReason labels err for the checkout_failed_total metric.
func failureReason(err error) string {
	var (
		authErr   *pesapal.AuthError
		submitErr *pesapal.SubmissionError
	)
	switch {
	case pesapal.IsUnavailable(err):
		return "unavailable"
	case errors.As(err, &authErr):
		return "auth"
	case errors.As(err, &submitErr):
		return "submission"
	}
	switch domain.ErrorCode(err) {
	case domain.ECONFLICT:
		return "conflict"
	case domain.EINVALID:
		return "invalid"
	case domain.ENOTFOUND:
		return "not_found"
	}
	if domain.IsValidationError(err) {
		return "invalid"
	}
	return "internal"
}
