package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/dukerupert/suya/internal/domain"
	"github.com/dukerupert/suya/internal/handler"
	"github.com/dukerupert/suya/internal/middleware"
	"github.com/dukerupert/suya/internal/pesapal"
	"github.com/dukerupert/suya/internal/service"
)

// Messages shown to customers when the gateway fails. The gateway body
// goes in "details" for the operator.
const (
	msgInitFailed        = "Payment initialization failed"
	msgVerifyFailed      = "Payment verification failed"
	msgGatewayDown       = "Payment gateway is unavailable. Please try again shortly."
	msgPaymentNotDone    = "Payment was not completed. Please contact support."
	msgPaymentConfirmed  = "Payment confirmed. Your order is being prepared."
	detailsCheckLogs     = "Check server logs"
	statusAlreadyPaid    = "COMPLETED"
	returnStatusSuccess  = "success"
	returnStatusFailed   = "failed"
	queryTrackingID      = "trackingId"
	queryOrderID         = "orderId"
	missingTrackingIDMsg = "Missing ID"
)

// PaymentHandler serves checkout initiation, verification and the
// order-status page return.
type PaymentHandler struct {
	checkout service.CheckoutService
	payments service.PaymentService
	store    domain.OrderStore
	validate *validator.Validate
	logger   *slog.Logger
}

// NewPaymentHandler creates a new payment handler
func NewPaymentHandler(
	checkout service.CheckoutService,
	payments service.PaymentService,
	store domain.OrderStore,
	logger *slog.Logger,
) *PaymentHandler {
	if logger == nil {
		logger = slog.Default()
	}

	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	return &PaymentHandler{
		checkout: checkout,
		payments: payments,
		store:    store,
		validate: v,
		logger:   logger,
	}
}

// payRequest is the body the storefront posts to start a payment.
type payRequest struct {
	Amount  decimal.Decimal `json:"amount"`
	Email   string          `json:"email" validate:"required,email"`
	Phone   string          `json:"phone" validate:"required,max=32"`
	Name    string          `json:"name" validate:"required,max=200"`
	OrderID string          `json:"orderId" validate:"required,max=128"`
}

type payResponse struct {
	RedirectURL string `json:"redirect_url"`
}

type payErrorResponse struct {
	Error   string `json:"error"`
	Details any    `json:"details"`
}

// Pay handles POST /api/pay
//
// Body: {amount, email, phone, name, orderId}
// Success: 200 {redirect_url}
// Failure: {error, details} where details carries the gateway response
// body when there is one.
func (h *PaymentHandler) Pay(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		handler.MethodNotAllowedResponse(w, r, http.MethodPost)
		return
	}

	req, err := h.decodePayRequest(r)
	if err != nil {
		h.writePayError(w, r, err)
		return
	}

	result, err := h.checkout.Initiate(r.Context(), service.CheckoutRequest{
		OrderID: strings.TrimSpace(req.OrderID),
		Name:    strings.TrimSpace(req.Name),
		Email:   strings.TrimSpace(req.Email),
		Phone:   strings.TrimSpace(req.Phone),
		Amount:  req.Amount,
	})
	if err != nil {
		h.writePayError(w, r, err)
		return
	}

	middleware.GetLogger(r.Context()).Info("checkout initiated",
		"order_id", req.OrderID,
		"tracking_id", result.TrackingID,
		"client_ip", middleware.GetClientIPFromContext(r.Context()),
	)
	handler.JSON(w, http.StatusOK, payResponse{RedirectURL: result.RedirectURL})
}

func (h *PaymentHandler) decodePayRequest(r *http.Request) (*payRequest, error) {
	const op = "pay.decode"

	var req payRequest
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return nil, domain.WrapError(err, domain.ETOOLARGE, op, "Request body too large")
		case errors.Is(err, io.EOF):
			return nil, domain.Errorf(domain.EINVALID, op, "Request body is required")
		default:
			return nil, domain.WrapError(err, domain.EINVALID, op, "Request body must be valid JSON")
		}
	}

	var verr error
	if err := h.validate.Struct(req); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return nil, domain.WrapError(err, domain.EINVALID, op, "Invalid request")
		}
		for _, fe := range fieldErrs {
			verr = domain.AddFieldError(verr, fe.Field(), fieldMessage(fe))
		}
	}
	if !req.Amount.IsPositive() {
		verr = domain.AddFieldError(verr, "amount", "must be greater than zero")
	}
	if verr != nil {
		if ve, ok := verr.(*domain.ValidationError); ok {
			ve.Op = op
		}
		return nil, verr
	}
	return &req, nil
}

func (h *PaymentHandler) writePayError(w http.ResponseWriter, r *http.Request, err error) {
	status := errorStatus(err)
	logRequestError(r, err, status)

	body := payErrorResponse{Error: errorMessage(err, msgInitFailed)}
	switch {
	case domain.IsValidationError(err):
		body.Error = "Validation failed"
		body.Details = domain.GetValidationFields(err)
	case pesapal.Details(err) != "":
		body.Details = gatewayDetails(pesapal.Details(err))
	case status >= http.StatusInternalServerError:
		body.Details = detailsCheckLogs
	default:
		body.Details = domain.ErrorCode(err)
	}
	handler.JSON(w, status, body)
}

// gatewayDetails passes a JSON gateway body through as JSON and anything
// else as a string.
func gatewayDetails(raw string) any {
	if json.Valid([]byte(raw)) {
		return json.RawMessage(raw)
	}
	return raw
}

type verifyResponse struct {
	Status string `json:"status"`
}

type verifyErrorResponse struct {
	Error string `json:"error"`
}

// Verify handles GET /api/verify?trackingId=
//
// With orderId also present the order is reconciled and marked paid when
// the gateway confirms it. Without it the lookup is read-only.
func (h *PaymentHandler) Verify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		handler.MethodNotAllowedResponse(w, r, http.MethodGet)
		return
	}

	q := r.URL.Query()
	trackingID := strings.TrimSpace(q.Get(queryTrackingID))
	if trackingID == "" {
		http.Error(w, missingTrackingIDMsg, http.StatusBadRequest)
		return
	}
	orderID := strings.TrimSpace(q.Get(queryOrderID))

	if orderID == "" {
		v, err := h.payments.Verify(r.Context(), trackingID)
		if err != nil {
			h.writeVerifyError(w, r, err)
			return
		}
		handler.JSON(w, http.StatusOK, verifyResponse{Status: v.Status})
		return
	}

	rec, err := h.payments.Reconcile(r.Context(), orderID, trackingID)
	if err != nil {
		h.writeVerifyError(w, r, err)
		return
	}
	handler.JSON(w, http.StatusOK, verifyResponse{Status: reconciledStatus(rec)})
}

func (h *PaymentHandler) writeVerifyError(w http.ResponseWriter, r *http.Request, err error) {
	status := errorStatus(err)
	logRequestError(r, err, status)
	handler.JSON(w, status, verifyErrorResponse{Error: errorMessage(err, msgVerifyFailed)})
}

// orderReturnResponse is what the status page renders after the gateway
// sends the customer back.
type orderReturnResponse struct {
	OrderID       string `json:"orderId"`
	TrackingID    string `json:"trackingId"`
	Status        string `json:"status"`
	PaymentStatus string `json:"paymentStatus,omitempty"`
	Message       string `json:"message"`
	Error         string `json:"error,omitempty"`
}

// OrderReturn handles GET /order/{orderId}?OrderTrackingId=&OrderMerchantReference=
func (h *PaymentHandler) OrderReturn(w http.ResponseWriter, r *http.Request) {
	ret, err := service.ParseOrderReturn(r.URL)
	if err != nil {
		handler.ErrorResponse(w, jsonRequest(r), err)
		return
	}

	rec, err := h.payments.Reconcile(r.Context(), ret.OrderID, ret.TrackingID)
	if err != nil {
		if !pesapal.IsGatewayError(err) {
			handler.ErrorResponse(w, jsonRequest(r), err)
			return
		}
		status := errorStatus(err)
		logRequestError(r, err, status)
		handler.JSON(w, status, orderReturnResponse{
			OrderID:    ret.OrderID,
			TrackingID: ret.TrackingID,
			Status:     returnStatusFailed,
			Message:    msgPaymentNotDone,
			Error:      errorMessage(err, msgVerifyFailed),
		})
		return
	}

	resp := orderReturnResponse{
		OrderID:       ret.OrderID,
		TrackingID:    ret.TrackingID,
		PaymentStatus: reconciledStatus(rec),
	}
	if rec.Confirmed() {
		resp.Status = returnStatusSuccess
		resp.Message = msgPaymentConfirmed
	} else {
		resp.Status = returnStatusFailed
		resp.Message = msgPaymentNotDone
	}
	handler.JSON(w, http.StatusOK, resp)
}

// reconciledStatus is the gateway status for rec, or COMPLETED when the
// order was already paid and the gateway was not asked.
func reconciledStatus(rec *service.Reconciliation) string {
	if rec.Verification != nil {
		return rec.Verification.Status
	}
	if rec.Confirmed() {
		return statusAlreadyPaid
	}
	return ""
}

// errorStatus maps err to an HTTP status. Gateway failures are 500 unless
// the gateway was unreachable.
func errorStatus(err error) int {
	if pesapal.IsUnavailable(err) {
		return http.StatusServiceUnavailable
	}
	if domain.IsValidationError(err) {
		return http.StatusBadRequest
	}
	return handler.ErrorCodeToHTTPStatus(domain.ErrorCode(err))
}

// errorMessage is safe to show a customer. Gateway errors get fallback
// rather than their raw text.
func errorMessage(err error, fallback string) string {
	switch {
	case pesapal.IsUnavailable(err):
		return msgGatewayDown
	case pesapal.IsGatewayError(err):
		return fallback
	}
	return domain.ErrorMessage(err)
}

func logRequestError(r *http.Request, err error, status int) {
	logger := middleware.GetLogger(r.Context())
	attrs := []any{"error", err.Error(), "status", status}
	if ip := middleware.GetClientIPFromContext(r.Context()); ip != "" {
		attrs = append(attrs, "client_ip", ip)
	}
	if details := pesapal.Details(err); details != "" {
		attrs = append(attrs, "gateway_response", details)
	}
	if status >= http.StatusInternalServerError {
		logger.Error("payment request failed", attrs...)
		return
	}
	logger.Info("payment request failed", attrs...)
}

// jsonRequest makes handler.ErrorResponse answer in JSON for routes
// whose clients do not send an Accept header.
func jsonRequest(r *http.Request) *http.Request {
	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		return r
	}
	r2 := r.Clone(r.Context())
	r2.Header.Set("Accept", "application/json")
	return r2
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	default:
		return "is invalid"
	}
}
