package webhook

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dukerupert/suya/internal/domain"
	"github.com/dukerupert/suya/internal/handler"
	"github.com/dukerupert/suya/internal/middleware"
	"github.com/dukerupert/suya/internal/service"
	"github.com/dukerupert/suya/internal/telemetry"
)

// Notification types Pesapal sends.
const (
	NotificationIPNChange         = "IPNCHANGE"
	NotificationCallbackURL       = "CALLBACKURL"
	NotificationRecurring         = "RECURRING"
	notificationTypeUnknown       = "unknown"
	ackStatusProcessed            = 200
	ackStatusFailed               = 500
	maxNotificationBody     int64 = 4 << 10
)

// PesapalHandler receives instant payment notifications.
type PesapalHandler struct {
	payments service.PaymentService
	logger   *slog.Logger
}

// NewPesapalHandler creates a new IPN handler
func NewPesapalHandler(payments service.PaymentService, logger *slog.Logger) *PesapalHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PesapalHandler{
		payments: payments,
		logger:   logger,
	}
}

// Notification identifies the transaction an IPN is about.
type Notification struct {
	NotificationType  string `json:"OrderNotificationType"`
	TrackingID        string `json:"OrderTrackingId"`
	MerchantReference string `json:"OrderMerchantReference"`
}

// Acknowledgement is the body Pesapal expects back. Status 500 asks it to
// send the notification again later.
type Acknowledgement struct {
	NotificationType  string `json:"orderNotificationType"`
	TrackingID        string `json:"orderTrackingId"`
	MerchantReference string `json:"orderMerchantReference"`
	Status            int    `json:"status"`
}

// HandleIPN handles GET or POST /api/pesapal/ipn
//
// The IPN is registered as GET, so the identifiers normally arrive in the
// query string. A JSON body is accepted for POST registrations.
//
// The merchant reference is the order ID. The order is reconciled against
// the gateway, never trusted from the notification itself.
func (h *PesapalHandler) HandleIPN(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	logger := middleware.GetLogger(r.Context())

	n, err := parseNotification(r)
	if err != nil {
		handler.ValidationErrorResponse(w, r, err)
		return
	}

	notificationType := n.NotificationType
	if notificationType == "" {
		notificationType = notificationTypeUnknown
	}
	telemetry.Business.RecordIPN(notificationType)

	ack := Acknowledgement{
		NotificationType:  n.NotificationType,
		TrackingID:        n.TrackingID,
		MerchantReference: n.MerchantReference,
		Status:            ackStatusProcessed,
	}

	clientIP := middleware.GetClientIPFromContext(r.Context())

	rec, err := h.payments.Reconcile(r.Context(), n.MerchantReference, n.TrackingID)
	if err != nil {
		attrs := []any{
			"order_id", n.MerchantReference,
			"tracking_id", n.TrackingID,
			"notification_type", n.NotificationType,
			"client_ip", clientIP,
			"error", err,
		}
		// A redelivery cannot fix an unknown order or a reference that
		// belongs to another transaction.
		if permanentIPNFailure(err) {
			logger.Warn("ipn ignored", attrs...)
			handler.JSON(w, http.StatusOK, ack)
			return
		}
		ack.Status = ackStatusFailed
		logger.Error("ipn reconciliation failed", attrs...)
		handler.JSON(w, http.StatusOK, ack)
		return
	}

	logger.Info("ipn processed",
		"order_id", n.MerchantReference,
		"tracking_id", n.TrackingID,
		"notification_type", n.NotificationType,
		"paid", rec.Confirmed(),
		"transitioned", rec.Transitioned,
		"client_ip", clientIP,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	handler.JSON(w, http.StatusOK, ack)
}

func permanentIPNFailure(err error) bool {
	return domain.ErrorCode(err) == domain.ENOTFOUND || errors.Is(err, domain.ErrReferenceMismatch)
}

func parseNotification(r *http.Request) (Notification, error) {
	const op = "ipn.parse"

	q := r.URL.Query()
	n := Notification{
		NotificationType:  q.Get("OrderNotificationType"),
		TrackingID:        q.Get("OrderTrackingId"),
		MerchantReference: q.Get("OrderMerchantReference"),
	}

	if r.Method == http.MethodPost && n.TrackingID == "" {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxNotificationBody))
		if err != nil {
			return n, domain.WrapError(err, domain.EINVALID, op, "Error reading request body")
		}
		if len(body) > 0 {
			if err := json.Unmarshal(body, &n); err != nil {
				return n, domain.WrapError(err, domain.EINVALID, op, "Invalid JSON")
			}
		}
	}

	n.NotificationType = strings.ToUpper(strings.TrimSpace(n.NotificationType))
	n.TrackingID = strings.TrimSpace(n.TrackingID)
	n.MerchantReference = strings.TrimSpace(n.MerchantReference)

	var verr error
	if n.TrackingID == "" {
		verr = domain.AddFieldError(verr, "OrderTrackingId", "is required")
	}
	if n.MerchantReference == "" {
		verr = domain.AddFieldError(verr, "OrderMerchantReference", "is required")
	}
	if verr != nil {
		var ve *domain.ValidationError
		if errors.As(verr, &ve) {
			ve.Op = op
		}
		return n, verr
	}
	return n, nil
}
