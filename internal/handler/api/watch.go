package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/dukerupert/suya/internal/domain"
	"github.com/dukerupert/suya/internal/handler"
	"github.com/dukerupert/suya/internal/middleware"
)

// HeartbeatInterval keeps idle event streams open through proxies.
var HeartbeatInterval = 15 * time.Second

// orderStatusEvent is one Server-Sent Event on the watch stream.
type orderStatusEvent struct {
	OrderID       string     `json:"orderId"`
	Status        string     `json:"status"`
	TrackingID    string     `json:"pesapalTrackingId,omitempty"`
	PaymentMethod string     `json:"paymentMethod,omitempty"`
	PaidAt        *time.Time `json:"paidAt,omitempty"`
	TotalAmount   string     `json:"totalAmount"`
}

func newOrderStatusEvent(o *domain.Order) orderStatusEvent {
	return orderStatusEvent{
		OrderID:       o.ID,
		Status:        string(o.Status),
		TrackingID:    o.PesapalTrackingID,
		PaymentMethod: o.PaymentMethod,
		PaidAt:        o.PaidAt,
		TotalAmount:   o.TotalAmount.StringFixed(2),
	}
}

// WatchOrder handles GET /api/orders/{orderId}/watch
//
// Streams the order's status as Server-Sent Events: the current state
// first, then every change until the client disconnects.
func (h *PaymentHandler) WatchOrder(w http.ResponseWriter, r *http.Request) {
	orderID := r.PathValue("orderId")
	if orderID == "" {
		handler.ErrorResponse(w, jsonRequest(r), domain.ErrMissingOrderID)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		handler.ErrorResponse(w, jsonRequest(r), domain.Errorf(domain.ENOTIMPL, "order.watch", "Streaming is not supported"))
		return
	}

	ctx := r.Context()
	updates, err := h.store.Watch(ctx, orderID)
	if err != nil {
		handler.ErrorResponse(w, jsonRequest(r), err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	logger := middleware.GetLogger(ctx)
	logger.Debug("order watch started", "order_id", orderID)

	heartbeat := time.NewTicker(HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Debug("order watch ended", "order_id", orderID)
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case o, ok := <-updates:
			if !ok {
				return
			}
			if err := writeEvent(w, "status", newOrderStatusEvent(o)); err != nil {
				logger.Debug("order watch write failed", "order_id", orderID, "error", err)
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}
