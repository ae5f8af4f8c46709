// Package events announces order status changes to other services, such
// as the kitchen display, over NATS.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukerupert/suya/internal/domain"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// EventOrderPaid is the type of the event published when payment is confirmed.
const EventOrderPaid = "order.paid"

// OrderEvent is the JSON payload published for an order status change.
type OrderEvent struct {
	ID         string             `json:"id"`
	Type       string             `json:"type"`
	OrderID    string             `json:"orderId"`
	Status     domain.OrderStatus `json:"status"`
	TrackingID string             `json:"pesapalTrackingId,omitempty"`
	Amount     string             `json:"totalAmount"`
	OccurredAt time.Time          `json:"occurredAt"`
}

// NewOrderPaidEvent builds the event for a freshly paid order.
func NewOrderPaidEvent(o *domain.Order) OrderEvent {
	occurred := o.UpdatedAt
	if o.PaidAt != nil {
		occurred = *o.PaidAt
	}
	return OrderEvent{
		ID:         uuid.NewString(),
		Type:       EventOrderPaid,
		OrderID:    o.ID,
		Status:     o.Status,
		TrackingID: o.PesapalTrackingID,
		Amount:     o.TotalAmount.String(),
		OccurredAt: occurred,
	}
}

// Subject returns "<prefix>.<orderID>.status".
func Subject(prefix, orderID string) string {
	return fmt.Sprintf("%s.%s.status", prefix, orderID)
}

// Conn is the part of *nats.Conn the publisher uses.
type Conn interface {
	PublishMsg(m *nats.Msg) error
	FlushWithContext(ctx context.Context) error
}

// NATSPublisher publishes order events to NATS core subjects.
type NATSPublisher struct {
	conn   Conn
	prefix string
	logger *slog.Logger
}

// NewNATSPublisher wraps an established connection.
func NewNATSPublisher(conn Conn, subjectPrefix string, logger *slog.Logger) *NATSPublisher {
	if subjectPrefix == "" {
		subjectPrefix = "orders"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSPublisher{conn: conn, prefix: subjectPrefix, logger: logger}
}

// Connect dials NATS with reconnect handling suitable for a long-lived service.
func Connect(url string, logger *slog.Logger) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("suya-payments"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return nc, nil
}

// PublishOrderPaid publishes an order.paid event and waits for the server
// to acknowledge the flush.
func (p *NATSPublisher) PublishOrderPaid(ctx context.Context, order *domain.Order) error {
	evt := NewOrderPaidEvent(order)
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode order event: %w", err)
	}

	msg := nats.NewMsg(Subject(p.prefix, order.ID))
	msg.Data = data
	msg.Header.Set("Content-Type", "application/json")
	msg.Header.Set(nats.MsgIdHdr, evt.ID)
	msg.Header.Set("Event-Type", evt.Type)

	if err := p.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish %s: %w", msg.Subject, err)
	}
	if err := p.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("flush %s: %w", msg.Subject, err)
	}

	p.logger.Debug("order event published", "subject", msg.Subject, "event_id", evt.ID)
	return nil
}

// NopPublisher discards events. Used when NATS_URL is not configured.
type NopPublisher struct{}

func (NopPublisher) PublishOrderPaid(context.Context, *domain.Order) error { return nil }
