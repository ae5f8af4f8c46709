// Package firestore stores orders in the Firestore "orders" collection
// using the document shape the storefront writes.
package firestore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	gcfirestore "cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/dukerupert/suya/internal/domain"
)

// DefaultCollection is the collection the storefront writes orders to.
const DefaultCollection = "orders"

// Document field names.
const (
	fieldCustomerName   = "customerName"
	fieldEmail          = "email"
	fieldPhone          = "phone"
	fieldAddress        = "address"
	fieldNotes          = "notes"
	fieldItems          = "items"
	fieldDeliveryFee    = "deliveryFee"
	fieldTotalAmount    = "totalAmount"
	fieldStatus         = "status"
	fieldTrackingID     = "pesapalTrackingId"
	fieldPaymentMethod  = "paymentMethod"
	fieldPaidAt         = "paidAt"
	fieldPaymentAttempt = "paymentAttempt"
	fieldCreatedAt      = "createdAt"
	fieldUpdatedAt      = "updatedAt"
)

// Config selects the project and collection.
type Config struct {
	ProjectID       string
	Collection      string
	CredentialsFile string
}

// OrderStore implements domain.OrderStore on Firestore.
type OrderStore struct {
	client     *gcfirestore.Client
	collection string
	logger     *slog.Logger
	now        func() time.Time
}

var _ domain.OrderStore = (*OrderStore)(nil)

// NewClient opens a Firestore client. Without a credentials file the
// default application credentials are used.
func NewClient(ctx context.Context, cfg Config) (*gcfirestore.Client, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("firestore project ID is required")
	}
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := gcfirestore.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("create firestore client: %w", err)
	}
	return client, nil
}

// NewOrderStore wraps client. An empty collection means "orders".
func NewOrderStore(client *gcfirestore.Client, collection string, logger *slog.Logger) *OrderStore {
	if collection == "" {
		collection = DefaultCollection
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OrderStore{client: client, collection: collection, logger: logger, now: time.Now}
}

func (s *OrderStore) doc(id string) *gcfirestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(id)
}

func (s *OrderStore) CreateOrder(ctx context.Context, order *domain.Order) (*domain.Order, error) {
	o := *order
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if o.Status == "" {
		o.Status = domain.OrderStatusPending
	}
	now := s.now().UTC()
	o.CreatedAt, o.UpdatedAt = now, now

	if _, err := s.doc(o.ID).Create(ctx, encodeOrder(&o)); err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return nil, domain.Conflict("order.create", fmt.Sprintf("order %s already exists", o.ID))
		}
		return nil, domain.Internal(err, "order.create", "failed to create order")
	}
	return &o, nil
}

func (s *OrderStore) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	if orderID == "" {
		return nil, domain.ErrMissingOrderID
	}
	snap, err := s.doc(orderID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, domain.ErrOrderNotFound
		}
		return nil, domain.Internal(err, "order.get", "failed to get order")
	}
	return decodeOrder(snap)
}

// ListAwaitingPayment needs a composite index on
// (status, paymentAttempt.startedAt). Firestore drops documents that lack
// an ordered field, so the batch is ranked by checkedAt after the query;
// the window keeps the scan bounded.
func (s *OrderStore) ListAwaitingPayment(ctx context.Context, window domain.AwaitingPaymentWindow) ([]*domain.Order, error) {
	limit := window.Limit
	if limit <= 0 {
		limit = 100
	}

	q := s.client.Collection(s.collection).
		Where(fieldStatus, "==", string(domain.OrderStatusPending)).
		Where(fieldPaymentAttempt+".startedAt", "<", window.StartedBefore)
	if !window.StartedAfter.IsZero() {
		q = q.Where(fieldPaymentAttempt+".startedAt", ">", window.StartedAfter)
	}
	q = q.OrderBy(fieldPaymentAttempt+".startedAt", gcfirestore.Asc)

	snaps, err := q.Documents(ctx).GetAll()
	if err != nil {
		return nil, domain.Internal(err, "order.list_awaiting_payment", "failed to list orders")
	}

	var orders []*domain.Order
	for _, snap := range snaps {
		o, err := decodeOrder(snap)
		if err != nil {
			s.logger.Warn("skipping unreadable order", "order_id", snap.Ref.ID, "error", err)
			continue
		}
		if o.AwaitingPayment(window) {
			orders = append(orders, o)
		}
	}
	sort.SliceStable(orders, func(i, j int) bool {
		return domain.LessRecentlyChecked(orders[i], orders[j])
	})
	if len(orders) > limit {
		orders = orders[:limit]
	}
	return orders, nil
}

func (s *OrderStore) NoteAttemptChecked(ctx context.Context, orderID, token string, at time.Time) error {
	_, err := s.update(ctx, "order.note_attempt_checked", orderID, func(o *domain.Order) (bool, error) {
		return o.NoteAttemptChecked(token, at), nil
	})
	return err
}

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

func (s *OrderStore) MarkPaid(ctx context.Context, c domain.PaymentConfirmation) (bool, error) {
	return s.update(ctx, "order.mark_paid", c.OrderID, func(o *domain.Order) (bool, error) {
		return o.ConfirmPayment(c)
	})
}

// update runs fn inside a transaction. Firestore retries the transaction
// when the document changes underneath it, so fn may run more than once.
func (s *OrderStore) update(ctx context.Context, op, orderID string, fn func(o *domain.Order) (bool, error)) (bool, error) {
	ref := s.doc(orderID)
	var changed bool

	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *gcfirestore.Transaction) error {
		changed = false

		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		o, err := decodeOrder(snap)
		if err != nil {
			return err
		}

		ok, err := fn(o)
		if err != nil || !ok {
			return err
		}
		changed = true
		return tx.Update(ref, mutableFields(o, s.now().UTC()))
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return false, domain.ErrOrderNotFound
		}
		var de *domain.Error
		if errors.As(err, &de) {
			return false, err
		}
		return false, domain.Internal(err, op, "failed to update order")
	}
	return changed, nil
}

// Watch follows the document with a snapshot listener.
func (s *OrderStore) Watch(ctx context.Context, orderID string) (<-chan *domain.Order, error) {
	// Surface a missing order before starting the listener.
	if _, err := s.GetOrder(ctx, orderID); err != nil {
		return nil, err
	}

	it := s.doc(orderID).Snapshots(ctx)
	ch := make(chan *domain.Order, 1)

	go func() {
		defer close(ch)
		defer it.Stop()

		for {
			snap, err := it.Next()
			if err != nil {
				if !errors.Is(err, iterator.Done) && ctx.Err() == nil && status.Code(err) != codes.Canceled {
					s.logger.Warn("order snapshot listener stopped", "order_id", orderID, "error", err)
				}
				return
			}
			if !snap.Exists() {
				continue
			}
			o, err := decodeOrder(snap)
			if err != nil {
				s.logger.Warn("unreadable order snapshot", "order_id", orderID, "error", err)
				continue
			}

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
// Encoding
// =============================================================================

func encodeOrder(o *domain.Order) map[string]any {
	items := make([]map[string]any, 0, len(o.Items))
	for _, item := range o.Items {
		m := map[string]any{
			"name":  item.Name,
			"price": item.Price.InexactFloat64(),
			"qty":   int64(item.Qty()),
		}
		if item.ID != "" {
			m["id"] = item.ID
		}
		if item.FinalPrice.Valid {
			m["finalPrice"] = item.FinalPrice.Decimal.InexactFloat64()
		}
		if len(item.Options) > 0 {
			m["selectedOptions"] = item.Options
		}
		items = append(items, m)
	}

	doc := map[string]any{
		fieldCustomerName: o.CustomerName,
		fieldPhone:        o.Phone,
		fieldAddress:      o.Address,
		fieldNotes:        o.Notes,
		fieldItems:        items,
		fieldTotalAmount:  o.TotalAmount.InexactFloat64(),
		fieldStatus:       string(o.Status),
		fieldCreatedAt:    o.CreatedAt,
		fieldUpdatedAt:    o.UpdatedAt,
	}
	if o.Email != "" {
		doc[fieldEmail] = o.Email
	}
	if o.DeliveryFee.Valid {
		doc[fieldDeliveryFee] = o.DeliveryFee.Decimal.InexactFloat64()
	}
	return doc
}

func mutableFields(o *domain.Order, now time.Time) []gcfirestore.Update {
	updates := []gcfirestore.Update{
		{Path: fieldStatus, Value: string(o.Status)},
		{Path: fieldUpdatedAt, Value: now},
	}
	if o.PesapalTrackingID != "" {
		updates = append(updates, gcfirestore.Update{Path: fieldTrackingID, Value: o.PesapalTrackingID})
	}
	if o.PaymentMethod != "" {
		updates = append(updates, gcfirestore.Update{Path: fieldPaymentMethod, Value: o.PaymentMethod})
	}
	if o.PaidAt != nil {
		updates = append(updates, gcfirestore.Update{Path: fieldPaidAt, Value: *o.PaidAt})
	}
	if a := o.PaymentAttempt; a != nil {
		attempt := map[string]any{
			"token":       a.Token,
			"startedAt":   a.StartedAt,
			"trackingId":  a.TrackingID,
			"redirectUrl": a.RedirectURL,
		}
		if !a.CheckedAt.IsZero() {
			attempt["checkedAt"] = a.CheckedAt
		}
		updates = append(updates, gcfirestore.Update{Path: fieldPaymentAttempt, Value: attempt})
	} else {
		updates = append(updates, gcfirestore.Update{Path: fieldPaymentAttempt, Value: gcfirestore.Delete})
	}
	return updates
}

// decodeOrder reads the document loosely: the storefront writes numbers as
// either integers or doubles and items carry extra cart fields.
func decodeOrder(snap *gcfirestore.DocumentSnapshot) (*domain.Order, error) {
	data := snap.Data()
	o := &domain.Order{
		ID:                snap.Ref.ID,
		CustomerName:      str(data[fieldCustomerName]),
		Email:             str(data[fieldEmail]),
		Phone:             str(data[fieldPhone]),
		Address:           str(data[fieldAddress]),
		Notes:             str(data[fieldNotes]),
		Status:            domain.OrderStatus(str(data[fieldStatus])),
		PesapalTrackingID: str(data[fieldTrackingID]),
		PaymentMethod:     str(data[fieldPaymentMethod]),
		CreatedAt:         timestamp(data[fieldCreatedAt]),
		UpdatedAt:         timestamp(data[fieldUpdatedAt]),
	}
	if o.Status == "" {
		o.Status = domain.OrderStatusPending
	}
	if o.UpdatedAt.IsZero() {
		o.UpdatedAt = snap.UpdateTime
	}

	total, ok := number(data[fieldTotalAmount])
	if !ok {
		return nil, fmt.Errorf("order %s: totalAmount is not a number", o.ID)
	}
	o.TotalAmount = total

	if fee, ok := number(data[fieldDeliveryFee]); ok {
		o.DeliveryFee = decimal.NewNullDecimal(fee)
	}

	if t := timestamp(data[fieldPaidAt]); !t.IsZero() {
		o.PaidAt = &t
	}

	if raw, ok := data[fieldItems].([]any); ok {
		for _, r := range raw {
			m, ok := r.(map[string]any)
			if !ok {
				continue
			}
			o.Items = append(o.Items, decodeItem(m))
		}
	}

	if m, ok := data[fieldPaymentAttempt].(map[string]any); ok && str(m["token"]) != "" {
		o.PaymentAttempt = &domain.PaymentAttempt{
			Token:       str(m["token"]),
			StartedAt:   timestamp(m["startedAt"]),
			TrackingID:  str(m["trackingId"]),
			RedirectURL: str(m["redirectUrl"]),
			CheckedAt:   timestamp(m["checkedAt"]),
		}
	}

	return o, nil
}

func decodeItem(m map[string]any) domain.LineItem {
	item := domain.LineItem{
		ID:   str(m["id"]),
		Name: str(m["name"]),
	}
	if price, ok := number(m["price"]); ok {
		item.Price = price
	}
	if fp, ok := number(m["finalPrice"]); ok {
		item.FinalPrice = decimal.NewNullDecimal(fp)
	}
	if qty, ok := number(m["qty"]); ok {
		item.Quantity = int(qty.IntPart())
	}

	if opts, ok := m["selectedOptions"].([]any); ok {
		for _, opt := range opts {
			if s := str(opt); s != "" {
				item.Options = append(item.Options, s)
			}
		}
	}
	// Cart items from the menu modal carry extras and a spice level.
	if extras, ok := m["extras"].([]any); ok {
		for _, e := range extras {
			if em, ok := e.(map[string]any); ok && str(em["name"]) != "" {
				item.Options = append(item.Options, str(em["name"]))
			}
		}
	}
	if spice := str(m["spiceLevel"]); spice != "" {
		item.Options = append(item.Options, spice)
	}
	return item
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func number(v any) (decimal.Decimal, bool) {
	switch n := v.(type) {
	case int64:
		return decimal.NewFromInt(n), true
	case float64:
		return decimal.NewFromFloat(n), true
	case string:
		d, err := decimal.NewFromString(n)
		return d, err == nil
	}
	return decimal.Zero, false
}

func timestamp(v any) time.Time {
	t, _ := v.(time.Time)
	return t
}
