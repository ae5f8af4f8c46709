// Package memstore is an in-process order store. It backs local
// development and tests and honours the same contract as the Postgres and
// Firestore stores.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dukerupert/suya/internal/domain"
	"github.com/google/uuid"
)

// Store keeps orders in memory.
type Store struct {
	mu       sync.Mutex
	orders   map[string]*domain.Order
	watchers map[string]map[*watcher]struct{}
	now      func() time.Time
}

var _ domain.OrderStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		orders:   make(map[string]*domain.Order),
		watchers: make(map[string]map[*watcher]struct{}),
		now:      time.Now,
	}
}

// SetClock replaces the clock used for timestamps.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Store) CreateOrder(ctx context.Context, order *domain.Order) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o := clone(order)
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if _, exists := s.orders[o.ID]; exists {
		return nil, domain.Conflict("memstore.create_order", "order already exists: "+o.ID)
	}
	if o.Status == "" {
		o.Status = domain.OrderStatusPending
	}
	now := s.now()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	o.UpdatedAt = now

	s.orders[o.ID] = o
	s.notify(o)
	return clone(o), nil
}

func (s *Store) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[orderID]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return clone(o), nil
}

func (s *Store) BeginPaymentAttempt(ctx context.Context, orderID string, attempt domain.PaymentAttempt, ttl time.Duration) error {
	return s.update(orderID, func(o *domain.Order) (bool, error) {
		return true, o.StartAttempt(attempt, ttl)
	})
}

func (s *Store) UpdatePaymentAttempt(ctx context.Context, orderID string, attempt domain.PaymentAttempt) error {
	return s.update(orderID, func(o *domain.Order) (bool, error) {
		return true, o.UpdateAttempt(attempt)
	})
}

func (s *Store) ReleasePaymentAttempt(ctx context.Context, orderID string, token string) error {
	return s.update(orderID, func(o *domain.Order) (bool, error) {
		return o.ReleaseAttempt(token), nil
	})
}

func (s *Store) MarkPaid(ctx context.Context, c domain.PaymentConfirmation) (bool, error) {
	var changed bool
	err := s.update(c.OrderID, func(o *domain.Order) (bool, error) {
		var err error
		changed, err = o.ConfirmPayment(c)
		return changed, err
	})
	return changed, err
}

func (s *Store) NoteAttemptChecked(ctx context.Context, orderID, token string, at time.Time) error {
	return s.update(orderID, func(o *domain.Order) (bool, error) {
		return o.NoteAttemptChecked(token, at), nil
	})
}

func (s *Store) ListAwaitingPayment(ctx context.Context, window domain.AwaitingPaymentWindow) ([]*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*domain.Order
	for _, o := range s.orders {
		if o.AwaitingPayment(window) {
			out = append(out, clone(o))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return domain.LessRecentlyChecked(out[i], out[j])
	})
	if window.Limit > 0 && len(out) > window.Limit {
		out = out[:window.Limit]
	}
	return out, nil
}

// Watch emits the current order, then every later version, until ctx ends.
// A slow reader only ever sees the newest version.
func (s *Store) Watch(ctx context.Context, orderID string) (<-chan *domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[orderID]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}

	w := &watcher{ch: make(chan *domain.Order, 1)}
	w.ch <- clone(o)
	if s.watchers[orderID] == nil {
		s.watchers[orderID] = make(map[*watcher]struct{})
	}
	s.watchers[orderID][w] = struct{}{}

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.watchers[orderID], w)
		if len(s.watchers[orderID]) == 0 {
			delete(s.watchers, orderID)
		}
		close(w.ch)
	}()

	return w.ch, nil
}

// update applies fn to the stored order under the lock. fn reports whether
// it changed anything; watchers are told only about real changes.
func (s *Store) update(orderID string, fn func(o *domain.Order) (bool, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.orders[orderID]
	if !ok {
		return domain.ErrOrderNotFound
	}

	o := clone(stored)
	changed, err := fn(o)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	o.UpdatedAt = s.now()
	s.orders[orderID] = o
	s.notify(o)
	return nil
}

// notify must be called with s.mu held.
func (s *Store) notify(o *domain.Order) {
	for w := range s.watchers[o.ID] {
		w.offer(clone(o))
	}
}

type watcher struct {
	ch chan *domain.Order
}

func (w *watcher) offer(o *domain.Order) {
	select {
	case w.ch <- o:
		return
	default:
	}
	// Replace the unread version.
	select {
	case <-w.ch:
	default:
	}
	select {
	case w.ch <- o:
	default:
	}
}

func clone(o *domain.Order) *domain.Order {
	c := *o
	if o.Items != nil {
		c.Items = make([]domain.LineItem, len(o.Items))
		for i, item := range o.Items {
			c.Items[i] = item
			if item.Options != nil {
				c.Items[i].Options = append([]string(nil), item.Options...)
			}
		}
	}
	if o.PaidAt != nil {
		t := *o.PaidAt
		c.PaidAt = &t
	}
	if o.PaymentAttempt != nil {
		a := *o.PaymentAttempt
		c.PaymentAttempt = &a
	}
	return &c
}
