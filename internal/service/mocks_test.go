package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/dukerupert/suya/internal/domain"
	"github.com/dukerupert/suya/internal/memstore"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Test doubles
// ============================================================================

// countingStore wraps the in-memory store and records writes.
type countingStore struct {
	*memstore.Store

	mu            sync.Mutex
	markPaidCalls []domain.PaymentConfirmation
	releaseCalls  int

	markPaidErr error
}

func newCountingStore() *countingStore {
	return &countingStore{Store: memstore.New()}
}

func (s *countingStore) MarkPaid(ctx context.Context, c domain.PaymentConfirmation) (bool, error) {
	s.mu.Lock()
	s.markPaidCalls = append(s.markPaidCalls, c)
	err := s.markPaidErr
	s.mu.Unlock()

	if err != nil {
		return false, err
	}
	return s.Store.MarkPaid(ctx, c)
}

func (s *countingStore) ReleasePaymentAttempt(ctx context.Context, orderID, token string) error {
	s.mu.Lock()
	s.releaseCalls++
	s.mu.Unlock()
	return s.Store.ReleasePaymentAttempt(ctx, orderID, token)
}

func (s *countingStore) MarkPaidCalls() []domain.PaymentConfirmation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.PaymentConfirmation(nil), s.markPaidCalls...)
}

// mockPublisher records published orders. When release is set, publishing
// blocks until it is closed.
type mockPublisher struct {
	mu      sync.Mutex
	paid    []string
	errOut  error
	release chan struct{}
}

func (m *mockPublisher) PublishOrderPaid(ctx context.Context, order *domain.Order) error {
	if m.release != nil {
		<-m.release
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paid = append(m.paid, order.ID)
	return m.errOut
}

func (m *mockPublisher) Published() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.paid...)
}

// mockReceipts records receipt emails.
type mockReceipts struct {
	mu   sync.Mutex
	sent []string
}

func (m *mockReceipts) SendPaymentReceipt(ctx context.Context, order *domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, order.Email)
	return nil
}

func (m *mockReceipts) Sent() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.sent...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// seedOrder stores a pending order whose items cost 1000 in total.
func seedOrder(t *testing.T, store domain.OrderStore, id string) *domain.Order {
	t.Helper()
	o, err := store.CreateOrder(context.Background(), &domain.Order{
		ID:           id,
		CustomerName: "Jane",
		Email:        "a@b.com",
		Phone:        "0712345678",
		Items: []domain.LineItem{
			{Name: "Beef Suya", Quantity: 2, Price: decimal.NewFromInt(400)},
			{Name: "Zobo", Quantity: 1, Price: decimal.NewFromInt(200)},
		},
		TotalAmount: decimal.NewFromInt(1000),
	})
	require.NoError(t, err)
	return o
}
