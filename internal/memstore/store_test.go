package memstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dukerupert/suya/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seed(t *testing.T, s *Store, id string) *domain.Order {
	t.Helper()
	o, err := s.CreateOrder(context.Background(), &domain.Order{
		ID:           id,
		CustomerName: "Jane",
		Email:        "a@b.com",
		Phone:        "0712345678",
		Items: []domain.LineItem{
			{Name: "Beef Suya", Quantity: 2, Price: decimal.NewFromInt(450), Options: []string{"extra yaji"}},
		},
		TotalAmount: decimal.NewFromInt(900),
	})
	require.NoError(t, err)
	return o
}

func TestStore_CreateAndGet(t *testing.T) {
	s := New()
	ctx := context.Background()

	created := seed(t, s, "abc123")
	assert.Equal(t, domain.OrderStatusPending, created.Status)
	assert.False(t, created.CreatedAt.IsZero())

	got, err := s.GetOrder(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, "Jane", got.CustomerName)

	// Callers get copies.
	got.Items[0].Options[0] = "changed"
	again, _ := s.GetOrder(ctx, "abc123")
	assert.Equal(t, "extra yaji", again.Items[0].Options[0])

	_, err = s.GetOrder(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)

	_, err = s.CreateOrder(ctx, &domain.Order{ID: "abc123"})
	assert.True(t, domain.IsCode(err, domain.ECONFLICT))

	generated, err := s.CreateOrder(ctx, &domain.Order{})
	require.NoError(t, err)
	assert.NotEmpty(t, generated.ID)
}

func TestStore_PaymentAttemptLock(t *testing.T) {
	s := New()
	ctx := context.Background()
	seed(t, s, "abc123")
	now := time.Now()

	require.NoError(t, s.BeginPaymentAttempt(ctx, "abc123", domain.PaymentAttempt{Token: "a", StartedAt: now}, time.Minute))
	err := s.BeginPaymentAttempt(ctx, "abc123", domain.PaymentAttempt{Token: "b", StartedAt: now}, time.Minute)
	assert.ErrorIs(t, err, domain.ErrPaymentInProgress)

	require.NoError(t, s.UpdatePaymentAttempt(ctx, "abc123", domain.PaymentAttempt{Token: "a", TrackingID: "trk1", RedirectURL: "https://pay.example/x"}))
	o, _ := s.GetOrder(ctx, "abc123")
	assert.Equal(t, "trk1", o.PaymentAttempt.TrackingID)

	require.NoError(t, s.ReleasePaymentAttempt(ctx, "abc123", "a"))
	o, _ = s.GetOrder(ctx, "abc123")
	assert.Nil(t, o.PaymentAttempt)

	assert.ErrorIs(t, s.BeginPaymentAttempt(ctx, "missing", domain.PaymentAttempt{Token: "a"}, time.Minute), domain.ErrOrderNotFound)
}

func TestStore_ConcurrentBeginAllowsOneWinner(t *testing.T) {
	s := New()
	ctx := context.Background()
	seed(t, s, "abc123")
	now := time.Now()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := s.BeginPaymentAttempt(ctx, "abc123", domain.PaymentAttempt{Token: string(rune('a' + i)), StartedAt: now}, time.Minute)
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestStore_MarkPaidIsIdempotent(t *testing.T) {
	s := New()
	ctx := context.Background()
	seed(t, s, "abc123")
	paidAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	changed, err := s.MarkPaid(ctx, domain.PaymentConfirmation{OrderID: "abc123", TrackingID: "trk1", PaymentMethod: domain.PaymentMethodPesapal, PaidAt: paidAt})
	require.NoError(t, err)
	assert.True(t, changed)
	first, _ := s.GetOrder(ctx, "abc123")

	changed, err = s.MarkPaid(ctx, domain.PaymentConfirmation{OrderID: "abc123", TrackingID: "trk1", PaymentMethod: domain.PaymentMethodPesapal, PaidAt: paidAt.Add(time.Minute)})
	require.NoError(t, err)
	assert.False(t, changed)
	second, _ := s.GetOrder(ctx, "abc123")

	assert.Equal(t, first, second)
	assert.Equal(t, domain.OrderStatusPaid, second.Status)
	assert.Equal(t, "trk1", second.PesapalTrackingID)
	assert.Equal(t, domain.PaymentMethodPesapal, second.PaymentMethod)

	_, err = s.MarkPaid(ctx, domain.PaymentConfirmation{OrderID: "missing"})
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestStore_ListAwaitingPayment(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now()

	for i, id := range []string{"old", "older", "fresh", "no-tracking"} {
		seed(t, s, id)
		started := now.Add(-time.Duration(i+1) * 10 * time.Minute)
		if id == "fresh" {
			started = now
		}
		require.NoError(t, s.BeginPaymentAttempt(ctx, id, domain.PaymentAttempt{Token: id, StartedAt: started}, time.Minute))
		if id != "no-tracking" {
			require.NoError(t, s.UpdatePaymentAttempt(ctx, id, domain.PaymentAttempt{Token: id, TrackingID: "trk-" + id}))
		}
	}

	window := domain.AwaitingPaymentWindow{StartedBefore: now.Add(-5 * time.Minute), Limit: 10}
	orders, err := s.ListAwaitingPayment(ctx, window)
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, "older", orders[0].ID)
	assert.Equal(t, "old", orders[1].ID)

	window.Limit = 1
	orders, err = s.ListAwaitingPayment(ctx, window)
	require.NoError(t, err)
	assert.Len(t, orders, 1)

	window = domain.AwaitingPaymentWindow{StartedAfter: now.Add(-15 * time.Minute), StartedBefore: now.Add(-5 * time.Minute)}
	orders, err = s.ListAwaitingPayment(ctx, window)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "old", orders[0].ID)
}

func TestStore_ListAwaitingPaymentRotatesChecked(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now()

	for i, id := range []string{"a", "b", "c"} {
		seed(t, s, id)
		started := now.Add(-time.Duration(3-i) * time.Hour)
		require.NoError(t, s.BeginPaymentAttempt(ctx, id, domain.PaymentAttempt{Token: id, StartedAt: started}, time.Minute))
		require.NoError(t, s.UpdatePaymentAttempt(ctx, id, domain.PaymentAttempt{Token: id, TrackingID: "trk-" + id}))
	}

	window := domain.AwaitingPaymentWindow{StartedBefore: now, Limit: 2}
	orders, err := s.ListAwaitingPayment(ctx, window)
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, []string{"a", "b"}, []string{orders[0].ID, orders[1].ID})

	require.NoError(t, s.NoteAttemptChecked(ctx, "a", "a", now))
	require.NoError(t, s.NoteAttemptChecked(ctx, "b", "b", now))
	require.NoError(t, s.NoteAttemptChecked(ctx, "c", "stale-token", now))

	orders, err = s.ListAwaitingPayment(ctx, window)
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, "c", orders[0].ID, "never-checked attempts go first")
	assert.True(t, orders[0].PaymentAttempt.CheckedAt.IsZero())
	assert.Equal(t, "a", orders[1].ID)

	assert.ErrorIs(t, s.NoteAttemptChecked(ctx, "missing", "x", now), domain.ErrOrderNotFound)
}

func TestStore_Watch(t *testing.T) {
	s := New()
	seed(t, s, "abc123")
	ctx, cancel := context.WithCancel(context.Background())

	updates, err := s.Watch(ctx, "abc123")
	require.NoError(t, err)

	first := <-updates
	assert.Equal(t, domain.OrderStatusPending, first.Status)

	_, err = s.MarkPaid(context.Background(), domain.PaymentConfirmation{OrderID: "abc123", TrackingID: "trk1", PaymentMethod: domain.PaymentMethodPesapal, PaidAt: time.Now()})
	require.NoError(t, err)

	select {
	case o := <-updates:
		assert.Equal(t, domain.OrderStatusPaid, o.Status)
	case <-time.After(time.Second):
		t.Fatal("no update after MarkPaid")
	}

	cancel()
	select {
	case _, open := <-updates:
		assert.False(t, open, "channel should close when ctx ends")
	case <-time.After(time.Second):
		t.Fatal("watch channel not closed after cancel")
	}

	_, err = s.Watch(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
}
