//go:build integration
// +build integration

package firestore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/suya/internal/domain"
)

// openTestStore needs FIRESTORE_EMULATOR_HOST, e.g. from
// `gcloud emulators firestore start`.
func openTestStore(t *testing.T) *OrderStore {
	t.Helper()

	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("Skipping integration test: FIRESTORE_EMULATOR_HOST not set")
	}

	ctx := context.Background()
	client, err := NewClient(ctx, Config{ProjectID: "suya-test"})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return NewOrderStore(client, "orders-"+uuid.NewString()[:8], nil)
}

func TestOrderStore_PaymentFlow(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	o, err := store.CreateOrder(ctx, &domain.Order{
		CustomerName: "Jane",
		Email:        "jane@example.com",
		Items:        []domain.LineItem{{Name: "Beef Suya", Quantity: 2, Price: decimal.NewFromInt(400)}},
		TotalAmount:  decimal.NewFromInt(800),
	})
	require.NoError(t, err)
	require.NotEmpty(t, o.ID)

	got, err := store.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.True(t, got.Subtotal().Equal(decimal.NewFromInt(800)))

	now := time.Now().UTC().Truncate(time.Millisecond)
	attempt := domain.PaymentAttempt{Token: "a", StartedAt: now}
	require.NoError(t, store.BeginPaymentAttempt(ctx, o.ID, attempt, 5*time.Minute))
	err = store.BeginPaymentAttempt(ctx, o.ID, domain.PaymentAttempt{Token: "b", StartedAt: now}, 5*time.Minute)
	assert.ErrorIs(t, err, domain.ErrPaymentInProgress)

	attempt.TrackingID = "trk-1"
	require.NoError(t, store.UpdatePaymentAttempt(ctx, o.ID, attempt))

	window := domain.AwaitingPaymentWindow{StartedAfter: now.Add(-time.Minute), StartedBefore: now.Add(time.Minute), Limit: 10}
	awaiting, err := store.ListAwaitingPayment(ctx, window)
	require.NoError(t, err)
	require.Len(t, awaiting, 1)
	assert.Equal(t, o.ID, awaiting[0].ID)

	require.NoError(t, store.NoteAttemptChecked(ctx, o.ID, "a", now))
	got, err = store.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.True(t, got.PaymentAttempt.CheckedAt.Equal(now))

	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	ch, err := store.Watch(watchCtx, o.ID)
	require.NoError(t, err)
	first := <-ch
	assert.Equal(t, domain.OrderStatusPending, first.Status)

	confirmation := domain.PaymentConfirmation{OrderID: o.ID, TrackingID: "trk-1", PaymentMethod: domain.PaymentMethodPesapal, PaidAt: now}
	changed, err := store.MarkPaid(ctx, confirmation)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = store.MarkPaid(ctx, confirmation)
	require.NoError(t, err)
	assert.False(t, changed)

	select {
	case next := <-ch:
		assert.Equal(t, domain.OrderStatusPaid, next.Status)
		assert.Equal(t, "trk-1", next.PesapalTrackingID)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not report the paid order")
	}

	_, err = store.GetOrder(ctx, "missing-"+uuid.NewString())
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
}
