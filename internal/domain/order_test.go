package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from, to OrderStatus
		allowed  bool
	}{
		{OrderStatusPending, OrderStatusPaid, true},
		{OrderStatusPending, OrderStatusCancelled, true},
		{OrderStatusPending, OrderStatusPreparing, false},
		{OrderStatusPaid, OrderStatusPreparing, true},
		{OrderStatusPaid, OrderStatusPending, false},
		{OrderStatusPreparing, OrderStatusReady, true},
		{OrderStatusReady, OrderStatusCompleted, true},
		{OrderStatusReady, OrderStatusCancelled, false},
		{OrderStatusCompleted, OrderStatusPending, false},
		{OrderStatusCancelled, OrderStatusPaid, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestOrderStatus_Valid(t *testing.T) {
	assert.True(t, OrderStatusReady.Valid())
	assert.False(t, OrderStatus("shipped").Valid())
}

func TestLineItem_Total(t *testing.T) {
	tests := []struct {
		name     string
		item     LineItem
		expected string
	}{
		{
			name:     "price times quantity",
			item:     LineItem{Name: "Beef Suya", Quantity: 2, Price: decimal.NewFromInt(450)},
			expected: "900",
		},
		{
			name: "final price wins over base price",
			item: LineItem{
				Name:       "Chicken Suya",
				Quantity:   3,
				Price:      decimal.NewFromInt(400),
				FinalPrice: decimal.NewNullDecimal(decimal.NewFromInt(500)),
			},
			expected: "1500",
		},
		{
			name: "zero final price falls back to base price",
			item: LineItem{
				Name:       "Kilishi",
				Quantity:   1,
				Price:      decimal.NewFromInt(300),
				FinalPrice: decimal.NewNullDecimal(decimal.Zero),
			},
			expected: "300",
		},
		{
			name:     "missing quantity counts as one",
			item:     LineItem{Name: "Chapati", Price: decimal.RequireFromString("50.5")},
			expected: "50.5",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.item.Total().String())
		})
	}
}

func TestOrder_Subtotal(t *testing.T) {
	o := &Order{Items: []LineItem{
		{Name: "Beef Suya", Quantity: 2, Price: decimal.NewFromInt(450)},
		{Name: "Soda", Price: decimal.NewFromInt(100)},
	}}
	assert.True(t, o.Subtotal().Equal(decimal.NewFromInt(1000)))
}

func TestOrder_StartAttempt(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ttl := 5 * time.Minute

	t.Run("takes lock on pending order", func(t *testing.T) {
		o := &Order{Status: OrderStatusPending}
		require.NoError(t, o.StartAttempt(PaymentAttempt{Token: "a", StartedAt: now}, ttl))
		assert.Equal(t, "a", o.PaymentAttempt.Token)
	})

	t.Run("refuses while another attempt is in flight", func(t *testing.T) {
		o := &Order{Status: OrderStatusPending, PaymentAttempt: &PaymentAttempt{Token: "a", StartedAt: now}}
		err := o.StartAttempt(PaymentAttempt{Token: "b", StartedAt: now.Add(time.Minute)}, ttl)
		assert.ErrorIs(t, err, ErrPaymentInProgress)
		assert.Equal(t, "a", o.PaymentAttempt.Token)
	})

	t.Run("takes over an expired attempt", func(t *testing.T) {
		o := &Order{Status: OrderStatusPending, PaymentAttempt: &PaymentAttempt{Token: "a", StartedAt: now}}
		require.NoError(t, o.StartAttempt(PaymentAttempt{Token: "b", StartedAt: now.Add(ttl)}, ttl))
		assert.Equal(t, "b", o.PaymentAttempt.Token)
	})

	t.Run("refuses paid order", func(t *testing.T) {
		o := &Order{Status: OrderStatusPaid}
		assert.ErrorIs(t, o.StartAttempt(PaymentAttempt{Token: "a", StartedAt: now}, ttl), ErrOrderNotPending)
	})
}

func TestOrder_UpdateAndReleaseAttempt(t *testing.T) {
	o := &Order{Status: OrderStatusPending, PaymentAttempt: &PaymentAttempt{Token: "a"}}

	assert.ErrorIs(t, o.UpdateAttempt(PaymentAttempt{Token: "b", TrackingID: "trk"}), ErrAttemptSuperseded)
	require.NoError(t, o.UpdateAttempt(PaymentAttempt{Token: "a", TrackingID: "trk", RedirectURL: "https://pay.example/x"}))
	assert.Equal(t, "trk", o.PaymentAttempt.TrackingID)

	assert.False(t, o.ReleaseAttempt("b"))
	assert.True(t, o.ReleaseAttempt("a"))
	assert.Nil(t, o.PaymentAttempt)
}

func TestOrder_ConfirmPayment(t *testing.T) {
	paidAt := time.Date(2026, 3, 1, 12, 5, 0, 0, time.UTC)
	c := PaymentConfirmation{OrderID: "abc123", TrackingID: "trk1", PaymentMethod: PaymentMethodPesapal, PaidAt: paidAt}

	t.Run("pending becomes paid once", func(t *testing.T) {
		o := &Order{ID: "abc123", Status: OrderStatusPending}

		changed, err := o.ConfirmPayment(c)
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Equal(t, OrderStatusPaid, o.Status)
		assert.Equal(t, "trk1", o.PesapalTrackingID)
		assert.Equal(t, PaymentMethodPesapal, o.PaymentMethod)
		require.NotNil(t, o.PaidAt)
		assert.Equal(t, paidAt, *o.PaidAt)

		before := *o
		changed, err = o.ConfirmPayment(PaymentConfirmation{OrderID: "abc123", TrackingID: "trk1", PaymentMethod: PaymentMethodPesapal, PaidAt: paidAt.Add(time.Hour)})
		require.NoError(t, err)
		assert.False(t, changed)
		assert.Equal(t, before, *o)
	})

	t.Run("kitchen states count as paid", func(t *testing.T) {
		o := &Order{Status: OrderStatusPreparing}
		changed, err := o.ConfirmPayment(c)
		require.NoError(t, err)
		assert.False(t, changed)
		assert.Equal(t, OrderStatusPreparing, o.Status)
	})

	t.Run("cancelled order is refused", func(t *testing.T) {
		o := &Order{Status: OrderStatusCancelled}
		_, err := o.ConfirmPayment(c)
		assert.ErrorIs(t, err, ErrOrderCancelled)
		assert.Equal(t, OrderStatusCancelled, o.Status)
	})
}

func TestOrder_AwaitingPayment(t *testing.T) {
	now := time.Now()
	o := &Order{Status: OrderStatusPending, PaymentAttempt: &PaymentAttempt{Token: "a", StartedAt: now.Add(-time.Hour), TrackingID: "trk"}}

	tests := []struct {
		name   string
		window AwaitingPaymentWindow
		want   bool
	}{
		{"open lower bound", AwaitingPaymentWindow{StartedBefore: now}, true},
		{"inside window", AwaitingPaymentWindow{StartedAfter: now.Add(-2 * time.Hour), StartedBefore: now}, true},
		{"too fresh", AwaitingPaymentWindow{StartedBefore: now.Add(-2 * time.Hour)}, false},
		{"abandoned", AwaitingPaymentWindow{StartedAfter: now.Add(-30 * time.Minute), StartedBefore: now}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, o.AwaitingPayment(tt.window))
		})
	}

	o.PaymentAttempt.TrackingID = ""
	assert.False(t, o.AwaitingPayment(AwaitingPaymentWindow{StartedBefore: now}))
}

func TestOrder_NoteAttemptChecked(t *testing.T) {
	now := time.Now()
	o := &Order{Status: OrderStatusPending, PaymentAttempt: &PaymentAttempt{Token: "a", StartedAt: now.Add(-time.Hour)}}

	assert.False(t, o.NoteAttemptChecked("b", now))
	assert.True(t, o.PaymentAttempt.CheckedAt.IsZero())

	assert.True(t, o.NoteAttemptChecked("a", now))
	assert.True(t, o.PaymentAttempt.CheckedAt.Equal(now))

	assert.False(t, (&Order{}).NoteAttemptChecked("a", now))
}

func TestLessRecentlyChecked(t *testing.T) {
	now := time.Now()
	order := func(started, checked time.Time) *Order {
		return &Order{PaymentAttempt: &PaymentAttempt{StartedAt: started, CheckedAt: checked}}
	}

	neverChecked := order(now.Add(-time.Minute), time.Time{})
	checkedLongAgo := order(now.Add(-3*time.Hour), now.Add(-time.Hour))
	checkedRecently := order(now.Add(-4*time.Hour), now)

	assert.True(t, LessRecentlyChecked(neverChecked, checkedLongAgo))
	assert.True(t, LessRecentlyChecked(checkedLongAgo, checkedRecently))
	assert.False(t, LessRecentlyChecked(checkedRecently, neverChecked))

	older := order(now.Add(-2*time.Hour), time.Time{})
	assert.True(t, LessRecentlyChecked(older, neverChecked), "ties fall back to the oldest attempt")
}
