package firestore

import (
	"testing"
	"time"

	gcfirestore "cloud.google.com/go/firestore"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/suya/internal/domain"
)

func TestNumber(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
		ok   bool
	}{
		{"integer", int64(400), "400", true},
		{"double", 99.5, "99.5", true},
		{"string", "12.30", "12.3", true},
		{"bad string", "abc", "0", false},
		{"missing", nil, "0", false},
		{"bool", true, "0", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := number(tt.in)
			assert.Equal(t, tt.ok, ok)
			if ok {
				assert.True(t, got.Equal(decimal.RequireFromString(tt.want)), "got %s", got)
			}
		})
	}
}

func TestDecodeItem_StorefrontCartShape(t *testing.T) {
	item := decodeItem(map[string]any{
		"id":         "suya-1718000000000",
		"name":       "Beef Suya",
		"price":      int64(400),
		"finalPrice": int64(450),
		"qty":        int64(2),
		"extras": []any{
			map[string]any{"id": "e1", "name": "Extra yaji", "price": int64(50)},
		},
		"spiceLevel": "Hot",
		"note":       "no onions",
	})

	assert.Equal(t, "Beef Suya", item.Name)
	assert.Equal(t, 2, item.Qty())
	assert.True(t, item.UnitPrice().Equal(decimal.NewFromInt(450)))
	assert.True(t, item.Total().Equal(decimal.NewFromInt(900)))
	assert.Equal(t, []string{"Extra yaji", "Hot"}, item.Options)
}

func TestDecodeItem_Minimal(t *testing.T) {
	item := decodeItem(map[string]any{"name": "Chapati", "price": 50.0})

	assert.Equal(t, 1, item.Qty())
	assert.False(t, item.FinalPrice.Valid)
	assert.True(t, item.Total().Equal(decimal.NewFromInt(50)))
}

func TestEncodeOrder(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	doc := encodeOrder(&domain.Order{
		ID:           "o1",
		CustomerName: "Jane",
		Phone:        "0712345678",
		Items: []domain.LineItem{
			{Name: "Beef Suya", Quantity: 2, Price: decimal.NewFromInt(400), Options: []string{"Hot"}},
		},
		TotalAmount: decimal.NewFromInt(800),
		Status:      domain.OrderStatusPending,
		CreatedAt:   created,
		UpdatedAt:   created,
	})

	assert.Equal(t, "Jane", doc[fieldCustomerName])
	assert.Equal(t, 800.0, doc[fieldTotalAmount])
	assert.Equal(t, "pending", doc[fieldStatus])
	assert.NotContains(t, doc, fieldEmail)
	assert.NotContains(t, doc, fieldDeliveryFee)

	items, ok := doc[fieldItems].([]map[string]any)
	require.True(t, ok)
	require.Len(t, items, 1)
	assert.Equal(t, int64(2), items[0]["qty"])
	assert.Equal(t, 400.0, items[0]["price"])
	assert.Equal(t, []string{"Hot"}, items[0]["selectedOptions"])
	assert.NotContains(t, items[0], "finalPrice")
}

func TestMutableFields(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 5, 0, 0, time.UTC)

	t.Run("paid order", func(t *testing.T) {
		paidAt := now
		updates := mutableFields(&domain.Order{
			Status:            domain.OrderStatusPaid,
			PesapalTrackingID: "trk1",
			PaymentMethod:     domain.PaymentMethodPesapal,
			PaidAt:            &paidAt,
			PaymentAttempt:    &domain.PaymentAttempt{Token: "t", StartedAt: now, TrackingID: "trk1"},
		}, now)

		byPath := map[string]any{}
		for _, u := range updates {
			byPath[u.Path] = u.Value
		}
		assert.Equal(t, "paid", byPath[fieldStatus])
		assert.Equal(t, "trk1", byPath[fieldTrackingID])
		assert.Equal(t, "Pesapal", byPath[fieldPaymentMethod])
		assert.Equal(t, now, byPath[fieldPaidAt])
		attempt, ok := byPath[fieldPaymentAttempt].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "t", attempt["token"])
	})

	t.Run("released attempt is deleted", func(t *testing.T) {
		updates := mutableFields(&domain.Order{Status: domain.OrderStatusPending}, now)

		var found bool
		for _, u := range updates {
			if u.Path == fieldPaymentAttempt {
				found = true
				assert.Equal(t, gcfirestore.Delete, u.Value)
			}
			assert.NotEqual(t, fieldPaidAt, u.Path)
		}
		assert.True(t, found)
	})
}
