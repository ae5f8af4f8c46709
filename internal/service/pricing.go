package service

import (
	"github.com/dukerupert/suya/internal/domain"
	"github.com/shopspring/decimal"
)

// Pricing re-derives what an order costs from what the store holds.
type Pricing struct {
	// DefaultDeliveryFee applies when the order carries no fee of its own.
	DefaultDeliveryFee decimal.Decimal

	// Tolerance is the largest accepted gap between the amount a client
	// asks to pay and the derived amount.
	Tolerance decimal.Decimal
}

// ChargeableAmount is the line item subtotal plus delivery fee. Orders
// without line items fall back to their stored total.
func (p Pricing) ChargeableAmount(o *domain.Order) (decimal.Decimal, error) {
	var amount decimal.Decimal
	if len(o.Items) == 0 {
		amount = o.TotalAmount
	} else {
		fee := p.DefaultDeliveryFee
		if o.DeliveryFee.Valid {
			fee = o.DeliveryFee.Decimal
		}
		amount = o.Subtotal().Add(fee)
	}

	amount = amount.Round(2)
	if !amount.IsPositive() {
		return decimal.Zero, domain.ErrNonPositiveAmount
	}
	return amount, nil
}

// CrossCheck compares the client amount to the derived one.
func (p Pricing) CrossCheck(client, derived decimal.Decimal) error {
	if client.Sub(derived).Abs().GreaterThan(p.Tolerance) {
		return domain.ErrAmountMismatch
	}
	return nil
}
