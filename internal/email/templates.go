package email

import (
	"strings"
	"time"

	"github.com/dukerupert/suya/internal/domain"
	"github.com/shopspring/decimal"
)

// PaymentReceiptEmail is rendered into payment_receipt.html.
type PaymentReceiptEmail struct {
	RestaurantName string
	OrderID        string
	CustomerName   string
	Email          string
	PaidAt         time.Time
	TrackingID     string
	Items          []ReceiptItem
	Subtotal       string
	DeliveryFee    string
	Total          string
	Address        string
}

// ReceiptItem is one line on the receipt.
type ReceiptItem struct {
	Name     string
	Options  string
	Quantity int
	Total    string
}

func (e PaymentReceiptEmail) Subject() string {
	return "Payment received for order " + e.OrderID
}

func (e PaymentReceiptEmail) TemplateName() string {
	return "payment_receipt.html"
}

// NewPaymentReceiptEmail builds receipt data from a paid order.
func NewPaymentReceiptEmail(restaurant string, o *domain.Order) PaymentReceiptEmail {
	r := PaymentReceiptEmail{
		RestaurantName: restaurant,
		OrderID:        o.ID,
		CustomerName:   o.CustomerName,
		Email:          o.Email,
		TrackingID:     o.PesapalTrackingID,
		Subtotal:       FormatKES(o.Subtotal()),
		Address:        o.Address,
	}
	if o.PaidAt != nil {
		r.PaidAt = *o.PaidAt
	}

	for _, item := range o.Items {
		r.Items = append(r.Items, ReceiptItem{
			Name:     item.Name,
			Options:  strings.Join(item.Options, ", "),
			Quantity: item.Qty(),
			Total:    FormatKES(item.Total()),
		})
	}

	total := o.TotalAmount
	if o.DeliveryFee.Valid && o.DeliveryFee.Decimal.IsPositive() {
		r.DeliveryFee = FormatKES(o.DeliveryFee.Decimal)
	} else {
		r.DeliveryFee = "We will call"
	}
	if len(o.Items) > 0 {
		total = o.Subtotal()
		if o.DeliveryFee.Valid {
			total = total.Add(o.DeliveryFee.Decimal)
		}
	}
	r.Total = FormatKES(total)
	return r
}

// FormatKES renders an amount as "KES 1,234.50".
func FormatKES(d decimal.Decimal) string {
	s := d.Abs().StringFixed(2)
	whole, frac, _ := strings.Cut(s, ".")

	var b strings.Builder
	for i, c := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(c)
	}

	sign := ""
	if d.IsNegative() {
		sign = "-"
	}
	return "KES " + sign + b.String() + "." + frac
}
