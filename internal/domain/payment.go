package domain

import "strings"

// PaymentOutcome is the normalized result of a gateway status lookup.
type PaymentOutcome string

const (
	PaymentConfirmed    PaymentOutcome = "confirmed"
	PaymentNotConfirmed PaymentOutcome = "not_confirmed"
)

// confirmedStatuses is the allow-list of gateway status descriptions that
// mean the customer has paid. Anything else is not confirmed.
var confirmedStatuses = map[string]struct{}{
	"completed": {},
	"success":   {},
}

// NormalizePaymentStatus maps a gateway payment_status_description onto
// exactly one outcome. Unknown, empty and failed descriptions are all
// PaymentNotConfirmed.
func NormalizePaymentStatus(description string) PaymentOutcome {
	if _, ok := confirmedStatuses[strings.ToLower(strings.TrimSpace(description))]; ok {
		return PaymentConfirmed
	}
	return PaymentNotConfirmed
}

// Confirmed is shorthand for o == PaymentConfirmed.
func (o PaymentOutcome) Confirmed() bool {
	return o == PaymentConfirmed
}
