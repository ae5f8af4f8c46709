package email

import (
	"github.com/dukerupert/suya/internal/domain"
)

var (
	// ErrInvalidFromAddress is returned when the sender address is rejected.
	ErrInvalidFromAddress = domain.Errorf(domain.EINVALID, "email.send", "Invalid from email address")

	// ErrInvalidToAddress is returned when a recipient address is rejected.
	ErrInvalidToAddress = domain.Errorf(domain.EINVALID, "email.send", "Invalid to email address")

	// ErrNoRecipient is returned for orders without an email address.
	ErrNoRecipient = domain.Errorf(domain.EINVALID, "email.receipt", "Order has no customer email")
)
