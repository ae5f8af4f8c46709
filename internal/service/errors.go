package service

import (
	"github.com/dukerupert/suya/internal/domain"
)

// Checkout errors
var (
	ErrMissingContact = domain.Errorf(domain.EINVALID, "", "Name, email and phone are required")
)

// Order return errors
var (
	ErrNotOrderReturnPath = domain.Errorf(domain.EINVALID, "", "Not an order return URL")
)
