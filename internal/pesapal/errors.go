package pesapal

import (
	"errors"
	"fmt"
)

// ErrGatewayUnavailable matches every UnavailableError. The call may
// succeed if repeated later.
var ErrGatewayUnavailable = errors.New("pesapal: gateway unavailable")

// AuthError is returned when the gateway rejects the credentials or the
// token response has no token.
type AuthError struct {
	StatusCode int    // HTTP status returned by Pesapal
	Body       string // Response body, verbatim
	Err        error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("pesapal: authentication failed: %v", e.Err)
	}
	return fmt.Sprintf("pesapal: authentication failed (status %d). Response: %s", e.StatusCode, e.Body)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// SubmissionError is returned when IPN registration or order submission
// reached the gateway but did not produce the expected identifier.
type SubmissionError struct {
	Op         string // "register_ipn" or "submit_order"
	StatusCode int
	Body       string
	Err        error
}

func (e *SubmissionError) Error() string {
	what := "order submission failed"
	if e.Op == OpRegisterIPN {
		what = "IPN registration failed"
	}
	if e.Err != nil {
		return fmt.Sprintf("pesapal: %s: %v", what, e.Err)
	}
	return fmt.Sprintf("pesapal: %s (status %d). Response: %s", what, e.StatusCode, e.Body)
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}

// VerificationError is returned when a transaction status lookup fails or
// the response carries no status description.
type VerificationError struct {
	TrackingID string
	StatusCode int
	Body       string
	Err        error
}

func (e *VerificationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("pesapal: status lookup for %s failed: %v", e.TrackingID, e.Err)
	}
	return fmt.Sprintf("pesapal: status lookup for %s failed (status %d). Response: %s", e.TrackingID, e.StatusCode, e.Body)
}

func (e *VerificationError) Unwrap() error {
	return e.Err
}

// UnavailableError covers timeouts, transport failures and 5xx responses.
type UnavailableError struct {
	Op         string
	StatusCode int // zero when no response was received
	Body       string
	Err        error
}

func (e *UnavailableError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("pesapal: %s: gateway returned %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("pesapal: %s: %v", e.Op, e.Err)
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

func (e *UnavailableError) Is(target error) bool {
	return target == ErrGatewayUnavailable
}

// IsUnavailable reports whether err is a retryable gateway failure.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrGatewayUnavailable)
}

// Details returns the gateway response body carried by err, or "" when
// err holds none.
func Details(err error) string {
	var (
		authErr   *AuthError
		submitErr *SubmissionError
		verifyErr *VerificationError
		unavail   *UnavailableError
	)
	switch {
	case errors.As(err, &authErr):
		return authErr.Body
	case errors.As(err, &submitErr):
		return submitErr.Body
	case errors.As(err, &verifyErr):
		return verifyErr.Body
	case errors.As(err, &unavail):
		return unavail.Body
	}
	return ""
}

// IsGatewayError reports whether err came from the gateway client, as
// opposed to the order store or request validation.
func IsGatewayError(err error) bool {
	var (
		authErr   *AuthError
		submitErr *SubmissionError
		verifyErr *VerificationError
		unavail   *UnavailableError
	)
	return errors.As(err, &authErr) ||
		errors.As(err, &submitErr) ||
		errors.As(err, &verifyErr) ||
		errors.As(err, &unavail)
}
