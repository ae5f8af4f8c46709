package email

import "context"

// Email represents an email message to be sent.
type Email struct {
	To       []string          // Recipient email addresses
	From     string            // Sender, e.g. "Lagos Suya <orders@lagossuya.example>"
	Subject  string            // Email subject
	TextBody string            // Plain text body
	HTMLBody string            // HTML body (optional)
	Headers  map[string]string // Custom headers (optional)
}

// Sender delivers email messages.
type Sender interface {
	// Send sends an email message and returns a message ID when the
	// transport provides one.
	Send(ctx context.Context, email *Email) (string, error)
}
