package pesapal

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Operation names, used in errors, logs and metrics.
const (
	OpAuthenticate         = "authenticate"
	OpRegisterIPN          = "register_ipn"
	OpSubmitOrder          = "submit_order"
	OpGetTransactionStatus = "get_transaction_status"
)

const (
	// CurrencyKES is the only currency the restaurant charges in.
	CurrencyKES = "KES"

	// CountryCodeKenya goes on every billing address.
	CountryCodeKenya = "KE"

	// OrderDescription is sent with every order submission.
	OrderDescription = "Food Order"

	// NotificationTypeGET asks Pesapal to deliver IPNs as GET requests.
	NotificationTypeGET = "GET"
)

// Token is a bearer credential returned by Authenticate.
type Token struct {
	Value     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// apiError is the error object Pesapal embeds in otherwise successful responses.
type apiError struct {
	ErrorType string `json:"error_type"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

func (e *apiError) present() bool {
	return e != nil && (e.Code != "" || e.Message != "" || e.ErrorType != "")
}

type tokenRequest struct {
	ConsumerKey    string `json:"consumer_key"`
	ConsumerSecret string `json:"consumer_secret"`
}

type tokenResponse struct {
	Token      string    `json:"token"`
	ExpiryDate string    `json:"expiryDate"`
	Error      *apiError `json:"error"`
	Status     string    `json:"status"`
	Message    string    `json:"message"`
}

type registerIPNRequest struct {
	URL              string `json:"url"`
	NotificationType string `json:"ipn_notification_type"`
}

type registerIPNResponse struct {
	IPNID  string    `json:"ipn_id"`
	URL    string    `json:"url"`
	Error  *apiError `json:"error"`
	Status string    `json:"status"`
}

// BillingAddress is the customer block of an order submission.
type BillingAddress struct {
	EmailAddress string `json:"email_address"`
	PhoneNumber  string `json:"phone_number"`
	FirstName    string `json:"first_name"`
	CountryCode  string `json:"country_code"`
}

// SubmitOrderRequest is the body of SubmitOrderRequest.
type SubmitOrderRequest struct {
	ID             string          `json:"id"`
	Currency       string          `json:"currency"`
	Amount         decimal.Decimal `json:"amount"`
	Description    string          `json:"description"`
	CallbackURL    string          `json:"callback_url"`
	NotificationID string          `json:"notification_id"`
	BillingAddress BillingAddress  `json:"billing_address"`
}

// MarshalJSON writes the amount as a JSON number.
func (r SubmitOrderRequest) MarshalJSON() ([]byte, error) {
	type wire SubmitOrderRequest
	return json.Marshal(struct {
		wire
		Amount json.Number `json:"amount"`
	}{
		wire:   wire(r),
		Amount: json.Number(r.Amount.String()),
	})
}

// SubmitOrderResponse is the gateway's answer to an order submission.
type SubmitOrderResponse struct {
	OrderTrackingID   string    `json:"order_tracking_id"`
	MerchantReference string    `json:"merchant_reference"`
	RedirectURL       string    `json:"redirect_url"`
	Error             *apiError `json:"error"`
	Status            string    `json:"status"`
}

// TransactionStatus is the result of GetTransactionStatus.
type TransactionStatus struct {
	PaymentMethod            string          `json:"payment_method"`
	Amount                   decimal.Decimal `json:"amount"`
	CreatedDate              string          `json:"created_date"`
	ConfirmationCode         string          `json:"confirmation_code"`
	PaymentStatusDescription string          `json:"payment_status_description"`
	Description              string          `json:"description"`
	Message                  string          `json:"message"`
	PaymentAccount           string          `json:"payment_account"`
	CallbackURL              string          `json:"call_back_url"`
	StatusCode               int             `json:"status_code"`
	MerchantReference        string          `json:"merchant_reference"`
	Currency                 string          `json:"currency"`
	Error                    *apiError       `json:"error"`
	Status                   string          `json:"status"`
}

// StatusDescription returns the gateway status upper-cased, e.g. "COMPLETED".
func (s *TransactionStatus) StatusDescription() string {
	return strings.ToUpper(strings.TrimSpace(s.PaymentStatusDescription))
}
