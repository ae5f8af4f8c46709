package pesapal

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// MockGateway is a test double for Gateway.
// Without overrides every call succeeds with fixed values.
type MockGateway struct {
	// AuthenticateFunc allows customizing authentication behavior
	AuthenticateFunc func(ctx context.Context) (Token, error)

	// RegisterIPNFunc allows customizing IPN registration behavior
	RegisterIPNFunc func(ctx context.Context, token, ipnURL string) (string, error)

	// SubmitOrderFunc allows customizing order submission behavior
	SubmitOrderFunc func(ctx context.Context, token string, req SubmitOrderRequest) (*SubmitOrderResponse, error)

	// GetTransactionStatusFunc allows customizing status lookup behavior
	GetTransactionStatusFunc func(ctx context.Context, token, trackingID string) (*TransactionStatus, error)

	// SubmittedOrders records every order submission in call order
	SubmittedOrders []SubmitOrderRequest

	// RegisteredIPNs records every URL passed to RegisterIPN
	RegisteredIPNs []string

	// CallLog tracks method calls for test assertions
	CallLog []string

	mu sync.Mutex
}

var _ Gateway = (*MockGateway)(nil)

// NewMockGateway creates a mock gateway with default behavior.
func NewMockGateway() *MockGateway {
	return &MockGateway{CallLog: []string{}}
}

func (m *MockGateway) record(call string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallLog = append(m.CallLog, call)
}

// Calls returns how many times method was invoked.
func (m *MockGateway) Calls(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, call := range m.CallLog {
		if strings.HasPrefix(call, method+"(") {
			n++
		}
	}
	return n
}

func (m *MockGateway) Authenticate(ctx context.Context) (Token, error) {
	m.record("Authenticate()")

	if m.AuthenticateFunc != nil {
		return m.AuthenticateFunc(ctx)
	}
	return Token{Value: "mock-token", ExpiresAt: time.Now().Add(5 * time.Minute)}, nil
}

func (m *MockGateway) RegisterIPN(ctx context.Context, token, ipnURL string) (string, error) {
	m.record(fmt.Sprintf("RegisterIPN(%s, %s)", token, ipnURL))
	m.mu.Lock()
	m.RegisteredIPNs = append(m.RegisteredIPNs, ipnURL)
	m.mu.Unlock()

	if m.RegisterIPNFunc != nil {
		return m.RegisterIPNFunc(ctx, token, ipnURL)
	}
	return "mock-ipn-id", nil
}

func (m *MockGateway) SubmitOrder(ctx context.Context, token string, req SubmitOrderRequest) (*SubmitOrderResponse, error) {
	m.record(fmt.Sprintf("SubmitOrder(%s, %s, %s)", token, req.ID, req.Amount))
	m.mu.Lock()
	m.SubmittedOrders = append(m.SubmittedOrders, req)
	m.mu.Unlock()

	if m.SubmitOrderFunc != nil {
		return m.SubmitOrderFunc(ctx, token, req)
	}
	return &SubmitOrderResponse{
		OrderTrackingID:   "mock-tracking-" + req.ID,
		MerchantReference: req.ID,
		RedirectURL:       "https://pay.example/checkout/" + req.ID,
		Status:            "200",
	}, nil
}

func (m *MockGateway) GetTransactionStatus(ctx context.Context, token, trackingID string) (*TransactionStatus, error) {
	m.record(fmt.Sprintf("GetTransactionStatus(%s, %s)", token, trackingID))

	if m.GetTransactionStatusFunc != nil {
		return m.GetTransactionStatusFunc(ctx, token, trackingID)
	}
	return &TransactionStatus{
		PaymentStatusDescription: "Completed",
		StatusCode:               1,
		Currency:                 CurrencyKES,
		Status:                   "200",
	}, nil
}
