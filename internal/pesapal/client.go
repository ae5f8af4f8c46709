package pesapal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/dukerupert/suya/internal/telemetry"
)

// maxResponseBytes caps how much of a gateway response is read.
const maxResponseBytes = 1 << 20

// Gateway is the set of Pesapal operations the payment flow depends on.
// Every call is independent. The HTTP client retries a call once when the
// gateway rejects a cached token; nothing else is retried.
type Gateway interface {
	// Authenticate exchanges the consumer key and secret for a bearer token.
	Authenticate(ctx context.Context) (Token, error)

	// RegisterIPN registers ipnURL for GET notifications and returns its ipn_id.
	RegisterIPN(ctx context.Context, token, ipnURL string) (string, error)

	// SubmitOrder submits an order and returns the gateway's redirect URL
	// and tracking ID.
	SubmitOrder(ctx context.Context, token string, req SubmitOrderRequest) (*SubmitOrderResponse, error)

	// GetTransactionStatus looks up a transaction by its tracking ID.
	GetTransactionStatus(ctx context.Context, token, trackingID string) (*TransactionStatus, error)
}

// Client talks to the Pesapal v3 API over HTTP.
type Client struct {
	cfg        GatewayConfig
	httpClient *http.Client
	cache      TokenCache
	logger     *slog.Logger
	now        func() time.Time
}

var _ Gateway = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTokenCache reuses tokens until shortly before they expire.
// Without a cache every Authenticate call reaches the gateway.
func WithTokenCache(cache TokenCache) Option {
	return func(c *Client) { c.cache = cache }
}

// WithLogger sets the logger used for gateway failures.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// NewClient validates cfg and builds a client.
func NewClient(cfg GatewayConfig, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Transport: &telemetry.HTTPTransport{Transport: http.DefaultTransport},
		},
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Config returns the configuration the client was built with.
func (c *Client) Config() GatewayConfig {
	return c.cfg
}

func (c *Client) Authenticate(ctx context.Context) (Token, error) {
	key := TokenCacheKey(c.cfg)
	if c.cache != nil {
		tok, ok, err := c.cache.Get(ctx, key)
		if err != nil {
			c.logger.Warn("token cache read failed", "error", err)
		} else if ok {
			return tok, nil
		}
	}

	var resp tokenResponse
	status, body, err := c.do(ctx, OpAuthenticate, http.MethodPost, "/api/Auth/RequestToken", "", tokenRequest{
		ConsumerKey:    c.cfg.ConsumerKey,
		ConsumerSecret: c.cfg.ConsumerSecret,
	}, &resp)
	if err != nil {
		if IsUnavailable(err) {
			return Token{}, err
		}
		return Token{}, &AuthError{StatusCode: status, Body: string(body), Err: err}
	}
	if status != http.StatusOK || resp.Token == "" || resp.Error.present() {
		c.logFailure(OpAuthenticate, status, body)
		return Token{}, &AuthError{StatusCode: status, Body: string(body)}
	}

	tok := Token{Value: resp.Token, ExpiresAt: parseExpiry(resp.ExpiryDate)}
	if c.cache != nil {
		if err := c.cache.Set(ctx, key, tok, tokenTTL(tok, c.now())); err != nil {
			c.logger.Warn("token cache write failed", "error", err)
		}
	}
	return tok, nil
}

func (c *Client) RegisterIPN(ctx context.Context, token, ipnURL string) (string, error) {
	var resp registerIPNResponse
	status, body, err := c.do(ctx, OpRegisterIPN, http.MethodPost, "/api/URLSetup/RegisterIPN", token, registerIPNRequest{
		URL:              ipnURL,
		NotificationType: NotificationTypeGET,
	}, &resp)
	if err != nil {
		if IsUnavailable(err) {
			return "", err
		}
		return "", &SubmissionError{Op: OpRegisterIPN, StatusCode: status, Body: string(body), Err: err}
	}
	if status != http.StatusOK || resp.IPNID == "" || resp.Error.present() {
		c.logFailure(OpRegisterIPN, status, body)
		return "", &SubmissionError{Op: OpRegisterIPN, StatusCode: status, Body: string(body)}
	}
	return resp.IPNID, nil
}

func (c *Client) SubmitOrder(ctx context.Context, token string, req SubmitOrderRequest) (*SubmitOrderResponse, error) {
	var resp SubmitOrderResponse
	status, body, err := c.do(ctx, OpSubmitOrder, http.MethodPost, "/api/Transactions/SubmitOrderRequest", token, req, &resp)
	if err != nil {
		if IsUnavailable(err) {
			return nil, err
		}
		return nil, &SubmissionError{Op: OpSubmitOrder, StatusCode: status, Body: string(body), Err: err}
	}
	if status != http.StatusOK || resp.RedirectURL == "" {
		c.logFailure(OpSubmitOrder, status, body)
		return nil, &SubmissionError{Op: OpSubmitOrder, StatusCode: status, Body: string(body)}
	}
	return &resp, nil
}

// GetTransactionStatus fails only when the gateway gives no status
// description. A failed payment is a successful lookup.
func (c *Client) GetTransactionStatus(ctx context.Context, token, trackingID string) (*TransactionStatus, error) {
	path := "/api/Transactions/GetTransactionStatus?orderTrackingId=" + url.QueryEscape(trackingID)

	var resp TransactionStatus
	status, body, err := c.do(ctx, OpGetTransactionStatus, http.MethodGet, path, token, nil, &resp)
	if err != nil {
		if IsUnavailable(err) {
			return nil, err
		}
		return nil, &VerificationError{TrackingID: trackingID, StatusCode: status, Body: string(body), Err: err}
	}
	if status != http.StatusOK || resp.StatusDescription() == "" {
		c.logFailure(OpGetTransactionStatus, status, body)
		return nil, &VerificationError{TrackingID: trackingID, StatusCode: status, Body: string(body)}
	}
	return &resp, nil
}

// do performs one gateway call and decodes a JSON body into out.
// Transport failures, deadlines and 5xx responses come back as
// *UnavailableError. Other statuses are returned for the caller to judge,
// together with the raw body.
//
// When a token cache is in use and the gateway answers 401 or 403, the
// cached token is evicted and the call is repeated once with a fresh one.
func (c *Client) do(ctx context.Context, op, method, path, token string, in, out any) (int, []byte, error) {
	status, body, err := c.call(ctx, op, method, path, token, in)
	if err == nil && c.tokenRejected(token, status) {
		if fresh, ok := c.refreshToken(ctx, op, status); ok && fresh != token {
			status, body, err = c.call(ctx, op, method, path, fresh, in)
		}
	}
	if err != nil {
		return status, body, err
	}

	if out != nil && len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			c.logFailure(op, status, body)
			return status, body, fmt.Errorf("decode %s response: %w", op, err)
		}
	}
	return status, body, nil
}

func (c *Client) tokenRejected(token string, status int) bool {
	return c.cache != nil && token != "" &&
		(status == http.StatusUnauthorized || status == http.StatusForbidden)
}

// refreshToken drops the cached token and authenticates again.
func (c *Client) refreshToken(ctx context.Context, op string, status int) (string, bool) {
	c.logger.Warn("pesapal rejected token; re-authenticating", "op", op, "status", status)

	if err := c.cache.Delete(ctx, TokenCacheKey(c.cfg)); err != nil {
		c.logger.Warn("token cache delete failed", "error", err)
	}
	tok, err := c.Authenticate(ctx)
	if err != nil {
		c.logger.Error("re-authentication failed", "op", op, "error", err)
		return "", false
	}
	return tok.Value, true
}

// call runs one request under the configured timeout and records it.
func (c *Client) call(ctx context.Context, op, method, path, token string, in any) (int, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.timeout())
	defer cancel()

	start := time.Now()
	status, body, err := c.roundTrip(ctx, op, method, path, token, in)

	result := "ok"
	switch {
	case IsUnavailable(err):
		result = "unavailable"
	case err != nil || status != http.StatusOK:
		result = "error"
	}
	telemetry.Business.ObserveGatewayRequest(op, result, time.Since(start))

	return status, body, err
}

func (c *Client) roundTrip(ctx context.Context, op, method, path, token string, in any) (int, []byte, error) {
	var reqBody io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return 0, nil, fmt.Errorf("encode %s request: %w", op, err)
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.endpoint(path), reqBody)
	if err != nil {
		return 0, nil, fmt.Errorf("build %s request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("pesapal request failed", "op", op, "error", err)
		return 0, nil, &UnavailableError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, nil, &UnavailableError{Op: op, StatusCode: 0, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		c.logFailure(op, resp.StatusCode, body)
		return resp.StatusCode, body, &UnavailableError{Op: op, StatusCode: resp.StatusCode, Body: string(body)}
	}
	return resp.StatusCode, body, nil
}

func (c *Client) logFailure(op string, status int, body []byte) {
	c.logger.Error("pesapal rejected request",
		"op", op,
		"status", status,
		"body", string(body),
	)
}

// parseExpiry reads Pesapal's expiryDate, which carries seven fractional
// digits and sometimes no zone. Unparseable values yield the zero time.
func parseExpiry(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// IsTimeout reports whether err came from the per-call deadline.
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}
