package service

import (
	"net/url"
	"strings"

	"github.com/dukerupert/suya/internal/domain"
)

// Query parameters Pesapal appends when it sends the browser back.
const (
	ParamOrderTrackingID        = "OrderTrackingId"
	ParamOrderMerchantReference = "OrderMerchantReference"
	ParamOrderNotificationType  = "OrderNotificationType"
)

// orderPathPrefix is the status page route the gateway redirects to.
const orderPathPrefix = "/order/"

// CallbackURLs builds the URLs handed to the gateway.
type CallbackURLs struct {
	// PublicOrigin is where the application is reachable, e.g.
	// https://lagossuya.example.
	PublicOrigin string

	// DevFrontendOrigin replaces a localhost PublicOrigin for browser
	// redirects, since the storefront dev server runs on its own port.
	DevFrontendOrigin string

	// IPNPath is appended to PublicOrigin for the notification URL.
	IPNPath string

	// IPNPlaceholder is registered instead when running on localhost,
	// because the gateway refuses unreachable notification targets.
	IPNPlaceholder string
}

// IsLocal reports whether the application runs on a developer machine.
func (c CallbackURLs) IsLocal() bool {
	return strings.Contains(c.PublicOrigin, "localhost")
}

// RedirectOrigin is the origin the customer's browser returns to.
func (c CallbackURLs) RedirectOrigin() string {
	if c.IsLocal() && c.DevFrontendOrigin != "" {
		return strings.TrimRight(c.DevFrontendOrigin, "/")
	}
	return strings.TrimRight(c.PublicOrigin, "/")
}

// OrderCallbackURL is the status page for orderID.
func (c CallbackURLs) OrderCallbackURL(orderID string) string {
	return c.RedirectOrigin() + orderPathPrefix + url.PathEscape(orderID)
}

// IPNURL is the notification URL registered with the gateway.
func (c CallbackURLs) IPNURL() string {
	if c.IsLocal() {
		return c.IPNPlaceholder
	}
	path := c.IPNPath
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return strings.TrimRight(c.PublicOrigin, "/") + path
}

// OrderReturn is what the status page learns from the gateway redirect.
type OrderReturn struct {
	OrderID           string
	TrackingID        string
	MerchantReference string
}

// ParseOrderReturn reads the order ID from the path of a URL built by
// OrderCallbackURL and the tracking details Pesapal appended to it.
func ParseOrderReturn(u *url.URL) (OrderReturn, error) {
	const op = "callback.parse_order_return"

	escaped := u.EscapedPath()
	i := strings.Index(escaped, orderPathPrefix)
	if i < 0 {
		return OrderReturn{}, ErrNotOrderReturnPath
	}
	segment := strings.TrimSuffix(escaped[i+len(orderPathPrefix):], "/")
	if segment == "" || strings.Contains(segment, "/") {
		return OrderReturn{}, domain.ErrMissingOrderID
	}
	orderID, err := url.PathUnescape(segment)
	if err != nil {
		return OrderReturn{}, domain.WrapError(err, domain.EINVALID, op, "Malformed order ID")
	}

	q := u.Query()
	ret := OrderReturn{
		OrderID:           orderID,
		TrackingID:        strings.TrimSpace(q.Get(ParamOrderTrackingID)),
		MerchantReference: strings.TrimSpace(q.Get(ParamOrderMerchantReference)),
	}
	if ret.TrackingID == "" {
		return ret, domain.ErrMissingTrackingID
	}
	if ret.MerchantReference != "" && ret.MerchantReference != ret.OrderID {
		return ret, domain.ErrReferenceMismatch
	}
	return ret, nil
}
