package routes

import (
	"github.com/dukerupert/suya/internal/middleware"
	"github.com/dukerupert/suya/internal/router"
)

// Legacy paths the storefront used when payments ran as serverless
// functions. They stay until every deployed build calls /api.
const (
	legacyPayPath    = "/.netlify/functions/pay"
	legacyVerifyPath = "/.netlify/functions/verify"
)

// RegisterPaymentRoutes registers checkout, verification, order return and
// order watch routes.
//
// Pay is registered for every method so that the handler itself answers
// 405 for anything but POST.
func RegisterPaymentRoutes(r *router.Router, deps PaymentDeps) {
	h := deps.Handler

	pay := []router.Middleware{
		middleware.MaxBodySize(middleware.PaymentMaxBodySize),
		middleware.Timeout(middleware.PaymentTimeout),
	}
	if deps.PayRateLimiter != nil {
		pay = append([]router.Middleware{deps.PayRateLimiter.Middleware}, pay...)
	}
	r.Any("/api/pay", h.Pay, pay...)
	r.Any(legacyPayPath, h.Pay, pay...)

	verify := middleware.Timeout(middleware.PaymentTimeout)
	r.Any("/api/verify", h.Verify, verify)
	r.Any(legacyVerifyPath, h.Verify, verify)

	r.Get("/order/{orderId}", h.OrderReturn, verify)

	// Event streams stay open; no timeout
	r.Get("/api/orders/{orderId}/watch", h.WatchOrder)
}
