package routes

import (
	"github.com/dukerupert/suya/internal/middleware"
	"github.com/dukerupert/suya/internal/router"
)

const legacyIPNPath = "/.netlify/functions/ipn"

// RegisterWebhookRoutes registers the Pesapal IPN routes.
//
// Notifications are not signed. The handler only uses them as a prompt to
// reconcile the order against the gateway.
func RegisterWebhookRoutes(r *router.Router, deps WebhookDeps) {
	ipn := []router.Middleware{
		middleware.MaxBodySize(middleware.PaymentMaxBodySize),
		middleware.Timeout(middleware.PaymentTimeout),
	}
	for _, path := range []string{"/api/pesapal/ipn", legacyIPNPath} {
		r.Get(path, deps.PesapalHandler.HandleIPN, ipn...)
		r.Post(path, deps.PesapalHandler.HandleIPN, ipn...)
	}
}
