package routes

import (
	"context"
	"net/http"

	"github.com/dukerupert/suya/internal/handler/api"
	"github.com/dukerupert/suya/internal/handler/webhook"
	"github.com/dukerupert/suya/internal/middleware"
)

// PaymentDeps contains dependencies for the storefront payment routes
type PaymentDeps struct {
	Handler *api.PaymentHandler

	// PayRateLimiter throttles checkout initiation per client IP
	PayRateLimiter *middleware.RateLimiter
}

// WebhookDeps contains dependencies for webhook routes
type WebhookDeps struct {
	PesapalHandler *webhook.PesapalHandler
}

// OpsDeps contains dependencies for operational endpoints
type OpsDeps struct {
	Metrics http.Handler

	// Ready reports whether the order store is reachable. Nil means always ready.
	Ready func(ctx context.Context) error
}
