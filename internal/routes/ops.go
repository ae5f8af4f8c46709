package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/dukerupert/suya/internal/handler"
	"github.com/dukerupert/suya/internal/router"
)

// RegisterOpsRoutes registers /health, /metrics and the JSON 404 for
// paths no other route matches.
func RegisterOpsRoutes(r *router.Router, deps OpsDeps) {
	// Metrics endpoint (no auth required, but should be protected in production via firewall)
	if deps.Metrics != nil {
		r.Get("/metrics", deps.Metrics.ServeHTTP)
	}

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		if deps.Ready != nil {
			ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
			defer cancel()
			if err := deps.Ready(ctx); err != nil {
				handler.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		handler.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Any("/", handler.NotFoundResponse)
}
