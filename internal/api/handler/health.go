package handler

import (
	"context"
	"net/http"

	"github.com/plateworks/reelchef/internal/api/response"
)

// Pinger is anything whose backing connection can be health checked.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewHealthHandler returns the handler for GET /api/v1/health. It reports
// the reachability of the database and cache without failing the endpoint,
// so load balancers can distinguish degraded from down.
func NewHealthHandler(db, cache Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
		}
		degraded := false

		if err := db.Ping(r.Context()); err != nil {
			checks["database"] = "unreachable"
			degraded = true
		}
		if err := cache.Ping(r.Context()); err != nil {
			checks["cache"] = "unreachable"
			degraded = true
		}

		if degraded {
			response.Error(w, http.StatusServiceUnavailable, "SERVICE_DEGRADED",
				"One or more dependencies are unreachable", checks)
			return
		}
		response.JSON(w, map[string]any{
			"status": "ok",
			"checks": checks,
		})
	}
}
