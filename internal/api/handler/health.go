package handler

import (
	"context"
	"net/http"

	"github.com/kiranshivaraju/dupreaper/internal/api/response"
)

// Check is one dependency checked by the health endpoint.
type Check struct {
	Name string
	Ping func(ctx context.Context) error
}

// NewHealthHandler returns an http.HandlerFunc for GET /api/v1/health. Any
// failing check turns the response into a 503.
func NewHealthHandler(checks ...Check) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		results := make(map[string]string, len(checks))
		degraded := false
		for _, c := range checks {
			results[c.Name] = "ok"
			if err := c.Ping(r.Context()); err != nil {
				results[c.Name] = "degraded"
				degraded = true
			}
		}

		if degraded {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", results)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": results,
		})
	}
}
