package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	mw "github.com/kiranshivaraju/dupreaper/internal/api/middleware"
	"github.com/kiranshivaraju/dupreaper/internal/api/response"
)

// Dependencies holds the handlers and middleware the router mounts.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	HealthHandler    http.HandlerFunc
	CreateRunHandler http.HandlerFunc
	ListRunsHandler  http.HandlerFunc
	GetRunHandler    http.HandlerFunc
	CreateKeyHandler http.HandlerFunc
	ListKeysHandler  http.HandlerFunc
	RevokeKeyHandler http.HandlerFunc
}

// NewRouter builds the dupreaper HTTP API. Everything under /api/v1 except
// the health check needs an API key; starting runs needs the write scope and
// key management needs admin.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID, mw.Logger, mw.Recovery)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "No such endpoint", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED",
			r.Method+" is not supported on this endpoint", nil)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", orNotImplemented(deps.HealthHandler))

		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.Authenticate, deps.RateLimit.Limit)

			r.Route("/runs", func(r chi.Router) {
				r.Get("/", orNotImplemented(deps.ListRunsHandler))
				r.With(deps.Auth.RequireScope(mw.ScopeWrite)).
					Post("/", orNotImplemented(deps.CreateRunHandler))
				r.Get("/{runID}", orNotImplemented(deps.GetRunHandler))
			})

			r.Route("/admin/keys", func(r chi.Router) {
				r.Use(deps.Auth.RequireScope(mw.ScopeAdmin))
				r.Post("/", orNotImplemented(deps.CreateKeyHandler))
				r.Get("/", orNotImplemented(deps.ListKeysHandler))
				r.Delete("/{keyID}", orNotImplemented(deps.RevokeKeyHandler))
			})
		})
	})

	return r
}

func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, _ *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not configured", nil)
	}
}
