package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/dupreaper/internal/api/response"
	"github.com/kiranshivaraju/dupreaper/internal/store"
	"github.com/kiranshivaraju/dupreaper/pkg/models"
	"golang.org/x/crypto/bcrypt"
)

// KeyPrefixLen is the number of leading key characters stored in clear for lookup.
const KeyPrefixLen = 8

const lastUsedTimeout = 5 * time.Second

// Auth authenticates dupreaper API keys and enforces their scopes.
type Auth struct {
	store store.Store
}

// NewAuth creates a new Auth middleware.
func NewAuth(s store.Store) *Auth {
	return &Auth{store: s}
}

// Authenticate resolves the Bearer token to a stored API key and records the
// key ID, prefix and scopes in the request context. Tokens that cannot be
// dupreaper keys are rejected without touching the store.
func (a *Auth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawKey := extractBearerToken(r)
		if rawKey == "" {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Missing or invalid Authorization header", nil)
			return
		}
		if len(rawKey) < KeyPrefixLen || !strings.HasPrefix(rawKey, KeyPrefix) {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Invalid API key format", nil)
			return
		}

		prefix := rawKey[:KeyPrefixLen]
		candidates, err := a.store.GetAPIKeyByPrefix(r.Context(), prefix)
		if err != nil {
			slog.Error("api key lookup failed", "prefix", prefix, "error", err)
			response.Error(w, http.StatusInternalServerError,
				"INTERNAL_ERROR", "Failed to validate API key", nil)
			return
		}

		i := slices.IndexFunc(candidates, func(k *models.APIKey) bool {
			return bcrypt.CompareHashAndPassword([]byte(k.KeyHash), []byte(rawKey)) == nil
		})
		if i < 0 {
			slog.Warn("api key rejected", "prefix", prefix, "candidates", len(candidates))
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Invalid API key", nil)
			return
		}
		key := candidates[i]

		go a.touch(key.ID)

		ctx := SetAPIKeyID(r.Context(), key.ID)
		ctx = setKeyPrefix(ctx, prefix)
		ctx = setScopes(ctx, key.Scopes)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// touch records key use outside the request lifetime.
func (a *Auth) touch(id uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), lastUsedTimeout)
	defer cancel()
	if err := a.store.UpdateAPIKeyLastUsed(ctx, id); err != nil {
		slog.Warn("updating api key last use failed", "key_id", id, "error", err)
	}
}

// RequireScope returns middleware that checks whether the authenticated
// API key has the specified scope.
func (a *Auth) RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if slices.Contains(getScopes(r), scope) {
				next.ServeHTTP(w, r)
				return
			}
			response.Error(w, http.StatusForbidden,
				"FORBIDDEN", "Insufficient permissions", map[string]any{"required_scope": scope})
		})
	}
}

func extractBearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
