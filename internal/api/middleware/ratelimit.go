package middleware

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/kiranshivaraju/dupreaper/internal/api/response"
	"github.com/kiranshivaraju/dupreaper/internal/cache"
)

const (
	defaultRequestsPerMinute = 60
	defaultWritesPerMinute   = 5
	rateWindow               = time.Minute
)

// RateLimit applies fixed one-minute windows per API key prefix, counted in
// Redis. Writes have their own, smaller budget because each accepted run
// launches search jobs.
type RateLimit struct {
	cache          cache.Cache
	requestsPerMin int
	writesPerMin   int
}

// NewRateLimit creates a RateLimit. Non-positive limits select the defaults.
func NewRateLimit(c cache.Cache, requestsPerMin, writesPerMin int) *RateLimit {
	if requestsPerMin <= 0 {
		requestsPerMin = defaultRequestsPerMinute
	}
	if writesPerMin <= 0 {
		writesPerMin = defaultWritesPerMinute
	}
	return &RateLimit{cache: c, requestsPerMin: requestsPerMin, writesPerMin: writesPerMin}
}

// Limit applies rate limiting based on the key_prefix set by auth middleware.
func (rl *RateLimit) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		prefix, ok := getKeyPrefix(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		key, limit := cache.RateLimitKey(prefix), rl.requestsPerMin
		if isWrite(r.Method) {
			key, limit = cache.WriteRateLimitKey(prefix), rl.writesPerMin
		}

		count, err := rl.cache.IncrWithExpiry(r.Context(), key, rateWindow)
		if err != nil {
			// Fail open: Redis trouble must not take the API down.
			slog.Warn("rate limit check failed", "prefix", prefix, "error", err)
			next.ServeHTTP(w, r)
			return
		}

		remaining := max(limit-int(count), 0)
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(rateWindow).Unix(), 10))

		if count > int64(limit) {
			w.Header().Set("Retry-After", strconv.Itoa(int(rateWindow.Seconds())))
			response.Error(w, http.StatusTooManyRequests,
				"RATE_LIMIT_EXCEEDED", "Too many requests", nil)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func isWrite(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}
