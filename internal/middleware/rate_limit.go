package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"
)

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int
}

// DefaultCreateRateLimit returns the rate limit for session creation
// (10 requests per minute per IP).
func DefaultCreateRateLimit() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 10,
	}
}

// DefaultHeartbeatRateLimit returns the rate limit for heartbeat signals
// (60 requests per minute per session).
func DefaultHeartbeatRateLimit() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 60,
	}
}

// RateLimitByIP creates a middleware that rate limits requests by client IP
func RateLimitByIP(config RateLimitConfig) func(next http.Handler) http.Handler {
	return httprate.Limit(
		config.RequestsPerMinute,
		1*time.Minute,
		httprate.WithKeyByRealIP(),
		httprate.WithLimitHandler(rateLimitExceeded),
	)
}

// RateLimitBySession rate limits by the resolved session, falling back to
// the client IP before the pipeline has run.
func RateLimitBySession(config RateLimitConfig) func(next http.Handler) http.Handler {
	return httprate.Limit(
		config.RequestsPerMinute,
		1*time.Minute,
		httprate.WithKeyFuncs(sessionKey, httprate.KeyByRealIP),
		httprate.WithLimitHandler(rateLimitExceeded),
	)
}

func sessionKey(r *http.Request) (string, error) {
	if session, ok := SessionFromContext(r.Context()); ok {
		return session.ID.String(), nil
	}
	return "", nil
}

func rateLimitExceeded(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	w.Write([]byte(`{"error":"Rate limit exceeded"}`))
}
