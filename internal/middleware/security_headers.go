package middleware

import "net/http"

// SecurityHeadersConfig holds security headers configuration
type SecurityHeadersConfig struct {
	Env string
}

// SecurityHeaders hardens every response for an API that serves JSON
// only. Responses carry session tokens and device metadata, so caching
// is disabled outright rather than per-endpoint.
func SecurityHeaders(config SecurityHeadersConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "no-referrer")

			// Nothing this service returns should render or load
			// subresources.
			w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")

			w.Header().Set("Cache-Control", "no-store")
			w.Header().Set("Pragma", "no-cache")

			// HSTS only where a TLS terminator fronts the service.
			if config.Env == "production" && (r.Header.Get("X-Forwarded-Proto") == "https" || r.URL.Scheme == "https") {
				w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
			}

			next.ServeHTTP(w, r)
		})
	}
}
