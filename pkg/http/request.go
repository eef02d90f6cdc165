package http

import (
	"net"
	"net/http"
	"strings"
)

// IPConfig lists the CIDR ranges of proxies whose forwarded headers may
// be believed.
type IPConfig struct {
	TrustedProxies []string
}

// ExtractClientIP resolves the client address a session is bound to.
// X-Forwarded-For and X-Real-IP are honored only when the socket peer is
// a trusted proxy; anyone else gets their RemoteAddr, spoofed headers or
// not.
func ExtractClientIP(r *http.Request, config *IPConfig) string {
	remoteIP := remoteAddr(r)

	if config != nil && isTrustedProxy(remoteIP, config.TrustedProxies) {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			// First parseable entry is the originating client.
			for _, ip := range strings.Split(xff, ",") {
				ip = strings.TrimSpace(ip)
				if net.ParseIP(ip) != nil {
					return ip
				}
			}
		}
		if xri := r.Header.Get("X-Real-IP"); xri != "" && net.ParseIP(xri) != nil {
			return xri
		}
	}

	return remoteIP
}

// UserAgent returns the request's User-Agent header, truncated to a sane
// length so oversized values cannot bloat stored session metadata.
func UserAgent(r *http.Request) string {
	const maxUserAgentLen = 512

	ua := r.Header.Get("User-Agent")
	if len(ua) > maxUserAgentLen {
		ua = ua[:maxUserAgentLen]
	}
	return ua
}

func remoteAddr(r *http.Request) string {
	if r.RemoteAddr == "" {
		return "unknown"
	}
	if ip, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return ip
	}
	return r.RemoteAddr
}

func isTrustedProxy(ip string, trustedProxies []string) bool {
	clientIP := net.ParseIP(ip)
	if clientIP == nil {
		return false
	}

	for _, cidr := range trustedProxies {
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			continue
		}
		if ipNet.Contains(clientIP) {
			return true
		}
	}
	return false
}
