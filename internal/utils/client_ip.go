// internal/utils/client_ip.go
package utils

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP extracts the originating address, trusting the first entry
// of X-Forwarded-For when present (we sit behind the platform proxy).
// Returns "" when no usable address is found; callers treat a missing
// address as a fail-open signal for rate limiting.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first := strings.TrimSpace(strings.Split(xff, ",")[0])
		if net.ParseIP(first) != nil {
			return first
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		if net.ParseIP(r.RemoteAddr) != nil {
			return r.RemoteAddr
		}
		return ""
	}
	if net.ParseIP(host) == nil {
		return ""
	}
	return host
}
