package auth

import (
	"net"
	"net/http"
	"strings"

	"github.com/sentinelx-labs/audittrail/pkg/api"
	"github.com/sentinelx-labs/audittrail/pkg/limiter"
)

// RateLimitMiddleware enforces per-actor rate limiting at the HTTP layer.
// The actor is the token subject when the request is authenticated, the
// client IP otherwise; it therefore runs after the auth middleware.
// On rate limit exceeded, it returns 429 with a Retry-After header.
func RateLimitMiddleware(store limiter.Store, policy limiter.Policy) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Fail open if no store configured (dev mode)
			if store == nil {
				next.ServeHTTP(w, r)
				return
			}

			actor := clientIP(r)
			if p, ok := PrincipalFrom(r.Context()); ok {
				actor = p.Subject
			}

			allowed, err := store.Allow(r.Context(), actor, policy, 1)
			if err != nil {
				// Fail open on limiter errors to avoid blocking all traffic
				next.ServeHTTP(w, r)
				return
			}

			if !allowed {
				retryAfter := 60 / policy.RPM
				if retryAfter < 1 {
					retryAfter = 1
				}
				api.WriteTooManyRequests(w, retryAfter)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// No port, or a bare IPv6 literal
		ip = strings.TrimSuffix(strings.TrimPrefix(r.RemoteAddr, "["), "]")
	}
	return ip
}
