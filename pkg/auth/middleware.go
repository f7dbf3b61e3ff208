package auth

import (
	"net/http"
	"strings"

	"github.com/sentinelx-labs/audittrail/pkg/api"
)

// publicPaths are endpoints reachable without a token: liveness probes and
// stateless proof verification, which third parties run against published
// roots.
var publicPaths = []string{
	"/health",
	"/readiness",
	"/v1/verify",
}

// isPublicPath checks if the path should be accessible without auth.
func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}

// NewMiddleware creates bearer-token middleware. A nil verifier means no
// signing secret is configured and every request passes through.
func NewMiddleware(verifier *TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if verifier == nil || isPublicPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				api.WriteUnauthorized(w, "Missing Authorization header")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				api.WriteUnauthorized(w, "Invalid Authorization header format (expected 'Bearer <token>')")
				return
			}

			claims, err := verifier.Verify(parts[1])
			if err != nil {
				api.WriteUnauthorized(w, "Invalid or expired token")
				return
			}
			if claims.Subject == "" {
				api.WriteUnauthorized(w, "Token subject is required")
				return
			}

			ctx := WithPrincipal(r.Context(), &Principal{
				Subject: claims.Subject,
				Scopes:  claims.Scopes,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
