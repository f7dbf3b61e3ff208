// Package auth guards the trail API: bearer-token verification, request
// correlation IDs, CORS, and per-actor rate limiting.
//
// Authentication is optional. With no signing secret configured the API runs
// open, which is the expected mode behind a private ingress; configuring a
// secret turns on HS256 bearer tokens for every non-public route.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the token claims accepted by the trail API.
type Claims struct {
	jwt.RegisteredClaims
	Scopes []string `json:"scopes,omitempty"`
}

// TokenVerifier validates HS256 bearer tokens against a shared secret.
type TokenVerifier struct {
	secret []byte
}

// NewTokenVerifier creates a verifier. An empty secret returns nil, which
// disables authentication.
func NewTokenVerifier(secret string) *TokenVerifier {
	if secret == "" {
		return nil
	}
	return &TokenVerifier{secret: []byte(secret)}
}

// Verify parses and validates a token string.
func (v *TokenVerifier) Verify(tokenStr string) (*Claims, error) {
	if v == nil {
		return nil, fmt.Errorf("auth: verifier uninitialized")
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("auth: token validation failed: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("auth: invalid token")
	}
	return claims, nil
}

// Issue signs a token for the subject. Producers get their tokens minted
// out of band; this mostly serves tests and local setups.
func (v *TokenVerifier) Issue(subject string, scopes []string, ttl time.Duration) (string, error) {
	if v == nil {
		return "", fmt.Errorf("auth: verifier uninitialized")
	}

	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Scopes: scopes,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
