// Package auth provides optional control-plane bearer-token validation.
// Adapted from the teacher's JWKS-based auth/jwt.go: this is a single-host
// daemon with no remote identity provider, so validation is a local HMAC
// check against a shared secret instead of a JWKS key lookup.
package auth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Claims identifies the control-plane token subject.
type Claims struct {
	jwt.RegisteredClaims
}

// TokenValidator validates HS256 JWTs against a local shared secret. A nil
// or empty secret means auth is disabled entirely (the control plane runs
// open, matching a local dev tool's default posture).
type TokenValidator struct {
	secret []byte
}

// NewTokenValidator builds a validator for the given shared secret. An
// empty secret disables auth: Required() reports false and Validate always
// succeeds.
func NewTokenValidator(secret string) *TokenValidator {
	if secret == "" {
		return &TokenValidator{}
	}
	return &TokenValidator{secret: []byte(secret)}
}

// Required reports whether the control plane is configured to require
// bearer auth.
func (v *TokenValidator) Required() bool {
	return len(v.secret) > 0
}

// Validate parses and verifies tokenString as an HS256 JWT signed with the
// configured secret.
func (v *TokenValidator) Validate(tokenString string) (*Claims, error) {
	if !v.Required() {
		return &Claims{}, nil
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse control token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid control token")
	}
	return claims, nil
}
