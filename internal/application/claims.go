package application

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type accessClaims struct {
	expiresAt time.Time
	subject   string
}

// parseAccessClaims reads exp and sub from a JWT access token without
// verifying it. Only the remote services verify the signature; the claims are
// used here to fill fields the identity provider left out. Opaque tokens
// yield zero claims.
func parseAccessClaims(token string) accessClaims {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return accessClaims{}
	}

	var out accessClaims
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		out.expiresAt = exp.Time
	}
	if sub, err := claims.GetSubject(); err == nil {
		out.subject = sub
	}
	return out
}
