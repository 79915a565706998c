// Package authtoken inspects the session bearer token on the client side.
// Signatures are not verified here; the backend remains the authority.
package authtoken

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Expiry returns the exp claim of a JWT bearer token. ok is false for
// opaque tokens and for JWTs without an exp claim.
func Expiry(token string) (exp time.Time, ok bool) {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

// Usable reports whether token is present and, when it carries an expiry,
// not yet expired at now.
func Usable(token string, now time.Time) bool {
	if token == "" {
		return false
	}
	exp, ok := Expiry(token)
	if !ok {
		return true
	}
	return now.Before(exp)
}
