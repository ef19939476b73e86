// ABOUTME: Unverified JWT credential inspection for expiry diagnostics.
// ABOUTME: The backend's 401 stays authoritative; this only improves logging.

package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoExpiry is returned when the credential carries no exp claim.
var ErrNoExpiry = errors.New("credential has no expiry claim")

// ExpiresAt parses the credential as a JWT without verifying the signature
// (the client never holds the signing secret) and returns its expiry.
func ExpiresAt(credential string) (time.Time, error) {
	parser := jwt.NewParser()
	token, _, err := parser.ParseUnverified(credential, jwt.MapClaims{})
	if err != nil {
		return time.Time{}, err
	}

	exp, err := token.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, ErrNoExpiry
	}
	return exp.Time, nil
}

// Expired reports whether the credential's exp claim is in the past. Opaque
// (non-JWT) credentials and tokens without exp report false: only the server
// can judge them.
func Expired(credential string, now time.Time) bool {
	exp, err := ExpiresAt(credential)
	if err != nil {
		return false
	}
	return exp.Before(now)
}
