// ABOUTME: Error classification for backend calls: token expiry, network/server, client.
// ABOUTME: Each kind maps to a different recovery action in the session controller.

package api

import (
	"errors"
	"fmt"
	"strings"
)

// Kind buckets a failed backend call by the recovery action it requires.
type Kind int

const (
	// KindClient covers business/validation failures (4xx) and local request
	// errors. These are forwarded to the host's error callback unmodified.
	KindClient Kind = iota

	// KindTokenExpired is a 401 carrying the backend's expiry marker. The
	// session silently resets; no error surfaces to the host.
	KindTokenExpired

	// KindNetwork covers missing responses and 5xx. The session renders an
	// in-band degraded-service notice instead of calling the error callback.
	KindNetwork
)

// tokenExpiredMarker is the body substring the backend uses on expired
// credentials. Other 401s (revoked, malformed) stay KindClient.
const tokenExpiredMarker = "Token has expired"

// Error is a classified backend failure.
type Error struct {
	Kind   Kind
	Status int    // HTTP status, 0 when no response arrived
	Body   string // response body excerpt, for diagnostics
	Err    error  // underlying transport error, if any
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("backend request failed: %v", e.Err)
	case e.Body != "":
		return fmt.Sprintf("backend returned %d: %s", e.Status, e.Body)
	default:
		return fmt.Sprintf("backend returned %d", e.Status)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// IsTokenExpired reports whether err is a classified token-expiry failure.
func IsTokenExpired(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Kind == KindTokenExpired
}

// IsNetwork reports whether err is a classified network/server failure.
func IsNetwork(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Kind == KindNetwork
}

// classifyStatus builds an Error from an HTTP response status and body.
func classifyStatus(status int, body string) *Error {
	kind := KindClient
	switch {
	case status == 401 && strings.Contains(body, tokenExpiredMarker):
		kind = KindTokenExpired
	case status >= 500:
		kind = KindNetwork
	}
	return &Error{Kind: kind, Status: status, Body: body}
}
