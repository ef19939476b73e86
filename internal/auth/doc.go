// Package auth inspects visitor credentials without verifying them.
//
// The session holds an opaque bearer credential issued by the backend. When
// the credential happens to be a JWT, its exp claim can be read locally to
// warn about an already-expired token before the first request fails:
//
//	exp, err := auth.ExpiresAt(credential)
//
// Verification always belongs to the server; nothing here checks signatures,
// and opaque credentials simply report no expiry. The authoritative expiry
// signal remains the backend's 401 response.
package auth
