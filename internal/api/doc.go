// Package api is the HTTP client for the conversation backend.
//
// Every operation returns a classified *Error on failure. The session layer
// switches on the Kind to pick a recovery action: token expiry resets the
// session silently, network/server failures become an in-band degraded
// notice, and everything else is forwarded to the host application.
package api
