// Package common defines shared constants and sentinel errors used across
// the picvault server layers. Callers should use errors.Is to match these
// values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")
	ErrEmailTaken = errors.New("email already taken")
	ErrTokenTaken = errors.New("session token already taken")

	// Service-level errors (generic/internal flow control).
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")

	// Validation errors surfaced to the client.
	ErrValidation = errors.New("validation error")

	// Credential errors. Unknown email and wrong password collapse into
	// this single value so callers cannot probe which accounts exist.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// Session (refresh token) lifecycle errors.
	ErrSessionInvalid = errors.New("session expired or invalid")

	// Access token errors. The HTTP layer reports all three as one
	// opaque unauthorized response; the split exists for logging.
	ErrTokenExpired   = errors.New("token expired")
	ErrTokenSignature = errors.New("token signature invalid")
	ErrTokenMalformed = errors.New("token malformed")

	// ErrSigning indicates the server failed to produce a signature.
	ErrSigning = errors.New("token signing failed")
)
