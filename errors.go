package phlow

import (
	"errors"

	"github.com/phlow-dev/phlow/token"
)

var (
	// ErrCredentialMissing is an exported constant or variable used by the authentication engine.
	ErrCredentialMissing = errors.New("missing token or principal id")
	// ErrRateLimited is an exported constant or variable used by the authentication engine.
	ErrRateLimited = errors.New("rate limit exceeded")
	// ErrUnknownPrincipal is an exported constant or variable used by the authentication engine.
	ErrUnknownPrincipal = errors.New("unknown principal")
	// ErrDirectoryUnavailable is an exported constant or variable used by the authentication engine.
	ErrDirectoryUnavailable = errors.New("principal directory unavailable")
	// ErrPermissionDenied is an exported constant or variable used by the authentication engine.
	ErrPermissionDenied = errors.New("insufficient permissions")
	// ErrAuditUnavailable is an exported constant or variable used by the authentication engine.
	ErrAuditUnavailable = errors.New("audit sink unavailable")
	// ErrEngineClosed is an exported constant or variable used by the authentication engine.
	ErrEngineClosed = errors.New("engine closed")
)

// Token verification failures are re-exported from the token subpackage so
// callers can match the full taxonomy with errors.Is against one package.
var (
	// ErrTokenExpired is an exported constant or variable used by the authentication engine.
	ErrTokenExpired = token.ErrExpired
	// ErrTokenSignature is an exported constant or variable used by the authentication engine.
	ErrTokenSignature = token.ErrSignature
	// ErrTokenAlgorithmMismatch is an exported constant or variable used by the authentication engine.
	ErrTokenAlgorithmMismatch = token.ErrAlgorithmMismatch
	// ErrTokenMalformed is an exported constant or variable used by the authentication engine.
	ErrTokenMalformed = token.ErrMalformed
)

// IsTokenInvalid reports whether err is any of the four token verification
// failure kinds.
func IsTokenInvalid(err error) bool {
	return errors.Is(err, ErrTokenExpired) ||
		errors.Is(err, ErrTokenSignature) ||
		errors.Is(err, ErrTokenAlgorithmMismatch) ||
		errors.Is(err, ErrTokenMalformed)
}
