package session

import "github.com/pkg/errors"

var (
	// ErrAuthenticationFailed covers invalid credentials at login; the
	// session is left unchanged and the form shows an inline message.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrProviderUnavailable wraps transport/provider failures. The session
	// is never optimistically cleared or set on a transport error.
	ErrProviderUnavailable = errors.New("identity provider unavailable")

	// ErrMissingTenantScope is returned by operations that need a tenant id
	// on a session whose metadata did not carry one.
	ErrMissingTenantScope = errors.New("session has no tenant scope")

	// ErrRegistrationNotFound means the supplied registration number matched
	// no student record; no account is created.
	ErrRegistrationNotFound = errors.New("no student found with this registration number")
)
