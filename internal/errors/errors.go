package errors

import (
	"errors"
	"fmt"
)

// Common error types for the SAFE-ZONE client
var (
	// Session errors
	ErrNotLoggedIn          = errors.New("user is not logged in")
	ErrLoginNotReady        = errors.New("login is not ready")
	ErrDiscoveryUnavailable = errors.New("discovery document unavailable")
	ErrStateMismatch        = errors.New("authorization state mismatch")
	ErrAuthorizationDenied  = errors.New("authorization denied")

	// Token errors
	ErrMissingRefreshToken  = errors.New("missing refresh token")
	ErrRefreshFailed        = errors.New("token refresh failed")
	ErrExchangeFailed       = errors.New("authorization code exchange failed")
	ErrNoRevocationEndpoint = errors.New("revocation endpoint not advertised")
	ErrRevocationFailed     = errors.New("token revocation failed")

	// Storage errors
	ErrNotFound    = errors.New("not found")
	ErrCorrupt     = errors.New("stored value is corrupt")
	ErrStoreKey    = errors.New("cannot open sealed store with the configured passphrase")
	ErrEmptyIssuer = errors.New("issuer is required")

	// Configuration errors
	ErrOverrideDisabled = errors.New("target server override is disabled in production")
	ErrInvalidConfig    = errors.New("invalid configuration")

	// API errors
	ErrNoResponse       = errors.New("server did not respond")
	ErrInvalidRecipient = errors.New("invalid recipient")
	ErrMissingMessageID = errors.New("message id is required")
)

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
