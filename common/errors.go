// Package common provides shared constants, types, and utilities
// used across relayhop.
package common

import "errors"

// Sentinel errors for supervisor operations.
// These can be checked with errors.Is() for proper error handling.
var (
	// Discovery errors.
	ErrDirectoryUnavailable = errors.New("relay directory unavailable")
	ErrMalformedCandidate   = errors.New("malformed relay candidate")

	// Session errors.
	ErrTunnelInit  = errors.New("tunnel failed to initialize")
	ErrHealthCheck = errors.New("throughput below health floor")
	ErrCancelled   = errors.New("operation cancelled")
	ErrTimeout     = errors.New("operation timed out")

	// Enforcement errors.
	ErrFirewallSetup     = errors.New("firewall setup failed")
	ErrProcessUnkillable = errors.New("tunnel process could not be killed")

	// Credential errors.
	ErrCredentialsNotFound = errors.New("credentials not found")

	// Permission errors.
	ErrRootRequired = errors.New("root privileges required")
)

// WrapError wraps an error with additional context.
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return &wrappedError{
		msg: message,
		err: err,
	}
}

type wrappedError struct {
	msg string
	err error
}

func (e *wrappedError) Error() string {
	return e.msg + ": " + e.err.Error()
}

func (e *wrappedError) Unwrap() error {
	return e.err
}
