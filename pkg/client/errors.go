package client

import (
	"errors"
	"fmt"
)

// Common errors returned by the client.
var (
	// ErrMissingCredentials is returned when an account has a blank login
	// identifier or secret. No request is sent.
	ErrMissingCredentials = errors.New("missing login credentials")

	// ErrMissingToken is returned when a login response carries no token.
	ErrMissingToken = errors.New("login response has no token")

	// ErrNoSession is returned when a page is requested without a session.
	ErrNoSession = errors.New("no authenticated session")

	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during retry.
	ErrContextCancelled = errors.New("context cancelled")
)

// AuthError is the typed failure of Authenticate. It never aborts an
// aggregation run; the tenant is skipped.
type AuthError struct {
	Tenant     string
	StatusCode int
	ErrorClass ErrorClass
	Err        error
}

// Error implements the error interface.
func (e *AuthError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("authenticate %s: %s error (status %d): %v",
			e.Tenant, e.ErrorClass, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("authenticate %s: %s error: %v", e.Tenant, e.ErrorClass, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *AuthError) Unwrap() error {
	return e.Err
}

// Class returns the error classification.
func (e *AuthError) Class() ErrorClass {
	return e.ErrorClass
}

// PageError is the typed failure of a single page request. Pagination stops
// at the failing page and keeps what was fetched before it.
type PageError struct {
	Tenant     string
	Page       int
	StatusCode int
	ErrorClass ErrorClass
	Err        error
}

// Error implements the error interface.
func (e *PageError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("fetch %s page %d: %s error (status %d): %v",
			e.Tenant, e.Page, e.ErrorClass, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s page %d: %s error: %v", e.Tenant, e.Page, e.ErrorClass, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *PageError) Unwrap() error {
	return e.Err
}

// Class returns the error classification.
func (e *PageError) Class() ErrorClass {
	return e.ErrorClass
}

// ClassOf returns the classification carried by err, or "" if none.
func ClassOf(err error) ErrorClass {
	var classified interface{ Class() ErrorClass }
	if errors.As(err, &classified) {
		return classified.Class()
	}
	return ""
}

// shouldRetry determines if an error should be retried based on its classification.
func shouldRetry(errorClass ErrorClass) bool {
	switch errorClass {
	case ErrorClassServer, ErrorClassRateLimit, ErrorClassNetwork:
		return true
	case ErrorClassClient, ErrorClassCredentials, ErrorClassToken, ErrorClassDecode:
		// Same request, same answer.
		return false
	default:
		return false
	}
}
