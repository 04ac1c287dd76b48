// Package apperr holds the sentinel errors shared across packages.
package apperr

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrAlreadyExists = errors.New("already exists")
	ErrInvalidInput  = errors.New("invalid input")
)

// Authentication flow.
var (
	ErrUnknownEmail     = errors.New("email is not registered on the marketplace")
	ErrRateLimited      = errors.New("login code requested too often")
	ErrInvalidCode      = errors.New("invalid login code")
	ErrNotAuthenticated = errors.New("marketplace session is missing or expired")
)

// Job orchestration and operator gating.
var (
	ErrJobNotFound    = errors.New("job is not running")
	ErrJobActive      = errors.New("a job is active")
	ErrAuthInProgress = errors.New("authentication is in progress")
	ErrNoKeywords     = errors.New("no keywords configured")
	ErrUnknownJob     = errors.New("unknown job")
)

// ErrUnsupported is returned by marketplace drivers for operations they cannot perform.
var ErrUnsupported = errors.New("operation not supported by this driver")
