// Package common defines shared constants and sentinel errors used across
// the client and the reference server. Callers should use errors.Is to
// match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrNotFound = errors.New("not found")

	// ErrValidation marks malformed input. It is never retried.
	ErrValidation = errors.New("validation error")

	// ErrTransientNetwork marks timeouts, connection failures and
	// non-duplicate server errors. Callers may retry with backoff.
	ErrTransientNetwork = errors.New("transient network error")

	// ErrDuplicate is returned by the backend when a row with the same
	// client id already exists. The sender resolves it to the existing row.
	ErrDuplicate = errors.New("duplicate conflict")

	// ErrStorage wraps local persistence failures.
	ErrStorage = errors.New("storage error")

	// ErrSchemaMigration marks a local schema upgrade step that was skipped.
	ErrSchemaMigration = errors.New("schema migration error")

	// ErrUnreachable is returned when a remote call is gated off because the
	// backend is not reachable.
	ErrUnreachable = errors.New("backend unreachable")

	// Auth errors.
	ErrUnauthorized = errors.New("unauthorized")
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)
