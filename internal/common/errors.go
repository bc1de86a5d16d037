// Package common contains shared constants and sentinel errors used across
// tagmesh components. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrNotFound = errors.New("not found")

	// Validation errors, rejected before any state mutation.
	ErrValidation        = errors.New("validation error")
	ErrInvalidPassphrase = errors.New("invalid passphrase")
	ErrInvalidHandle     = errors.New("invalid handle")

	// Identity / trust errors.
	ErrSignatureInvalid = errors.New("signature invalid")
	ErrNoIdentity       = errors.New("no local identity")

	// Domain rule violations.
	ErrDuplicateSubscription = errors.New("subscription already exists")
	ErrConflict              = errors.New("sync conflict")

	// Remote-side failures (content store / name resolution). Converted
	// into retryable sync state at the coordinator boundary, never
	// propagated to message handlers.
	ErrTransientIO = errors.New("transient i/o error")

	ErrInternal = errors.New("internal error")
)
