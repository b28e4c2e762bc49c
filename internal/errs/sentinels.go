// Package errs contains sentinel errors shared by the store, the router and the
// pairing table. Wrap them with fmt.Errorf("...: %w") and match with errors.Is.
package errs

import (
	"context"
	"errors"
)

// Codes carried by local-error notices.
const (
	CodeNotFound         = "not_found"
	CodeUnauthorized     = "unauthorized"
	CodeInvalidEvent     = "invalid_event"
	CodeStoreUnavailable = "store_unavailable"
	CodeCanceled         = "canceled"
	CodeTimeout          = "timeout"
	CodeInternal         = "internal"
)

var (
	// ErrNotFound indicates the referenced message, room or pairing code does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized indicates an action restricted to another user (usually the sender).
	ErrUnauthorized = errors.New("unauthorized")

	// ErrStoreUnavailable indicates the durable store could not be reached.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrInvalidEvent indicates a malformed or ambiguous client payload.
	ErrInvalidEvent = errors.New("invalid event")
)

// Code maps an error onto the machine-readable code carried by local-error notices.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrUnauthorized):
		return CodeUnauthorized
	case errors.Is(err, ErrInvalidEvent):
		return CodeInvalidEvent
	case errors.Is(err, ErrStoreUnavailable):
		return CodeStoreUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	case errors.Is(err, context.Canceled):
		return CodeCanceled
	default:
		return CodeInternal
	}
}
