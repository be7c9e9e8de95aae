// Package errs defines the error kinds shared across the viewer core.
//
// Components wrap these with fmt.Errorf("...: %w", errs.ErrX) and callers
// classify with errors.Is.
package errs

import "errors"

var (
	// ErrResourceNotFound marks a missing mask, mesh or annotation collection.
	// Callers degrade to "unavailable" rather than failing.
	ErrResourceNotFound = errors.New("resource not found")

	// ErrDecode marks a malformed mask, mesh or annotation payload.
	ErrDecode = errors.New("decode failure")

	// ErrPersistence marks an unreachable write endpoint or a non-success reply.
	ErrPersistence = errors.New("persistence failure")

	// ErrValidation marks a user action rejected before any side effect.
	ErrValidation = errors.New("validation failure")
)

// Kind returns a short name for the error kind of err, or "internal".
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrResourceNotFound):
		return "not_found"
	case errors.Is(err, ErrDecode):
		return "decode"
	case errors.Is(err, ErrPersistence):
		return "persistence"
	case errors.Is(err, ErrValidation):
		return "validation"
	default:
		return "internal"
	}
}
