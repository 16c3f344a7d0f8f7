// Package aierrors holds the ai package's sentinel errors in a leaf package
// so backend implementations can wrap them without importing the factory
// package that imports them back.
package aierrors

import "errors"

var (
	// ErrBackendUnavailable indicates the configured backend could not be
	// selected or reached. There is no silent fallback to another backend.
	ErrBackendUnavailable = errors.New("ai backend unavailable")
	// ErrModelNotFound indicates the backend is reachable but does not serve
	// the requested model. The wrapping error names the missing model.
	ErrModelNotFound = errors.New("ai model not found")
	// ErrInvalidResponse indicates the backend returned a body that could not
	// be interpreted at the transport level.
	ErrInvalidResponse = errors.New("ai backend returned invalid response")
)
