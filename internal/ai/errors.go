package ai

import "github.com/plateworks/reelchef/internal/ai/aierrors"

// The sentinel values live in aierrors so backend subpackages can wrap them
// without creating an import cycle with this package. These aliases keep the
// ai.Err* names that callers match against with errors.Is.
var (
	// ErrBackendUnavailable indicates the configured backend could not be
	// selected or reached. There is no silent fallback to another backend.
	ErrBackendUnavailable = aierrors.ErrBackendUnavailable
	// ErrModelNotFound indicates the backend is reachable but does not serve
	// the requested model. The wrapping error names the missing model.
	ErrModelNotFound = aierrors.ErrModelNotFound
	// ErrInvalidResponse indicates the backend returned a body that could not
	// be interpreted at the transport level.
	ErrInvalidResponse = aierrors.ErrInvalidResponse
)
