package connectivity

import "errors"

// Error kinds from spec.md §7 relevant to Connectivity.
var (
	// ErrUnknownModule is returned when an operation names a module ID
	// that is neither of the two parties in this Connectivity.
	ErrUnknownModule = errors.New("connectivity: unknown module")

	// ErrInvalidShape is returned at construction time for zero sizes or
	// identical module IDs.
	ErrInvalidShape = errors.New("connectivity: invalid shape")

	// ErrParamTypeMismatch is returned when a write to a named parameter
	// uses a different element type than the parameter's first write.
	// spec.md §9 flags the Python original's silent coercion here as a
	// likely latent bug and recommends rejection; we reject (see
	// SPEC_FULL.md Open Question #2).
	ErrParamTypeMismatch = errors.New("connectivity: parameter type mismatch")
)
