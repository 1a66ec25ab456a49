// Package moduleid defines the opaque identifier shared by modules,
// brokers and connectivity objects across the substrate.
package moduleid

import (
	"errors"

	"github.com/google/uuid"
)

// ErrEmpty is returned when an ID is required but not supplied.
var ErrEmpty = errors.New("moduleid: empty ID")

// ID is an opaque, non-empty identifier unique within a manager instance.
// It is a plain string rather than a distinct byte-slice type so it can be
// used directly as a map key throughout the substrate.
type ID string

// New generates a fresh, randomly assigned ID. Used where no explicit ID
// is handed in: connectivity objects, and a module process started
// without --id.
func New() ID {
	return ID(uuid.NewString())
}

// Validate reports whether id is non-empty.
func (id ID) Validate() error {
	if id == "" {
		return ErrEmpty
	}
	return nil
}

func (id ID) String() string {
	return string(id)
}
