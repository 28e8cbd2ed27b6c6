// Package types holds small identifier types shared across the engine.
package types

import (
	"fmt"

	"github.com/google/uuid"
)

// ID identifies a plan or a plan step. It is a UUID carried as a string so
// it compares with ==, works as a map key, and round-trips through JSON and
// YAML without custom codecs.
type ID string

// NewID returns a freshly generated random ID.
func NewID() ID {
	return ID(uuid.NewString())
}

// String returns the ID as a plain string.
func (id ID) String() string {
	return string(id)
}

// IsZero reports whether the ID is unset.
func (id ID) IsZero() bool {
	return id == ""
}

// Validate returns an error when the ID is unset or not a well-formed UUID.
func (id ID) Validate() error {
	if id.IsZero() {
		return fmt.Errorf("id is empty")
	}
	if _, err := uuid.Parse(string(id)); err != nil {
		return fmt.Errorf("id %q is not a valid UUID: %w", id, err)
	}
	return nil
}
