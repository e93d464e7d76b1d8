package core

import (
	"fmt"

	"github.com/segmentio/ksuid"
)

// ID is a K-sortable identifier used for every runtime entity the engine
// creates: workflow instances, task instances, work-item instances.
type ID string

// String returns the string representation of the ID.
func (id ID) String() string {
	return string(id)
}

// IsZero reports whether id is the zero value.
func (id ID) IsZero() bool {
	return id == ""
}

// NewID generates a fresh, time-sortable ID.
func NewID() (ID, error) {
	id, err := ksuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("failed to generate new ID: %w", err)
	}
	return ID(id.String()), nil
}

// MustNewID panics if ID generation fails; used where the caller holds no
// error return (e.g. struct literal construction in tests).
func MustNewID() ID {
	id, err := NewID()
	if err != nil {
		panic(err)
	}
	return id
}

// ParseID validates that s is a well-formed ID.
func ParseID(s string) (ID, error) {
	if s == "" {
		return "", fmt.Errorf("empty ID")
	}
	if _, err := ksuid.Parse(s); err != nil {
		return "", fmt.Errorf("invalid ID format: %w", err)
	}
	return ID(s), nil
}
