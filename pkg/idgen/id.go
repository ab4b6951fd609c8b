// Package idgen generates the k-sortable identifiers used for task ids,
// session ids, and queue item ids.
package idgen

import (
	"fmt"

	"github.com/segmentio/ksuid"
)

// ID is a k-sortable unique identifier.
type ID string

func (id ID) String() string {
	return string(id)
}

// IsZero reports whether id is the zero value.
func (id ID) IsZero() bool {
	return id == ""
}

// New generates a fresh, randomly seeded ID.
func New() (ID, error) {
	id, err := ksuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("failed to generate new id: %w", err)
	}
	return ID(id.String()), nil
}

// MustNew panics if id generation fails; used at process wiring time where
// failure indicates a broken entropy source.
func MustNew() ID {
	id, err := New()
	if err != nil {
		panic(err)
	}
	return id
}

// Parse validates that s is a well-formed ID.
func Parse(s string) (ID, error) {
	if s == "" {
		return "", fmt.Errorf("empty id")
	}
	if _, err := ksuid.Parse(s); err != nil {
		return "", fmt.Errorf("invalid id format: %w", err)
	}
	return ID(s), nil
}
