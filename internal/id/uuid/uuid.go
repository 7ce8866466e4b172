// Package uuid generates run identifiers.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// NewID returns a UUIDv7 string. Run identifiers generated this way sort by
// creation time in the run ledger.
func NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}

// MustRunID returns NewID, or a random UUIDv4 when the clock sequence cannot
// be read.
func MustRunID() string {
	if id, err := NewID(); err == nil {
		return id
	}
	return uuid.NewString()
}
