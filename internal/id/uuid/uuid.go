// Package uuid generates time-ordered identifiers for jobs and reports.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator implements audit.IDGenerator with UUID v7, so IDs sort by creation time.
type Generator struct{}

// New creates a new Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a UUID7 string.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}

// Valid reports whether s parses as a UUID. The API uses it to reject
// malformed path parameters before touching a store.
func Valid(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
