// Package uuid provides job ID generation.
package uuid

import (
	"github.com/google/uuid"
)

// Generator creates UUID v7 strings, which sort by creation time and keep
// the jobs(created_at) index friendly to inserts.
type Generator struct{}

// NewGenerator creates a new Generator.
func NewGenerator() *Generator {
	return &Generator{}
}

// NewID returns a UUID7 string, falling back to UUID4 if the monotonic
// source fails.
func (Generator) NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
