// Package id provides unique identifier generation for batches.
package id

import (
	"github.com/google/uuid"
)

// Generate creates a new unique batch ID.
// Format: batch-<uuidv7>, so IDs sort by creation time.
// Example: batch-01912d68-783e-7a03-8467-5661c1243ad4
func Generate() string {
	u, err := uuid.NewV7()
	if err != nil {
		// Fallback to a random UUID if the clock source fails
		u = uuid.New()
	}
	return "batch-" + u.String()
}
