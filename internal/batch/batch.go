// Package batch records the history of batch runs so completed results can
// be looked up after the request that produced them has returned.
package batch

import (
	"encoding/json"
	"errors"
	"slices"
	"time"

	"github.com/maauso/videobatch-api/internal/batch/id"
)

// Status represents the current state of a Batch.
type Status string

const (
	// StatusRunning indicates rows are still being processed.
	StatusRunning Status = "RUNNING"
	// StatusCompleted indicates every row has an outcome.
	StatusCompleted Status = "COMPLETED"
)

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

// Result is the recorded outcome of one row.
type Result struct {
	RowID   json.RawMessage `json:"row_id"`
	Message string          `json:"message"`
	// Stage names the failed stage; empty on success.
	Stage string `json:"stage,omitempty"`
}

// Failed reports whether the row failed.
func (r Result) Failed() bool {
	return r.Stage != ""
}

// Batch is one invocation of the batch coordinator.
type Batch struct {
	ID          string    `json:"id"`
	Status      Status    `json:"status"`
	Total       int       `json:"total"`
	Succeeded   int       `json:"succeeded"`
	Failed      int       `json:"failed"`
	Results     []Result  `json:"results,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	CompletedAt time.Time `json:"completed_at,omitzero"`
}

// New creates a RUNNING batch with a generated ID for total rows.
func New(total int) *Batch {
	return NewWithID(id.Generate(), total)
}

// NewWithID creates a RUNNING batch with the specified ID.
// Useful for testing or when the ID needs to be externally generated.
func NewWithID(batchID string, total int) *Batch {
	return &Batch{
		ID:        batchID,
		Status:    StatusRunning,
		Total:     total,
		CreatedAt: time.Now(),
	}
}

// Complete stores the per-row results and moves the batch to COMPLETED.
// Returns ErrInvalidTransition if the batch is already completed.
func (b *Batch) Complete(results []Result) error {
	if b.Status != StatusRunning {
		return ErrInvalidTransition
	}

	b.Results = slices.Clone(results)
	b.Succeeded, b.Failed = 0, 0
	for _, r := range results {
		if r.Failed() {
			b.Failed++
		} else {
			b.Succeeded++
		}
	}
	b.Status = StatusCompleted
	b.CompletedAt = time.Now()
	return nil
}

// Duration returns how long the batch ran, or zero while it is running.
func (b *Batch) Duration() time.Duration {
	if b.CompletedAt.IsZero() {
		return 0
	}
	return b.CompletedAt.Sub(b.CreatedAt)
}

// Summary returns a copy of the batch without per-row results.
func (b *Batch) Summary() *Batch {
	c := b.Clone()
	c.Results = nil
	return c
}

// Clone creates a deep copy of the batch.
func (b *Batch) Clone() *Batch {
	c := *b
	if b.Results != nil {
		c.Results = make([]Result, len(b.Results))
		for i, r := range b.Results {
			c.Results[i] = Result{
				RowID:   slices.Clone(r.RowID),
				Message: r.Message,
				Stage:   r.Stage,
			}
		}
	}
	return &c
}
