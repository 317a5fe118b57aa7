package batch

import (
	"context"
	"sync"
)

// DefaultCapacity is the number of batches a MemoryRepository keeps.
const DefaultCapacity = 100

// Compile-time check that MemoryRepository implements Repository.
var _ Repository = (*MemoryRepository)(nil)

// MemoryRepository is an in-memory implementation of Repository.
// It keeps the most recent batches up to a fixed capacity and evicts the
// oldest first. Suitable for a single instance; history is lost on restart.
type MemoryRepository struct {
	mu       sync.RWMutex
	capacity int
	order    []string // insertion order, oldest first
	batches  map[string]*Batch
}

// NewMemoryRepository creates a new in-memory batch repository.
// A non-positive capacity uses DefaultCapacity.
func NewMemoryRepository(capacity int) *MemoryRepository {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &MemoryRepository{
		capacity: capacity,
		batches:  make(map[string]*Batch),
	}
}

// Save stores a clone of b, evicting the oldest batch when full.
func (r *MemoryRepository) Save(_ context.Context, b *Batch) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.batches[b.ID]; !ok {
		r.order = append(r.order, b.ID)
		for len(r.order) > r.capacity {
			delete(r.batches, r.order[0])
			r.order = r.order[1:]
		}
	}
	r.batches[b.ID] = b.Clone()
	return nil
}

// FindByID retrieves a batch by its ID.
// Returns a clone to prevent external mutations.
func (r *MemoryRepository) FindByID(_ context.Context, id string) (*Batch, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.batches[id]
	if !ok {
		return nil, ErrBatchNotFound
	}
	return b.Clone(), nil
}

// List returns summaries of stored batches, newest first.
func (r *MemoryRepository) List(_ context.Context) ([]*Batch, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]*Batch, 0, len(r.order))
	for i := len(r.order) - 1; i >= 0; i-- {
		result = append(result, r.batches[r.order[i]].Summary())
	}
	return result, nil
}
