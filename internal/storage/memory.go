package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/mohamedkhairy/momentum-screener/internal/models"
)

// MemoryBatchStore keeps the most recent batches in memory
type MemoryBatchStore struct {
	mu      sync.RWMutex
	batches map[string]*models.ScanBatch
	order   []string // IDs, oldest first
	size    int
}

// NewMemoryBatchStore creates a store holding at most size batches
func NewMemoryBatchStore(size int) *MemoryBatchStore {
	if size <= 0 {
		size = 20
	}
	return &MemoryBatchStore{
		batches: make(map[string]*models.ScanBatch),
		size:    size,
	}
}

// Save stores a copy of batch, evicting the oldest when full
func (m *MemoryBatchStore) Save(_ context.Context, batch *models.ScanBatch) error {
	if batch == nil || batch.ID == "" {
		return ErrInvalidBatch
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.batches[batch.ID]; !ok {
		m.order = append(m.order, batch.ID)
	}
	m.batches[batch.ID] = batch.Clone()

	sort.SliceStable(m.order, func(i, j int) bool {
		return m.batches[m.order[i]].StartedAt.Before(m.batches[m.order[j]].StartedAt)
	})
	for len(m.order) > m.size {
		delete(m.batches, m.order[0])
		m.order = m.order[1:]
	}
	return nil
}

// Latest returns the most recently started batch
func (m *MemoryBatchStore) Latest(_ context.Context) (*models.ScanBatch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.order) == 0 {
		return nil, models.ErrBatchNotFound
	}
	return m.batches[m.order[len(m.order)-1]].Clone(), nil
}

// Get returns a batch by ID
func (m *MemoryBatchStore) Get(_ context.Context, id string) (*models.ScanBatch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.batches[id]
	if !ok {
		return nil, models.ErrBatchNotFound
	}
	return b.Clone(), nil
}

// List returns up to limit summaries, newest first
func (m *MemoryBatchStore) List(_ context.Context, limit int) ([]BatchSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]BatchSummary, 0, len(m.order))
	for i := len(m.order) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, Summarize(m.batches[m.order[i]]))
	}
	return out, nil
}

// Close is a no-op
func (m *MemoryBatchStore) Close() error { return nil }
