package resultstore

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

var _ Store = (*MemStore)(nil)

// MemStore is an in-process [Store]. The zero value is ready to use.
type MemStore struct {
	mu      sync.RWMutex
	results map[Key]Result
}

// Get implements [Store].
func (m *MemStore) Get(_ context.Context, key Key) (Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res, ok := m.results[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, key.Sentence)
	}
	return cloneResult(res), nil
}

// Put implements [Store].
func (m *MemStore) Put(_ context.Context, key Key, res Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.results == nil {
		m.results = make(map[Key]Result)
	}
	m.results[key] = cloneResult(res)
	return nil
}

// Len returns the number of stored results.
func (m *MemStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.results)
}

func cloneResult(res Result) Result {
	out := make(Result, len(res))
	for i, c := range res {
		out[i] = slices.Clone(c)
	}
	return out
}
