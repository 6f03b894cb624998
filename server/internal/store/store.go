// Package store persists the custom endpoint list. The registry owns the
// list semantics; a Store only loads and replaces it as a whole.
package store

import (
	"context"
	"errors"
	"sync"

	"github.com/obot-platform/fleetdeck/server/internal/model"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store closed")

// Store loads and saves the ordered custom endpoint list.
type Store interface {
	Load(ctx context.Context) ([]model.CustomEndpoint, error)
	Save(ctx context.Context, endpoints []model.CustomEndpoint) error
	Close() error
}

// MemoryStore keeps the list in process memory.
type MemoryStore struct {
	mu        sync.Mutex
	endpoints []model.CustomEndpoint
}

// NewMemoryStore creates a MemoryStore seeded with the given endpoints.
func NewMemoryStore(seed ...model.CustomEndpoint) *MemoryStore {
	return &MemoryStore{endpoints: clone(seed)}
}

func (m *MemoryStore) Load(ctx context.Context) ([]model.CustomEndpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return clone(m.endpoints), nil
}

func (m *MemoryStore) Save(ctx context.Context, endpoints []model.CustomEndpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.endpoints = clone(endpoints)
	return nil
}

func (m *MemoryStore) Close() error { return nil }

func clone(in []model.CustomEndpoint) []model.CustomEndpoint {
	if len(in) == 0 {
		return nil
	}
	out := make([]model.CustomEndpoint, len(in))
	copy(out, in)
	return out
}
