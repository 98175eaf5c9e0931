package store

import (
	"context"
	"encoding/json"
	"sync"

	"gw-resize/pkg/model"
)

// MemoryStore keeps the last snapshot in memory, intended for tests and dry runs.
type MemoryStore struct {
	mu    sync.RWMutex
	data  []byte
	saves int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Save stores a deep copy so later mutation of snap is not observed.
func (m *MemoryStore) Save(_ context.Context, snap *model.RouteSnapshot) error {
	b, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = b
	m.saves++
	return nil
}

func (m *MemoryStore) Load(_ context.Context) (*model.RouteSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.data == nil {
		return nil, ErrNotFound
	}
	var snap model.RouteSnapshot
	if err := json.Unmarshal(m.data, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Saves reports how many times Save succeeded.
func (m *MemoryStore) Saves() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.saves
}

func (m *MemoryStore) Location() string { return "memory" }
