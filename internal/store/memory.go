package store

import (
	"context"
	"sync"
)

// MemoryStore keeps turns in memory. Used in tests and when no database
// path is configured.
type MemoryStore struct {
	mu    sync.Mutex
	turns []*TurnRecord
}

func NewMemory() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) SaveTurn(_ context.Context, rec *TurnRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rec
	m.turns = append(m.turns, &cp)
	return nil
}

// Turns returns a snapshot of the saved records.
func (m *MemoryStore) Turns() []*TurnRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*TurnRecord, len(m.turns))
	copy(out, m.turns)
	return out
}
