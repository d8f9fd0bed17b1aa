package dedup

import (
	"sync"
	"time"
)

// MemoryStore is a mutex-guarded map. It is the default Store.
type MemoryStore struct {
	mu     sync.Mutex
	states map[Key]State
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[Key]State)}
}

func (m *MemoryStore) Swap(key Key, decide func(prev *State) *State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var prev *State
	if s, ok := m.states[key]; ok {
		delete(m.states, key)
		prev = &s
	}
	if next := decide(prev); next != nil {
		m.states[key] = *next
	}
	return nil
}

func (m *MemoryStore) Sweep(cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for k, s := range m.states {
		if !s.At.After(cutoff) {
			delete(m.states, k)
			removed++
		}
	}
	return removed, nil
}

func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.states)
}

func (m *MemoryStore) Close() error {
	return nil
}
