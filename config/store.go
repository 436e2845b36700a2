package config

import "sync"

// Store publishes the current Settings snapshot to the engine and lets the
// dashboard swap in an edited one. Readers always see a complete snapshot;
// published settings are never mutated in place.
type Store struct {
	mu      sync.RWMutex
	current *Settings
}

func NewStore(s *Settings) *Store {
	return &Store{current: s}
}

// Snapshot returns the currently published settings.
func (st *Store) Snapshot() *Settings {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.current
}

// Swap publishes a new settings snapshot.
func (st *Store) Swap(s *Settings) {
	st.mu.Lock()
	st.current = s
	st.mu.Unlock()
}
