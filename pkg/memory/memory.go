// Package memory stores the conversation buffer an agent reads during one
// execution. Chat turns restore the branch history into it, the agent reads
// a window of it, and the turn clears it afterwards.
package memory

import (
	"context"
	"sync"
)

// Entry is one remembered message.
type Entry struct {
	Role    string `json:"type"` // user, ai, system
	Content string `json:"message"`
}

// Store keeps memory entries per session key.
type Store interface {
	Messages(ctx context.Context, key string) ([]Entry, error)
	Replace(ctx context.Context, key string, entries []Entry) error
	Append(ctx context.Context, key string, entries ...Entry) error
	Clear(ctx context.Context, key string) error
}

// Window keeps the last k exchanges (2k entries).
func Window(entries []Entry, k int) []Entry {
	if k <= 0 {
		return []Entry{}
	}
	if n := 2 * k; len(entries) > n {
		return entries[len(entries)-n:]
	}
	return entries
}

// InMemoryStore is a process-local Store.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries map[string][]Entry
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{entries: make(map[string][]Entry)}
}

func (s *InMemoryStore) Messages(_ context.Context, key string) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, len(s.entries[key]))
	copy(out, s.entries[key])
	return out, nil
}

func (s *InMemoryStore) Replace(_ context.Context, key string, entries []Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = append([]Entry(nil), entries...)
	return nil
}

func (s *InMemoryStore) Append(_ context.Context, key string, entries ...Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = append(s.entries[key], entries...)
	return nil
}

func (s *InMemoryStore) Clear(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}
