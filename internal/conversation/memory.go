package conversation

import (
	"context"
	"sync"
)

// MemoryStore keeps conversations in process memory.
type MemoryStore struct {
	mu    sync.Mutex
	convs map[string][]Turn
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{convs: make(map[string][]Turn)}
}

func (s *MemoryStore) Append(_ context.Context, key string, turns []Turn, maxTurns int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := append(append([]Turn(nil), s.convs[key]...), turns...)
	if maxTurns > 0 && len(next) > maxTurns {
		next = next[len(next)-maxTurns:]
	}
	s.convs[key] = next
	return nil
}

func (s *MemoryStore) Read(_ context.Context, key string) ([]Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Turn{}, s.convs[key]...), nil
}

func (s *MemoryStore) Clear(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.convs, key)
	return nil
}
