package conversation

import "sync"

// MemStore is an in-process Store backed by a map. Suitable for
// single-process deployments and tests; multi-process deployments should use
// the sqlite-backed store.
type MemStore struct {
	mu    sync.RWMutex
	convs map[string]Conversation
}

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{convs: make(map[string]Conversation)}
}

func (s *MemStore) Get(id string) (Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.convs[id]
	if !ok {
		return Conversation{}, ErrNotFound
	}
	// Copy turns so callers cannot mutate stored state.
	c.Turns = append([]Turn(nil), c.Turns...)
	return c, nil
}

func (s *MemStore) Put(conv Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, exists := s.convs[conv.ID]
	if exists && stored.Version != conv.Version {
		return ErrVersionConflict
	}
	conv.Version++
	conv.Turns = append([]Turn(nil), conv.Turns...)
	s.convs[conv.ID] = conv
	return nil
}

func (s *MemStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.convs[id]; !ok {
		return ErrNotFound
	}
	delete(s.convs, id)
	return nil
}
