package store

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/zhouzirui/z-chat/backend/internal/model/chat"
)

// MemoryStore keeps messages in a slice. Suitable for tests and local runs.
type MemoryStore struct {
	mu    sync.RWMutex
	items []chat.Message
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make([]chat.Message, 0, 16)}
}

func (s *MemoryStore) Insert(_ context.Context, m chat.Message) (chat.Message, error) {
	if err := checkRecord(m); err != nil {
		return chat.Message{}, err
	}
	m.ID = uuid.NewString()

	s.mu.Lock()
	s.items = append(s.items, m)
	s.mu.Unlock()

	return m, nil
}

func (s *MemoryStore) FindAll(_ context.Context) ([]chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	copied := make([]chat.Message, len(s.items))
	copy(copied, s.items)
	return copied, nil
}

func (s *MemoryStore) Close() error { return nil }
