package replay

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryItem struct {
	entry     Entry
	expiresAt time.Time
}

// MemoryStore is a process-local Store. Expired entries are dropped lazily.
type MemoryStore struct {
	mu    sync.Mutex
	ttl   time.Duration
	items map[string]memoryItem
	now   func() time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{ttl: ttl, items: map[string]memoryItem{}, now: time.Now}
}

func (s *MemoryStore) Get(_ context.Context, userID uuid.UUID, nonce string) (*Entry, error) {
	key := Key(userID, nonce)
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[key]
	if !ok {
		return nil, nil
	}
	if !s.now().Before(it.expiresAt) {
		delete(s.items, key)
		return nil, nil
	}
	e := it.entry
	return &e, nil
}

func (s *MemoryStore) Put(_ context.Context, userID uuid.UUID, nonce string, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for k, it := range s.items {
		if !now.Before(it.expiresAt) {
			delete(s.items, k)
		}
	}
	s.items[Key(userID, nonce)] = memoryItem{entry: e, expiresAt: now.Add(s.ttl)}
	return nil
}
