package ban

import (
	"context"
	"sort"
	"sync"
	"time"
)

type MemoryStore struct {
	mu      sync.Mutex
	now     Clock
	expires map[string]time.Time
}

func NewMemoryStore(clock Clock) *MemoryStore {
	if clock == nil {
		clock = SystemClock
	}
	return &MemoryStore{
		now:     clock,
		expires: make(map[string]time.Time),
	}
}

func (s *MemoryStore) Active(_ context.Context, address string) (bool, error) {
	if address == "" {
		return false, ErrEmptyAddress
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	expiresAt, ok := s.expires[address]
	if !ok {
		return false, nil
	}
	if now.Before(expiresAt) {
		return true, nil
	}
	delete(s.expires, address)
	return false, nil
}

func (s *MemoryStore) Upsert(_ context.Context, address string, expiresAt time.Time) error {
	if address == "" {
		return ErrEmptyAddress
	}

	s.mu.Lock()
	s.expires[address] = expiresAt
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) List(_ context.Context) ([]Record, error) {
	now := s.now()

	s.mu.Lock()
	records := make([]Record, 0, len(s.expires))
	for address, expiresAt := range s.expires {
		if now.Before(expiresAt) {
			records = append(records, Record{Address: address, ExpiresAt: expiresAt})
		}
	}
	s.mu.Unlock()

	sort.Slice(records, func(i, j int) bool {
		return records[i].ExpiresAt.Before(records[j].ExpiresAt)
	})
	return records, nil
}

func (s *MemoryStore) Delete(_ context.Context, address string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.expires[address]
	delete(s.expires, address)
	return ok, nil
}

// Len counts stored records, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.expires)
}
