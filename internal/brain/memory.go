package brain

import (
	"context"
	"sync"
)

// NewMemory returns a process-local store. Used in tests and as an explicit
// "memory" driver for throwaway runs; nothing survives a restart.
func NewMemory() Store {
	return &memStore{data: map[string][]byte{}}
}

type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (s *memStore) Load(ctx context.Context, key string) ([]byte, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	if !ok {
		return nil, false, nil
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, true, nil
}

func (s *memStore) Save(ctx context.Context, key string, value []byte) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	s.data[key] = cp
	return nil
}

func (s *memStore) Close() error { return nil }
