package archive

import (
	"context"
	"slices"
	"sync"
)

// MemoryStore keeps exchanges in process. It backs tests and deployments
// that do not need an archive that survives restarts.
type MemoryStore struct {
	mu        sync.RWMutex
	exchanges []Exchange
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (s *MemoryStore) RecordExchange(_ context.Context, e Exchange) error {
	if err := normalize(&e); err != nil {
		return err
	}
	e.Discoveries = slices.Clone(e.Discoveries)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.exchanges = append(s.exchanges, e)
	return nil
}

func (s *MemoryStore) History(_ context.Context, flow Flow, key string, limit int) ([]Exchange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Exchange
	for _, e := range s.exchanges {
		if e.Flow == flow && e.Key == key {
			e.Discoveries = slices.Clone(e.Discoveries)
			out = append(out, e)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
