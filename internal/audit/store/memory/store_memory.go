package memory

import (
	"context"
	"sort"
	"sync"

	"changegate/internal/domain"
)

// InMemoryStore keeps audit events per change. Used by tests and local runs.
type InMemoryStore struct {
	mu     sync.RWMutex
	events map[domain.ChangeID][]domain.AuditEvent
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{events: make(map[domain.ChangeID][]domain.AuditEvent)}
}

func (s *InMemoryStore) Append(_ context.Context, event domain.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[event.ChangeID] = append(s.events[event.ChangeID], event)
	return nil
}

func (s *InMemoryStore) ListByChange(_ context.Context, id domain.ChangeID) ([]domain.AuditEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := append([]domain.AuditEvent{}, s.events[id]...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Seq < out[j].Seq
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}
