package memory

import (
	"context"
	"sync"

	"changegate/internal/domain"
	dErrors "changegate/pkg/domain-errors"
)

// InMemoryStore keeps exceptions keyed by ID with a per-change index.
type InMemoryStore struct {
	mu       sync.RWMutex
	byID     map[string]*domain.Exception
	byChange map[domain.ChangeID][]string
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byID:     make(map[string]*domain.Exception),
		byChange: make(map[domain.ChangeID][]string),
	}
}

func (s *InMemoryStore) Create(_ context.Context, exc *domain.Exception) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byID[exc.ID]; exists {
		return dErrors.New(dErrors.CodeConflict, "exception already exists")
	}
	cp := *exc
	s.byID[exc.ID] = &cp
	s.byChange[exc.ChangeID] = append(s.byChange[exc.ChangeID], exc.ID)
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, id string) (*domain.Exception, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	exc, ok := s.byID[id]
	if !ok {
		return nil, dErrors.New(dErrors.CodeNotFound, "exception not found")
	}
	cp := *exc
	return &cp, nil
}

func (s *InMemoryStore) Update(_ context.Context, exc *domain.Exception) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.byID[exc.ID]
	if !ok {
		return dErrors.New(dErrors.CodeNotFound, "exception not found")
	}
	// Mirror the relational store's status predicate so racing reviewers
	// cannot both close the same exception.
	if current.Status != domain.ExceptionOpen {
		return dErrors.New(dErrors.CodeAlreadyJustified, "exception is already justified")
	}
	cp := *exc
	s.byID[exc.ID] = &cp
	return nil
}

func (s *InMemoryStore) ListByChange(_ context.Context, id domain.ChangeID) ([]*domain.Exception, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.Exception
	for _, excID := range s.byChange[id] {
		cp := *s.byID[excID]
		out = append(out, &cp)
	}
	return out, nil
}
