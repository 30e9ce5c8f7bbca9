package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.pilab.hu/idfed/domain"
)

// MemorySessionStore is an in-memory AuthSessionRepository for development
// and tests. Expiry is evaluated on every read; Consume is linearizable per
// session because all mutations run under the store mutex.
type MemorySessionStore struct {
	mu      sync.RWMutex
	byID    map[string]*domain.BrokerAuthSession
	byState map[string]string // state -> session id
}

// NewMemorySessionStore creates an empty MemorySessionStore.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{
		byID:    make(map[string]*domain.BrokerAuthSession),
		byState: make(map[string]string),
	}
}

func (s *MemorySessionStore) Create(_ context.Context, session *domain.BrokerAuthSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byState[session.State]; ok {
		if existing := s.byID[id]; existing != nil && !existing.Consumed && !existing.Expired(time.Now()) {
			return fmt.Errorf("%w: state already active", domain.ErrInternal)
		}
	}
	cp := *session
	s.byID[cp.ID] = &cp
	s.byState[cp.State] = cp.ID
	return nil
}

func (s *MemorySessionStore) FindByState(_ context.Context, state string) (*domain.BrokerAuthSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byState[state]
	if !ok {
		return nil, domain.ErrNotFound
	}
	session := s.byID[id]
	if session == nil || session.Consumed || session.Expired(time.Now()) {
		return nil, domain.ErrNotFound
	}
	cp := *session
	return &cp, nil
}

func (s *MemorySessionStore) Consume(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.byID[id]
	if !ok || session.Consumed || session.Expired(time.Now()) {
		return domain.ErrInvalidState
	}
	session.Consumed = true
	return nil
}

func (s *MemorySessionStore) DeleteExpired(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for id, session := range s.byID {
		if session.Expired(now) {
			delete(s.byState, session.State)
			delete(s.byID, id)
		}
	}
	return nil
}

var _ domain.AuthSessionRepository = (*MemorySessionStore)(nil)
