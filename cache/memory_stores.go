package cache

import (
	"context"
	"fmt"
	"sync"

	"go.pilab.hu/idfed/domain"
)

// In-memory repository implementations backing development setups and tests.
// They enforce the same uniqueness invariants as the MongoDB repositories so
// the broker's race handling behaves identically against either backend.

// MemoryLinkStore is an in-memory IdentityLinkRepository.
type MemoryLinkStore struct {
	mu    sync.RWMutex
	links map[string]*domain.IdentityProviderLink // keyed by link id
}

// NewMemoryLinkStore creates an empty MemoryLinkStore.
func NewMemoryLinkStore() *MemoryLinkStore {
	return &MemoryLinkStore{links: make(map[string]*domain.IdentityProviderLink)}
}

func (s *MemoryLinkStore) Create(_ context.Context, link *domain.IdentityProviderLink) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.links {
		if existing.ProviderID != link.ProviderID {
			continue
		}
		if existing.Subject == link.Subject || existing.UserID == link.UserID {
			return domain.ErrDuplicateLink
		}
	}
	cp := *link
	s.links[cp.ID] = &cp
	return nil
}

func (s *MemoryLinkStore) FindBySubject(_ context.Context, providerID, subject string) (*domain.IdentityProviderLink, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, link := range s.links {
		if link.ProviderID == providerID && link.Subject == subject {
			cp := *link
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *MemoryLinkStore) FindByUser(_ context.Context, providerID, userID string) (*domain.IdentityProviderLink, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, link := range s.links {
		if link.ProviderID == providerID && link.UserID == userID {
			cp := *link
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *MemoryLinkStore) ListByUser(_ context.Context, userID string) ([]*domain.IdentityProviderLink, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.IdentityProviderLink
	for _, link := range s.links {
		if link.UserID == userID {
			cp := *link
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryLinkStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.links[id]; !ok {
		return domain.ErrNotFound
	}
	delete(s.links, id)
	return nil
}

var _ domain.IdentityLinkRepository = (*MemoryLinkStore)(nil)

// MemoryUserStore is an in-memory UserRepository.
type MemoryUserStore struct {
	mu    sync.RWMutex
	users map[string]*domain.User
}

// NewMemoryUserStore creates an empty MemoryUserStore.
func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{users: make(map[string]*domain.User)}
}

func (s *MemoryUserStore) Create(_ context.Context, user *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user.Email != "" {
		for _, existing := range s.users {
			if existing.RealmID == user.RealmID && existing.Email == user.Email {
				return domain.ErrDuplicateUser
			}
		}
	}
	cp := *user
	s.users[cp.ID] = &cp
	return nil
}

func (s *MemoryUserStore) GetByID(_ context.Context, id string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *user
	return &cp, nil
}

func (s *MemoryUserStore) GetByEmail(_ context.Context, realmID, email string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if email == "" {
		return nil, domain.ErrNotFound
	}
	for _, user := range s.users {
		if user.RealmID == realmID && user.Email == email {
			cp := *user
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *MemoryUserStore) Update(_ context.Context, user *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[user.ID]; !ok {
		return domain.ErrNotFound
	}
	cp := *user
	s.users[cp.ID] = &cp
	return nil
}

func (s *MemoryUserStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[id]; !ok {
		return domain.ErrNotFound
	}
	delete(s.users, id)
	return nil
}

var _ domain.UserRepository = (*MemoryUserStore)(nil)

// MemoryProviderStore is an in-memory IdentityProviderRepository.
type MemoryProviderStore struct {
	mu   sync.RWMutex
	idps map[string]*domain.IdentityProvider
}

// NewMemoryProviderStore creates an empty MemoryProviderStore.
func NewMemoryProviderStore() *MemoryProviderStore {
	return &MemoryProviderStore{idps: make(map[string]*domain.IdentityProvider)}
}

func (s *MemoryProviderStore) Create(_ context.Context, idp *domain.IdentityProvider) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.idps {
		if existing.RealmID == idp.RealmID && existing.Alias == idp.Alias {
			return fmt.Errorf("identity provider alias %q already exists in realm %q", idp.Alias, idp.RealmID)
		}
	}
	cp := *idp
	s.idps[cp.ID] = &cp
	return nil
}

func (s *MemoryProviderStore) GetByID(_ context.Context, id string) (*domain.IdentityProvider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idp, ok := s.idps[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *idp
	return &cp, nil
}

func (s *MemoryProviderStore) GetByAlias(_ context.Context, realmID, alias string) (*domain.IdentityProvider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, idp := range s.idps {
		if idp.RealmID == realmID && idp.Alias == alias {
			cp := *idp
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *MemoryProviderStore) List(_ context.Context, realmID string, onlyEnabled bool) ([]*domain.IdentityProvider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.IdentityProvider
	for _, idp := range s.idps {
		if idp.RealmID != realmID {
			continue
		}
		if onlyEnabled && !idp.IsEnabled {
			continue
		}
		cp := *idp
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryProviderStore) Update(_ context.Context, idp *domain.IdentityProvider) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.idps[idp.ID]; !ok {
		return domain.ErrNotFound
	}
	cp := *idp
	s.idps[cp.ID] = &cp
	return nil
}

func (s *MemoryProviderStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.idps[id]; !ok {
		return domain.ErrNotFound
	}
	delete(s.idps, id)
	return nil
}

var _ domain.IdentityProviderRepository = (*MemoryProviderStore)(nil)
