package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"go.pilab.hu/idfed/domain"
)

// SessionStore implements domain.AuthSessionRepository on Redis. Sessions
// live under TTL keys so Redis evicts them at expiry; expiry is nevertheless
// re-checked on every read so a session can never be consumed past its TTL
// even with clock skew between broker and store. Consume relies on SETNX of a
// consumption marker: Redis executes it atomically, so exactly one of any set
// of racing callers wins.
type SessionStore struct {
	client *redis.Client
	prefix string
}

// NewSessionStore creates a SessionStore. prefix namespaces all keys.
func NewSessionStore(client *redis.Client, prefix string) *SessionStore {
	return &SessionStore{client: client, prefix: prefix}
}

func (s *SessionStore) idKey(id string) string {
	return fmt.Sprintf("%s:bas:id:%s", s.prefix, id)
}

func (s *SessionStore) stateKey(state string) string {
	return fmt.Sprintf("%s:bas:state:%s", s.prefix, state)
}

func (s *SessionStore) consumedKey(id string) string {
	return fmt.Sprintf("%s:bas:consumed:%s", s.prefix, id)
}

func (s *SessionStore) Create(ctx context.Context, session *domain.BrokerAuthSession) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal broker session: %w", err)
	}

	ttl := time.Until(session.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("%w: session already expired at creation", domain.ErrInternal)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.idKey(session.ID), payload, ttl)
	pipe.Set(ctx, s.stateKey(session.State), session.ID, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: failed to store broker session: %v", domain.ErrInternal, err)
	}
	return nil
}

func (s *SessionStore) FindByState(ctx context.Context, state string) (*domain.BrokerAuthSession, error) {
	id, err := s.client.Get(ctx, s.stateKey(state)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: session lookup failed: %v", domain.ErrInternal, err)
	}

	payload, err := s.client.Get(ctx, s.idKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: session lookup failed: %v", domain.ErrInternal, err)
	}

	consumed, err := s.client.Exists(ctx, s.consumedKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: session lookup failed: %v", domain.ErrInternal, err)
	}
	if consumed > 0 {
		return nil, domain.ErrNotFound
	}

	var session domain.BrokerAuthSession
	if err := json.Unmarshal([]byte(payload), &session); err != nil {
		return nil, fmt.Errorf("%w: malformed stored session: %v", domain.ErrInternal, err)
	}
	if session.Expired(time.Now()) {
		return nil, domain.ErrNotFound
	}
	return &session, nil
}

func (s *SessionStore) Consume(ctx context.Context, id string) error {
	payload, err := s.client.Get(ctx, s.idKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return domain.ErrInvalidState
	}
	if err != nil {
		return fmt.Errorf("%w: session consume failed: %v", domain.ErrInternal, err)
	}

	var session domain.BrokerAuthSession
	if err := json.Unmarshal([]byte(payload), &session); err != nil {
		return fmt.Errorf("%w: malformed stored session: %v", domain.ErrInternal, err)
	}
	if session.Expired(time.Now()) {
		return domain.ErrInvalidState
	}

	// The marker outlives the session key slightly so a late duplicate
	// callback still observes "consumed" rather than "unknown".
	ttl := time.Until(session.ExpiresAt) + time.Minute
	won, err := s.client.SetNX(ctx, s.consumedKey(id), "1", ttl).Result()
	if err != nil {
		return fmt.Errorf("%w: session consume failed: %v", domain.ErrInternal, err)
	}
	if !won {
		return domain.ErrInvalidState
	}
	return nil
}

// DeleteExpired is a no-op: Redis TTLs already evict expired sessions.
func (s *SessionStore) DeleteExpired(context.Context) error {
	return nil
}

var _ domain.AuthSessionRepository = (*SessionStore)(nil)
