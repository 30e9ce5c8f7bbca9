package domain

import "context"

// IdentityProviderRepository stores realm-scoped provider configurations.
type IdentityProviderRepository interface {
	Create(ctx context.Context, idp *IdentityProvider) error
	GetByID(ctx context.Context, id string) (*IdentityProvider, error)
	// GetByAlias resolves a provider by its alias within a realm. Returns
	// ErrNotFound for unknown aliases; enabled-ness is the caller's concern.
	GetByAlias(ctx context.Context, realmID, alias string) (*IdentityProvider, error)
	List(ctx context.Context, realmID string, onlyEnabled bool) ([]*IdentityProvider, error)
	Update(ctx context.Context, idp *IdentityProvider) error
	Delete(ctx context.Context, id string) error
}

// AuthSessionRepository stores short-lived, single-use broker login sessions.
// It is the sole mutator of a session: creation and consumption.
type AuthSessionRepository interface {
	Create(ctx context.Context, session *BrokerAuthSession) error
	// FindByState returns ErrNotFound for unknown, expired or already consumed
	// sessions. Expiry is checked at read time.
	FindByState(ctx context.Context, state string) (*BrokerAuthSession, error)
	// Consume atomically marks the session consumed. Exactly one of any set of
	// concurrent callers succeeds; the rest observe ErrInvalidState. Expired
	// sessions cannot be consumed.
	Consume(ctx context.Context, id string) error
	// DeleteExpired removes expired sessions. Storage hygiene only; lookups
	// already treat expired sessions as nonexistent.
	DeleteExpired(ctx context.Context) error
}

// IdentityLinkRepository stores the durable external-subject to local-user
// bindings. The uniqueness invariants are enforced at the storage layer so
// concurrent first logins cannot create two links for the same subject.
type IdentityLinkRepository interface {
	// Create returns ErrDuplicateLink when either uniqueness invariant
	// (provider+subject, provider+user) is violated.
	Create(ctx context.Context, link *IdentityProviderLink) error
	FindBySubject(ctx context.Context, providerID, subject string) (*IdentityProviderLink, error)
	FindByUser(ctx context.Context, providerID, userID string) (*IdentityProviderLink, error)
	ListByUser(ctx context.Context, userID string) ([]*IdentityProviderLink, error)
	Delete(ctx context.Context, id string) error
}

// UserRepository is the slice of local account storage the broker needs.
type UserRepository interface {
	// Create returns ErrDuplicateUser on an email collision within the realm.
	Create(ctx context.Context, user *User) error
	GetByID(ctx context.Context, id string) (*User, error)
	GetByEmail(ctx context.Context, realmID, email string) (*User, error)
	Update(ctx context.Context, user *User) error
	Delete(ctx context.Context, id string) error
}
