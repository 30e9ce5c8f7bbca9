package domain

import "time"

// BrokerAuthSession is one short-lived, single-use login attempt against an
// external identity provider. The state token binds the authorization request
// to its callback; a session transitions exactly once from unconsumed to
// consumed and must never be accepted after expiry.
type BrokerAuthSession struct {
	ID          string    `bson:"_id,omitempty" json:"id,omitempty"`
	RealmID     string    `bson:"realm_id" json:"realm_id"`
	ProviderID  string    `bson:"provider_id" json:"provider_id"`
	State       string    `bson:"state" json:"state"`
	Nonce       string    `bson:"nonce,omitempty" json:"nonce,omitempty"`
	RedirectURI string    `bson:"redirect_uri,omitempty" json:"redirect_uri,omitempty"`
	CreatedAt   time.Time `bson:"created_at" json:"created_at"`
	ExpiresAt   time.Time `bson:"expires_at" json:"expires_at"`
	Consumed    bool      `bson:"consumed" json:"consumed"`
}

// Expired reports whether the session's TTL has elapsed at the given instant.
// Expiry is evaluated on every read, never only by a background sweep.
func (s *BrokerAuthSession) Expired(now time.Time) bool {
	return s.ExpiresAt.Before(now)
}
