package domain

import "time"

// IdentityProviderLink is the durable binding between one external identity
// and one local account. Unique per (provider, subject) and per
// (provider, user); never mutated after creation, removed only by explicit
// unlinking.
type IdentityProviderLink struct {
	ID               string    `bson:"_id,omitempty" json:"id,omitempty"`
	RealmID          string    `bson:"realm_id" json:"realm_id"`
	ProviderID       string    `bson:"provider_id" json:"provider_id"`
	UserID           string    `bson:"user_id" json:"user_id"`
	Subject          string    `bson:"subject" json:"subject"`
	ProviderEmail    string    `bson:"provider_email,omitempty" json:"provider_email,omitempty"`
	ProviderUsername string    `bson:"provider_username,omitempty" json:"provider_username,omitempty"`
	CreatedAt        time.Time `bson:"created_at" json:"created_at"`
}
