package domain

import "time"

// UserStatus defines the possible statuses of a local account.
type UserStatus string

const (
	UserStatusActive UserStatus = "ACTIVE"
	UserStatusLocked UserStatus = "LOCKED"
)

// User is a local account within a realm. Accounts provisioned through a
// brokered login carry an empty PasswordHash until one is set explicitly.
type User struct {
	ID           string     `bson:"_id,omitempty" json:"id,omitempty"`
	RealmID      string     `bson:"realm_id" json:"realm_id"`
	Email        string     `bson:"email,omitempty" json:"email,omitempty"`
	Name         string     `bson:"name,omitempty" json:"name,omitempty"`
	PasswordHash string     `bson:"password_hash,omitempty" json:"-"`
	Status       UserStatus `bson:"status" json:"status"`
	CreatedAt    time.Time  `bson:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `bson:"updated_at" json:"updated_at"`
	LastLoginAt  *time.Time `bson:"last_login_at,omitempty" json:"last_login_at,omitempty"`
}
