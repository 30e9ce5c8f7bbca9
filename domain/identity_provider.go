package domain

import "time"

// ProviderType defines the protocol of an external identity provider.
type ProviderType string

const (
	ProviderTypeOIDC ProviderType = "OIDC"
	ProviderTypeLDAP ProviderType = "LDAP"
)

// IdentityProvider holds the realm-scoped configuration for one external
// identity source. The alias is unique within its realm.
type IdentityProvider struct {
	ID        string       `bson:"_id,omitempty" json:"id,omitempty"`
	RealmID   string       `bson:"realm_id" json:"realm_id"`
	Alias     string       `bson:"alias" json:"alias"`
	Type      ProviderType `bson:"type" json:"type"`
	IsEnabled bool         `bson:"is_enabled" json:"is_enabled"`

	// TrustEmail opts this provider into silent email-based account linking.
	// When set, a first brokered login whose verified email matches an
	// existing local account links to that account instead of provisioning a
	// new one. This trusts the provider's email-verification claim and is
	// therefore off by default.
	TrustEmail bool `bson:"trust_email" json:"trust_email"`

	OIDC OIDCConfig `bson:"oidc_config,omitempty" json:"oidc_config,omitempty"`
	LDAP LDAPConfig `bson:"ldap_config,omitempty" json:"ldap_config,omitempty"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// OIDCConfig carries the protocol endpoints and client credentials for an
// OAuth2/OIDC provider. Endpoints are configured explicitly; no discovery
// round-trip happens during a login.
type OIDCConfig struct {
	ClientID              string   `bson:"client_id,omitempty" json:"client_id,omitempty"`
	ClientSecret          string   `bson:"client_secret,omitempty" json:"-"`
	AuthorizationEndpoint string   `bson:"authorization_endpoint,omitempty" json:"authorization_endpoint,omitempty"`
	TokenEndpoint         string   `bson:"token_endpoint,omitempty" json:"token_endpoint,omitempty"`
	UserInfoEndpoint      string   `bson:"userinfo_endpoint,omitempty" json:"userinfo_endpoint,omitempty"`
	Scopes                []string `bson:"scopes,omitempty" json:"scopes,omitempty"`
}

// LDAPConfig carries the connection parameters and attribute mapping for a
// directory provider. UserFilter must contain exactly one %s placeholder for
// the (escaped) login username.
type LDAPConfig struct {
	ServerURL     string `bson:"server_url,omitempty"     json:"server_url,omitempty"`
	BindDN        string `bson:"bind_dn,omitempty"        json:"bind_dn,omitempty"`
	BindPassword  string `bson:"bind_password,omitempty"  json:"-"`
	UserBaseDN    string `bson:"user_base_dn,omitempty"   json:"user_base_dn,omitempty"`
	UserFilter    string `bson:"user_filter,omitempty"    json:"user_filter,omitempty"`
	AttrUsername  string `bson:"attr_username,omitempty"  json:"attr_username,omitempty"`
	AttrEmail     string `bson:"attr_email,omitempty"     json:"attr_email,omitempty"`
	AttrName      string `bson:"attr_name,omitempty"      json:"attr_name,omitempty"`
	StartTLS      bool   `bson:"start_tls,omitempty"      json:"start_tls,omitempty"`
	SkipTLSVerify bool   `bson:"skip_tls_verify,omitempty" json:"skip_tls_verify,omitempty"`
}
