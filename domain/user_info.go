package domain

// BrokeredUserInfo holds the normalized claims returned by an external
// identity source after successful authentication. It is produced fresh on
// every callback or bind and never persisted; it only drives the
// link-or-provision decision.
type BrokeredUserInfo struct {
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
	Username      string
}

// LdapUser is a normalized directory entry produced by a successful bind and
// search. A local User is matched or provisioned from it; the entry itself is
// never persisted.
type LdapUser struct {
	DN       string
	Username string
	Email    string
	Name     string
	RealmID  string
}
