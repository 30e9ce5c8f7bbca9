package federation

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"

	"github.com/go-ldap/ldap/v3"

	"go.pilab.hu/idfed/domain"
)

// LDAPClient is the mockable slice of directory operations the adapter needs.
//
//go:generate go run go.uber.org/mock/mockgen -source=$GOFILE -destination=mock/mock_$GOFILE -package=mock_$GOPACKAGE LDAPClient
type LDAPClient interface {
	Connect(url string, startTLS, skipTLSVerify bool) error
	Bind(username, password string) error
	// SearchUser runs the configured filter under baseDN and returns the
	// single matching entry. Zero or multiple matches are domain.ErrInvalidUser.
	SearchUser(baseDN, filter string, attributes []string) (*ldap.Entry, error)
	Close()
}

// DirectoryAdapter authenticates users against an LDAP directory and resolves
// the matched entry into a normalized LdapUser. Protocol: service bind,
// search for exactly one entry, then a second bind with the entry's DN to
// verify the supplied credential.
type DirectoryAdapter struct {
	newClient func() LDAPClient
}

// NewDirectoryAdapter creates an adapter that dials real LDAP connections.
func NewDirectoryAdapter() *DirectoryAdapter {
	return &DirectoryAdapter{newClient: func() LDAPClient { return &realLDAPClient{} }}
}

// NewDirectoryAdapterWithClient creates an adapter backed by the given client
// factory. Used by tests.
func NewDirectoryAdapterWithClient(factory func() LDAPClient) *DirectoryAdapter {
	return &DirectoryAdapter{newClient: factory}
}

// Authenticate verifies the username/password pair against the directory
// configured on the provider. Credential failures (ErrInvalidUser,
// ErrInvalidPassword) are distinct from ErrUpstreamUnavailable so callers can
// tell "directory is down" from "wrong password".
func (a *DirectoryAdapter) Authenticate(ctx context.Context, idp *domain.IdentityProvider, username, password string) (*domain.LdapUser, error) {
	cfg := idp.LDAP
	if cfg.ServerURL == "" || cfg.UserBaseDN == "" || cfg.UserFilter == "" || cfg.BindDN == "" {
		return nil, fmt.Errorf("%w: directory provider %q lacks connection parameters", ErrProviderMisconfigured, idp.Alias)
	}
	// An empty password would degrade the verification bind into an anonymous
	// bind, which some directories accept.
	if username == "" || password == "" {
		return nil, domain.ErrInvalidPassword
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	client := a.newClient()
	if err := client.Connect(cfg.ServerURL, cfg.StartTLS, cfg.SkipTLSVerify); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUpstreamUnavailable, err)
	}
	defer client.Close()

	if err := client.Bind(cfg.BindDN, cfg.BindPassword); err != nil {
		if isInvalidCredentials(err) {
			return nil, fmt.Errorf("%w: directory rejected service credentials", domain.ErrUpstreamRejected)
		}
		return nil, fmt.Errorf("%w: service bind failed: %v", domain.ErrUpstreamUnavailable, err)
	}

	filter := fmt.Sprintf(cfg.UserFilter, ldap.EscapeFilter(username))
	entry, err := client.SearchUser(cfg.UserBaseDN, filter, a.attributes(cfg))
	if err != nil {
		if errors.Is(err, domain.ErrInvalidUser) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: directory search failed: %v", domain.ErrUpstreamUnavailable, err)
	}

	if err := client.Bind(entry.DN, password); err != nil {
		if isInvalidCredentials(err) {
			return nil, domain.ErrInvalidPassword
		}
		return nil, fmt.Errorf("%w: verification bind failed: %v", domain.ErrUpstreamUnavailable, err)
	}

	return a.mapEntry(idp, entry, username), nil
}

func (a *DirectoryAdapter) attributes(cfg domain.LDAPConfig) []string {
	attrs := make([]string, 0, 3)
	for _, attr := range []string{cfg.AttrUsername, cfg.AttrEmail, cfg.AttrName} {
		if attr != "" && attr != "dn" {
			attrs = append(attrs, attr)
		}
	}
	return attrs
}

func (a *DirectoryAdapter) mapEntry(idp *domain.IdentityProvider, entry *ldap.Entry, loginUsername string) *domain.LdapUser {
	cfg := idp.LDAP
	user := &domain.LdapUser{
		DN:       entry.DN,
		Username: loginUsername,
		RealmID:  idp.RealmID,
	}
	if cfg.AttrUsername != "" && cfg.AttrUsername != "dn" {
		if v := entry.GetAttributeValue(cfg.AttrUsername); v != "" {
			user.Username = v
		}
	}
	if cfg.AttrEmail != "" {
		user.Email = entry.GetAttributeValue(cfg.AttrEmail)
	}
	if cfg.AttrName != "" {
		user.Name = entry.GetAttributeValue(cfg.AttrName)
	}
	return user
}

func isInvalidCredentials(err error) bool {
	var ldapErr *ldap.Error
	return errors.As(err, &ldapErr) && ldapErr.ResultCode == ldap.LDAPResultInvalidCredentials
}

// realLDAPClient wraps a go-ldap connection behind the LDAPClient interface.
type realLDAPClient struct {
	conn *ldap.Conn
}

func (r *realLDAPClient) Connect(url string, startTLS, skipTLSVerify bool) error {
	conn, err := ldap.DialURL(url)
	if err != nil {
		return fmt.Errorf("ldap connection to %s failed: %w", url, err)
	}
	if startTLS {
		if err := conn.StartTLS(&tls.Config{InsecureSkipVerify: skipTLSVerify}); err != nil {
			conn.Close()
			return fmt.Errorf("ldap starttls for %s failed: %w", url, err)
		}
	}
	r.conn = conn
	return nil
}

func (r *realLDAPClient) Bind(username, password string) error {
	if r.conn == nil {
		return fmt.Errorf("ldap connection not established for bind")
	}
	return r.conn.Bind(username, password)
}

func (r *realLDAPClient) SearchUser(baseDN, filter string, attributes []string) (*ldap.Entry, error) {
	if r.conn == nil {
		return nil, fmt.Errorf("ldap connection not established for search")
	}
	req := ldap.NewSearchRequest(
		baseDN,
		ldap.ScopeWholeSubtree,
		ldap.NeverDerefAliases,
		0, 0, false,
		filter,
		attributes,
		nil,
	)
	res, err := r.conn.Search(req)
	if err != nil {
		return nil, fmt.Errorf("ldap search failed (filter: %s): %w", filter, err)
	}
	switch len(res.Entries) {
	case 0:
		return nil, fmt.Errorf("%w: no directory entry matches", domain.ErrInvalidUser)
	case 1:
		return res.Entries[0], nil
	default:
		return nil, fmt.Errorf("%w: filter matched %d entries, expected 1", domain.ErrInvalidUser, len(res.Entries))
	}
}

func (r *realLDAPClient) Close() {
	if r.conn != nil {
		r.conn.Close()
		r.conn = nil
	}
}

var _ LDAPClient = (*realLDAPClient)(nil)
