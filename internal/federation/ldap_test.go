package federation_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"go.pilab.hu/idfed/domain"
	"go.pilab.hu/idfed/internal/federation"
	mock_federation "go.pilab.hu/idfed/internal/federation/mock"
)

func ldapProvider() *domain.IdentityProvider {
	return &domain.IdentityProvider{
		ID:        "idp-ldap",
		RealmID:   "acme",
		Alias:     "corp-ldap",
		Type:      domain.ProviderTypeLDAP,
		IsEnabled: true,
		LDAP: domain.LDAPConfig{
			ServerURL:    "ldaps://ldap.example.com:636",
			BindDN:       "cn=svc,dc=example,dc=com",
			BindPassword: "svc-secret",
			UserBaseDN:   "ou=people,dc=example,dc=com",
			UserFilter:   "(uid=%s)",
			AttrUsername: "uid",
			AttrEmail:    "mail",
			AttrName:     "cn",
		},
	}
}

func adapterWith(client federation.LDAPClient) *federation.DirectoryAdapter {
	return federation.NewDirectoryAdapterWithClient(func() federation.LDAPClient { return client })
}

func directoryEntry() *ldap.Entry {
	return ldap.NewEntry("uid=jdoe,ou=people,dc=example,dc=com", map[string][]string{
		"uid":  {"jdoe"},
		"mail": {"jdoe@example.com"},
		"cn":   {"Jane Doe"},
	})
}

func TestDirectoryAdapter_Authenticate_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mock_federation.NewMockLDAPClient(ctrl)
	entry := directoryEntry()

	client.EXPECT().Connect("ldaps://ldap.example.com:636", false, false).Return(nil)
	client.EXPECT().Bind("cn=svc,dc=example,dc=com", "svc-secret").Return(nil)
	client.EXPECT().SearchUser("ou=people,dc=example,dc=com", "(uid=jdoe)", gomock.Any()).Return(entry, nil)
	client.EXPECT().Bind("uid=jdoe,ou=people,dc=example,dc=com", "correct-horse").Return(nil)
	client.EXPECT().Close()

	user, err := adapterWith(client).Authenticate(context.Background(), ldapProvider(), "jdoe", "correct-horse")
	require.NoError(t, err)
	assert.Equal(t, "uid=jdoe,ou=people,dc=example,dc=com", user.DN)
	assert.Equal(t, "jdoe", user.Username)
	assert.Equal(t, "jdoe@example.com", user.Email)
	assert.Equal(t, "Jane Doe", user.Name)
	assert.Equal(t, "acme", user.RealmID)
}

func TestDirectoryAdapter_Authenticate_WrongPassword(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mock_federation.NewMockLDAPClient(ctrl)

	client.EXPECT().Connect(gomock.Any(), false, false).Return(nil)
	client.EXPECT().Bind("cn=svc,dc=example,dc=com", "svc-secret").Return(nil)
	client.EXPECT().SearchUser(gomock.Any(), "(uid=jdoe)", gomock.Any()).Return(directoryEntry(), nil)
	client.EXPECT().Bind("uid=jdoe,ou=people,dc=example,dc=com", "wrong").
		Return(ldap.NewError(ldap.LDAPResultInvalidCredentials, errors.New("invalid credentials")))
	client.EXPECT().Close()

	_, err := adapterWith(client).Authenticate(context.Background(), ldapProvider(), "jdoe", "wrong")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidPassword))
}

func TestDirectoryAdapter_Authenticate_AmbiguousUser(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mock_federation.NewMockLDAPClient(ctrl)

	client.EXPECT().Connect(gomock.Any(), false, false).Return(nil)
	client.EXPECT().Bind(gomock.Any(), gomock.Any()).Return(nil)
	client.EXPECT().SearchUser(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil, fmt.Errorf("%w: filter matched 2 entries, expected 1", domain.ErrInvalidUser))
	client.EXPECT().Close()

	_, err := adapterWith(client).Authenticate(context.Background(), ldapProvider(), "jdoe", "pw")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidUser))
}

func TestDirectoryAdapter_Authenticate_UnknownUser(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mock_federation.NewMockLDAPClient(ctrl)

	client.EXPECT().Connect(gomock.Any(), false, false).Return(nil)
	client.EXPECT().Bind(gomock.Any(), gomock.Any()).Return(nil)
	client.EXPECT().SearchUser(gomock.Any(), "(uid=ghost)", gomock.Any()).
		Return(nil, domain.ErrInvalidUser)
	client.EXPECT().Close()

	_, err := adapterWith(client).Authenticate(context.Background(), ldapProvider(), "ghost", "pw")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidUser))
}

func TestDirectoryAdapter_Authenticate_DirectoryDown(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mock_federation.NewMockLDAPClient(ctrl)

	client.EXPECT().Connect(gomock.Any(), false, false).Return(errors.New("connection refused"))

	_, err := adapterWith(client).Authenticate(context.Background(), ldapProvider(), "jdoe", "pw")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrUpstreamUnavailable))
}

func TestDirectoryAdapter_Authenticate_EscapesFilterInput(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mock_federation.NewMockLDAPClient(ctrl)

	client.EXPECT().Connect(gomock.Any(), false, false).Return(nil)
	client.EXPECT().Bind(gomock.Any(), gomock.Any()).Return(nil)
	client.EXPECT().SearchUser(gomock.Any(), `(uid=\2a\29\28uid=admin)`, gomock.Any()).
		Return(nil, domain.ErrInvalidUser)
	client.EXPECT().Close()

	_, err := adapterWith(client).Authenticate(context.Background(), ldapProvider(), "*)(uid=admin", "pw")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidUser))
}

func TestDirectoryAdapter_Authenticate_EmptyPassword(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mock_federation.NewMockLDAPClient(ctrl)
	// No Connect expected: an empty password is rejected before dialing, so an
	// anonymous bind can never masquerade as a credential check.

	_, err := adapterWith(client).Authenticate(context.Background(), ldapProvider(), "jdoe", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidPassword))
}

func TestDirectoryAdapter_Authenticate_Misconfigured(t *testing.T) {
	idp := ldapProvider()
	idp.LDAP.UserFilter = ""

	_, err := federation.NewDirectoryAdapter().Authenticate(context.Background(), idp, "jdoe", "pw")
	require.Error(t, err)
	assert.True(t, errors.Is(err, federation.ErrProviderMisconfigured))
}
