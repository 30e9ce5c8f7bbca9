package crypto

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.pilab.hu/idfed/domain"
)

func newTestIssuer(t *testing.T) *TokenIssuer {
	t.Helper()
	issuer, err := NewTokenIssuer([]byte("test-signing-secret"), "idfed-test")
	require.NoError(t, err)
	return issuer
}

func TestTokenIssuer_RoundTrip(t *testing.T) {
	issuer := newTestIssuer(t)

	token, err := issuer.Issue("user-1", "acme", time.Minute)
	require.NoError(t, err)

	claims, err := issuer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "acme", claims.RealmID)
	assert.Equal(t, "idfed-test", claims.Issuer)
	assert.NotEmpty(t, claims.ID)
	assert.WithinDuration(t, time.Now().Add(time.Minute), claims.ExpiresAt.Time, 5*time.Second)
}

func TestTokenIssuer_Expired(t *testing.T) {
	issuer := newTestIssuer(t)

	token, err := issuer.Issue("user-1", "acme", -time.Minute)
	require.NoError(t, err)

	_, err = issuer.Verify(token)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidToken))
}

func TestTokenIssuer_WrongKey(t *testing.T) {
	issuer := newTestIssuer(t)
	other, err := NewTokenIssuer([]byte("a-different-secret"), "idfed-test")
	require.NoError(t, err)

	token, err := issuer.Issue("user-1", "acme", time.Minute)
	require.NoError(t, err)

	_, err = other.Verify(token)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidToken))
}

func TestTokenIssuer_Malformed(t *testing.T) {
	issuer := newTestIssuer(t)

	for _, token := range []string{"", "garbage", "a.b.c"} {
		_, err := issuer.Verify(token)
		require.Error(t, err, "token %q", token)
		assert.True(t, errors.Is(err, domain.ErrInvalidToken))
	}
}

func TestNewTokenIssuer_RejectsEmptySecret(t *testing.T) {
	_, err := NewTokenIssuer(nil, "idfed-test")
	require.Error(t, err)
}
