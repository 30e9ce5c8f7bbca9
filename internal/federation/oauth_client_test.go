package federation_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"go.pilab.hu/idfed/domain"
	"go.pilab.hu/idfed/internal/federation"
)

func oidcProvider(authURL, tokenURL, userInfoURL string) *domain.IdentityProvider {
	return &domain.IdentityProvider{
		ID:        "idp-1",
		RealmID:   "acme",
		Alias:     "corp-oidc",
		Type:      domain.ProviderTypeOIDC,
		IsEnabled: true,
		OIDC: domain.OIDCConfig{
			ClientID:              "broker-client",
			ClientSecret:          "broker-secret",
			AuthorizationEndpoint: authURL,
			TokenEndpoint:         tokenURL,
			UserInfoEndpoint:      userInfoURL,
			Scopes:                []string{"openid", "email", "profile"},
		},
	}
}

func TestOAuthClient_AuthorizationURL(t *testing.T) {
	client := federation.NewOAuthClient(0)
	idp := oidcProvider("https://idp.example.com/auth", "https://idp.example.com/token", "")

	raw, err := client.AuthorizationURL(idp, "state123", "nonce456", "https://sso.example.com/callback")
	require.NoError(t, err)

	parsed, err := url.Parse(raw)
	require.NoError(t, err)
	q := parsed.Query()
	assert.Equal(t, "https://idp.example.com/auth", parsed.Scheme+"://"+parsed.Host+parsed.Path)
	assert.Equal(t, "broker-client", q.Get("client_id"))
	assert.Equal(t, "https://sso.example.com/callback", q.Get("redirect_uri"))
	assert.Equal(t, "state123", q.Get("state"))
	assert.Equal(t, "nonce456", q.Get("nonce"))
	assert.Equal(t, "openid email profile", q.Get("scope"))
	assert.Equal(t, "code", q.Get("response_type"))
}

func TestOAuthClient_AuthorizationURL_OmitsEmptyNonce(t *testing.T) {
	client := federation.NewOAuthClient(0)
	idp := oidcProvider("https://idp.example.com/auth", "https://idp.example.com/token", "")

	raw, err := client.AuthorizationURL(idp, "state123", "", "https://sso.example.com/callback")
	require.NoError(t, err)
	parsed, err := url.Parse(raw)
	require.NoError(t, err)
	assert.False(t, parsed.Query().Has("nonce"))
}

func TestOAuthClient_AuthorizationURL_Misconfigured(t *testing.T) {
	client := federation.NewOAuthClient(0)
	idp := oidcProvider("", "", "")

	_, err := client.AuthorizationURL(idp, "s", "", "https://sso.example.com/callback")
	require.Error(t, err)
	assert.True(t, errors.Is(err, federation.ErrProviderMisconfigured))
}

func TestOAuthClient_ExchangeCode_Success(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "authorization_code", r.Form.Get("grant_type"))
		assert.Equal(t, "good-code", r.Form.Get("code"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"at-123","token_type":"Bearer","expires_in":3600}`))
	}))
	defer ts.Close()

	client := federation.NewOAuthClient(2 * time.Second)
	idp := oidcProvider(ts.URL+"/auth", ts.URL, "")

	token, err := client.ExchangeCode(context.Background(), idp, "good-code", "https://sso.example.com/callback")
	require.NoError(t, err)
	assert.Equal(t, "at-123", token.AccessToken)
}

func TestOAuthClient_ExchangeCode_Rejected(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_grant"}`))
	}))
	defer ts.Close()

	client := federation.NewOAuthClient(2 * time.Second)
	idp := oidcProvider(ts.URL+"/auth", ts.URL, "")

	_, err := client.ExchangeCode(context.Background(), idp, "stale-code", "https://sso.example.com/callback")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrUpstreamRejected))
}

func TestOAuthClient_ExchangeCode_Unavailable(t *testing.T) {
	ts := httptest.NewServer(nil)
	ts.Close() // refuse all connections

	client := federation.NewOAuthClient(time.Second)
	idp := oidcProvider(ts.URL+"/auth", ts.URL, "")

	_, err := client.ExchangeCode(context.Background(), idp, "code", "https://sso.example.com/callback")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrUpstreamUnavailable))
}

func TestOAuthClient_FetchUserInfo_Normalizes(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer at-123", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"sub":"ext-42","email":"jo@example.com","email_verified":true,"given_name":"Jo","family_name":"Doe"}`))
	}))
	defer ts.Close()

	client := federation.NewOAuthClient(2 * time.Second)
	idp := oidcProvider("https://idp.example.com/auth", "https://idp.example.com/token", ts.URL)

	info, err := client.FetchUserInfo(context.Background(), idp, &oauth2.Token{AccessToken: "at-123", TokenType: "Bearer"})
	require.NoError(t, err)
	assert.Equal(t, "ext-42", info.Subject)
	assert.Equal(t, "jo@example.com", info.Email)
	assert.True(t, info.EmailVerified)
	assert.Equal(t, "Jo Doe", info.Name)
	assert.Equal(t, "jo@example.com", info.Username) // falls back to email
}

func TestOAuthClient_FetchUserInfo_MissingSubject(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"email":"jo@example.com"}`))
	}))
	defer ts.Close()

	client := federation.NewOAuthClient(2 * time.Second)
	idp := oidcProvider("https://idp.example.com/auth", "https://idp.example.com/token", ts.URL)

	_, err := client.FetchUserInfo(context.Background(), idp, &oauth2.Token{AccessToken: "at"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrUpstreamRejected))
}

func TestOAuthClient_FetchUserInfo_Rejected(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer ts.Close()

	client := federation.NewOAuthClient(2 * time.Second)
	idp := oidcProvider("https://idp.example.com/auth", "https://idp.example.com/token", ts.URL)

	_, err := client.FetchUserInfo(context.Background(), idp, &oauth2.Token{AccessToken: "expired"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrUpstreamRejected))
}
