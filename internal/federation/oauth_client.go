package federation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"go.pilab.hu/idfed/domain"
)

const defaultHTTPTimeout = 10 * time.Second

// OAuthClient speaks the OAuth2 authorization-code protocol toward external
// providers: it builds authorization URLs, exchanges codes for tokens and
// fetches normalized user info. Every network round-trip is bounded by the
// client timeout and never retried here; a failed exchange surfaces to the
// broker, which lets the caller restart the flow.
type OAuthClient struct {
	httpClient *http.Client
}

// NewOAuthClient creates an OAuthClient whose upstream calls time out after
// the given duration (defaultHTTPTimeout when non-positive).
func NewOAuthClient(timeout time.Duration) *OAuthClient {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return &OAuthClient{httpClient: &http.Client{Timeout: timeout}}
}

func oauthConfig(idp *domain.IdentityProvider, redirectURI string) (*oauth2.Config, error) {
	cfg := idp.OIDC
	if cfg.ClientID == "" || cfg.AuthorizationEndpoint == "" || cfg.TokenEndpoint == "" {
		return nil, fmt.Errorf("%w: provider %q lacks OAuth2 client id or endpoints", ErrProviderMisconfigured, idp.Alias)
	}
	return &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  redirectURI,
		Scopes:       cfg.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  cfg.AuthorizationEndpoint,
			TokenURL: cfg.TokenEndpoint,
		},
	}, nil
}

// AuthorizationURL deterministically constructs the URL the end user is
// redirected to. The state parameter guards the callback against CSRF; the
// nonce, when set, is bound into the provider's ID token.
func (c *OAuthClient) AuthorizationURL(idp *domain.IdentityProvider, state, nonce, redirectURI string) (string, error) {
	cfg, err := oauthConfig(idp, redirectURI)
	if err != nil {
		return "", err
	}
	opts := []oauth2.AuthCodeOption{}
	if nonce != "" {
		opts = append(opts, oauth2.SetAuthURLParam("nonce", nonce))
	}
	return cfg.AuthCodeURL(state, opts...), nil
}

// ExchangeCode trades an authorization code for tokens at the provider's
// token endpoint. A non-success response maps to ErrUpstreamRejected,
// transport and timeout failures to ErrUpstreamUnavailable.
func (c *OAuthClient) ExchangeCode(ctx context.Context, idp *domain.IdentityProvider, code, redirectURI string) (*oauth2.Token, error) {
	cfg, err := oauthConfig(idp, redirectURI)
	if err != nil {
		return nil, err
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	token, err := cfg.Exchange(ctx, code)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			return nil, fmt.Errorf("%w: token endpoint returned %d", domain.ErrUpstreamRejected, retrieveErr.Response.StatusCode)
		}
		return nil, fmt.Errorf("%w: token exchange with %q failed: %v", domain.ErrUpstreamUnavailable, idp.Alias, err)
	}
	return token, nil
}

// userInfoClaims is the superset of claim names the client understands.
// Provider-specific shapes are normalized into domain.BrokeredUserInfo.
type userInfoClaims struct {
	Sub               string `json:"sub"`
	Email             string `json:"email"`
	EmailVerified     bool   `json:"email_verified"`
	Name              string `json:"name"`
	GivenName         string `json:"given_name"`
	FamilyName        string `json:"family_name"`
	PreferredUsername string `json:"preferred_username"`
}

// FetchUserInfo retrieves and normalizes the provider's user-info document
// for the given access token.
func (c *OAuthClient) FetchUserInfo(ctx context.Context, idp *domain.IdentityProvider, token *oauth2.Token) (*domain.BrokeredUserInfo, error) {
	endpoint := idp.OIDC.UserInfoEndpoint
	if endpoint == "" {
		return nil, fmt.Errorf("%w: provider %q has no userinfo endpoint", ErrProviderMisconfigured, idp.Alias)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build userinfo request: %w", err)
	}
	token.SetAuthHeader(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: userinfo fetch from %q failed: %v", domain.ErrUpstreamUnavailable, idp.Alias, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("%w: userinfo endpoint returned %d: %s", domain.ErrUpstreamRejected, resp.StatusCode, body)
	}

	var claims userInfoClaims
	if err := json.NewDecoder(resp.Body).Decode(&claims); err != nil {
		return nil, fmt.Errorf("%w: malformed userinfo response: %v", domain.ErrUpstreamRejected, err)
	}
	if claims.Sub == "" {
		return nil, fmt.Errorf("%w: userinfo response carries no subject", domain.ErrUpstreamRejected)
	}

	name := claims.Name
	if name == "" && (claims.GivenName != "" || claims.FamilyName != "") {
		name = trimJoin(claims.GivenName, claims.FamilyName)
	}
	username := claims.PreferredUsername
	if username == "" {
		username = claims.Email
	}

	return &domain.BrokeredUserInfo{
		Subject:       claims.Sub,
		Email:         claims.Email,
		EmailVerified: claims.EmailVerified,
		Name:          name,
		Username:      username,
	}, nil
}

func trimJoin(first, last string) string {
	switch {
	case first == "":
		return last
	case last == "":
		return first
	default:
		return first + " " + last
	}
}
