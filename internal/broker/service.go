package broker

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"

	"go.pilab.hu/idfed/domain"
	"go.pilab.hu/idfed/internal/crypto"
)

const (
	// DefaultSessionTTL bounds how long an initiated login may wait for its
	// callback before the state token dies.
	DefaultSessionTTL = 10 * time.Minute

	// DefaultTokenTTL is the lifetime of issued session tokens.
	DefaultTokenTTL = time.Hour

	// providerCacheTTL bounds staleness of cached provider configurations.
	providerCacheTTL = 30 * time.Second
)

// OAuthExchanger is the protocol-client contract the broker depends on.
// Implemented by federation.OAuthClient.
type OAuthExchanger interface {
	AuthorizationURL(idp *domain.IdentityProvider, state, nonce, redirectURI string) (string, error)
	ExchangeCode(ctx context.Context, idp *domain.IdentityProvider, code, redirectURI string) (*oauth2.Token, error)
	FetchUserInfo(ctx context.Context, idp *domain.IdentityProvider, token *oauth2.Token) (*domain.BrokeredUserInfo, error)
}

// DirectoryAuthenticator is the directory-adapter contract the broker depends
// on. Implemented by federation.DirectoryAdapter.
type DirectoryAuthenticator interface {
	Authenticate(ctx context.Context, idp *domain.IdentityProvider, username, password string) (*domain.LdapUser, error)
}

// Config carries the broker's tunables. CallbackBaseURL is the externally
// reachable URL of the callback endpoint; the realm is appended as a path
// segment when registering redirect URIs with providers.
type Config struct {
	CallbackBaseURL string
	SessionTTL      time.Duration
	TokenTTL        time.Duration
}

func (c Config) withDefaults() Config {
	if c.SessionTTL <= 0 {
		c.SessionTTL = DefaultSessionTTL
	}
	if c.TokenTTL <= 0 {
		c.TokenTTL = DefaultTokenTTL
	}
	return c
}

// LoginOutput is the result of initiating a brokered login: either a URL to
// redirect the user to, or a signal that the caller must prompt for directory
// credentials.
type LoginOutput struct {
	SessionID         string `json:"session_id"`
	AuthorizationURL  string `json:"authorization_url,omitempty"`
	PromptCredentials bool   `json:"prompt_credentials,omitempty"`
}

// CallbackOutput is the result of a completed brokered login: the resolved
// local user plus freshly issued session material.
type CallbackOutput struct {
	User        *domain.User `json:"user"`
	AccessToken string       `json:"access_token"`
	TokenType   string       `json:"token_type"`
	ExpiresIn   int64        `json:"expires_in"`
}

// Service orchestrates the two-phase brokered login protocol: initiate an
// external login, then resolve the callback (or direct bind) into a local
// account, linking or provisioning as needed.
type Service struct {
	idps      domain.IdentityProviderRepository
	sessions  domain.AuthSessionRepository
	links     domain.IdentityLinkRepository
	users     domain.UserRepository
	oauth     OAuthExchanger
	directory DirectoryAuthenticator
	tokens    *crypto.TokenIssuer
	cfg       Config

	idpCache *ttlcache.Cache[string, *domain.IdentityProvider]
}

// NewService wires a broker Service. Stores are injected contracts; any
// implementation honoring their atomicity and uniqueness guarantees works.
func NewService(
	idps domain.IdentityProviderRepository,
	sessions domain.AuthSessionRepository,
	links domain.IdentityLinkRepository,
	users domain.UserRepository,
	oauth OAuthExchanger,
	directory DirectoryAuthenticator,
	tokens *crypto.TokenIssuer,
	cfg Config,
) *Service {
	cache := ttlcache.New(
		ttlcache.WithTTL[string, *domain.IdentityProvider](providerCacheTTL),
		ttlcache.WithDisableTouchOnHit[string, *domain.IdentityProvider](),
	)
	go cache.Start()

	return &Service{
		idps:      idps,
		sessions:  sessions,
		links:     links,
		users:     users,
		oauth:     oauth,
		directory: directory,
		tokens:    tokens,
		cfg:       cfg.withDefaults(),
		idpCache:  cache,
	}
}

// Stop releases background resources. Call on shutdown.
func (s *Service) Stop() {
	s.idpCache.Stop()
}

// InitiateLogin starts a brokered login against the provider registered under
// the alias in the realm. One session row is created regardless of provider
// type; OIDC providers additionally get a nonce bound to the session.
func (s *Service) InitiateLogin(ctx context.Context, realmID, providerAlias, requestedRedirect string) (*LoginOutput, error) {
	idp, err := s.provider(ctx, realmID, providerAlias)
	if err != nil {
		return nil, err
	}

	state, err := randomToken()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to generate auth state", domain.ErrInternal)
	}

	now := time.Now().UTC()
	session := &domain.BrokerAuthSession{
		ID:          uuid.NewString(),
		RealmID:     realmID,
		ProviderID:  idp.ID,
		State:       state,
		RedirectURI: requestedRedirect,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.cfg.SessionTTL),
	}
	if idp.Type == domain.ProviderTypeOIDC {
		nonce, err := randomToken()
		if err != nil {
			return nil, fmt.Errorf("%w: failed to generate nonce", domain.ErrInternal)
		}
		session.Nonce = nonce
	}

	if err := s.sessions.Create(ctx, session); err != nil {
		log.Error().Err(err).Str("realm", realmID).Str("provider", providerAlias).Msg("Failed to store broker auth session")
		return nil, fmt.Errorf("%w: session storage failed", domain.ErrInternal)
	}

	if idp.Type == domain.ProviderTypeLDAP {
		return &LoginOutput{SessionID: session.ID, PromptCredentials: true}, nil
	}

	authURL, err := s.oauth.AuthorizationURL(idp, session.State, session.Nonce, s.callbackURL(realmID))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInternal, err)
	}
	return &LoginOutput{SessionID: session.ID, AuthorizationURL: authURL}, nil
}

// HandleCallback completes an OAuth/OIDC login. The session is atomically
// consumed before any upstream call, so a replayed callback observes
// ErrInvalidState even when the first attempt later fails; the flow must then
// be restarted from InitiateLogin.
func (s *Service) HandleCallback(ctx context.Context, realmID, state, code string) (*CallbackOutput, error) {
	session, err := s.sessions.FindByState(ctx, state)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrInvalidState
		}
		log.Error().Err(err).Msg("Broker session lookup failed")
		return nil, fmt.Errorf("%w: session lookup failed", domain.ErrInternal)
	}
	if session.RealmID != realmID {
		return nil, domain.ErrInvalidRealm
	}
	if err := s.sessions.Consume(ctx, session.ID); err != nil {
		if errors.Is(err, domain.ErrInvalidState) {
			return nil, domain.ErrInvalidState
		}
		log.Error().Err(err).Str("session", session.ID).Msg("Broker session consume failed")
		return nil, fmt.Errorf("%w: session consume failed", domain.ErrInternal)
	}

	idp, err := s.providerByID(ctx, session.ProviderID)
	if err != nil {
		return nil, err
	}

	token, err := s.oauth.ExchangeCode(ctx, idp, code, s.callbackURL(realmID))
	if err != nil {
		return nil, err
	}
	info, err := s.oauth.FetchUserInfo(ctx, idp, token)
	if err != nil {
		return nil, err
	}

	user, err := s.resolveUser(ctx, idp, info)
	if err != nil {
		return nil, err
	}
	return s.finishLogin(ctx, user)
}

// HandleDirectoryLogin completes a login against an LDAP provider. The
// directory username keys the identity link, since LDAP carries no stable
// opaque subject claim.
func (s *Service) HandleDirectoryLogin(ctx context.Context, realmID, providerAlias, username, password string) (*CallbackOutput, error) {
	idp, err := s.provider(ctx, realmID, providerAlias)
	if err != nil {
		return nil, err
	}
	if idp.Type != domain.ProviderTypeLDAP {
		return nil, fmt.Errorf("%w: provider %q is not a directory", domain.ErrNotFound, providerAlias)
	}

	ldapUser, err := s.directory.Authenticate(ctx, idp, username, password)
	if err != nil {
		return nil, err
	}

	info := &domain.BrokeredUserInfo{
		Subject:  ldapUser.Username,
		Email:    ldapUser.Email,
		Name:     ldapUser.Name,
		Username: ldapUser.Username,
		// The directory authenticated the entry; its email attribute is as
		// trustworthy as the directory itself.
		EmailVerified: ldapUser.Email != "",
	}

	user, err := s.resolveUser(ctx, idp, info)
	if err != nil {
		return nil, err
	}
	return s.finishLogin(ctx, user)
}

// resolveUser applies the link-or-match-or-provision policy:
//  1. an existing link for (provider, subject) wins;
//  2. otherwise, if the provider opted into TrustEmail and the external email
//     is verified, an existing local account with that email is linked
//     silently — this deliberately trusts the provider's verification claim;
//  3. otherwise a new local account is provisioned and linked.
//
// Concurrent first logins for the same subject race on the link store's
// uniqueness constraint; the loser re-reads the winning link.
func (s *Service) resolveUser(ctx context.Context, idp *domain.IdentityProvider, info *domain.BrokeredUserInfo) (*domain.User, error) {
	link, err := s.links.FindBySubject(ctx, idp.ID, info.Subject)
	switch {
	case err == nil:
		user, err := s.users.GetByID(ctx, link.UserID)
		if err != nil {
			log.Error().Err(err).Str("user", link.UserID).Str("link", link.ID).Msg("Linked local user missing")
			return nil, fmt.Errorf("%w: linked user lookup failed", domain.ErrInternal)
		}
		return user, nil
	case !errors.Is(err, domain.ErrNotFound):
		log.Error().Err(err).Msg("Identity link lookup failed")
		return nil, fmt.Errorf("%w: link lookup failed", domain.ErrInternal)
	}

	if idp.TrustEmail && info.EmailVerified && info.Email != "" {
		existing, err := s.users.GetByEmail(ctx, idp.RealmID, info.Email)
		switch {
		case err == nil:
			if err := s.createLink(ctx, idp, existing.ID, info); err != nil {
				return nil, err
			}
			log.Info().Str("user", existing.ID).Str("provider", idp.Alias).Msg("Silently linked external identity by verified email")
			return existing, nil
		case !errors.Is(err, domain.ErrNotFound):
			log.Error().Err(err).Msg("User lookup by email failed")
			return nil, fmt.Errorf("%w: user lookup failed", domain.ErrInternal)
		}
	}

	return s.provisionUser(ctx, idp, info)
}

func (s *Service) provisionUser(ctx context.Context, idp *domain.IdentityProvider, info *domain.BrokeredUserInfo) (*domain.User, error) {
	now := time.Now().UTC()
	user := &domain.User{
		ID:        uuid.NewString(),
		RealmID:   idp.RealmID,
		Email:     info.Email,
		Name:      info.Name,
		Status:    domain.UserStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, domain.ErrDuplicateUser) {
			// Email collided with an account created since the link lookup.
			return nil, fmt.Errorf("%w: email already in use by another local account", domain.ErrDuplicateUser)
		}
		log.Error().Err(err).Str("realm", idp.RealmID).Msg("Failed to provision brokered user")
		return nil, fmt.Errorf("%w: user provisioning failed", domain.ErrInternal)
	}

	if err := s.createLink(ctx, idp, user.ID, info); err != nil {
		if errors.Is(err, domain.ErrDuplicateLink) {
			// Lost a provisioning race: another callback linked this subject
			// first. Drop the orphan and follow the winning link.
			if delErr := s.users.Delete(ctx, user.ID); delErr != nil {
				log.Warn().Err(delErr).Str("user", user.ID).Msg("Failed to clean up orphaned user after link race")
			}
			winner, lookupErr := s.links.FindBySubject(ctx, idp.ID, info.Subject)
			if lookupErr != nil {
				return nil, fmt.Errorf("%w: link race lost and winner not found", domain.ErrInternal)
			}
			existing, userErr := s.users.GetByID(ctx, winner.UserID)
			if userErr != nil {
				return nil, fmt.Errorf("%w: link race winner user lookup failed", domain.ErrInternal)
			}
			return existing, nil
		}
		return nil, err
	}

	log.Info().Str("user", user.ID).Str("provider", idp.Alias).Str("realm", idp.RealmID).Msg("Provisioned new user from brokered login")
	return user, nil
}

func (s *Service) createLink(ctx context.Context, idp *domain.IdentityProvider, userID string, info *domain.BrokeredUserInfo) error {
	link := &domain.IdentityProviderLink{
		ID:               uuid.NewString(),
		RealmID:          idp.RealmID,
		ProviderID:       idp.ID,
		UserID:           userID,
		Subject:          info.Subject,
		ProviderEmail:    info.Email,
		ProviderUsername: info.Username,
		CreatedAt:        time.Now().UTC(),
	}
	err := s.links.Create(ctx, link)
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrDuplicateLink) {
		// Either the same subject was linked concurrently (benign: caller
		// re-reads) or this user already holds a link for the provider under
		// a different subject (a real conflict).
		if existing, lookupErr := s.links.FindBySubject(ctx, idp.ID, info.Subject); lookupErr == nil && existing.UserID == userID {
			return nil
		}
		return err
	}
	log.Error().Err(err).Str("user", userID).Str("provider", idp.Alias).Msg("Failed to create identity link")
	return fmt.Errorf("%w: link creation failed", domain.ErrInternal)
}

func (s *Service) finishLogin(ctx context.Context, user *domain.User) (*CallbackOutput, error) {
	now := time.Now().UTC()
	user.LastLoginAt = &now
	if err := s.users.Update(ctx, user); err != nil {
		// Non-fatal: the login itself succeeded.
		log.Warn().Err(err).Str("user", user.ID).Msg("Failed to update last login timestamp")
	}

	token, err := s.tokens.Issue(user.ID, user.RealmID, s.cfg.TokenTTL)
	if err != nil {
		log.Error().Err(err).Str("user", user.ID).Msg("Failed to issue session token")
		return nil, fmt.Errorf("%w: token issuance failed", domain.ErrInternal)
	}
	return &CallbackOutput{
		User:        user,
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(s.cfg.TokenTTL.Seconds()),
	}, nil
}

// provider resolves an enabled provider by realm and alias, with a short TTL
// cache in front of the repository.
func (s *Service) provider(ctx context.Context, realmID, alias string) (*domain.IdentityProvider, error) {
	cacheKey := realmID + "/" + alias
	if item := s.idpCache.Get(cacheKey); item != nil {
		return item.Value(), nil
	}

	idp, err := s.idps.GetByAlias(ctx, realmID, alias)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: identity provider %q in realm %q", domain.ErrNotFound, alias, realmID)
		}
		log.Error().Err(err).Str("realm", realmID).Str("alias", alias).Msg("Provider lookup failed")
		return nil, fmt.Errorf("%w: provider lookup failed", domain.ErrInternal)
	}
	if !idp.IsEnabled {
		return nil, fmt.Errorf("%w: identity provider %q is disabled", domain.ErrNotFound, alias)
	}

	s.idpCache.Set(cacheKey, idp, ttlcache.DefaultTTL)
	return idp, nil
}

func (s *Service) providerByID(ctx context.Context, id string) (*domain.IdentityProvider, error) {
	idp, err := s.idps.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: identity provider %q", domain.ErrNotFound, id)
		}
		log.Error().Err(err).Str("provider", id).Msg("Provider lookup failed")
		return nil, fmt.Errorf("%w: provider lookup failed", domain.ErrInternal)
	}
	if !idp.IsEnabled {
		return nil, fmt.Errorf("%w: identity provider %q is disabled", domain.ErrNotFound, idp.Alias)
	}
	return idp, nil
}

func (s *Service) callbackURL(realmID string) string {
	base := s.cfg.CallbackBaseURL
	if base != "" && base[len(base)-1] == '/' {
		base = base[:len(base)-1]
	}
	return fmt.Sprintf("%s/%s", base, url.PathEscape(realmID))
}

// randomToken returns a fresh unguessable token for state and nonce values.
func randomToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
