// Package session manages the signed-in identity: OAuth login with PKCE,
// hosted-database session tokens, persistence in the keyring, and the token
// sources handed to the remote backends.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"focuslist/backend"
	"focuslist/internal/credentials"
	"focuslist/internal/utils"
)

// Provider identifies how a session was obtained
type Provider string

const (
	// ProviderGoogle sessions come from the OAuth authorization code flow
	ProviderGoogle Provider = "google"
	// ProviderJWT sessions wrap a hosted-database access token
	ProviderJWT Provider = "jwt"
)

// DefaultUserInfoURL is the OpenID Connect userinfo endpoint
const DefaultUserInfoURL = "https://openidconnect.googleapis.com/v1/userinfo"

// keyring location of the persisted session
const (
	credentialProvider = "session"
	credentialAccount  = "current"
)

// Profile is the identity shown to the user
type Profile struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Picture string `json:"picture,omitempty"`
}

// Session is a signed-in identity and its bearer token
type Session struct {
	Provider Provider      `json:"provider"`
	Token    *oauth2.Token `json:"token"`
	Profile  Profile       `json:"profile"`
	Subject  string        `json:"subject,omitempty"`
}

// OwnerKey returns the key tasks are scoped by: the email, falling back to
// the token subject
func (s *Session) OwnerKey() string {
	if s == nil {
		return ""
	}
	if s.Profile.Email != "" {
		return s.Profile.Email
	}
	return s.Subject
}

// GoogleConfig builds the OAuth config for the sheets backend
func GoogleConfig(clientID, clientSecret, redirectURL string, scopes ...string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Endpoint:     google.Endpoint,
		Scopes:       append([]string{"openid", "email", "profile"}, scopes...),
	}
}

// Manager creates, persists and restores sessions
type Manager struct {
	oauth       *oauth2.Config
	creds       *credentials.Manager
	userInfoURL string
	jwtSecret   []byte
	httpClient  *http.Client
	now         func() time.Time
}

// Option is a functional option for Manager
type Option func(*Manager)

// WithJWTSecret enables HS256 verification of session tokens
func WithJWTSecret(secret string) Option {
	return func(m *Manager) {
		if secret != "" {
			m.jwtSecret = []byte(secret)
		}
	}
}

// WithHTTPClient sets the client used for token exchange and userinfo
func WithHTTPClient(c *http.Client) Option {
	return func(m *Manager) {
		m.httpClient = c
	}
}

// WithUserInfoURL overrides the userinfo endpoint
func WithUserInfoURL(u string) Option {
	return func(m *Manager) {
		m.userInfoURL = u
	}
}

// WithClock sets the time source (for testing)
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithCredentials replaces the credential manager, e.g. to control the
// environment fallback in tests
func WithCredentials(c *credentials.Manager) Option {
	return func(m *Manager) {
		m.creds = c
	}
}

// NewManager creates a session manager. oauthCfg may be nil when only
// token logins are used.
func NewManager(oauthCfg *oauth2.Config, keyring credentials.Keyring, opts ...Option) *Manager {
	m := &Manager{
		oauth:       oauthCfg,
		creds:       credentials.NewManager(credentials.WithKeyring(keyring)),
		userInfoURL: DefaultUserInfoURL,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// context attaches the custom HTTP client for the oauth2 package
func (m *Manager) context(ctx context.Context) context.Context {
	if m.httpClient != nil {
		return context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
	}
	return ctx
}

// =============================================================================
// OAuth authorization code flow
// =============================================================================

// GenerateVerifier returns a new PKCE code verifier
func GenerateVerifier() string {
	return oauth2.GenerateVerifier()
}

// HasRedirectURL reports whether the OAuth client has a fixed redirect
func (m *Manager) HasRedirectURL() bool {
	return m.oauth != nil && m.oauth.RedirectURL != ""
}

// SetRedirectURL points the OAuth client at a loopback callback
func (m *Manager) SetRedirectURL(u string) {
	if m.oauth != nil {
		m.oauth.RedirectURL = u
	}
}

// AuthCodeURL returns the consent page URL for the given state and verifier
func (m *Manager) AuthCodeURL(state, verifier string) (string, error) {
	if m.oauth == nil || m.oauth.ClientID == "" {
		return "", &backend.AuthError{Reason: "oauth client is not configured"}
	}
	return m.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.S256ChallengeOption(verifier)), nil
}

// Login exchanges an authorization code, fetches the profile and persists
// the session
func (m *Manager) Login(ctx context.Context, code, verifier string) (*Session, error) {
	if m.oauth == nil {
		return nil, &backend.AuthError{Reason: "oauth client is not configured"}
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, &backend.AuthError{Reason: "authorization code is empty"}
	}

	ctx = m.context(ctx)
	tok, err := m.oauth.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, authError(string(ProviderGoogle), err)
	}

	profile, err := m.fetchProfile(ctx, tok)
	if err != nil {
		return nil, err
	}

	sess := &Session{Provider: ProviderGoogle, Token: tok, Profile: *profile}
	if err := m.save(ctx, sess); err != nil {
		return nil, err
	}
	utils.Debugf("Logged in as %s", profile.Email)
	return sess, nil
}

// fetchProfile reads name, email and picture from the userinfo endpoint
func (m *Manager) fetchProfile(ctx context.Context, tok *oauth2.Token) (*Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.userInfoURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := m.oauth.Client(ctx, tok).Do(req)
	if err != nil {
		return nil, backend.NewRemoteError(string(ProviderGoogle), "userinfo", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, &backend.AuthError{Backend: string(ProviderGoogle), Reason: "userinfo request rejected"}
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &backend.RemoteError{
			Backend: string(ProviderGoogle),
			Op:      "userinfo",
			Message: fmt.Sprintf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))),
		}
	}

	var profile Profile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return nil, backend.NewRemoteError(string(ProviderGoogle), "userinfo", err)
	}
	if profile.Name == "" {
		profile.Name = profile.Email
	}
	return &profile, nil
}

// =============================================================================
// Session tokens
// =============================================================================

// tokenClaims are the claims read from a hosted-database access token
type tokenClaims struct {
	Email        string `json:"email"`
	UserMetadata struct {
		FullName  string `json:"full_name"`
		AvatarURL string `json:"avatar_url"`
	} `json:"user_metadata"`
	jwt.RegisteredClaims
}

// LoginWithToken accepts a session JWT, reads the profile from its claims
// and persists the session
func (m *Manager) LoginWithToken(ctx context.Context, raw string) (*Session, error) {
	sess, err := m.sessionFromToken(raw)
	if err != nil {
		return nil, err
	}
	if err := m.save(ctx, sess); err != nil {
		return nil, err
	}
	utils.Debugf("Logged in with session token as %s", sess.OwnerKey())
	return sess, nil
}

func (m *Manager) sessionFromToken(raw string) (*Session, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, &backend.AuthError{Backend: string(ProviderJWT), Reason: "session token is empty"}
	}

	claims := &tokenClaims{}
	if m.jwtSecret != nil {
		_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
			return m.jwtSecret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(m.now))
		if err != nil {
			return nil, &backend.AuthError{Backend: string(ProviderJWT), Reason: err.Error()}
		}
	} else {
		if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
			return nil, &backend.AuthError{Backend: string(ProviderJWT), Reason: err.Error()}
		}
		if claims.ExpiresAt != nil && !claims.ExpiresAt.After(m.now()) {
			return nil, &backend.AuthError{Backend: string(ProviderJWT), Reason: "session token expired"}
		}
	}

	if claims.Email == "" && claims.Subject == "" {
		return nil, &backend.AuthError{Backend: string(ProviderJWT), Reason: "session token has no email or subject"}
	}

	tok := &oauth2.Token{AccessToken: raw, TokenType: "Bearer"}
	if claims.ExpiresAt != nil {
		tok.Expiry = claims.ExpiresAt.Time
	}

	name := claims.UserMetadata.FullName
	if name == "" {
		name = claims.Email
	}

	return &Session{
		Provider: ProviderJWT,
		Token:    tok,
		Subject:  claims.Subject,
		Profile: Profile{
			Name:    name,
			Email:   claims.Email,
			Picture: claims.UserMetadata.AvatarURL,
		},
	}, nil
}

// =============================================================================
// Persistence
// =============================================================================

func (m *Manager) save(ctx context.Context, sess *Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	if err := m.creds.Set(ctx, credentialProvider, credentialAccount, string(data)); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	return nil
}

// Restore reloads the persisted session. A raw token in FOCUSLIST_SESSION_TOKEN
// is accepted when the keyring holds nothing.
func (m *Manager) Restore(ctx context.Context) (*Session, error) {
	info, err := m.creds.Get(ctx, credentialProvider, credentialAccount)
	if err != nil {
		return nil, fmt.Errorf("failed to read session: %w", err)
	}
	if !info.Found {
		return nil, &backend.AuthError{Reason: "not logged in"}
	}

	if info.Source == credentials.SourceEnvironment {
		return m.sessionFromToken(info.Secret)
	}

	var sess Session
	if err := json.Unmarshal([]byte(info.Secret), &sess); err != nil {
		return nil, &backend.AuthError{Reason: "stored session is unreadable"}
	}
	if sess.Token == nil || sess.Token.AccessToken == "" {
		return nil, &backend.AuthError{Reason: "stored session has no token"}
	}
	if sess.Token.RefreshToken == "" && !sess.Token.Expiry.IsZero() && sess.Token.Expiry.Before(m.now()) {
		return nil, &backend.AuthError{Backend: string(sess.Provider), Reason: "session expired"}
	}
	return &sess, nil
}

// Logout deletes the persisted session. Logging out twice is not an error.
func (m *Manager) Logout(ctx context.Context) error {
	if err := m.creds.Delete(ctx, credentialProvider, credentialAccount); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// =============================================================================
// Token sources
// =============================================================================

// TokenSource returns a token source for sess. Google sessions refresh
// through the OAuth config and persist refreshed tokens.
func (m *Manager) TokenSource(ctx context.Context, sess *Session) oauth2.TokenSource {
	if sess == nil || sess.Token == nil {
		return nil
	}
	if sess.Provider != ProviderGoogle || m.oauth == nil {
		return oauth2.StaticTokenSource(sess.Token)
	}
	return &persistingSource{
		base: m.oauth.TokenSource(m.context(ctx), sess.Token),
		m:    m,
		sess: sess,
		last: sess.Token.AccessToken,
	}
}

// persistingSource saves the session whenever the access token changes
type persistingSource struct {
	base oauth2.TokenSource
	m    *Manager
	sess *Session

	mu   sync.Mutex
	last string
}

func (p *persistingSource) Token() (*oauth2.Token, error) {
	tok, err := p.base.Token()
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if tok.AccessToken != p.last {
		p.last = tok.AccessToken
		updated := *p.sess
		updated.Token = tok
		if err := p.m.save(context.Background(), &updated); err != nil {
			utils.Warnf("Failed to persist refreshed token: %v", err)
		}
	}
	return tok, nil
}

// authError converts token endpoint failures into AuthError
func authError(provider string, err error) error {
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		reason := rerr.ErrorDescription
		if reason == "" {
			reason = rerr.ErrorCode
		}
		if reason == "" && rerr.Response != nil {
			reason = fmt.Sprintf("token endpoint returned %d", rerr.Response.StatusCode)
		}
		if reason == "" {
			reason = "token exchange failed"
		}
		return &backend.AuthError{Backend: provider, Reason: reason}
	}
	return backend.NewRemoteError(provider, "login", err)
}
