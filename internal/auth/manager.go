// Package auth owns the Spotify OAuth tokens of each session: the authorization code
// exchange, refresh and validation.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ewilliams-labs/mirror/internal/core/domain"
	"github.com/ewilliams-labs/mirror/internal/core/ports"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/spotify"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrNotConfigured is returned when no client ID or secret was provided.
	ErrNotConfigured = errors.New("auth: spotify oauth is not configured")
	// ErrReauthRequired means the stored token cannot be refreshed and the user has to
	// log in again.
	ErrReauthRequired = errors.New("auth: re-authentication required")
)

// DefaultScopes are requested on login.
var DefaultScopes = []string{
	"user-read-playback-state",
	"user-modify-playback-state",
	"user-read-currently-playing",
	"user-read-private",
	"streaming",
}

const expiryMargin = time.Minute

// Config describes the OAuth client. AuthURL and TokenURL default to Spotify's.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
	AuthURL      string
	TokenURL     string

	RefreshAttempts int
	RefreshBackoff  time.Duration
}

// UserChecker checks a credential against the provider.
type UserChecker interface {
	CurrentUser(ctx context.Context, cred domain.Credential) (string, error)
}

// Manager hands out credentials for sessions, refreshing them as needed. Concurrent
// refreshes of the same session share one request.
type Manager struct {
	oauth  *oauth2.Config
	tokens ports.TokenStore
	users  UserChecker
	log    logrus.FieldLogger

	httpClient *http.Client
	attempts   int
	backoff    time.Duration
	now        func() time.Time

	group singleflight.Group
}

// NewManager builds a manager. httpClient may be nil.
func NewManager(cfg Config, tokens ports.TokenStore, users UserChecker, httpClient *http.Client, log logrus.FieldLogger) *Manager {
	endpoint := spotify.Endpoint
	if cfg.AuthURL != "" {
		endpoint.AuthURL = cfg.AuthURL
	}
	if cfg.TokenURL != "" {
		endpoint.TokenURL = cfg.TokenURL
	}
	endpoint.AuthStyle = oauth2.AuthStyleInHeader

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}
	if cfg.RefreshAttempts < 1 {
		cfg.RefreshAttempts = 3
	}
	if cfg.RefreshBackoff <= 0 {
		cfg.RefreshBackoff = 500 * time.Millisecond
	}

	return &Manager{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
			Endpoint:     endpoint,
		},
		tokens:     tokens,
		users:      users,
		log:        log.WithField("component", "auth"),
		httpClient: httpClient,
		attempts:   cfg.RefreshAttempts,
		backoff:    cfg.RefreshBackoff,
		now:        time.Now,
	}
}

// Configured reports whether the OAuth client has credentials.
func (m *Manager) Configured() bool {
	return m.oauth.ClientID != "" && m.oauth.ClientSecret != ""
}

// AuthCodeURL returns the provider login page for state.
func (m *Manager) AuthCodeURL(state string) (string, error) {
	if !m.Configured() {
		return "", ErrNotConfigured
	}
	return m.oauth.AuthCodeURL(state, oauth2.SetAuthURLParam("show_dialog", "true")), nil
}

// Exchange trades an authorization code for a token and stores it for sessionID.
func (m *Manager) Exchange(ctx context.Context, sessionID, code string) error {
	if !m.Configured() {
		return ErrNotConfigured
	}
	tok, err := m.oauth.Exchange(m.clientContext(ctx), code)
	if err != nil {
		return fmt.Errorf("auth: exchange code: %w", err)
	}
	if err := m.tokens.SaveToken(ctx, sessionID, fromOAuth(tok)); err != nil {
		return fmt.Errorf("auth: save token: %w", err)
	}
	m.log.WithField("session_id", sessionID).Info("stored spotify token")
	return nil
}

// Credential returns a usable credential for sessionID, refreshing an expired token
// first. It returns domain.ErrNotFound when the session never logged in.
func (m *Manager) Credential(ctx context.Context, sessionID string) (domain.Credential, error) {
	tok, err := m.tokens.GetToken(ctx, sessionID)
	if err != nil {
		return domain.Credential{}, err
	}
	if !m.expired(tok) {
		return domain.Credential{AccessToken: tok.AccessToken}, nil
	}
	return m.Refresh(ctx, sessionID)
}

// Refresh forces a token refresh for sessionID.
func (m *Manager) Refresh(ctx context.Context, sessionID string) (domain.Credential, error) {
	v, err, shared := m.group.Do(sessionID, func() (interface{}, error) {
		return m.refresh(ctx, sessionID)
	})
	if err != nil {
		return domain.Credential{}, err
	}
	if shared {
		m.log.WithField("session_id", sessionID).Debug("joined in-flight refresh")
	}
	return v.(domain.Credential), nil
}

func (m *Manager) refresh(ctx context.Context, sessionID string) (domain.Credential, error) {
	if !m.Configured() {
		return domain.Credential{}, ErrNotConfigured
	}
	stored, err := m.tokens.GetToken(ctx, sessionID)
	if err != nil {
		return domain.Credential{}, err
	}
	if stored.RefreshToken == "" {
		return domain.Credential{}, ErrReauthRequired
	}

	log := m.log.WithField("session_id", sessionID)
	backoff := m.backoff
	var lastErr error
	for attempt := 1; attempt <= m.attempts; attempt++ {
		src := m.oauth.TokenSource(m.clientContext(ctx), &oauth2.Token{RefreshToken: stored.RefreshToken})
		tok, err := src.Token()
		if err == nil {
			fresh := fromOAuth(tok)
			if err := m.tokens.SaveToken(ctx, sessionID, fresh); err != nil {
				return domain.Credential{}, fmt.Errorf("auth: save refreshed token: %w", err)
			}
			log.Info("refreshed spotify token")
			return domain.Credential{AccessToken: fresh.AccessToken}, nil
		}
		lastErr = err

		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) && rerr.Response != nil && rerr.Response.StatusCode < http.StatusInternalServerError {
			log.WithError(err).Warn("refresh token rejected")
			return domain.Credential{}, ErrReauthRequired
		}
		log.WithError(err).Warnf("refresh attempt %d/%d failed", attempt, m.attempts)
		if attempt == m.attempts {
			break
		}
		select {
		case <-ctx.Done():
			return domain.Credential{}, fmt.Errorf("auth: refresh: %w", ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return domain.Credential{}, fmt.Errorf("auth: refresh: %w", lastErr)
}

// Status is what the token check endpoint reports.
type Status struct {
	Token     string
	Valid     bool
	Refreshed bool
}

// Validate checks the session's token against the provider and refreshes it once when
// the provider rejects it.
func (m *Manager) Validate(ctx context.Context, sessionID string) (Status, error) {
	cred, err := m.Credential(ctx, sessionID)
	if err != nil {
		return Status{}, err
	}
	if _, err := m.users.CurrentUser(ctx, cred); err == nil {
		return Status{Token: cred.AccessToken, Valid: true}, nil
	} else if !errors.Is(err, ports.ErrUnauthorized) {
		return Status{}, fmt.Errorf("auth: validate: %w", err)
	}

	cred, err = m.Refresh(ctx, sessionID)
	if err != nil {
		return Status{}, err
	}
	if _, err := m.users.CurrentUser(ctx, cred); err != nil {
		return Status{}, ErrReauthRequired
	}
	return Status{Token: cred.AccessToken, Valid: true, Refreshed: true}, nil
}

func (m *Manager) expired(tok domain.Token) bool {
	if tok.AccessToken == "" {
		return true
	}
	if tok.Expiry.IsZero() {
		return false
	}
	return !m.now().Add(expiryMargin).Before(tok.Expiry)
}

func (m *Manager) clientContext(ctx context.Context) context.Context {
	if m.httpClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
}

func fromOAuth(tok *oauth2.Token) domain.Token {
	return domain.Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		Expiry:       tok.Expiry,
	}
}
