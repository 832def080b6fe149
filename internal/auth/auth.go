// Package auth provides calendar credentials. Interactive mode may ask the
// user to authorize; non-interactive mode only uses a cached grant and is
// how the rest of the system probes "is the calendar connected".
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gcal "google.golang.org/api/calendar/v3"

	appLog "vtcal/internal/log"
	"vtcal/internal/store"
)

// ErrNotAuthenticated means no usable grant exists, or the user declined.
var ErrNotAuthenticated = errors.New("calendar not connected")

const tokenKey = "calendarToken"

// Provider is the identity collaborator used for calendar writes.
type Provider interface {
	Token(ctx context.Context, interactive bool) (*oauth2.Token, error)
	Revoke(ctx context.Context) error
}

// Prompter shows authURL to the user and returns the authorization code
// they paste back.
type Prompter func(ctx context.Context, authURL string) (string, error)

// OAuthProvider runs the OAuth2 authorization-code flow and caches the
// resulting token in the key-value store.
type OAuthProvider struct {
	conf   *oauth2.Config
	kv     store.KV
	prompt Prompter

	mu sync.Mutex
}

var _ Provider = (*OAuthProvider)(nil)

// Credentials are the OAuth client settings.
type Credentials struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// NewOAuthProvider builds a provider for the calendar events scope. prompt
// may be nil, in which case interactive requests fail like non-interactive
// ones.
func NewOAuthProvider(creds Credentials, kv store.KV, prompt Prompter) *OAuthProvider {
	redirect := creds.RedirectURL
	if redirect == "" {
		redirect = "urn:ietf:wg:oauth:2.0:oob"
	}
	return &OAuthProvider{
		conf: &oauth2.Config{
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			RedirectURL:  redirect,
			Scopes:       []string{gcal.CalendarEventsScope},
			Endpoint:     google.Endpoint,
		},
		kv:     kv,
		prompt: prompt,
	}
}

// WithEndpoint swaps the OAuth endpoint, mainly for tests.
func (p *OAuthProvider) WithEndpoint(ep oauth2.Endpoint) *OAuthProvider {
	p.conf.Endpoint = ep
	return p
}

// Token returns a valid access token, refreshing the cached grant when it
// has expired. Without a cached grant, interactive calls run the consent
// prompt; non-interactive calls fail with ErrNotAuthenticated.
func (p *OAuthProvider) Token(ctx context.Context, interactive bool) (*oauth2.Token, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cached, err := p.load(ctx)
	if err != nil {
		return nil, err
	}
	if cached != nil {
		tok, err := p.conf.TokenSource(ctx, cached).Token()
		if err == nil {
			if tok.AccessToken != cached.AccessToken {
				if err := p.save(ctx, tok); err != nil {
					appLog.Error("calendar token save failed", err)
				}
			}
			return tok, nil
		}
		appLog.Warn("calendar token refresh failed", "err", err)
		if !interactive {
			return nil, fmt.Errorf("%w: %w", ErrNotAuthenticated, err)
		}
	}

	if !interactive || p.prompt == nil {
		return nil, ErrNotAuthenticated
	}
	return p.authorize(ctx)
}

func (p *OAuthProvider) authorize(ctx context.Context) (*oauth2.Token, error) {
	authURL := p.conf.AuthCodeURL("vtcal", oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	code, err := p.prompt(ctx, authURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotAuthenticated, err)
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, ErrNotAuthenticated
	}

	tok, err := p.conf.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: exchange: %w", ErrNotAuthenticated, err)
	}
	if err := p.save(ctx, tok); err != nil {
		return nil, err
	}
	appLog.Info("calendar connected")
	return tok, nil
}

// Revoke forgets the cached grant.
func (p *OAuthProvider) Revoke(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.kv.Delete(ctx, tokenKey); err != nil {
		return fmt.Errorf("auth: revoke: %w", err)
	}
	appLog.Info("calendar disconnected")
	return nil
}

func (p *OAuthProvider) load(ctx context.Context) (*oauth2.Token, error) {
	vals, err := p.kv.Get(ctx, tokenKey)
	if err != nil {
		return nil, fmt.Errorf("auth: load token: %w", err)
	}
	raw, ok := vals[tokenKey]
	if !ok || len(raw) == 0 {
		return nil, nil
	}
	var tok oauth2.Token
	if err := json.Unmarshal(raw, &tok); err != nil {
		appLog.Warn("cached calendar token is unreadable, ignoring", "err", err)
		return nil, nil
	}
	return &tok, nil
}

func (p *OAuthProvider) save(ctx context.Context, tok *oauth2.Token) error {
	data, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("auth: encode token: %w", err)
	}
	if err := p.kv.Set(ctx, map[string][]byte{tokenKey: data}); err != nil {
		return fmt.Errorf("auth: save token: %w", err)
	}
	return nil
}
