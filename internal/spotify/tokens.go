package spotify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const defaultAccountsBase = "https://accounts.spotify.com"

// Tokens holds the user's access token and can exchange the refresh token
// for a new one.
type Tokens struct {
	mu           sync.RWMutex
	access       string
	refresh      string
	clientID     string
	clientSecret string
	accounts     *url.URL
	http         *http.Client
}

type TokensOptions struct {
	AccessToken  string
	RefreshToken string
	ClientID     string
	ClientSecret string
	AccountsBase string
	Timeout      time.Duration
}

func NewTokens(opts TokensOptions) (*Tokens, error) {
	accounts, err := parseBaseURL(opts.AccountsBase, defaultAccountsBase)
	if err != nil {
		return nil, err
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Tokens{
		access:       strings.TrimSpace(opts.AccessToken),
		refresh:      strings.TrimSpace(opts.RefreshToken),
		clientID:     opts.ClientID,
		clientSecret: opts.ClientSecret,
		accounts:     accounts,
		http:         &http.Client{Timeout: timeout},
	}, nil
}

func (t *Tokens) Token(context.Context) (string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.access == "" {
		return "", ErrNotAuthenticated
	}
	return t.access, nil
}

func (t *Tokens) Authenticated() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.access != ""
}

func (t *Tokens) Set(access string) {
	t.mu.Lock()
	t.access = strings.TrimSpace(access)
	t.mu.Unlock()
}

// Clear drops the access token, putting the session in the logged-out state.
func (t *Tokens) Clear() { t.Set("") }

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

// Refresh runs the refresh_token grant and stores the new access token.
func (t *Tokens) Refresh(ctx context.Context) (string, error) {
	t.mu.RLock()
	refresh := t.refresh
	t.mu.RUnlock()
	if refresh == "" {
		return "", fmt.Errorf("no refresh token: %w", ErrNotAuthenticated)
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refresh)
	form.Set("client_id", t.clientID)
	form.Set("client_secret", t.clientSecret)

	endpoint := t.accounts.ResolveReference(&url.URL{Path: "/api/token"})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized {
		return "", fmt.Errorf("token refresh rejected: %w", ErrNotAuthenticated)
	}
	if resp.StatusCode >= 300 {
		return "", &StatusError{Path: "/api/token", Code: resp.StatusCode}
	}
	var payload tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if payload.AccessToken == "" {
		return "", errors.New("token response missing access_token")
	}

	t.mu.Lock()
	t.access = payload.AccessToken
	if payload.RefreshToken != "" {
		t.refresh = payload.RefreshToken
	}
	t.mu.Unlock()
	return payload.AccessToken, nil
}
