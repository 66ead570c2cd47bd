package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// refreshLeeway is how far ahead of token expiry a refresh is triggered.
// Keeps in-flight requests from racing the expiry deadline.
const refreshLeeway = 5 * time.Minute

// TokenSet is the credential bundle issued by the cloud's auth endpoints
// and persisted to disk between runs.
type TokenSet struct {
	IDToken      string    `json:"id_token"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Expired reports whether the token set needs refreshing, with leeway.
func (t TokenSet) Expired(now time.Time) bool {
	if t.ExpiresAt.IsZero() {
		return true
	}
	return now.After(t.ExpiresAt.Add(-refreshLeeway))
}

// parseTokenExpiry extracts the exp claim from a JWT without verifying the
// signature. Verification belongs to the cloud; we only need the deadline
// so we can refresh ahead of it. A token with no readable expiry is treated
// as already expired, which forces a refresh on first use.
func parseTokenExpiry(token string) time.Time {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}

// TokenManager keeps a TokenSet valid for the lifetime of the bridge.
//
// EnsureValid is called before every API request. It refreshes with the
// refresh token when the access token is near expiry, and falls back to a
// full password login when the refresh token itself has been revoked and a
// password is configured. Tokens are persisted to tokenFile after every
// change so a restart does not need to re-authenticate.
type TokenManager struct {
	mu        sync.Mutex
	tokens    TokenSet
	baseURL   string
	email     string
	password  string
	tokenFile string
	http      *http.Client
	now       func() time.Time
	log       Logger
}

// TokenManagerConfig carries the credentials and persistence settings.
type TokenManagerConfig struct {
	BaseURL      string
	Email        string
	Password     string
	RefreshToken string
	TokenFile    string
	Timeout      time.Duration
}

// NewTokenManager builds a manager, loading any previously persisted tokens.
// A configured refresh token overrides the persisted one.
func NewTokenManager(cfg TokenManagerConfig) *TokenManager {
	m := &TokenManager{
		baseURL:   cfg.BaseURL,
		email:     cfg.Email,
		password:  cfg.Password,
		tokenFile: cfg.TokenFile,
		http:      &http.Client{Timeout: cfg.Timeout},
		now:       time.Now,
		log:       noopLogger{},
	}
	m.loadPersisted()
	if cfg.RefreshToken != "" {
		m.tokens.RefreshToken = cfg.RefreshToken
	}
	return m
}

// SetLogger attaches a logger. Safe to leave unset.
func (m *TokenManager) SetLogger(log Logger) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if log != nil {
		m.log = log
	}
}

// IDToken returns the current identity token after ensuring it is valid.
// This is the bearer credential sent on every API request.
func (m *TokenManager) IDToken(ctx context.Context) (string, error) {
	if err := m.EnsureValid(ctx); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tokens.IDToken, nil
}

// ExpiresAt returns the current token deadline, for diagnostics.
func (m *TokenManager) ExpiresAt() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tokens.ExpiresAt
}

// EnsureValid refreshes the token set if it is missing or near expiry.
//
// Refresh order: refresh-token grant first, then password login if the
// refresh was rejected and a password is configured. Both failing is fatal
// and surfaces as ErrTokenExpired / ErrUnauthenticated for the caller's
// re-authentication flow.
func (m *TokenManager) EnsureValid(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.tokens.IDToken != "" && !m.tokens.Expired(m.now()) {
		return nil
	}

	if m.tokens.RefreshToken != "" {
		err := m.refreshLocked(ctx)
		if err == nil {
			return nil
		}
		if IsTransientError(err) {
			return err
		}
		m.log.Warn("token refresh rejected, attempting password login", "error", err)
	}

	if m.password == "" {
		return fmt.Errorf("%w: no refresh token or password available", ErrTokenExpired)
	}
	return m.loginLocked(ctx)
}

// ForceLogin discards the current tokens and performs a password login.
// Used by the re-authentication flow after a fatal auth error.
func (m *TokenManager) ForceLogin(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.password == "" {
		return fmt.Errorf("%w: no password configured", ErrUnauthenticated)
	}
	return m.loginLocked(ctx)
}

type authResponse struct {
	IDToken      string `json:"id_token"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// refreshLocked exchanges the refresh token for a new token set.
// Caller holds mu.
func (m *TokenManager) refreshLocked(ctx context.Context) error {
	body := map[string]string{"refresh_token": m.tokens.RefreshToken}
	resp, err := m.postAuth(ctx, "/auth/refresh", body)
	if err != nil {
		return err
	}
	m.applyLocked(resp, m.tokens.RefreshToken)
	m.log.Debug("tokens refreshed", "expires_at", m.tokens.ExpiresAt)
	return nil
}

// loginLocked performs a full email/password login. Caller holds mu.
func (m *TokenManager) loginLocked(ctx context.Context) error {
	body := map[string]string{"email": m.email, "password": m.password}
	resp, err := m.postAuth(ctx, "/auth/login", body)
	if err != nil {
		return err
	}
	m.applyLocked(resp, "")
	m.log.Info("re-authenticated with stored password", "email", m.email)
	return nil
}

// postAuth issues an auth request and classifies failures.
func (m *TokenManager) postAuth(ctx context.Context, path string, body map[string]string) (*authResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%w: encode auth request: %v", ErrRequestFailed, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: build auth request: %v", ErrRequestFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := m.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: auth endpoint returned %d", ErrUnauthenticated, res.StatusCode)
	case res.StatusCode < 200 || res.StatusCode > 299:
		return nil, fmt.Errorf("%w: auth endpoint returned %d", ErrRequestFailed, res.StatusCode)
	}

	var out authResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode auth response: %v", ErrRequestFailed, err)
	}
	if out.IDToken == "" {
		return nil, fmt.Errorf("%w: auth response missing id_token", ErrRequestFailed)
	}
	return &out, nil
}

// applyLocked installs a new token set and persists it. A response that
// omits the refresh token keeps the previous one (refresh grants do this).
func (m *TokenManager) applyLocked(resp *authResponse, fallbackRefresh string) {
	refresh := resp.RefreshToken
	if refresh == "" {
		refresh = fallbackRefresh
	}
	m.tokens = TokenSet{
		IDToken:      resp.IDToken,
		AccessToken:  resp.AccessToken,
		RefreshToken: refresh,
		ExpiresAt:    parseTokenExpiry(resp.IDToken),
	}
	m.persistLocked()
}

// loadPersisted restores tokens from tokenFile if present. Errors are
// non-fatal: a missing or corrupt file just means a fresh login.
func (m *TokenManager) loadPersisted() {
	if m.tokenFile == "" {
		return
	}
	data, err := os.ReadFile(m.tokenFile)
	if err != nil {
		return
	}
	var t TokenSet
	if err := json.Unmarshal(data, &t); err != nil {
		return
	}
	m.tokens = t
}

// persistLocked writes the token set to tokenFile with owner-only
// permissions. Best effort; a write failure only costs a re-login after
// restart. Caller holds mu.
func (m *TokenManager) persistLocked() {
	if m.tokenFile == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(m.tokenFile), 0700); err != nil {
		m.log.Warn("failed to create token directory", "error", err)
		return
	}
	data, err := json.Marshal(m.tokens)
	if err != nil {
		m.log.Warn("failed to encode tokens", "error", err)
		return
	}
	if err := os.WriteFile(m.tokenFile, data, 0600); err != nil {
		m.log.Warn("failed to persist tokens", "path", m.tokenFile, "error", err)
	}
}
