package cloud

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// makeJWT crafts an unsigned token with the given expiry. Only the exp
// claim matters; the manager never verifies signatures.
func makeJWT(t *testing.T, exp time.Time) string {
	t.Helper()
	enc := func(v any) string {
		data, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal jwt part: %v", err)
		}
		return base64.RawURLEncoding.EncodeToString(data)
	}
	header := enc(map[string]string{"alg": "HS256", "typ": "JWT"})
	claims := enc(map[string]any{"exp": exp.Unix(), "sub": "user-1"})
	return header + "." + claims + "." + base64.RawURLEncoding.EncodeToString([]byte("sig"))
}

func TestParseTokenExpiry(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	got := parseTokenExpiry(makeJWT(t, exp))
	if !got.Equal(exp) {
		t.Errorf("expected expiry %v, got %v", exp, got)
	}
}

func TestParseTokenExpiry_Malformed(t *testing.T) {
	if got := parseTokenExpiry("not-a-jwt"); !got.IsZero() {
		t.Errorf("expected zero time for malformed token, got %v", got)
	}
}

func TestTokenSet_Expired(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name      string
		expiresAt time.Time
		want      bool
	}{
		{"well before expiry", now.Add(time.Hour), false},
		{"inside leeway window", now.Add(2 * time.Minute), true},
		{"past expiry", now.Add(-time.Minute), true},
		{"zero expiry", time.Time{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := TokenSet{ExpiresAt: tt.expiresAt}
			if got := ts.Expired(now); got != tt.want {
				t.Errorf("Expired() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEnsureValid_RefreshGrant(t *testing.T) {
	newID := makeJWT(t, time.Now().Add(time.Hour))
	var refreshCalls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/refresh" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		refreshCalls++
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body["refresh_token"] != "refresh-1" {
			t.Errorf("expected refresh-1, got %q", body["refresh_token"])
		}
		json.NewEncoder(w).Encode(authResponse{IDToken: newID})
	}))
	defer srv.Close()

	m := NewTokenManager(TokenManagerConfig{
		BaseURL:      srv.URL,
		RefreshToken: "refresh-1",
		Timeout:      5 * time.Second,
	})

	token, err := m.IDToken(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token != newID {
		t.Error("expected refreshed id token")
	}
	if refreshCalls != 1 {
		t.Errorf("expected 1 refresh call, got %d", refreshCalls)
	}

	// Refresh token must survive a grant that omits it.
	m.mu.Lock()
	kept := m.tokens.RefreshToken
	m.mu.Unlock()
	if kept != "refresh-1" {
		t.Errorf("refresh token not preserved, got %q", kept)
	}

	// Second call should use the cached token, no extra request.
	if _, err := m.IDToken(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if refreshCalls != 1 {
		t.Errorf("expected cached token reuse, got %d refresh calls", refreshCalls)
	}
}

func TestEnsureValid_PasswordFallback(t *testing.T) {
	newID := makeJWT(t, time.Now().Add(time.Hour))
	var loginCalls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/refresh":
			w.WriteHeader(http.StatusUnauthorized)
		case "/auth/login":
			loginCalls++
			var body map[string]string
			json.NewDecoder(r.Body).Decode(&body)
			if body["email"] != "user@example.com" || body["password"] != "hunter2" {
				t.Errorf("unexpected credentials: %v", body)
			}
			json.NewEncoder(w).Encode(authResponse{IDToken: newID, RefreshToken: "refresh-2"})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	m := NewTokenManager(TokenManagerConfig{
		BaseURL:      srv.URL,
		Email:        "user@example.com",
		Password:     "hunter2",
		RefreshToken: "stale",
		Timeout:      5 * time.Second,
	})

	if err := m.EnsureValid(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loginCalls != 1 {
		t.Errorf("expected password login after rejected refresh, got %d calls", loginCalls)
	}
}

func TestEnsureValid_NoCredentials(t *testing.T) {
	m := NewTokenManager(TokenManagerConfig{BaseURL: "http://127.0.0.1:0", Timeout: time.Second})
	err := m.EnsureValid(context.Background())
	if !errors.Is(err, ErrTokenExpired) {
		t.Errorf("expected ErrTokenExpired, got %v", err)
	}
}

func TestTokenPersistence(t *testing.T) {
	dir := t.TempDir()
	tokenFile := filepath.Join(dir, "tokens.json")
	newID := makeJWT(t, time.Now().Add(time.Hour))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(authResponse{IDToken: newID, RefreshToken: "refresh-3"})
	}))
	defer srv.Close()

	m := NewTokenManager(TokenManagerConfig{
		BaseURL:      srv.URL,
		RefreshToken: "refresh-1",
		TokenFile:    tokenFile,
		Timeout:      5 * time.Second,
	})
	if err := m.EnsureValid(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	info, err := os.Stat(tokenFile)
	if err != nil {
		t.Fatalf("token file not written: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("expected 0600 permissions, got %v", info.Mode().Perm())
	}

	// A fresh manager should pick up the persisted tokens without a request.
	m2 := NewTokenManager(TokenManagerConfig{BaseURL: srv.URL, TokenFile: tokenFile, Timeout: time.Second})
	token, err := m2.IDToken(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token != newID {
		t.Error("expected persisted token to be restored")
	}
}
