package hostedauth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const tokenFileName = "token.json"

// TokenEnv overrides the stored access token.
const TokenEnv = "TADA_TOKEN"

// TokenInfo is the persisted provider session.
type TokenInfo struct {
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token,omitempty"`
	Source       string     `json:"source"`     // "env" | "file"
	CreatedAt    time.Time  `json:"created_at"` // when we saved to file
	ExpiresAt    *time.Time `json:"expires_at"` // optional (server-provided)
}

// Expired reports whether the access token is past its expiry.
func (t *TokenInfo) Expired(now time.Time) bool {
	return t.ExpiresAt != nil && !now.Before(*t.ExpiresAt)
}

// TokenStore keeps the provider session in <dir>/token.json.
type TokenStore struct {
	dir    string
	getenv func(string) string
}

// NewTokenStore creates a store rooted at dir.
func NewTokenStore(dir string) *TokenStore {
	return &TokenStore{dir: dir, getenv: os.Getenv}
}

func (s *TokenStore) path() string { return filepath.Join(s.dir, tokenFileName) }

// Load returns nil, nil when there is no stored token.
func (s *TokenStore) Load() (*TokenInfo, error) {
	// 1) env override
	if env := strings.TrimSpace(s.getenv(TokenEnv)); env != "" {
		return &TokenInfo{AccessToken: stripBearer(env), Source: "env"}, nil
	}

	// 2) file
	b, err := os.ReadFile(s.path())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil // not logged in
		}
		return nil, fmt.Errorf("read token: %w", err)
	}
	var ti TokenInfo
	if err := json.Unmarshal(b, &ti); err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	ti.AccessToken = stripBearer(ti.AccessToken)
	if ti.AccessToken == "" {
		return nil, nil
	}
	return &ti, nil
}

// Save writes ti with owner-only permissions.
func (s *TokenStore) Save(ti TokenInfo) error {
	ti.AccessToken = stripBearer(strings.TrimSpace(ti.AccessToken))
	if ti.AccessToken == "" {
		return fmt.Errorf("empty token")
	}
	// ensure the state dir exists with 0700
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	ti.Source = "file"
	if ti.CreatedAt.IsZero() {
		ti.CreatedAt = time.Now()
	}
	b, err := json.MarshalIndent(ti, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	// write with 0600 (owner-only)
	if err := os.WriteFile(s.path(), b, 0o600); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

// Delete removes the stored token. A missing file is not an error.
func (s *TokenStore) Delete() error {
	if err := os.Remove(s.path()); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("remove: %w", err)
	}
	return nil
}

func stripBearer(s string) string {
	if strings.HasPrefix(strings.ToLower(s), "bearer ") {
		return strings.TrimSpace(s[7:])
	}
	return s
}
