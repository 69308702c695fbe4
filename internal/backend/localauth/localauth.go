// Package localauth keeps registered users and the current session in
// files under the state directory, standing in for browser storage.
//
// JSON-backed storage. Human-readable, owner-only permissions. Writes are
// serialized by a mutex; fine for a single local client.
package localauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/text/cases"

	"github.com/idilsaglam/tada/internal/apperr"
	"github.com/idilsaglam/tada/internal/backend"
	"github.com/idilsaglam/tada/internal/model"
)

const (
	usersFileName   = "users.json"
	currentFileName = "current_user.json"
)

type storedUser struct {
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"password_hash"`
	CreatedAt    time.Time `json:"created_at"`
}

// Backend is the file-backed credential store.
type Backend struct {
	dir  string
	cost int

	mu sync.Mutex
}

var _ backend.Backend = (*Backend)(nil)

// Option configures the backend.
type Option func(*Backend)

// WithCost sets the bcrypt cost (tests use bcrypt.MinCost).
func WithCost(cost int) Option {
	return func(b *Backend) { b.cost = cost }
}

// New stores its files in dir.
func New(dir string, opts ...Option) *Backend {
	b := &Backend{dir: dir, cost: bcrypt.DefaultCost}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Backend) Name() string { return backend.NameLocal }

func foldEmail(email string) string {
	return cases.Fold().String(strings.TrimSpace(email))
}

func (b *Backend) ResolveSession(ctx context.Context) (*model.Identity, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var id model.Identity
	ok, err := b.readJSON(currentFileName, &id)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindServer, "could not read stored session", err)
	}
	if !ok || !id.Valid() {
		return nil, nil
	}
	return &id, nil
}

func (b *Backend) SignIn(ctx context.Context, email, password string) (model.Identity, error) {
	if strings.TrimSpace(email) == "" || password == "" {
		return model.Identity{}, apperr.New(apperr.KindValidation, "Email and password are required").
			WithReason(apperr.ReasonMissingField)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	users, err := b.loadUsers()
	if err != nil {
		return model.Identity{}, err
	}
	key := foldEmail(email)
	for _, u := range users {
		if foldEmail(u.Email) != key {
			continue
		}
		if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
			break
		}
		id := model.Identity{Email: u.Email, Name: model.DisplayName(u.Name, u.Email)}
		if err := b.writeJSON(currentFileName, id); err != nil {
			return model.Identity{}, apperr.Wrap(apperr.KindServer, "could not store session", err)
		}
		return id, nil
	}
	return model.Identity{}, apperr.New(apperr.KindAuthentication, "Invalid email or password").
		WithReason(apperr.ReasonInvalidCredentials)
}

func (b *Backend) SignUp(ctx context.Context, name, email, password string) (backend.SignUpResult, error) {
	name, email = strings.TrimSpace(name), strings.TrimSpace(email)
	if name == "" || email == "" || password == "" {
		return backend.SignUpResult{}, apperr.New(apperr.KindValidation, "Name, email, and password are required").
			WithReason(apperr.ReasonMissingField)
	}
	if len(password) < backend.MinPasswordLength {
		return backend.SignUpResult{}, apperr.New(apperr.KindValidation,
			fmt.Sprintf("Password must be at least %d characters", backend.MinPasswordLength)).
			WithReason(apperr.ReasonWeakPassword)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	users, err := b.loadUsers()
	if err != nil {
		return backend.SignUpResult{}, err
	}
	key := foldEmail(email)
	for _, u := range users {
		if foldEmail(u.Email) == key {
			return backend.SignUpResult{}, apperr.New(apperr.KindAuthentication, "Email already exists").
				WithReason(apperr.ReasonDuplicateEmail)
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), b.cost)
	if err != nil {
		return backend.SignUpResult{}, apperr.Wrap(apperr.KindServer, "could not hash password", err)
	}
	users = append(users, storedUser{
		Name:         name,
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    time.Now().UTC(),
	})
	if err := b.writeJSON(usersFileName, users); err != nil {
		return backend.SignUpResult{}, apperr.Wrap(apperr.KindServer, "could not store user", err)
	}
	return backend.SignUpResult{Identity: model.Identity{Email: email, Name: name}}, nil
}

func (b *Backend) SignOut(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := os.Remove(filepath.Join(b.dir, currentFileName)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return apperr.Wrap(apperr.KindServer, "could not clear stored session", err)
	}
	return nil
}

func (b *Backend) loadUsers() ([]storedUser, error) {
	var users []storedUser
	if _, err := b.readJSON(usersFileName, &users); err != nil {
		return nil, apperr.Wrap(apperr.KindServer, "could not read users", err)
	}
	return users, nil
}

// readJSON reports false when the file does not exist.
func (b *Backend) readJSON(name string, v any) (bool, error) {
	raw, err := os.ReadFile(filepath.Join(b.dir, name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("read file: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("json unmarshal: %w", err)
	}
	return true, nil
}

func (b *Backend) writeJSON(name string, v any) error {
	if err := os.MkdirAll(b.dir, 0o700); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("json marshal: %w", err)
	}
	if err := os.WriteFile(filepath.Join(b.dir, name), raw, 0o600); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	return nil
}
