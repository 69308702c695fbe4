// Package apiauth authenticates against the todo REST API's own auth
// routes (the demo in-memory user store). It has no push mechanism; an
// existing session is restored from the persisted session marker.
package apiauth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/idilsaglam/tada/internal/apperr"
	"github.com/idilsaglam/tada/internal/backend"
	"github.com/idilsaglam/tada/internal/marker"
	"github.com/idilsaglam/tada/internal/model"
	"github.com/idilsaglam/tada/internal/transport"
)

// SessionReader restores a previously established session.
type SessionReader interface {
	Read() (*marker.Record, error)
}

// Backend talks to /auth/login, /auth/register and /auth/logout.
type Backend struct {
	client  *transport.Client
	session SessionReader
	logger  *slog.Logger
}

var _ backend.Backend = (*Backend)(nil)

// New creates the backend. session may be nil, in which case no session
// survives a restart.
func New(client *transport.Client, session SessionReader, logger *slog.Logger) *Backend {
	if client == nil {
		panic("apiauth: nil transport")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{client: client, session: session, logger: logger}
}

func (b *Backend) Name() string { return backend.NameAPI }

// userResponse is the {success, user} envelope.
type userResponse struct {
	Success bool           `json:"success"`
	User    model.Identity `json:"user"`
}

func (b *Backend) ResolveSession(ctx context.Context) (*model.Identity, error) {
	if b.session == nil {
		return nil, nil
	}
	rec, err := b.session.Read()
	if err != nil {
		return nil, apperr.Wrap(apperr.KindServer, "could not read stored session", err)
	}
	if rec == nil {
		return nil, nil
	}
	id := rec.Identity
	return &id, nil
}

func (b *Backend) SignIn(ctx context.Context, email, password string) (model.Identity, error) {
	var out userResponse
	err := b.client.Post(ctx, "/auth/login", map[string]string{
		"email":    strings.TrimSpace(email),
		"password": password,
	}, &out)
	if err != nil {
		return model.Identity{}, classify(err)
	}
	return normalize(out.User, email), nil
}

func (b *Backend) SignUp(ctx context.Context, name, email, password string) (backend.SignUpResult, error) {
	var out userResponse
	err := b.client.Post(ctx, "/auth/register", map[string]string{
		"name":     strings.TrimSpace(name),
		"email":    strings.TrimSpace(email),
		"password": password,
	}, &out)
	if err != nil {
		return backend.SignUpResult{}, classify(err)
	}
	b.logger.Info("registered account", "email", out.User.Email)
	// The server sets the session cookie on registration.
	return backend.SignUpResult{Identity: normalize(out.User, email), SignedIn: true}, nil
}

func (b *Backend) SignOut(ctx context.Context) error {
	if err := b.client.Post(ctx, "/auth/logout", nil, nil); err != nil {
		return apperr.Classify(err)
	}
	return nil
}

func normalize(id model.Identity, email string) model.Identity {
	if id.Email == "" {
		id.Email = strings.TrimSpace(email)
	}
	id.Name = model.DisplayName(id.Name, id.Email)
	return id
}

// classify maps auth-route statuses onto the auth taxonomy, keeping the
// server's message.
func classify(err error) error {
	ae, ok := apperr.As(err)
	if !ok {
		return apperr.Classify(err)
	}
	switch {
	case ae.Status == http.StatusUnauthorized:
		c := *ae
		c.Kind = apperr.KindAuthentication
		c.Reason = apperr.ReasonInvalidCredentials
		return &c
	case ae.Status == http.StatusConflict:
		c := *ae
		c.Kind = apperr.KindAuthentication
		c.Reason = apperr.ReasonDuplicateEmail
		return &c
	case ae.Kind == apperr.KindValidation:
		c := *ae
		if strings.Contains(strings.ToLower(ae.Message), "at least") {
			c.Reason = apperr.ReasonWeakPassword
		} else {
			c.Reason = apperr.ReasonMissingField
		}
		return &c
	}
	return ae
}
