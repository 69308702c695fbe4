// Package hostedauth authenticates against a hosted identity provider
// speaking the GoTrue REST dialect (/auth/v1/token, /auth/v1/signup,
// /auth/v1/logout, /auth/v1/user).
//
// Unlike the other backends it pushes session changes: every sign-in,
// sign-out, token refresh and refresh failure is delivered to the
// handlers registered with OnSessionChange as a full identity snapshot.
// Start runs the background refresh loop.
package hostedauth

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/idilsaglam/tada/internal/apperr"
	"github.com/idilsaglam/tada/internal/backend"
	"github.com/idilsaglam/tada/internal/model"
	"github.com/idilsaglam/tada/internal/transport"
)

// DefaultRefreshMargin is how long before expiry the token is refreshed.
const DefaultRefreshMargin = time.Minute

// retryAfterFailure paces refresh attempts after a network failure.
const retryAfterFailure = 30 * time.Second

// Config holds configuration for creating a Backend.
type Config struct {
	// URL is the provider root, e.g. "https://xyz.supabase.co".
	URL string
	// AnonKey is sent as the apikey header on every request.
	AnonKey string
	// StateDir holds the token file.
	StateDir string
	// Timeout bounds each request.
	Timeout time.Duration
	// RefreshMargin defaults to DefaultRefreshMargin.
	RefreshMargin time.Duration
	// HTTPClient is optional.
	HTTPClient *http.Client
	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
	// Now overrides the clock (tests).
	Now func() time.Time
}

// Backend is safe for concurrent use.
type Backend struct {
	client *transport.Client
	tokens *TokenStore
	margin time.Duration
	logger *slog.Logger
	now    func() time.Time

	mu     sync.Mutex
	token  *TokenInfo
	loaded bool

	listenersMu sync.Mutex
	listeners   map[int]func(*model.Identity)
	nextID      int

	kick chan struct{} // wakes the refresh loop when the token changes
}

var (
	_ backend.Backend            = (*Backend)(nil)
	_ backend.Notifier           = (*Backend)(nil)
	_ transport.CredentialSource = (*Backend)(nil)
)

// New creates the backend and its own transport.
func New(cfg Config) (*Backend, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	margin := cfg.RefreshMargin
	if margin <= 0 {
		margin = DefaultRefreshMargin
	}

	b := &Backend{
		tokens:    NewTokenStore(cfg.StateDir),
		margin:    margin,
		logger:    logger,
		now:       now,
		listeners: make(map[int]func(*model.Identity)),
		kick:      make(chan struct{}, 1),
	}

	header := http.Header{}
	if cfg.AnonKey != "" {
		header.Set("apikey", cfg.AnonKey)
	}
	client, err := transport.New(transport.Config{
		BaseURL:     cfg.URL,
		Timeout:     cfg.Timeout,
		HTTPClient:  cfg.HTTPClient,
		Credentials: b,
		Header:      header,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}
	b.client = client
	return b, nil
}

func (b *Backend) Name() string { return backend.NameHosted }

// providerUser is the provider's user object.
type providerUser struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	UserMetadata struct {
		Name string `json:"name"`
	} `json:"user_metadata"`
}

func (u providerUser) identity() model.Identity {
	return model.Identity{
		ID:    u.ID,
		Email: u.Email,
		Name:  model.DisplayName(u.UserMetadata.Name, u.Email),
	}
}

// sessionResponse covers token responses and sign-up responses. Sign-up
// returns a bare user (ID at top level) when confirmation is required.
type sessionResponse struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	ExpiresIn    int64        `json:"expires_in"`
	User         providerUser `json:"user"`

	providerUser
}

// Authorization implements transport.CredentialSource.
func (b *Backend) Authorization(ctx context.Context) (string, error) {
	ti, err := b.currentToken()
	if err != nil {
		return "", err
	}
	if ti == nil {
		return "", nil
	}
	return "Bearer " + ti.AccessToken, nil
}

// OnSessionChange registers handler for pushed session snapshots.
func (b *Backend) OnSessionChange(handler func(*model.Identity)) func() {
	b.listenersMu.Lock()
	defer b.listenersMu.Unlock()
	id := b.nextID
	b.nextID++
	b.listeners[id] = handler
	return func() {
		b.listenersMu.Lock()
		defer b.listenersMu.Unlock()
		delete(b.listeners, id)
	}
}

func (b *Backend) emit(id *model.Identity) {
	b.listenersMu.Lock()
	handlers := make([]func(*model.Identity), 0, len(b.listeners))
	for _, h := range b.listeners {
		handlers = append(handlers, h)
	}
	b.listenersMu.Unlock()

	for _, h := range handlers {
		if id == nil {
			h(nil)
			continue
		}
		snapshot := *id
		h(&snapshot)
	}
}

func (b *Backend) ResolveSession(ctx context.Context) (*model.Identity, error) {
	ti, err := b.currentToken()
	if err != nil {
		return nil, apperr.Wrap(apperr.KindServer, "could not read stored token", err)
	}
	if ti == nil {
		return nil, nil
	}
	if ti.Expired(b.now()) {
		if ti.RefreshToken == "" {
			b.dropToken()
			return nil, nil
		}
		id, err := b.refresh(ctx)
		if err != nil {
			if isRejected(err) {
				return nil, nil
			}
			return nil, err
		}
		return id, nil
	}

	var user providerUser
	if err := b.client.Get(ctx, "/auth/v1/user", nil, &user); err != nil {
		if apperr.Is(err, apperr.KindUnauthorized) {
			b.dropToken()
			return nil, nil
		}
		return nil, err
	}
	id := user.identity()
	return &id, nil
}

func (b *Backend) SignIn(ctx context.Context, email, password string) (model.Identity, error) {
	var out sessionResponse
	err := b.client.Do(ctx, http.MethodPost, "/auth/v1/token", url.Values{"grant_type": {"password"}},
		map[string]string{"email": strings.TrimSpace(email), "password": password}, &out)
	if err != nil {
		return model.Identity{}, classify(err, true)
	}
	id, err := b.adopt(out)
	if err != nil {
		return model.Identity{}, err
	}
	b.logger.Info("signed in with identity provider", "user_id", id.ID)
	b.emit(&id)
	return id, nil
}

func (b *Backend) SignUp(ctx context.Context, name, email, password string) (backend.SignUpResult, error) {
	body := map[string]any{
		"email":    strings.TrimSpace(email),
		"password": password,
		"data":     map[string]string{"name": strings.TrimSpace(name)},
	}
	var out sessionResponse
	if err := b.client.Post(ctx, "/auth/v1/signup", body, &out); err != nil {
		return backend.SignUpResult{}, classify(err, false)
	}
	if out.AccessToken == "" {
		// email confirmation pending: the account exists, no session yet
		user := out.User
		if user.Email == "" {
			user = out.providerUser
		}
		return backend.SignUpResult{Identity: user.identity()}, nil
	}
	id, err := b.adopt(out)
	if err != nil {
		return backend.SignUpResult{}, err
	}
	b.emit(&id)
	return backend.SignUpResult{Identity: id, SignedIn: true}, nil
}

// SignOut revokes the session remotely and always forgets it locally.
func (b *Backend) SignOut(ctx context.Context) error {
	ti, _ := b.currentToken()
	var remoteErr error
	if ti != nil {
		remoteErr = b.client.Post(ctx, "/auth/v1/logout", nil, nil)
	}
	b.dropToken()
	b.emit(nil)
	if remoteErr != nil && !apperr.Is(remoteErr, apperr.KindUnauthorized) {
		return remoteErr
	}
	return nil
}

// Refresh exchanges the refresh token and pushes the outcome.
func (b *Backend) Refresh(ctx context.Context) error {
	_, err := b.refresh(ctx)
	return err
}

func (b *Backend) refresh(ctx context.Context) (*model.Identity, error) {
	ti, err := b.currentToken()
	if err != nil {
		return nil, apperr.Wrap(apperr.KindServer, "could not read stored token", err)
	}
	if ti == nil || ti.RefreshToken == "" {
		return nil, apperr.New(apperr.KindUnauthorized, "no session to refresh")
	}

	var out sessionResponse
	err = b.client.Do(ctx, http.MethodPost, "/auth/v1/token", url.Values{"grant_type": {"refresh_token"}},
		map[string]string{"refresh_token": ti.RefreshToken}, &out)
	if err != nil {
		if isRejected(err) {
			b.logger.Warn("session refresh rejected", "error", err)
			b.dropToken()
			b.emit(nil)
		}
		return nil, err
	}
	id, err := b.adopt(out)
	if err != nil {
		return nil, err
	}
	b.logger.Debug("session refreshed", "user_id", id.ID)
	b.emit(&id)
	return &id, nil
}

// Start runs the refresh loop until ctx is cancelled.
func (b *Backend) Start(ctx context.Context) {
	for {
		wait, ok := b.untilRefresh()
		var timer <-chan time.Time
		var t *time.Timer
		if ok {
			t = time.NewTimer(wait)
			timer = t.C
		}
		select {
		case <-ctx.Done():
			if t != nil {
				t.Stop()
			}
			return
		case <-b.kick:
			if t != nil {
				t.Stop()
			}
			continue
		case <-timer:
		}
		if err := b.Refresh(ctx); err != nil && !isRejected(err) && ctx.Err() == nil {
			b.logger.Warn("session refresh failed, retrying", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(retryAfterFailure):
			}
		}
	}
}

// untilRefresh reports how long to wait before refreshing, and false when
// there is nothing to refresh.
func (b *Backend) untilRefresh() (time.Duration, bool) {
	ti, err := b.currentToken()
	if err != nil || ti == nil || ti.RefreshToken == "" || ti.ExpiresAt == nil {
		return 0, false
	}
	// tokens living shorter than the margin are refreshed halfway through
	margin := b.margin
	if lifetime := ti.ExpiresAt.Sub(ti.CreatedAt); lifetime > 0 {
		margin = min(margin, lifetime/2)
	}
	wait := ti.ExpiresAt.Add(-margin).Sub(b.now())
	if wait < 0 {
		wait = 0
	}
	return wait, true
}

func (b *Backend) adopt(out sessionResponse) (model.Identity, error) {
	if out.AccessToken == "" {
		return model.Identity{}, apperr.New(apperr.KindServer, "identity provider returned no session")
	}
	now := b.now()
	ti := TokenInfo{
		AccessToken:  out.AccessToken,
		RefreshToken: out.RefreshToken,
		CreatedAt:    now,
	}
	if out.ExpiresIn > 0 {
		exp := now.Add(time.Duration(out.ExpiresIn) * time.Second)
		ti.ExpiresAt = &exp
	}
	if err := b.tokens.Save(ti); err != nil {
		b.logger.Warn("could not persist token", "error", err)
	}
	b.mu.Lock()
	b.token = &ti
	b.loaded = true
	b.mu.Unlock()

	select {
	case b.kick <- struct{}{}:
	default:
	}
	return out.User.identity(), nil
}

func (b *Backend) currentToken() (*TokenInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.loaded {
		ti, err := b.tokens.Load()
		if err != nil {
			return nil, err
		}
		b.token = ti
		b.loaded = true
	}
	if b.token == nil {
		return nil, nil
	}
	c := *b.token
	return &c, nil
}

func (b *Backend) dropToken() {
	b.mu.Lock()
	b.token = nil
	b.loaded = true
	b.mu.Unlock()
	if err := b.tokens.Delete(); err != nil {
		b.logger.Warn("could not delete token", "error", err)
	}
	select {
	case b.kick <- struct{}{}:
	default:
	}
}

// isRejected reports whether the provider refused the credentials, as
// opposed to being unreachable.
func isRejected(err error) bool {
	switch apperr.KindOf(err) {
	case apperr.KindUnauthorized, apperr.KindAuthentication, apperr.KindValidation:
		return true
	}
	return false
}

// classify maps provider responses onto the shared taxonomy. signIn
// selects how a bare 400 is read: bad credentials on the token endpoint,
// bad input on sign-up.
func classify(err error, signIn bool) error {
	ae, ok := apperr.As(err)
	if !ok {
		return apperr.Classify(err)
	}
	msg := strings.ToLower(ae.Message)
	c := *ae
	switch {
	case ae.Status == http.StatusConflict || strings.Contains(msg, "already registered") || strings.Contains(msg, "already exists"):
		c.Kind = apperr.KindAuthentication
		c.Reason = apperr.ReasonDuplicateEmail
	case strings.Contains(msg, "password") && strings.Contains(msg, "at least"):
		c.Kind = apperr.KindValidation
		c.Reason = apperr.ReasonWeakPassword
	case signIn && (ae.Status == http.StatusBadRequest || ae.Status == http.StatusUnauthorized):
		c.Kind = apperr.KindAuthentication
		c.Reason = apperr.ReasonInvalidCredentials
	case ae.Kind == apperr.KindValidation:
		c.Reason = apperr.ReasonMissingField
	default:
		return ae
	}
	return &c
}
