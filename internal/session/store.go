// Package session owns the answer to "who is logged in".
//
// A Store is the single writer of the session state and of the session
// marker; every transition goes through it. A Controller wraps a Store
// with the loading/error bookkeeping a form needs.
package session

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/idilsaglam/tada/internal/apperr"
	"github.com/idilsaglam/tada/internal/backend"
	"github.com/idilsaglam/tada/internal/marker"
	"github.com/idilsaglam/tada/internal/model"
)

// DefaultResolveTimeout bounds Resolve and Revalidate.
const DefaultResolveTimeout = 5 * time.Second

// Options configures a Store.
type Options struct {
	// ResolveTimeout bounds a session check. Defaults to DefaultResolveTimeout.
	ResolveTimeout time.Duration
	// AutoSignInOnRegister signs the new identity in after a registration
	// the backend did not already sign in.
	AutoSignInOnRegister bool
	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Store is safe for concurrent use.
//
// Subscribers are called in transition order, one at a time, outside the
// store's lock.
type Store struct {
	backend backend.Backend
	marker  marker.Marker
	opts    Options
	logger  *slog.Logger

	mu      sync.Mutex
	state   model.SessionState
	clock   uint64 // last issued stamp
	applied uint64 // stamp of the last applied transition
	lastErr error
	subs    map[int]func(model.SessionState)
	nextSub int

	pending    []model.SessionState // transitions not yet delivered
	delivering bool

	initOnce   sync.Once
	stopNotify func()
}

// New creates a Store in the Unresolved phase. Call Init before use.
func New(b backend.Backend, m marker.Marker, opts Options) *Store {
	if opts.ResolveTimeout <= 0 {
		opts.ResolveTimeout = DefaultResolveTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = marker.NewMemory()
	}
	return &Store{
		backend: b,
		marker:  m,
		opts:    opts,
		logger:  logger.With("backend", b.Name()),
		subs:    make(map[int]func(model.SessionState)),
	}
}

// Backend returns the active backend.
func (s *Store) Backend() backend.Backend { return s.backend }

// Marker returns the marker the store keeps in sync.
func (s *Store) Marker() marker.Marker { return s.marker }

// State returns the current session state.
func (s *Store) State() model.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastError returns the diagnostic recorded by the last failed resolve.
func (s *Store) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Subscribe registers handler for every state transition.
func (s *Store) Subscribe(handler func(model.SessionState)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = handler
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

// Init listens for backend notifications and resolves the initial
// session. Only the first call does anything.
func (s *Store) Init(ctx context.Context) {
	s.initOnce.Do(func() {
		if n, ok := s.backend.(backend.Notifier); ok {
			s.stopNotify = n.OnSessionChange(s.notified)
		}
		s.Resolve(ctx)
	})
}

// Close stops listening for backend notifications.
func (s *Store) Close() {
	if s.stopNotify != nil {
		s.stopNotify()
	}
}

// Resolve asks the backend for an existing session. It always settles
// within ResolveTimeout; a failure leaves the store Anonymous with the
// error available from LastError.
func (s *Store) Resolve(ctx context.Context) {
	stamp := s.tick()
	id, err := s.resolveBounded(ctx)
	switch {
	case err != nil:
		s.logger.Warn("session check failed", "error", err)
		s.apply(stamp, model.AnonymousState(), err)
	case id == nil || !id.Valid():
		s.apply(stamp, model.AnonymousState(), nil)
	default:
		s.apply(stamp, model.AuthenticatedState(*id), nil)
	}
}

// Revalidate re-queries the backend after the server rejected the
// session. The marker no longer vouches for the session, so it is cleared
// first; a backend that can still prove the session restores it. It
// returns the state it settled on.
func (s *Store) Revalidate(ctx context.Context) model.SessionState {
	s.mu.Lock()
	if err := s.marker.Clear(); err != nil {
		s.logger.Warn("could not clear session marker", "error", err)
	}
	s.mu.Unlock()
	s.Resolve(ctx)
	return s.State()
}

type resolved struct {
	id  *model.Identity
	err error
}

func (s *Store) resolveBounded(ctx context.Context) (*model.Identity, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.ResolveTimeout)
	defer cancel()

	done := make(chan resolved, 1)
	go func() {
		id, err := s.backend.ResolveSession(ctx)
		done <- resolved{id, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			if _, ok := apperr.As(r.err); !ok && ctx.Err() != nil {
				return nil, apperr.Wrap(apperr.KindRequestTimeout, "session check timed out", r.err)
			}
			return nil, apperr.Classify(r.err)
		}
		return r.id, nil
	case <-ctx.Done():
		return nil, apperr.Wrap(apperr.KindRequestTimeout, "session check timed out", ctx.Err())
	}
}

// notified handles a pushed snapshot from the backend.
func (s *Store) notified(id *model.Identity) {
	if id == nil || !id.Valid() {
		s.apply(s.tick(), model.AnonymousState(), nil)
		return
	}
	s.apply(s.tick(), model.AuthenticatedState(*id), nil)
}

// Login signs in with the backend. The error is non-nil only for
// network- and server-level failures; the result always carries a message
// on failure.
func (s *Store) Login(ctx context.Context, email, password string) (model.AuthResult, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return failed(apperr.New(apperr.KindValidation, "Email and password are required").
			WithReason(apperr.ReasonMissingField))
	}

	id, err := s.backend.SignIn(ctx, email, password)
	if err != nil {
		s.logger.Info("sign in failed", "error", err)
		return failed(err)
	}
	s.apply(s.tick(), model.AuthenticatedState(id), nil)
	s.logger.Info("signed in", "user_id", id.ID)
	return model.AuthResult{Outcome: model.Success, Identity: &id}, nil
}

// Register creates an identity. Identity is set on the result only when
// the store ended up Authenticated as the new user.
func (s *Store) Register(ctx context.Context, name, email, password string) (model.AuthResult, error) {
	name = strings.TrimSpace(name)
	email = strings.TrimSpace(email)
	if name == "" || email == "" || password == "" {
		return failed(apperr.New(apperr.KindValidation, "Name, email, and password are required").
			WithReason(apperr.ReasonMissingField))
	}
	if len(password) < backend.MinPasswordLength {
		return failed(apperr.New(apperr.KindValidation, "Password must be at least 6 characters").
			WithReason(apperr.ReasonWeakPassword))
	}

	res, err := s.backend.SignUp(ctx, name, email, password)
	if err != nil {
		s.logger.Info("registration failed", "error", err)
		return failed(err)
	}

	if res.SignedIn {
		s.apply(s.tick(), model.AuthenticatedState(res.Identity), nil)
		return model.AuthResult{Outcome: model.Success, Identity: &res.Identity}, nil
	}
	if !s.opts.AutoSignInOnRegister {
		return model.AuthResult{Outcome: model.Success}, nil
	}

	id, err := s.backend.SignIn(ctx, email, password)
	if err != nil {
		// the account exists; only the follow-up sign-in failed
		s.logger.Warn("sign in after registration failed", "error", err)
		return model.AuthResult{Outcome: model.Success, Message: apperr.UserMessage(err), Err: err}, nil
	}
	s.apply(s.tick(), model.AuthenticatedState(id), nil)
	return model.AuthResult{Outcome: model.Success, Identity: &id}, nil
}

// Logout always leaves the store Anonymous with the marker cleared. The
// backend's error is returned for diagnostics only.
func (s *Store) Logout(ctx context.Context) error {
	err := s.backend.SignOut(ctx)
	if err != nil {
		s.logger.Warn("remote sign out failed", "error", err)
		err = apperr.Classify(err)
	}
	s.apply(s.tick(), model.AnonymousState(), nil)
	return err
}

func failed(err error) (model.AuthResult, error) {
	res := model.AuthResult{Outcome: model.Failure, Message: apperr.UserMessage(err), Err: err}
	if apperr.Retryable(err) || apperr.Is(err, apperr.KindUnauthorized) {
		return res, apperr.Classify(err)
	}
	return res, nil
}

func (s *Store) tick() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock++
	return s.clock
}

// apply installs next if no later transition has been applied since stamp
// was issued. The marker follows the state under the same lock.
func (s *Store) apply(stamp uint64, next model.SessionState, diag error) {
	s.mu.Lock()
	if stamp < s.applied {
		s.mu.Unlock()
		s.logger.Debug("discarding superseded transition", "phase", next.Phase.String())
		return
	}
	s.applied = stamp
	s.lastErr = diag
	if s.state == next {
		if next.IsAuthenticated() && !s.marker.Present() {
			s.syncMarker(next)
		}
		s.mu.Unlock()
		return
	}
	prev := s.state
	s.state = next
	s.syncMarker(next)
	s.logger.Debug("session transition", "from", prev.Phase.String(), "phase", next.Phase.String())

	s.pending = append(s.pending, next)
	if s.delivering {
		s.mu.Unlock()
		return
	}
	s.delivering = true
	for len(s.pending) > 0 {
		batch := s.pending
		s.pending = nil
		handlers := make([]func(model.SessionState), 0, len(s.subs))
		for _, h := range s.subs {
			handlers = append(handlers, h)
		}
		s.mu.Unlock()
		for _, state := range batch {
			for _, h := range handlers {
				h(state)
			}
		}
		s.mu.Lock()
	}
	s.delivering = false
	s.mu.Unlock()
}

func (s *Store) syncMarker(state model.SessionState) {
	var err error
	if state.IsAuthenticated() {
		err = s.marker.Write(state.Identity)
	} else {
		err = s.marker.Clear()
	}
	if err != nil {
		s.logger.Warn("could not update session marker", "phase", state.Phase.String(), "error", err)
	}
}
