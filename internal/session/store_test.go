package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/idilsaglam/tada/internal/apperr"
	"github.com/idilsaglam/tada/internal/backend"
	"github.com/idilsaglam/tada/internal/backend/localauth"
	"github.com/idilsaglam/tada/internal/marker"
	"github.com/idilsaglam/tada/internal/model"
)

var alice = model.Identity{ID: "1", Email: "alice@example.com", Name: "Alice"}

// fakeBackend records calls and returns scripted results.
type fakeBackend struct {
	mu      sync.Mutex
	calls   []string
	session *model.Identity
	users   map[string]string // email -> password
	names   map[string]string

	resolveErr  error
	resolveGate chan struct{} // when set, ResolveSession waits on it
	signOutErr  error
	signUpIn    bool // SignUp establishes a session
	signInErr   error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		users: map[string]string{alice.Email: "secret1"},
		names: map[string]string{alice.Email: alice.Name},
	}
}

func (f *fakeBackend) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeBackend) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeBackend) Name() string { return "fake" }

func (f *fakeBackend) ResolveSession(ctx context.Context) (*model.Identity, error) {
	f.record("resolve")
	if f.resolveGate != nil {
		select {
		case <-f.resolveGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resolveErr != nil {
		return nil, f.resolveErr
	}
	if f.session == nil {
		return nil, nil
	}
	id := *f.session
	return &id, nil
}

func (f *fakeBackend) identity(email string) model.Identity {
	return model.Identity{Email: email, Name: f.names[email]}
}

func (f *fakeBackend) SignIn(ctx context.Context, email, password string) (model.Identity, error) {
	f.record("signin")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.signInErr != nil {
		return model.Identity{}, f.signInErr
	}
	if pw, ok := f.users[email]; !ok || pw != password {
		return model.Identity{}, apperr.New(apperr.KindAuthentication, "Invalid email or password").
			WithReason(apperr.ReasonInvalidCredentials)
	}
	id := f.identity(email)
	f.session = &id
	return id, nil
}

func (f *fakeBackend) SignUp(ctx context.Context, name, email, password string) (backend.SignUpResult, error) {
	f.record("signup")
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.users[email]; ok {
		return backend.SignUpResult{}, apperr.New(apperr.KindAuthentication, "Email already exists").
			WithReason(apperr.ReasonDuplicateEmail)
	}
	f.users[email] = password
	f.names[email] = name
	id := f.identity(email)
	if f.signUpIn {
		f.session = &id
	}
	return backend.SignUpResult{Identity: id, SignedIn: f.signUpIn}, nil
}

func (f *fakeBackend) SignOut(ctx context.Context) error {
	f.record("signout")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.session = nil
	return f.signOutErr
}

// pushingBackend adds session notifications to fakeBackend.
type pushingBackend struct {
	*fakeBackend
	hmu      sync.Mutex
	handlers []func(*model.Identity)
}

func (p *pushingBackend) OnSessionChange(h func(*model.Identity)) func() {
	p.hmu.Lock()
	defer p.hmu.Unlock()
	p.handlers = append(p.handlers, h)
	return func() {}
}

func (p *pushingBackend) push(id *model.Identity) {
	p.hmu.Lock()
	hs := append(([]func(*model.Identity))(nil), p.handlers...)
	p.hmu.Unlock()
	for _, h := range hs {
		h(id)
	}
}

func (p *pushingBackend) SignIn(ctx context.Context, email, password string) (model.Identity, error) {
	id, err := p.fakeBackend.SignIn(ctx, email, password)
	if err == nil {
		p.push(&id)
	}
	return id, err
}

func newStore(t *testing.T, b backend.Backend, opts Options) (*Store, *marker.Memory) {
	t.Helper()
	m := marker.NewMemory()
	s := New(b, m, opts)
	t.Cleanup(s.Close)
	return s, m
}

func TestInitialState(t *testing.T) {
	s, _ := newStore(t, newFakeBackend(), Options{})
	assert.Equal(t, model.Unresolved, s.State().Phase)
	assert.True(t, s.State().Loading())
}

func TestResolve(t *testing.T) {
	ctx := context.Background()

	t.Run("existing session", func(t *testing.T) {
		b := newFakeBackend()
		b.session = &alice
		s, m := newStore(t, b, Options{})
		s.Init(ctx)
		assert.Equal(t, model.AuthenticatedState(alice), s.State())
		assert.True(t, m.Present())
		assert.NoError(t, s.LastError())
	})

	t.Run("no session", func(t *testing.T) {
		s, m := newStore(t, newFakeBackend(), Options{})
		s.Init(ctx)
		assert.Equal(t, model.AnonymousState(), s.State())
		assert.False(t, m.Present())
	})

	t.Run("backend error settles anonymous", func(t *testing.T) {
		b := newFakeBackend()
		b.resolveErr = apperr.New(apperr.KindTransportFailure, "connection refused")
		s, _ := newStore(t, b, Options{})
		s.Init(ctx)
		assert.Equal(t, model.AnonymousState(), s.State())
		require.Error(t, s.LastError())
		assert.True(t, apperr.Is(s.LastError(), apperr.KindTransportFailure))
	})

	t.Run("hanging backend settles within the bound", func(t *testing.T) {
		b := newFakeBackend()
		b.resolveGate = make(chan struct{}) // never released
		s, _ := newStore(t, b, Options{ResolveTimeout: 50 * time.Millisecond})

		start := time.Now()
		s.Init(ctx)
		assert.Less(t, time.Since(start), 2*time.Second)
		assert.Equal(t, model.AnonymousState(), s.State())
		assert.True(t, apperr.Is(s.LastError(), apperr.KindRequestTimeout))
	})

	t.Run("init runs once", func(t *testing.T) {
		b := newFakeBackend()
		s, _ := newStore(t, b, Options{})
		s.Init(ctx)
		s.Init(ctx)
		assert.Equal(t, []string{"resolve"}, b.Calls())
	})
}

func TestSlowResolveDoesNotClobberNotification(t *testing.T) {
	b := &pushingBackend{fakeBackend: newFakeBackend()}
	b.resolveGate = make(chan struct{})
	s, m := newStore(t, b, Options{ResolveTimeout: 5 * time.Second})

	done := make(chan struct{})
	go func() {
		s.Init(context.Background())
		close(done)
	}()

	// wait until the resolve is in flight, then push a live snapshot
	require.Eventually(t, func() bool { return len(b.Calls()) == 1 }, time.Second, 5*time.Millisecond)
	b.push(&alice)
	assert.Equal(t, model.AuthenticatedState(alice), s.State())

	close(b.resolveGate) // resolve now reports no session
	<-done

	assert.Equal(t, model.AuthenticatedState(alice), s.State())
	assert.True(t, m.Present())
}

func TestNotifications(t *testing.T) {
	b := &pushingBackend{fakeBackend: newFakeBackend()}
	s, m := newStore(t, b, Options{})
	s.Init(context.Background())
	require.Equal(t, model.Anonymous, s.State().Phase)

	var seen []model.Phase
	s.Subscribe(func(st model.SessionState) { seen = append(seen, st.Phase) })

	b.push(&alice)
	assert.Equal(t, model.AuthenticatedState(alice), s.State())
	assert.True(t, m.Present())

	b.push(nil)
	assert.Equal(t, model.AnonymousState(), s.State())
	assert.False(t, m.Present())

	assert.Equal(t, []model.Phase{model.Authenticated, model.Anonymous}, seen)
}

func TestLogin(t *testing.T) {
	ctx := context.Background()

	t.Run("valid credentials", func(t *testing.T) {
		s, m := newStore(t, newFakeBackend(), Options{})
		s.Init(ctx)
		res, err := s.Login(ctx, "alice@example.com", "secret1")
		require.NoError(t, err)
		require.True(t, res.OK())
		require.NotNil(t, res.Identity)
		assert.Equal(t, "alice@example.com", res.Identity.Email)
		assert.True(t, s.State().IsAuthenticated())
		assert.True(t, m.Present())
	})

	t.Run("invalid credentials keep anonymous", func(t *testing.T) {
		s, m := newStore(t, newFakeBackend(), Options{})
		s.Init(ctx)
		for _, pw := range []string{"wrong", "secret", "SECRET1"} {
			res, err := s.Login(ctx, "alice@example.com", pw)
			require.NoError(t, err)
			assert.False(t, res.OK())
			assert.Equal(t, "Invalid email or password", res.Message)
			assert.Equal(t, apperr.ReasonInvalidCredentials, apperr.ReasonOf(res.Err))
			assert.Equal(t, model.AnonymousState(), s.State())
			assert.False(t, m.Present())
		}
	})

	t.Run("blank fields never reach the backend", func(t *testing.T) {
		b := newFakeBackend()
		s, _ := newStore(t, b, Options{})
		res, err := s.Login(ctx, "  ", "x")
		require.NoError(t, err)
		assert.False(t, res.OK())
		assert.True(t, apperr.Is(res.Err, apperr.KindValidation))
		assert.Empty(t, b.Calls())
	})

	t.Run("network failure is returned", func(t *testing.T) {
		b := newFakeBackend()
		b.signInErr = apperr.New(apperr.KindTransportFailure, "connection refused")
		s, _ := newStore(t, b, Options{})
		s.Init(ctx)
		res, err := s.Login(ctx, "alice@example.com", "secret1")
		require.Error(t, err)
		assert.False(t, res.OK())
		assert.Equal(t, "connection refused", res.Message)
		assert.Equal(t, model.Anonymous, s.State().Phase)
	})

	t.Run("pushing backend transitions once", func(t *testing.T) {
		b := &pushingBackend{fakeBackend: newFakeBackend()}
		s, _ := newStore(t, b, Options{})
		s.Init(ctx)
		var n int
		s.Subscribe(func(model.SessionState) { n++ })
		res, err := s.Login(ctx, "alice@example.com", "secret1")
		require.NoError(t, err)
		require.True(t, res.OK())
		assert.Equal(t, 1, n)
	})
}

func TestRegister(t *testing.T) {
	ctx := context.Background()

	t.Run("duplicate email leaves state alone", func(t *testing.T) {
		b := newFakeBackend()
		b.session = &alice
		s, _ := newStore(t, b, Options{AutoSignInOnRegister: true})
		s.Init(ctx)
		before := s.State()

		res, err := s.Register(ctx, "Other", "alice@example.com", "another1")
		require.NoError(t, err)
		assert.False(t, res.OK())
		assert.Equal(t, apperr.ReasonDuplicateEmail, apperr.ReasonOf(res.Err))
		assert.True(t, apperr.Is(res.Err, apperr.KindAuthentication))
		assert.Equal(t, "Email already exists", res.Message)
		assert.Equal(t, before, s.State())
	})

	t.Run("short password fails before the network", func(t *testing.T) {
		b := newFakeBackend()
		s, _ := newStore(t, b, Options{})
		for _, pw := range []string{"a", "abcde"} {
			res, err := s.Register(ctx, "Bob", "bob@example.com", pw)
			require.NoError(t, err)
			assert.False(t, res.OK())
			assert.True(t, apperr.Is(res.Err, apperr.KindValidation))
			assert.Equal(t, apperr.ReasonWeakPassword, apperr.ReasonOf(res.Err))
		}
		assert.Empty(t, b.Calls())
	})

	t.Run("backend signs in", func(t *testing.T) {
		b := newFakeBackend()
		b.signUpIn = true
		s, m := newStore(t, b, Options{})
		s.Init(ctx)
		res, err := s.Register(ctx, "Bob", "bob@example.com", "hunter22")
		require.NoError(t, err)
		require.NotNil(t, res.Identity)
		assert.Equal(t, "bob@example.com", s.State().Identity.Email)
		assert.True(t, m.Present())
		assert.NotContains(t, b.Calls(), "signin")
	})

	t.Run("auto sign-in policy", func(t *testing.T) {
		b := newFakeBackend()
		s, _ := newStore(t, b, Options{AutoSignInOnRegister: true})
		s.Init(ctx)
		res, err := s.Register(ctx, "Bob", "bob@example.com", "hunter22")
		require.NoError(t, err)
		require.NotNil(t, res.Identity)
		assert.True(t, s.State().IsAuthenticated())
		assert.Equal(t, []string{"resolve", "signup", "signin"}, b.Calls())
	})

	t.Run("no auto sign-in", func(t *testing.T) {
		b := newFakeBackend()
		s, m := newStore(t, b, Options{})
		s.Init(ctx)
		res, err := s.Register(ctx, "Bob", "bob@example.com", "hunter22")
		require.NoError(t, err)
		assert.True(t, res.OK())
		assert.Nil(t, res.Identity)
		assert.Equal(t, model.AnonymousState(), s.State())
		assert.False(t, m.Present())
	})
}

func TestLogout(t *testing.T) {
	ctx := context.Background()

	for _, tc := range []struct {
		name string
		err  error
	}{
		{"backend succeeds", nil},
		{"backend fails", apperr.New(apperr.KindTransportFailure, "connection refused")},
		{"backend returns plain error", errors.New("boom")},
	} {
		t.Run(tc.name, func(t *testing.T) {
			b := newFakeBackend()
			b.session = &alice
			b.signOutErr = tc.err
			s, m := newStore(t, b, Options{})
			s.Init(ctx)
			require.True(t, m.Present())

			err := s.Logout(ctx)
			if tc.err != nil {
				assert.Error(t, err)
			}
			assert.Equal(t, model.AnonymousState(), s.State())
			assert.False(t, m.Present())

			_ = s.Logout(ctx)
			assert.Equal(t, model.AnonymousState(), s.State())
			assert.False(t, m.Present())
		})
	}
}

func TestRevalidate(t *testing.T) {
	b := newFakeBackend()
	b.session = &alice
	s, m := newStore(t, b, Options{})
	s.Init(context.Background())
	require.True(t, s.State().IsAuthenticated())

	b.mu.Lock()
	b.session = nil
	b.mu.Unlock()

	st := s.Revalidate(context.Background())
	assert.Equal(t, model.AnonymousState(), st)
	assert.False(t, m.Present())
}

func TestRevalidateKeepsProvenSession(t *testing.T) {
	b := newFakeBackend()
	b.session = &alice
	s, m := newStore(t, b, Options{})
	s.Init(context.Background())

	st := s.Revalidate(context.Background())
	assert.Equal(t, model.AuthenticatedState(alice), st)
	assert.True(t, m.Present(), "marker is written back")
}

func TestMarkerFileFollowsState(t *testing.T) {
	dir := t.TempDir()
	f := marker.NewFile(dir)
	s := New(newFakeBackend(), f, Options{})
	s.Init(context.Background())
	gate := marker.DefaultGate()

	assert.False(t, gate.Allow("todolist", f.Present()).Allowed)

	_, err := s.Login(context.Background(), "alice@example.com", "secret1")
	require.NoError(t, err)
	assert.True(t, gate.Allow("todolist", f.Present()).Allowed)

	require.NoError(t, s.Logout(context.Background()))
	d := gate.Allow("todolist", f.Present())
	assert.False(t, d.Allowed)
	assert.Equal(t, "login", d.Redirect)
}

func TestLocalBackendRegisterLogoutLogin(t *testing.T) {
	ctx := context.Background()
	b := localauth.New(t.TempDir(), localauth.WithCost(bcrypt.MinCost))
	s, _ := newStore(t, b, Options{AutoSignInOnRegister: true})
	s.Init(ctx)

	res, err := s.Register(ctx, "Alice", "alice@example.com", "secret1")
	require.NoError(t, err)
	require.NotNil(t, res.Identity)
	require.NoError(t, s.Logout(ctx))

	res, err = s.Login(ctx, "ALICE@example.com", "secret1")
	require.NoError(t, err)
	require.True(t, res.OK())
	assert.Equal(t, "Alice", s.State().Identity.Name)
}
