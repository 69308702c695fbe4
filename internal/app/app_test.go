package app

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/idilsaglam/tada/internal/config"
	"github.com/idilsaglam/tada/internal/marker"
	"github.com/idilsaglam/tada/internal/server"
)

func testConfig(t *testing.T, backendName, apiURL string) *config.Config {
	cfg := config.Default()
	cfg.Backend = backendName
	cfg.APIURL = apiURL
	cfg.StateDir = t.TempDir()
	return cfg
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t, "ldap", "http://localhost")
	_, err := New(cfg, nil)
	assert.ErrorContains(t, err, "invalid config")
}

func TestAPIBackendEndToEnd(t *testing.T) {
	srv := httptest.NewServer(server.New(server.Config{Prefix: "/api", BcryptCost: bcrypt.MinCost}))
	t.Cleanup(srv.Close)
	ctx := context.Background()

	cfg := testConfig(t, "api", srv.URL+"/api")
	a, err := New(cfg, nil)
	require.NoError(t, err)
	a.Start(ctx)
	t.Cleanup(a.Close)

	assert.Equal(t, "api", a.Sessions.Backend().Name())
	assert.False(t, a.Allow(marker.RouteTodoList).Allowed)

	ok, res := a.Auth.Register(ctx, "Alice", "alice@example.com", "secret1")
	require.True(t, ok, res.Message)
	assert.True(t, a.Allow(marker.RouteTodoList).Allowed)

	_, err = a.Todos.Create(ctx, "Buy milk", "")
	require.NoError(t, err)

	// a second process with the same state dir picks the session up
	b, err := New(cfg, nil)
	require.NoError(t, err)
	b.Start(ctx)
	t.Cleanup(b.Close)
	require.True(t, b.Sessions.State().IsAuthenticated())
	items, err := b.Todos.Load(ctx, b.Sessions.State().Identity.Email)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Buy milk", items[0].Text)
}

func TestLocalBackend(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, "local", "http://127.0.0.1:1/api")
	a, err := New(cfg, nil)
	require.NoError(t, err)
	a.Start(ctx)
	t.Cleanup(a.Close)

	assert.Equal(t, "local", a.Sessions.Backend().Name())
	ok, res := a.Auth.Register(ctx, "Bob", "bob@example.com", "hunter22")
	require.True(t, ok, res.Message)
	require.NotNil(t, res.Identity, "auto sign-in is on by default")
	assert.True(t, a.Marker.Present())
}

func TestHostedBackendNeedsURL(t *testing.T) {
	cfg := testConfig(t, "hosted", "http://localhost:8080/api")
	_, err := New(cfg, nil)
	assert.ErrorContains(t, err, "hosted.url")

	cfg.Hosted.URL = "https://example.invalid"
	a, err := New(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, "hosted", a.Sessions.Backend().Name())
}
