// Package app wires the client together from a Config: one transport, the
// configured auth backend, the session store and the todo cache.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/idilsaglam/tada/internal/backend"
	"github.com/idilsaglam/tada/internal/backend/apiauth"
	"github.com/idilsaglam/tada/internal/backend/hostedauth"
	"github.com/idilsaglam/tada/internal/backend/localauth"
	"github.com/idilsaglam/tada/internal/config"
	"github.com/idilsaglam/tada/internal/marker"
	"github.com/idilsaglam/tada/internal/session"
	"github.com/idilsaglam/tada/internal/todoapi"
	"github.com/idilsaglam/tada/internal/todocache"
	"github.com/idilsaglam/tada/internal/transport"
)

// App is the assembled client. Build it with New, call Start once, and
// Close when done.
type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	Marker   marker.Marker
	Gate     marker.Gate
	Sessions *session.Store
	Auth     *session.Controller
	Todos    *todocache.Cache

	hosted *hostedauth.Backend
	cancel context.CancelFunc
}

// New validates cfg and builds the client. Nothing touches the network
// until Start.
func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	a := &App{
		Config: cfg,
		Logger: logger,
		Marker: marker.NewFile(cfg.StateDir),
		Gate:   marker.DefaultGate(),
	}

	var creds transport.CredentialSource
	var b backend.Backend
	if cfg.Backend == backend.NameHosted {
		hb, err := hostedauth.New(hostedauth.Config{
			URL:           cfg.Hosted.URL,
			AnonKey:       cfg.Hosted.AnonKey,
			StateDir:      cfg.StateDir,
			Timeout:       cfg.Timeout.Std(),
			RefreshMargin: cfg.Hosted.RefreshMargin.Std(),
			Logger:        logger.With("component", "hostedauth"),
		})
		if err != nil {
			return nil, err
		}
		a.hosted = hb
		b = hb
		creds = hb
	}

	client, err := transport.New(transport.Config{
		BaseURL:     cfg.APIURL,
		Timeout:     cfg.Timeout.Std(),
		Credentials: creds,
		Logger:      logger.With("component", "transport"),
	})
	if err != nil {
		return nil, err
	}

	switch cfg.Backend {
	case backend.NameAPI:
		b = apiauth.New(client, a.Marker, logger.With("component", "apiauth"))
	case backend.NameLocal:
		b = localauth.New(filepath.Join(cfg.StateDir, "local"))
	}

	a.Sessions = session.New(b, a.Marker, session.Options{
		ResolveTimeout:       cfg.ResolveTimeout.Std(),
		AutoSignInOnRegister: cfg.Register.AutoSignIn,
		Logger:               logger.With("component", "session"),
	})
	a.Auth = session.NewController(a.Sessions)
	a.Todos = todocache.New(todoapi.New(client), a.Sessions, todocache.Options{
		StaleAfter: cfg.StaleAfter.Std(),
		Logger:     logger.With("component", "todocache"),
	})
	return a, nil
}

// Start resolves the session and, for the hosted backend, runs the token
// refresh loop until Close.
func (a *App) Start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)
	a.Sessions.Init(ctx)
	if a.hosted != nil {
		go a.hosted.Start(ctx)
	}
}

// Allow runs the authorization gate for route.
func (a *App) Allow(route string) marker.Decision {
	return a.Gate.Allow(route, a.Marker.Present())
}

// Close stops background work.
func (a *App) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	a.Todos.Close()
	a.Sessions.Close()
}
