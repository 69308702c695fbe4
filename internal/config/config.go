// Package config loads the client configuration.
//
// Configuration comes from a YAML file (<state_dir>/config.yaml unless a
// path is given) layered over Default, then from TADA_* environment
// variables. A missing file is not an error; a malformed one is.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/idilsaglam/tada/internal/backend"
)

// FileName is the config file inside the state directory.
const FileName = "config.yaml"

// Environment variables that override the file.
const (
	EnvBackend   = "TADA_BACKEND"
	EnvAPIURL    = "TADA_API_URL"
	EnvHostedURL = "TADA_HOSTED_URL"
	EnvHostedKey = "TADA_HOSTED_KEY"
	EnvStateDir  = "TADA_STATE_DIR"
)

// Config is the client configuration.
type Config struct {
	// Backend selects the authentication backend: api, local or hosted.
	Backend string `yaml:"backend"`

	// APIURL is the base URL of the todo REST API.
	APIURL string `yaml:"api_url"`

	// StateDir holds the session marker, tokens and local-backend files.
	StateDir string `yaml:"state_dir"`

	// Timeout bounds every HTTP request.
	Timeout Duration `yaml:"timeout"`

	// ResolveTimeout bounds the startup session check.
	ResolveTimeout Duration `yaml:"resolve_timeout"`

	// StaleAfter is how long a fetched todo list is reused.
	StaleAfter Duration `yaml:"stale_after"`

	Register RegisterConfig `yaml:"register"`
	Hosted   HostedConfig   `yaml:"hosted"`

	// Theme is the CLI theme: classic, neon or mono.
	Theme string `yaml:"theme"`
}

// RegisterConfig controls what happens after a successful registration.
type RegisterConfig struct {
	// AutoSignIn signs the new account in when the backend did not.
	AutoSignIn bool `yaml:"auto_sign_in"`
}

// HostedConfig configures the hosted identity provider.
type HostedConfig struct {
	URL           string   `yaml:"url"`
	AnonKey       string   `yaml:"anon_key"`
	RefreshMargin Duration `yaml:"refresh_margin"`
}

// Duration is a time.Duration written as a Go duration string ("10s").
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalYAML() (any, error) { return time.Duration(d).String(), nil }

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(v)
	return nil
}

// DefaultStateDir is ~/.tada.
func DefaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".tada"
	}
	return filepath.Join(home, ".tada")
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Backend:        backend.NameAPI,
		APIURL:         "http://localhost:8080/api",
		StateDir:       DefaultStateDir(),
		Timeout:        Duration(10 * time.Second),
		ResolveTimeout: Duration(5 * time.Second),
		StaleAfter:     Duration(30 * time.Second),
		Register:       RegisterConfig{AutoSignIn: true},
		Hosted:         HostedConfig{RefreshMargin: Duration(time.Minute)},
		Theme:          "classic",
	}
}

// Load reads path, or <state_dir>/config.yaml when path is empty, and
// applies environment overrides. getenv is usually os.Getenv.
func Load(path string, getenv func(string) string) (*Config, error) {
	cfg := Default()
	if dir := strings.TrimSpace(getenv(EnvStateDir)); dir != "" {
		cfg.StateDir = dir
	}

	explicit := path != ""
	if !explicit {
		path = filepath.Join(cfg.StateDir, FileName)
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg.applyEnv(getenv)
	cfg.StateDir = expandHome(cfg.StateDir)
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&c.Backend, EnvBackend)
	set(&c.APIURL, EnvAPIURL)
	set(&c.Hosted.URL, EnvHostedURL)
	set(&c.Hosted.AnonKey, EnvHostedKey)
	set(&c.StateDir, EnvStateDir)
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	var errs []error
	switch c.Backend {
	case backend.NameAPI:
		if err := checkURL(c.APIURL); err != nil {
			errs = append(errs, fmt.Errorf("api_url: %w", err))
		}
	case backend.NameLocal:
	case backend.NameHosted:
		if strings.TrimSpace(c.Hosted.URL) == "" {
			errs = append(errs, errors.New("hosted.url is required for the hosted backend"))
		} else if err := checkURL(c.Hosted.URL); err != nil {
			errs = append(errs, fmt.Errorf("hosted.url: %w", err))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown backend %q (want api, local or hosted)", c.Backend))
	}
	if strings.TrimSpace(c.StateDir) == "" {
		errs = append(errs, errors.New("state_dir is required"))
	}
	if c.Timeout <= 0 || c.ResolveTimeout <= 0 || c.StaleAfter <= 0 {
		errs = append(errs, errors.New("timeout, resolve_timeout and stale_after must be positive"))
	}
	switch c.Theme {
	case "", "classic", "neon", "mono":
	default:
		errs = append(errs, fmt.Errorf("unknown theme %q", c.Theme))
	}
	return errors.Join(errs...)
}

func checkURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return fmt.Errorf("%q is not an http(s) URL", raw)
	}
	return nil
}

// Save writes c to path.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
