// Package marker persists the client-visible "a session exists" fact
// consulted by the authorization gate.
//
// The session store is the only writer. Everything else reads.
package marker

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/idilsaglam/tada/internal/model"
)

// DefaultMaxAge matches the lifetime of the original session cookie.
const DefaultMaxAge = 24 * time.Hour

// FileName is the marker file inside the state directory.
const FileName = "session.json"

// Record is what a marker stores.
type Record struct {
	Identity  model.Identity `json:"identity"`
	CreatedAt time.Time      `json:"created_at"`
	ExpiresAt *time.Time     `json:"expires_at,omitempty"`
}

func (r Record) expired(now time.Time) bool {
	return r.ExpiresAt != nil && now.After(*r.ExpiresAt)
}

// Marker is the persisted view of the session.
type Marker interface {
	Write(id model.Identity) error
	Clear() error
	// Read returns nil, nil when no (unexpired) marker exists.
	Read() (*Record, error)
	Present() bool
}

// File stores the marker as JSON in a single owner-only file.
type File struct {
	path   string
	maxAge time.Duration
	now    func() time.Time
}

// FileOption configures a File marker.
type FileOption func(*File)

// WithMaxAge sets the marker lifetime. Zero or negative means no expiry.
func WithMaxAge(d time.Duration) FileOption {
	return func(f *File) { f.maxAge = d }
}

// WithNow overrides the clock (tests).
func WithNow(now func() time.Time) FileOption {
	return func(f *File) { f.now = now }
}

// NewFile creates a marker stored at dir/session.json.
func NewFile(dir string, opts ...FileOption) *File {
	f := &File{
		path:   filepath.Join(dir, FileName),
		maxAge: DefaultMaxAge,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Path returns the marker file location.
func (f *File) Path() string { return f.path }

func (f *File) Write(id model.Identity) error {
	if !id.Valid() {
		return fmt.Errorf("marker: identity has no email")
	}
	// ensure the state dir exists with 0700
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	now := f.now()
	rec := Record{Identity: id, CreatedAt: now}
	if f.maxAge > 0 {
		exp := now.Add(f.maxAge)
		rec.ExpiresAt = &exp
	}
	b, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	// write-then-rename so readers never see a torn file
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

func (f *File) Clear() error {
	if err := os.Remove(f.path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("remove: %w", err)
	}
	return nil
}

func (f *File) Read() (*Record, error) {
	b, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil // no session
		}
		return nil, fmt.Errorf("read marker: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, fmt.Errorf("parse marker: %w", err)
	}
	if rec.expired(f.now()) || !rec.Identity.Valid() {
		return nil, nil
	}
	return &rec, nil
}

func (f *File) Present() bool {
	rec, err := f.Read()
	return err == nil && rec != nil
}

// Memory keeps the marker in process memory.
type Memory struct {
	mu  sync.Mutex
	rec *Record
}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Write(id model.Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rec = &Record{Identity: id, CreatedAt: time.Now()}
	return nil
}

func (m *Memory) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rec = nil
	return nil
}

func (m *Memory) Read() (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rec == nil {
		return nil, nil
	}
	c := *m.rec
	return &c, nil
}

func (m *Memory) Present() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rec != nil
}
