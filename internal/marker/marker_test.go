package marker

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/idilsaglam/tada/internal/model"
)

var alice = model.Identity{ID: "u1", Email: "alice@example.com", Name: "Alice"}

func TestFile_WriteReadClear(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "state")
	m := NewFile(dir)

	assert.False(t, m.Present())
	rec, err := m.Read()
	require.NoError(t, err)
	assert.Nil(t, rec)

	require.NoError(t, m.Write(alice))
	assert.True(t, m.Present())

	rec, err = m.Read()
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, alice, rec.Identity)
	require.NotNil(t, rec.ExpiresAt)

	info, err := os.Stat(m.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	require.NoError(t, m.Clear())
	assert.False(t, m.Present())
}

func TestFile_ClearMissingIsNoop(t *testing.T) {
	m := NewFile(t.TempDir())
	assert.NoError(t, m.Clear())
	assert.NoError(t, m.Clear())
}

func TestFile_ExpiredReadsAsAbsent(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	m := NewFile(t.TempDir(), WithNow(clock), WithMaxAge(time.Hour))

	require.NoError(t, m.Write(alice))
	assert.True(t, m.Present())

	now = now.Add(2 * time.Hour)
	assert.False(t, m.Present())
}

func TestFile_NoExpiry(t *testing.T) {
	m := NewFile(t.TempDir(), WithMaxAge(0))
	require.NoError(t, m.Write(alice))
	rec, err := m.Read()
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Nil(t, rec.ExpiresAt)
}

func TestFile_RejectsEmptyIdentity(t *testing.T) {
	m := NewFile(t.TempDir())
	assert.Error(t, m.Write(model.Identity{Name: "nobody"}))
}

func TestFile_CorruptFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte("{"), 0o600))
	m := NewFile(dir)

	_, err := m.Read()
	assert.Error(t, err)
	assert.False(t, m.Present())
}

func TestMemory(t *testing.T) {
	m := NewMemory()
	assert.False(t, m.Present())
	require.NoError(t, m.Write(alice))
	rec, err := m.Read()
	require.NoError(t, err)
	assert.Equal(t, alice, rec.Identity)
	require.NoError(t, m.Clear())
	assert.False(t, m.Present())
}

func TestGate_Allow(t *testing.T) {
	g := DefaultGate()

	tests := []struct {
		route   string
		present bool
		want    Decision
	}{
		{"login", false, Decision{Allowed: true}},
		{"/register", false, Decision{Allowed: true}},
		{"todolist", true, Decision{Allowed: true}},
		{"todolist", false, Decision{Redirect: "login"}},
		{"/todolist/42", false, Decision{Redirect: "login"}},
		{"todolist/new", true, Decision{Allowed: true}},
		{"about", false, Decision{Allowed: true}},
		{"todolistx", false, Decision{Allowed: true}},
	}
	for _, tt := range tests {
		t.Run(tt.route, func(t *testing.T) {
			assert.Equal(t, tt.want, g.Allow(tt.route, tt.present))
		})
	}
}
