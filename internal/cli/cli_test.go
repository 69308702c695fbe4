package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/idilsaglam/tada/internal/model"
	"github.com/idilsaglam/tada/internal/server"
)

type harness struct {
	t   *testing.T
	env map[string]string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	srv := server.New(server.Config{
		Prefix:     "/api",
		BcryptCost: bcrypt.MinCost,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return &harness{t: t, env: map[string]string{
		"TADA_STATE_DIR": t.TempDir(),
		"TADA_API_URL":   ts.URL + "/api",
		"TADA_BACKEND":   "api",
	}}
}

type result struct {
	code   int
	stdout string
	stderr string
}

func (h *harness) run(stdin string, args ...string) result {
	h.t.Helper()
	var out, errOut bytes.Buffer
	code := Execute(context.Background(), args, strings.NewReader(stdin), &out, &errOut,
		func(k string) string { return h.env[k] })
	return result{code: code, stdout: out.String(), stderr: errOut.String()}
}

func (h *harness) register() {
	h.t.Helper()
	r := h.run("secret123\n", "register", "-n", "Alice", "-e", "alice@example.com")
	require.Equal(h.t, ExitSuccess, r.code, r.stderr)
}

func decodeItems(t *testing.T, raw string) []model.TodoItem {
	t.Helper()
	var resp struct {
		Status string           `json:"status"`
		Data   []model.TodoItem `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(raw), &resp))
	require.Equal(t, "ok", resp.Status)
	return resp.Data
}

func TestRegisterAndManageList(t *testing.T) {
	h := newHarness(t)

	r := h.run("secret123\n", "register", "-n", "Alice", "-e", "alice@example.com")
	require.Equal(t, ExitSuccess, r.code, r.stderr)
	assert.Contains(t, r.stdout, "signed in as Alice <alice@example.com>")

	r = h.run("", "whoami")
	require.Equal(t, ExitSuccess, r.code, r.stderr)
	assert.Contains(t, r.stdout, "Alice <alice@example.com>")

	r = h.run("", "add", "Buy", "milk")
	require.Equal(t, ExitSuccess, r.code, r.stderr)
	assert.Contains(t, r.stdout, "Added: Buy milk")

	r = h.run("", "add", "Call mom", "-d", "sunday")
	require.Equal(t, ExitSuccess, r.code, r.stderr)

	r = h.run("", "--format", "json", "ls")
	require.Equal(t, ExitSuccess, r.code, r.stderr)
	items := decodeItems(t, r.stdout)
	require.Len(t, items, 2)
	assert.Equal(t, "Call mom", items[0].Text, "newest first")
	assert.Equal(t, "sunday", items[0].Description)
	assert.Equal(t, "alice@example.com", items[1].OwnerEmail)

	r = h.run("", "done", "2")
	require.Equal(t, ExitSuccess, r.code, r.stderr)
	assert.Contains(t, r.stdout, "Marked #2 done")

	r = h.run("", "edit", "1", "--text", "Call dad")
	require.Equal(t, ExitSuccess, r.code, r.stderr)

	r = h.run("", "--theme", "mono", "--group", "ls")
	require.Equal(t, ExitSuccess, r.code, r.stderr)
	assert.Contains(t, r.stdout, "[x] Buy milk")
	assert.Contains(t, r.stdout, "[ ] Call dad")
	assert.Contains(t, r.stdout, "Pending")

	r = h.run("", "rm", "1")
	require.Equal(t, ExitSuccess, r.code, r.stderr)
	assert.Contains(t, r.stdout, "Removed: Call dad")

	r = h.run("", "done", "9")
	assert.Equal(t, ExitFailure, r.code)
	assert.Contains(t, r.stderr, "No item #9 (the list has 1)")

	r = h.run("", "logout")
	require.Equal(t, ExitSuccess, r.code, r.stderr)
	assert.Contains(t, r.stdout, "Signed out")

	r = h.run("", "ls")
	assert.Equal(t, ExitFailure, r.code)
	assert.Contains(t, r.stderr, "Not signed in")
}

func TestLogin(t *testing.T) {
	h := newHarness(t)
	h.register()
	require.Equal(t, ExitSuccess, h.run("", "logout").code)

	t.Run("wrong password", func(t *testing.T) {
		r := h.run("nope-nope\n", "login", "-e", "alice@example.com")
		assert.Equal(t, ExitFailure, r.code)
		assert.Contains(t, r.stderr, "Invalid email or password")
	})

	t.Run("wrong password as json", func(t *testing.T) {
		r := h.run("nope-nope\n", "--format", "json", "login", "-e", "alice@example.com")
		assert.Equal(t, ExitFailure, r.code)
		var resp CLIResponse
		require.NoError(t, json.Unmarshal([]byte(r.stdout), &resp))
		assert.Equal(t, "error", resp.Status)
		assert.Equal(t, "authentication", resp.Error.Code)
	})

	t.Run("email prompted from stdin", func(t *testing.T) {
		r := h.run("alice@example.com\nsecret123\n", "login")
		require.Equal(t, ExitSuccess, r.code, r.stderr)
		assert.Contains(t, r.stdout, "Signed in as Alice <alice@example.com>")
	})

	t.Run("missing input", func(t *testing.T) {
		r := h.run("", "login", "-e", "alice@example.com")
		assert.Equal(t, ExitUsage, r.code)
	})
}

func TestRegisterDuplicate(t *testing.T) {
	h := newHarness(t)
	h.register()

	r := h.run("secret123\n", "register", "-n", "Alice", "-e", "ALICE@example.com")
	assert.Equal(t, ExitFailure, r.code)
	assert.Contains(t, r.stderr, "Email already exists")
}

func TestUsageErrors(t *testing.T) {
	h := newHarness(t)
	tests := []struct {
		name string
		args []string
	}{
		{"unknown command", []string{"bogus"}},
		{"index not a number", []string{"done", "abc"}},
		{"index zero", []string{"rm", "0"}},
		{"missing index", []string{"done"}},
		{"add without text", []string{"add"}},
		{"bad format", []string{"--format", "xml", "ls"}},
		{"bad theme", []string{"--theme", "pink", "ls"}},
		{"unknown flag", []string{"ls", "--nope"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := h.run("", tt.args...)
			assert.Equal(t, ExitUsage, r.code)
			assert.Contains(t, r.stderr, "Run 'todo --help' for usage.")
		})
	}
}

func TestNotSignedIn(t *testing.T) {
	h := newHarness(t)
	// no marker: the gate refuses before any request is made
	h.env["TADA_API_URL"] = "http://127.0.0.1:1/api"

	r := h.run("", "ls")
	assert.Equal(t, ExitFailure, r.code)
	assert.Contains(t, r.stderr, "Not signed in")

	r = h.run("", "whoami")
	assert.Equal(t, ExitFailure, r.code)
	assert.Contains(t, r.stderr, "Not signed in")
}

func TestServerUnreachable(t *testing.T) {
	h := newHarness(t)
	h.register()
	h.env["TADA_API_URL"] = "http://127.0.0.1:1/api"

	r := h.run("", "--format", "json", "ls")
	assert.Equal(t, ExitFailure, r.code)
	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(r.stdout), &resp))
	assert.Equal(t, "transport_failure", resp.Error.Code)

	r = h.run("", "logout")
	assert.Equal(t, ExitSuccess, r.code, "logout always clears the local session")
	assert.Contains(t, r.stderr, "server sign out failed")
}

func TestTUINeedsTerminal(t *testing.T) {
	h := newHarness(t)
	r := h.run("", "tui")
	assert.Equal(t, ExitUsage, r.code)
	assert.Contains(t, r.stderr, "tui needs a terminal")
}
