package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type repoFactory struct {
	name string
	open func(t *testing.T) Repository
}

func repositories() []repoFactory {
	return []repoFactory{
		{"memory", func(t *testing.T) Repository { return NewMemoryRepository() }},
		{"sqlite", func(t *testing.T) Repository {
			repo, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "tada.db"))
			require.NoError(t, err)
			t.Cleanup(func() { _ = repo.Close() })
			return repo
		}},
	}
}

type apiClient struct {
	t      *testing.T
	base   string
	client *http.Client
}

func newAPI(t *testing.T, repo Repository, cfg Config) *apiClient {
	t.Helper()
	cfg.Repository = repo
	cfg.Prefix = "/api"
	cfg.BcryptCost = bcrypt.MinCost
	srv := httptest.NewServer(New(cfg))
	t.Cleanup(srv.Close)
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &apiClient{t: t, base: srv.URL + "/api", client: &http.Client{Jar: jar}}
}

func (c *apiClient) do(method, path string, body any) (int, map[string]any) {
	c.t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(c.t, err)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, c.base+path, rd)
	require.NoError(c.t, err)
	resp, err := c.client.Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(c.t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestAuthEndpoints(t *testing.T) {
	for _, rf := range repositories() {
		t.Run(rf.name, func(t *testing.T) {
			api := newAPI(t, rf.open(t), Config{})

			status, out := api.do("POST", "/auth/register", map[string]string{"name": "Alice", "email": "alice@example.com", "password": "secret1"})
			require.Equal(t, http.StatusCreated, status)
			assert.Equal(t, true, out["success"])
			user := out["user"].(map[string]any)
			assert.Equal(t, "alice@example.com", user["email"])
			assert.Equal(t, "Alice", user["name"])
			assert.NotContains(t, user, "password")
			assert.NotContains(t, user, "PasswordHash")

			status, out = api.do("POST", "/auth/register", map[string]string{"name": "A", "email": "ALICE@example.com", "password": "secret1"})
			assert.Equal(t, http.StatusConflict, status)
			assert.Equal(t, "Email already exists", out["error"])

			status, out = api.do("POST", "/auth/register", map[string]string{"name": "B", "email": "b@example.com", "password": "12345"})
			assert.Equal(t, http.StatusBadRequest, status)
			assert.Equal(t, "Password must be at least 6 characters", out["error"])

			status, out = api.do("POST", "/auth/register", map[string]string{"email": "b@example.com", "password": "123456"})
			assert.Equal(t, http.StatusBadRequest, status)
			assert.Equal(t, "Name, email, and password are required", out["error"])

			status, out = api.do("POST", "/auth/login", map[string]string{"email": "alice@example.com", "password": "secret1"})
			require.Equal(t, http.StatusOK, status)
			assert.Equal(t, "Alice", out["user"].(map[string]any)["name"])

			status, out = api.do("POST", "/auth/login", map[string]string{"email": "alice@example.com", "password": "nope"})
			assert.Equal(t, http.StatusUnauthorized, status)
			assert.Equal(t, "Invalid email or password", out["error"])

			status, out = api.do("POST", "/auth/login", map[string]string{"email": "ghost@example.com", "password": "secret1"})
			assert.Equal(t, http.StatusUnauthorized, status)

			status, out = api.do("POST", "/auth/login", map[string]string{"email": "alice@example.com"})
			assert.Equal(t, http.StatusBadRequest, status)
			assert.Equal(t, "Email and password are required", out["error"])

			status, out = api.do("POST", "/auth/logout", nil)
			assert.Equal(t, http.StatusOK, status)
			assert.Equal(t, true, out["success"])
		})
	}
}

func TestTodoEndpoints(t *testing.T) {
	for _, rf := range repositories() {
		t.Run(rf.name, func(t *testing.T) {
			api := newAPI(t, rf.open(t), Config{})
			const a, b = "a@example.com", "b@example.com"

			status, out := api.do("GET", "/todos", nil)
			assert.Equal(t, http.StatusBadRequest, status)
			assert.Equal(t, "User email is required", out["error"])

			status, out = api.do("POST", "/todos", map[string]string{"userEmail": a})
			assert.Equal(t, http.StatusBadRequest, status)
			assert.Equal(t, "Text and userEmail are required", out["error"])

			status, out = api.do("POST", "/todos", map[string]string{"text": "first", "userEmail": a})
			require.Equal(t, http.StatusCreated, status)
			first := out["todo"].(map[string]any)
			assert.Equal(t, false, first["completed"])
			assert.NotEmpty(t, first["createdAt"])

			status, _ = api.do("POST", "/todos", map[string]string{"text": "second", "description": "d", "userEmail": a})
			require.Equal(t, http.StatusCreated, status)
			status, _ = api.do("POST", "/todos", map[string]string{"text": "b's", "userEmail": b})
			require.Equal(t, http.StatusCreated, status)

			status, out = api.do("GET", "/todos?userEmail="+a, nil)
			require.Equal(t, http.StatusOK, status)
			todos := out["todos"].([]any)
			require.Len(t, todos, 2)
			assert.Equal(t, "second", todos[0].(map[string]any)["text"], "newest first")

			id := int64(first["id"].(float64))
			path := "/todos/" + jsonNumber(id)

			status, out = api.do("PUT", path, map[string]any{"completed": true, "userEmail": b})
			assert.Equal(t, http.StatusNotFound, status, "other owners cannot touch the item")
			assert.Equal(t, "Todo not found", out["error"])

			status, out = api.do("PUT", path, map[string]any{"completed": true, "text": "", "userEmail": a})
			require.Equal(t, http.StatusOK, status)
			updated := out["todo"].(map[string]any)
			assert.Equal(t, true, updated["completed"])
			assert.Equal(t, "first", updated["text"], "blank text keeps the old text")

			status, out = api.do("DELETE", path+"?userEmail="+b, nil)
			assert.Equal(t, http.StatusNotFound, status)

			status, out = api.do("DELETE", path+"?userEmail="+a, nil)
			require.Equal(t, http.StatusOK, status)
			assert.Equal(t, "Todo deleted successfully", out["message"])

			status, _ = api.do("DELETE", path+"?userEmail="+a, nil)
			assert.Equal(t, http.StatusNotFound, status)

			status, _ = api.do("PUT", "/todos/abc", map[string]any{"userEmail": a})
			assert.Equal(t, http.StatusNotFound, status)
		})
	}
}

func jsonNumber(id int64) string {
	b, _ := json.Marshal(id)
	return string(b)
}

func TestUpdatedAtStrictlyIncreases(t *testing.T) {
	frozen := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for _, rf := range repositories() {
		t.Run(rf.name, func(t *testing.T) {
			api := newAPI(t, rf.open(t), Config{Now: func() time.Time { return frozen }})
			_, out := api.do("POST", "/todos", map[string]string{"text": "x", "userEmail": "a@example.com"})
			it := out["todo"].(map[string]any)
			path := "/todos/" + jsonNumber(int64(it["id"].(float64)))

			prev := it["updatedAt"].(string)
			for i := 0; i < 3; i++ {
				_, out = api.do("PUT", path, map[string]any{"completed": i%2 == 0, "userEmail": "a@example.com"})
				next := out["todo"].(map[string]any)["updatedAt"].(string)
				assert.Greater(t, next, prev)
				prev = next
			}
		})
	}
}

func TestRequireSession(t *testing.T) {
	api := newAPI(t, NewMemoryRepository(), Config{RequireSession: true})

	status, out := api.do("GET", "/todos?userEmail=alice@example.com", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "Unauthorized", out["error"])

	status, _ = api.do("POST", "/auth/register", map[string]string{"name": "Alice", "email": "alice@example.com", "password": "secret1"})
	require.Equal(t, http.StatusCreated, status)

	status, _ = api.do("GET", "/todos?userEmail=alice@example.com", nil)
	assert.Equal(t, http.StatusOK, status)

	status, _ = api.do("GET", "/todos?userEmail=bob@example.com", nil)
	assert.Equal(t, http.StatusUnauthorized, status, "session only covers its own email")

	api.do("POST", "/auth/logout", nil)
	status, _ = api.do("GET", "/todos?userEmail=alice@example.com", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestSQLiteReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tada.db")

	repo, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	_, err = repo.CreateUser(ctx, User{ID: "1", Name: "A", Email: "a@example.com", PasswordHash: "h", CreatedAt: "now"})
	require.NoError(t, err)
	require.NoError(t, repo.Close())

	repo, err = OpenSQLite(ctx, path)
	require.NoError(t, err)
	defer repo.Close()
	u, err := repo.UserByEmail(ctx, "A@EXAMPLE.COM")
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", u.Email)

	_, err = repo.UserByEmail(ctx, "b@example.com")
	assert.ErrorIs(t, err, ErrNotFound)
}
