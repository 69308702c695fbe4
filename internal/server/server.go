// Package server is a small REST backend for the todo client: accounts,
// sessions and per-user todo lists.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/idilsaglam/tada/internal/backend"
	"github.com/idilsaglam/tada/internal/model"
)

// SessionCookie is set on login and registration.
const SessionCookie = "tada_session"

// timeLayout matches JavaScript's Date.toISOString.
const timeLayout = "2006-01-02T15:04:05.000Z07:00"

// Config holds configuration for creating a Server.
type Config struct {
	Repository Repository
	// Prefix is prepended to every route, e.g. "/api".
	Prefix string
	// RequireSession rejects todo requests without a session cookie for
	// the requested userEmail.
	RequireSession bool
	// BcryptCost defaults to bcrypt.DefaultCost.
	BcryptCost int
	// SessionTTL defaults to 24h.
	SessionTTL time.Duration
	Logger     *slog.Logger
	Now        func() time.Time
}

// Server serves the REST API.
type Server struct {
	repo           Repository
	prefix         string
	requireSession bool
	cost           int
	ttl            time.Duration
	logger         *slog.Logger
	now            func() time.Time
	handler        http.Handler

	mu       sync.Mutex // serializes read-modify-write of todos
	sessions sync.Map   // token -> session
}

type session struct {
	email   string
	expires time.Time
}

// New creates a Server.
func New(cfg Config) *Server {
	s := &Server{
		repo:           cfg.Repository,
		prefix:         strings.TrimRight(cfg.Prefix, "/"),
		requireSession: cfg.RequireSession,
		cost:           cfg.BcryptCost,
		ttl:            cfg.SessionTTL,
		logger:         cfg.Logger,
		now:            cfg.Now,
	}
	if s.repo == nil {
		s.repo = NewMemoryRepository()
	}
	if s.cost == 0 {
		s.cost = bcrypt.DefaultCost
	}
	if s.ttl <= 0 {
		s.ttl = 24 * time.Hour
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST "+s.prefix+"/auth/login", s.handleLogin)
	mux.HandleFunc("POST "+s.prefix+"/auth/register", s.handleRegister)
	mux.HandleFunc("POST "+s.prefix+"/auth/logout", s.handleLogout)
	mux.HandleFunc("GET "+s.prefix+"/todos", s.handleListTodos)
	mux.HandleFunc("POST "+s.prefix+"/todos", s.handleCreateTodo)
	mux.HandleFunc("PUT "+s.prefix+"/todos/{id}", s.handleUpdateTodo)
	mux.HandleFunc("DELETE "+s.prefix+"/todos/{id}", s.handleDeleteTodo)
	s.handler = s.logRequests(mux)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	s.logger.Info("server listening", "addr", addr, "prefix", s.prefix)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"request_id", r.Header.Get("X-Request-Id"),
			"duration", time.Since(start),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "error": msg})
}

func (s *Server) stamp() string {
	return s.now().UTC().Format(timeLayout)
}

// nextStamp returns a timestamp strictly after prev.
func (s *Server) nextStamp(prev string) string {
	now := s.now().UTC()
	if t, err := time.Parse(timeLayout, prev); err == nil && !now.After(t) {
		now = t.Add(time.Millisecond)
	}
	return now.Format(timeLayout)
}

// Auth

type credentials struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) startSession(w http.ResponseWriter, email string) {
	token := uuid.NewString()
	s.sessions.Store(token, session{email: email, expires: s.now().Add(s.ttl)})
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(s.ttl.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// sessionEmail returns the email of the request's session, or "".
func (s *Server) sessionEmail(r *http.Request) string {
	c, err := r.Cookie(SessionCookie)
	if err != nil {
		return ""
	}
	v, ok := s.sessions.Load(c.Value)
	if !ok {
		return ""
	}
	sess := v.(session)
	if s.now().After(sess.expires) {
		s.sessions.Delete(c.Value)
		return ""
	}
	return sess.email
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in credentials
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(in.Email) == "" || in.Password == "" {
		writeError(w, http.StatusBadRequest, "Email and password are required")
		return
	}

	u, err := s.repo.UserByEmail(r.Context(), in.Email)
	if err != nil && !errors.Is(err, ErrNotFound) {
		s.logger.Error("login failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Login failed")
		return
	}
	if err != nil || bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(in.Password)) != nil {
		writeError(w, http.StatusUnauthorized, "Invalid email or password")
		return
	}

	s.startSession(w, u.Email)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "user": u})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var in credentials
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.TrimSpace(in.Email)
	if in.Name == "" || in.Email == "" || in.Password == "" {
		writeError(w, http.StatusBadRequest, "Name, email, and password are required")
		return
	}
	if len(in.Password) < backend.MinPasswordLength {
		writeError(w, http.StatusBadRequest, "Password must be at least 6 characters")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cost)
	if err != nil {
		s.logger.Error("hash password", "error", err)
		writeError(w, http.StatusInternalServerError, "Registration failed")
		return
	}
	u, err := s.repo.CreateUser(r.Context(), User{
		ID:           uuid.NewString(),
		Name:         in.Name,
		Email:        in.Email,
		PasswordHash: string(hash),
		CreatedAt:    s.stamp(),
	})
	if errors.Is(err, ErrDuplicateEmail) {
		writeError(w, http.StatusConflict, "Email already exists")
		return
	}
	if err != nil {
		s.logger.Error("registration failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Registration failed")
		return
	}

	s.logger.Info("user registered", "user_id", u.ID)
	s.startSession(w, u.Email)
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "user": u})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(SessionCookie); err == nil {
		s.sessions.Delete(c.Value)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Logged out successfully"})
}

// Todos

// authorize enforces RequireSession for owner.
func (s *Server) authorize(w http.ResponseWriter, r *http.Request, owner string) bool {
	if !s.requireSession {
		return true
	}
	if email := s.sessionEmail(r); email != "" && emailKey(email) == emailKey(owner) {
		return true
	}
	writeError(w, http.StatusUnauthorized, "Unauthorized")
	return false
}

func (s *Server) handleListTodos(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("userEmail")
	if owner == "" {
		writeError(w, http.StatusBadRequest, "User email is required")
		return
	}
	if !s.authorize(w, r, owner) {
		return
	}
	items, err := s.repo.ListTodos(r.Context(), owner)
	if err != nil {
		s.logger.Error("list todos", "owner", owner, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to fetch todos")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "todos": items})
}

type createTodoRequest struct {
	Text        string `json:"text"`
	Description string `json:"description"`
	OwnerEmail  string `json:"userEmail"`
}

func (s *Server) handleCreateTodo(w http.ResponseWriter, r *http.Request) {
	var in createTodoRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(in.Text) == "" || in.OwnerEmail == "" {
		writeError(w, http.StatusBadRequest, "Text and userEmail are required")
		return
	}
	if !s.authorize(w, r, in.OwnerEmail) {
		return
	}
	now := s.stamp()
	it, err := s.repo.CreateTodo(r.Context(), model.TodoItem{
		Text:        in.Text,
		Description: in.Description,
		OwnerEmail:  in.OwnerEmail,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		s.logger.Error("create todo", "owner", in.OwnerEmail, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to create todo")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "todo": it})
}

type updateTodoRequest struct {
	model.TodoPatch
	OwnerEmail string `json:"userEmail"`
}

func (s *Server) handleUpdateTodo(w http.ResponseWriter, r *http.Request) {
	var in updateTodoRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if in.OwnerEmail == "" {
		writeError(w, http.StatusBadRequest, "User email is required")
		return
	}
	if !s.authorize(w, r, in.OwnerEmail) {
		return
	}
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusNotFound, "Todo not found")
		return
	}
	// blank text keeps the current text
	if in.Text != nil && strings.TrimSpace(*in.Text) == "" {
		in.Text = nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	cur, err := s.repo.GetTodo(r.Context(), in.OwnerEmail, id)
	if errors.Is(err, ErrNotFound) {
		writeError(w, http.StatusNotFound, "Todo not found")
		return
	}
	if err != nil {
		s.logger.Error("update todo", "item_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to update todo")
		return
	}
	next := in.TodoPatch.Apply(cur)
	next.UpdatedAt = s.nextStamp(cur.UpdatedAt)
	if err := s.repo.UpdateTodo(r.Context(), next); err != nil {
		if errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusNotFound, "Todo not found")
			return
		}
		s.logger.Error("update todo", "item_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to update todo")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "todo": next})
}

func (s *Server) handleDeleteTodo(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("userEmail")
	if owner == "" {
		writeError(w, http.StatusBadRequest, "User email is required")
		return
	}
	if !s.authorize(w, r, owner) {
		return
	}
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusNotFound, "Todo not found")
		return
	}
	s.mu.Lock()
	err = s.repo.DeleteTodo(r.Context(), owner, id)
	s.mu.Unlock()
	if errors.Is(err, ErrNotFound) {
		writeError(w, http.StatusNotFound, "Todo not found")
		return
	}
	if err != nil {
		s.logger.Error("delete todo", "item_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to delete todo")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Todo deleted successfully"})
}
