package server

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/text/cases"

	"github.com/idilsaglam/tada/internal/model"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrDuplicateEmail = errors.New("email already exists")
)

// User is a stored account. PasswordHash never leaves the server.
type User struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Email        string `json:"email"`
	PasswordHash string `json:"-"`
	CreatedAt    string `json:"createdAt"`
}

// Repository persists users and their todos. Todo operations are scoped by
// owner email; an item owned by someone else is reported as ErrNotFound.
type Repository interface {
	CreateUser(ctx context.Context, u User) (User, error)
	UserByEmail(ctx context.Context, email string) (User, error)

	// ListTodos returns the owner's items, newest first.
	ListTodos(ctx context.Context, owner string) ([]model.TodoItem, error)
	// CreateTodo stores it and assigns its ID.
	CreateTodo(ctx context.Context, it model.TodoItem) (model.TodoItem, error)
	GetTodo(ctx context.Context, owner string, id int64) (model.TodoItem, error)
	UpdateTodo(ctx context.Context, it model.TodoItem) error
	DeleteTodo(ctx context.Context, owner string, id int64) error

	Close() error
}

// emailKey is the case-insensitive form emails are matched on.
func emailKey(email string) string {
	return cases.Fold().String(strings.TrimSpace(email))
}
