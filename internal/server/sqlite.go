package server

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/idilsaglam/tada/internal/model"
)

//go:embed schema.sql
var schema string

const schemaVersion = 1

// SQLiteRepository stores users and todos in a SQLite file.
type SQLiteRepository struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(ctx context.Context, path string) (*SQLiteRepository, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	// modernc.org/sqlite registers as "sqlite"
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &SQLiteRepository{db: db}, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	var version int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return err
	}
	if version >= schemaVersion {
		return nil
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return err
	}
	_, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", schemaVersion))
	return err
}

func (r *SQLiteRepository) Close() error { return r.db.Close() }

func (r *SQLiteRepository) CreateUser(ctx context.Context, u User) (User, error) {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users(id, name, email, email_key, password_hash, created_at) VALUES(?, ?, ?, ?, ?, ?)`,
		u.ID, u.Name, u.Email, emailKey(u.Email), u.PasswordHash, u.CreatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return User{}, ErrDuplicateEmail
		}
		return User{}, err
	}
	return u, nil
}

func (r *SQLiteRepository) UserByEmail(ctx context.Context, email string) (User, error) {
	var u User
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, email, password_hash, created_at FROM users WHERE email_key = ?`, emailKey(email)).
		Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	return u, err
}

const todoColumns = `id, text, description, completed, user_email, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanTodo(s scanner) (model.TodoItem, error) {
	var it model.TodoItem
	err := s.Scan(&it.ID, &it.Text, &it.Description, &it.Completed, &it.OwnerEmail, &it.CreatedAt, &it.UpdatedAt)
	return it, err
}

func (r *SQLiteRepository) ListTodos(ctx context.Context, owner string) ([]model.TodoItem, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+todoColumns+` FROM todos WHERE user_email = ? ORDER BY id DESC`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.TodoItem{}
	for rows.Next() {
		it, err := scanTodo(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) CreateTodo(ctx context.Context, it model.TodoItem) (model.TodoItem, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO todos(text, description, completed, user_email, created_at, updated_at) VALUES(?, ?, ?, ?, ?, ?)`,
		it.Text, it.Description, it.Completed, it.OwnerEmail, it.CreatedAt, it.UpdatedAt)
	if err != nil {
		return model.TodoItem{}, err
	}
	it.ID, err = res.LastInsertId()
	return it, err
}

func (r *SQLiteRepository) GetTodo(ctx context.Context, owner string, id int64) (model.TodoItem, error) {
	it, err := scanTodo(r.db.QueryRowContext(ctx,
		`SELECT `+todoColumns+` FROM todos WHERE id = ? AND user_email = ?`, id, owner))
	if errors.Is(err, sql.ErrNoRows) {
		return model.TodoItem{}, ErrNotFound
	}
	return it, err
}

func (r *SQLiteRepository) UpdateTodo(ctx context.Context, it model.TodoItem) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE todos SET text = ?, description = ?, completed = ?, updated_at = ? WHERE id = ? AND user_email = ?`,
		it.Text, it.Description, it.Completed, it.UpdatedAt, it.ID, it.OwnerEmail)
	if err != nil {
		return err
	}
	return affected(res)
}

func (r *SQLiteRepository) DeleteTodo(ctx context.Context, owner string, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM todos WHERE id = ? AND user_email = ?`, id, owner)
	if err != nil {
		return err
	}
	return affected(res)
}

func affected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
