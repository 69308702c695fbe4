package server

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/idilsaglam/tada/internal/model"
)

// MemoryRepository keeps everything in process memory.
type MemoryRepository struct {
	mu     sync.RWMutex
	users  map[string]User // by emailKey
	todos  map[int64]model.TodoItem
	nextID int64
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		users:  make(map[string]User),
		todos:  make(map[int64]model.TodoItem),
		nextID: time.Now().UnixMilli(),
	}
}

func (m *MemoryRepository) CreateUser(ctx context.Context, u User) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := emailKey(u.Email)
	if _, ok := m.users[key]; ok {
		return User{}, ErrDuplicateEmail
	}
	m.users[key] = u
	return u, nil
}

func (m *MemoryRepository) UserByEmail(ctx context.Context, email string) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[emailKey(email)]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (m *MemoryRepository) ListTodos(ctx context.Context, owner string) ([]model.TodoItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []model.TodoItem{}
	for _, it := range m.todos {
		if it.OwnerEmail == owner {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *MemoryRepository) CreateTodo(ctx context.Context, it model.TodoItem) (model.TodoItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	it.ID = m.nextID
	m.todos[it.ID] = it
	return it, nil
}

func (m *MemoryRepository) GetTodo(ctx context.Context, owner string, id int64) (model.TodoItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	it, ok := m.todos[id]
	if !ok || it.OwnerEmail != owner {
		return model.TodoItem{}, ErrNotFound
	}
	return it, nil
}

func (m *MemoryRepository) UpdateTodo(ctx context.Context, it model.TodoItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.todos[it.ID]
	if !ok || cur.OwnerEmail != it.OwnerEmail {
		return ErrNotFound
	}
	m.todos[it.ID] = it
	return nil
}

func (m *MemoryRepository) DeleteTodo(ctx context.Context, owner string, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.todos[id]
	if !ok || cur.OwnerEmail != owner {
		return ErrNotFound
	}
	delete(m.todos, id)
	return nil
}

func (m *MemoryRepository) Close() error { return nil }
