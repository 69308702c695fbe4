// Package todocache keeps the signed-in user's todo collection in memory
// and applies mutations optimistically.
//
// Every mutation follows the same protocol: snapshot the item, apply the
// change locally, call the server, then reconcile with the server's copy
// or restore the snapshot. Mutations on one item are serialized; mutations
// on different items run independently.
package todocache

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/idilsaglam/tada/internal/apperr"
	"github.com/idilsaglam/tada/internal/model"
)

// DefaultStaleAfter is how long a fetched collection is served without
// refetching.
const DefaultStaleAfter = 30 * time.Second

// TodoAPI is the server side of the cache.
type TodoAPI interface {
	List(ctx context.Context, owner string) ([]model.TodoItem, error)
	Create(ctx context.Context, owner, text, description string) (model.TodoItem, error)
	Update(ctx context.Context, owner string, id int64, patch model.TodoPatch) (model.TodoItem, error)
	Delete(ctx context.Context, owner string, id int64) error
}

// SessionSource tells the cache who is signed in.
type SessionSource interface {
	State() model.SessionState
	Subscribe(handler func(model.SessionState)) (unsubscribe func())
	// Revalidate re-checks the session after the server rejected it.
	Revalidate(ctx context.Context) model.SessionState
}

// Options configures a Cache.
type Options struct {
	StaleAfter time.Duration
	Now        func() time.Time
	Logger     *slog.Logger
}

// Snapshot is a consistent copy of the cache for rendering.
type Snapshot struct {
	Owner   string
	Items   []model.TodoItem
	Loaded  bool
	Pending int   // mutations in flight
	Err     error // transient error for a banner
}

// Cache is safe for concurrent use.
type Cache struct {
	api      TodoAPI
	sessions SessionSource
	stale    time.Duration
	now      func() time.Time
	logger   *slog.Logger

	loads singleflight.Group

	mu          sync.Mutex
	owner       string
	items       []model.TodoItem
	loaded      bool
	fetchedAt   time.Time
	expired     bool   // next Load must refetch
	gen         uint64 // bumped when a load starts or is superseded
	version     uint64 // bumped on every local change
	provisional int64
	pending     int
	lastErr     error
	locks       map[int64]*itemLock

	listenersMu sync.Mutex
	listeners   map[int]func()
	nextID      int

	stopSession func()
}

type itemLock struct {
	ch   chan struct{}
	refs int
}

// New creates a cache bound to sessions. Call Close to detach it.
func New(api TodoAPI, sessions SessionSource, opts Options) *Cache {
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = DefaultStaleAfter
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &Cache{
		api:       api,
		sessions:  sessions,
		stale:     opts.StaleAfter,
		now:       opts.Now,
		logger:    logger,
		locks:     make(map[int64]*itemLock),
		listeners: make(map[int]func()),
	}
	c.stopSession = sessions.Subscribe(c.sessionChanged)
	return c
}

// Close stops following session changes.
func (c *Cache) Close() {
	if c.stopSession != nil {
		c.stopSession()
	}
}

// OnChange registers fn to run after every change to the collection.
func (c *Cache) OnChange(fn func()) (unsubscribe func()) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	return func() {
		c.listenersMu.Lock()
		defer c.listenersMu.Unlock()
		delete(c.listeners, id)
	}
}

func (c *Cache) changed() {
	c.listenersMu.Lock()
	fns := make([]func(), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.listenersMu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// Items returns a copy of the current collection.
func (c *Cache) Items() []model.TodoItem {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.copyItems()
}

// Snapshot returns a copy of everything a view needs.
func (c *Cache) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		Owner:   c.owner,
		Items:   c.copyItems(),
		Loaded:  c.loaded,
		Pending: c.pending,
		Err:     c.lastErr,
	}
}

// LastError returns the transient error of the last failed operation.
func (c *Cache) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// ClearError dismisses the transient error.
func (c *Cache) ClearError() {
	c.mu.Lock()
	had := c.lastErr != nil
	c.lastErr = nil
	c.mu.Unlock()
	if had {
		c.changed()
	}
}

// Invalidate makes the next Load refetch and discards the result of any
// load already in flight.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.expired = true
	c.gen++
	owner := c.owner
	c.mu.Unlock()
	c.loads.Forget(owner)
}

func (c *Cache) copyItems() []model.TodoItem {
	out := make([]model.TodoItem, len(c.items))
	copy(out, c.items)
	return out
}

func (c *Cache) fresh() bool {
	return c.loaded && !c.expired && c.now().Sub(c.fetchedAt) < c.stale
}

// sessionChanged drops the collection when it no longer belongs to the
// signed-in identity.
func (c *Cache) sessionChanged(st model.SessionState) {
	c.mu.Lock()
	if c.owner == "" || (st.IsAuthenticated() && sameOwner(st.Identity.Email, c.owner)) {
		c.mu.Unlock()
		return
	}
	old := c.owner
	c.reset("")
	c.mu.Unlock()

	c.loads.Forget(old)
	c.logger.Debug("discarded todo collection", "owner", old, "phase", st.Phase.String())
	c.changed()
}

// reset empties the collection and hands it to owner. Callers hold mu.
func (c *Cache) reset(owner string) {
	c.owner = owner
	c.items = nil
	c.loaded = false
	c.expired = false
	c.fetchedAt = time.Time{}
	c.lastErr = nil
	c.gen++
	c.version++
}

// adopt makes sure the collection belongs to owner. Callers hold mu.
func (c *Cache) adopt(owner string) {
	if !sameOwner(c.owner, owner) {
		c.reset(owner)
	}
}

func sameOwner(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// signedIn returns the email of the signed-in identity.
func (c *Cache) signedIn() (string, error) {
	st := c.sessions.State()
	if !st.IsAuthenticated() || !st.Identity.Valid() {
		return "", apperr.New(apperr.KindUnauthorized, "You must be signed in")
	}
	return st.Identity.Email, nil
}

// Load returns the collection for owner, fetching it when it is missing
// or stale. Concurrent loads share one request; a load overtaken by a
// newer load or by a local mutation does not overwrite the collection.
func (c *Cache) Load(ctx context.Context, owner string) ([]model.TodoItem, error) {
	if strings.TrimSpace(owner) == "" {
		return nil, apperr.New(apperr.KindValidation, "User email is required").WithReason(apperr.ReasonMissingOwner)
	}
	current, err := c.signedIn()
	if err != nil {
		return nil, err
	}
	if !sameOwner(current, owner) {
		return nil, apperr.New(apperr.KindUnauthorized, "Cannot read another user's todos")
	}

	c.mu.Lock()
	c.adopt(current)
	if c.fresh() {
		items := c.copyItems()
		c.mu.Unlock()
		return items, nil
	}
	key := c.owner
	c.mu.Unlock()

	v, err, _ := c.loads.Do(key, func() (any, error) {
		return c.fetch(ctx, key)
	})
	if err != nil {
		return nil, c.fail(ctx, err)
	}
	// followers of a shared load each get their own slice
	return slices.Clone(v.([]model.TodoItem)), nil
}

func (c *Cache) fetch(ctx context.Context, owner string) ([]model.TodoItem, error) {
	c.mu.Lock()
	c.gen++
	gen, version := c.gen, c.version
	c.mu.Unlock()

	items, err := c.api.List(ctx, owner)

	c.mu.Lock()
	if err != nil {
		if c.gen == gen && sameOwner(c.owner, owner) {
			c.lastErr = apperr.Classify(err)
		}
		c.mu.Unlock()
		c.changed()
		return nil, err
	}
	if c.gen != gen || !sameOwner(c.owner, owner) {
		out := c.copyItems()
		c.mu.Unlock()
		c.logger.Debug("discarding superseded load", "owner", owner)
		return out, nil
	}
	if c.version != version || c.pending > 0 {
		// a local change landed or is still unconfirmed; the listing may
		// predate it, so keep the local state and refetch next time
		c.expired = true
		out := c.copyItems()
		c.mu.Unlock()
		c.logger.Debug("discarding load that raced a local change", "owner", owner)
		return out, nil
	}
	c.items = append([]model.TodoItem(nil), items...)
	c.loaded = true
	c.expired = false
	c.fetchedAt = c.now()
	c.version++
	out := c.copyItems()
	c.mu.Unlock()

	c.logger.Debug("loaded todos", "owner", owner, "count", len(items))
	c.changed()
	return out, nil
}

// fail classifies err and re-checks the session when the server rejected
// it.
func (c *Cache) fail(ctx context.Context, err error) error {
	ae := apperr.Classify(err)
	if ae.Kind == apperr.KindUnauthorized {
		st := c.sessions.Revalidate(ctx)
		c.logger.Info("session rejected by server", "phase", st.Phase.String())
	}
	return ae
}

// Create inserts a provisional item at the head of the collection and
// replaces it with the server's item once confirmed.
func (c *Cache) Create(ctx context.Context, text, description string) (model.TodoItem, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return model.TodoItem{}, apperr.New(apperr.KindValidation, "Text is required").WithReason(apperr.ReasonMissingField)
	}
	owner, err := c.signedIn()
	if err != nil {
		return model.TodoItem{}, err
	}
	description = strings.TrimSpace(description)

	c.mu.Lock()
	c.adopt(owner)
	c.provisional--
	now := c.now().UTC().Format(time.RFC3339)
	draft := model.TodoItem{
		ID:          c.provisional,
		Text:        text,
		Description: description,
		OwnerEmail:  owner,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	c.items = append([]model.TodoItem{draft}, c.items...)
	c.version++
	c.pending++
	c.mu.Unlock()
	c.changed()

	saved, err := c.api.Create(ctx, owner, text, description)

	c.mu.Lock()
	c.pending--
	if sameOwner(c.owner, owner) {
		i := c.indexOf(draft.ID)
		switch {
		case err != nil:
			if i >= 0 {
				c.items = append(c.items[:i], c.items[i+1:]...)
			}
			c.settleFailed(err)
		default:
			if i >= 0 {
				c.items[i] = saved
			}
			c.settleOK()
		}
		c.version++
	}
	c.mu.Unlock()
	c.changed()

	if err != nil {
		c.logger.Warn("create failed", "owner", owner, "error", err)
		return model.TodoItem{}, c.fail(ctx, err)
	}
	c.logger.Debug("created todo", "owner", owner, "item_id", saved.ID)
	return saved, nil
}

// Toggle flips the completed flag of item id.
func (c *Cache) Toggle(ctx context.Context, id int64) (model.TodoItem, error) {
	return c.mutate(ctx, id, func(cur model.TodoItem) model.TodoPatch {
		done := !cur.Completed
		return model.TodoPatch{Completed: &done}
	})
}

// Update applies patch to item id. Blank text is rejected.
func (c *Cache) Update(ctx context.Context, id int64, patch model.TodoPatch) (model.TodoItem, error) {
	if patch.Text != nil {
		text := strings.TrimSpace(*patch.Text)
		if text == "" {
			return model.TodoItem{}, apperr.New(apperr.KindValidation, "Text is required").WithReason(apperr.ReasonMissingField)
		}
		patch.Text = &text
	}
	if patch.Text == nil && patch.Description == nil && patch.Completed == nil {
		return model.TodoItem{}, apperr.New(apperr.KindValidation, "Nothing to update")
	}
	return c.mutate(ctx, id, func(model.TodoItem) model.TodoPatch { return patch })
}

func (c *Cache) mutate(ctx context.Context, id int64, build func(model.TodoItem) model.TodoPatch) (model.TodoItem, error) {
	owner, err := c.signedIn()
	if err != nil {
		return model.TodoItem{}, err
	}
	if id < 0 {
		return model.TodoItem{}, apperr.New(apperr.KindConflict, "Todo is still being saved")
	}

	release, err := c.lockItem(ctx, id)
	if err != nil {
		return model.TodoItem{}, err
	}
	defer release()

	// the snapshot is taken after any earlier mutation of this item settled
	c.mu.Lock()
	i := c.indexOf(id)
	if i < 0 || !sameOwner(c.owner, owner) {
		c.mu.Unlock()
		return model.TodoItem{}, apperr.New(apperr.KindNotFound, "Todo not found")
	}
	prev := c.items[i]
	patch := build(prev)
	c.items[i] = patch.Apply(prev)
	c.version++
	c.pending++
	c.mu.Unlock()
	c.changed()

	saved, err := c.api.Update(ctx, owner, id, patch)

	c.mu.Lock()
	c.pending--
	if sameOwner(c.owner, owner) {
		if i := c.indexOf(id); i >= 0 {
			if err != nil {
				c.items[i] = patch.Restore(c.items[i], prev)
			} else {
				c.items[i] = saved
			}
		}
		if err != nil {
			c.settleFailed(err)
		} else {
			c.settleOK()
		}
		c.version++
	}
	c.mu.Unlock()
	c.changed()

	if err != nil {
		c.logger.Warn("update failed", "owner", owner, "item_id", id, "error", err)
		return model.TodoItem{}, c.fail(ctx, err)
	}
	return saved, nil
}

// Remove deletes item id. The item disappears immediately and is not put
// back if the server refuses; the error is kept for a banner instead.
func (c *Cache) Remove(ctx context.Context, id int64) error {
	owner, err := c.signedIn()
	if err != nil {
		return err
	}
	if id < 0 {
		return apperr.New(apperr.KindConflict, "Todo is still being saved")
	}

	release, err := c.lockItem(ctx, id)
	if err != nil {
		return err
	}
	defer release()

	c.mu.Lock()
	i := c.indexOf(id)
	if i < 0 || !sameOwner(c.owner, owner) {
		c.mu.Unlock()
		return apperr.New(apperr.KindNotFound, "Todo not found")
	}
	c.items = append(c.items[:i], c.items[i+1:]...)
	c.version++
	c.pending++
	c.mu.Unlock()
	c.changed()

	err = c.api.Delete(ctx, owner, id)

	c.mu.Lock()
	c.pending--
	if sameOwner(c.owner, owner) {
		if err != nil {
			c.settleFailed(err)
		} else {
			c.settleOK()
		}
		c.version++
	}
	c.mu.Unlock()
	c.changed()

	if err != nil {
		c.logger.Warn("delete failed", "owner", owner, "item_id", id, "error", err)
		return c.fail(ctx, err)
	}
	return nil
}

// settleOK and settleFailed update freshness after a mutation. A refetch
// already owed stays owed. Callers hold mu.
func (c *Cache) settleOK() {
	c.lastErr = nil
	if c.loaded && !c.expired {
		c.fetchedAt = c.now()
	}
}

func (c *Cache) settleFailed(err error) {
	c.lastErr = apperr.Classify(err)
	c.expired = true
}

func (c *Cache) indexOf(id int64) int {
	for i := range c.items {
		if c.items[i].ID == id {
			return i
		}
	}
	return -1
}

// lockItem waits until no other mutation of id is in flight.
func (c *Cache) lockItem(ctx context.Context, id int64) (release func(), err error) {
	c.mu.Lock()
	l, ok := c.locks[id]
	if !ok {
		l = &itemLock{ch: make(chan struct{}, 1)}
		c.locks[id] = l
	}
	l.refs++
	c.mu.Unlock()

	unref := func() {
		c.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(c.locks, id)
		}
		c.mu.Unlock()
	}

	select {
	case l.ch <- struct{}{}:
	case <-ctx.Done():
		unref()
		return nil, apperr.Wrap(apperr.KindTransportFailure, "request cancelled", ctx.Err())
	}
	return func() {
		<-l.ch
		unref()
	}, nil
}
