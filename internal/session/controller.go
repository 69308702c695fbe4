package session

import (
	"context"
	"sync"

	"github.com/idilsaglam/tada/internal/apperr"
	"github.com/idilsaglam/tada/internal/model"
)

// ControllerState is what a login or registration form renders.
type ControllerState struct {
	Session model.SessionState
	Loading bool
	Error   string
}

// Controller tracks the loading flag and form error around a Store.
type Controller struct {
	store *Store

	mu      sync.Mutex
	loading int
	err     string
}

// NewController wraps store.
func NewController(store *Store) *Controller {
	return &Controller{store: store}
}

// Store returns the wrapped store.
func (c *Controller) Store() *Store { return c.store }

// Snapshot returns the current form state. Loading is also true while the
// session is still unresolved.
func (c *Controller) Snapshot() ControllerState {
	st := c.store.State()
	c.mu.Lock()
	defer c.mu.Unlock()
	return ControllerState{
		Session: st,
		Loading: c.loading > 0 || st.Loading(),
		Error:   c.err,
	}
}

// ClearError dismisses the form error.
func (c *Controller) ClearError() {
	c.mu.Lock()
	c.err = ""
	c.mu.Unlock()
}

// Login reports whether the user is now signed in.
func (c *Controller) Login(ctx context.Context, email, password string) (bool, model.AuthResult) {
	c.begin()
	res, err := c.store.Login(ctx, email, password)
	c.end(res, err)
	return res.OK(), res
}

// Register reports whether the account was created. The result's
// Identity tells whether it is also signed in.
func (c *Controller) Register(ctx context.Context, name, email, password string) (bool, model.AuthResult) {
	c.begin()
	res, err := c.store.Register(ctx, name, email, password)
	c.end(res, err)
	return res.OK(), res
}

// Logout never fails from the form's point of view.
func (c *Controller) Logout(ctx context.Context) {
	c.begin()
	_ = c.store.Logout(ctx)
	c.end(model.AuthResult{Outcome: model.Success}, nil)
}

func (c *Controller) begin() {
	c.mu.Lock()
	c.loading++
	c.err = ""
	c.mu.Unlock()
}

func (c *Controller) end(res model.AuthResult, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loading--
	switch {
	case res.OK():
		c.err = ""
	case res.Message != "":
		c.err = res.Message
	case err != nil:
		c.err = apperr.UserMessage(err)
	default:
		c.err = "Something went wrong"
	}
}
