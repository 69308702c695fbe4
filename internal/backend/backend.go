// Package backend defines the capability interface every authentication
// backend implements. The session store depends only on this interface;
// one implementation is chosen when the process starts.
package backend

import (
	"context"

	"github.com/idilsaglam/tada/internal/model"
)

// Names of the built-in backends.
const (
	NameAPI    = "api"
	NameLocal  = "local"
	NameHosted = "hosted"
)

// MinPasswordLength is the password policy shared by all backends.
const MinPasswordLength = 6

// SignUpResult reports what registration produced. SignedIn is true only
// when the backend also established a session for the new identity.
type SignUpResult struct {
	Identity model.Identity
	SignedIn bool
}

// Backend resolves and changes the current session.
//
// Errors are *apperr.Error values: Authentication (with a reason) for bad
// credentials and duplicate emails, Validation for bad input, and the
// transport kinds for network failures.
type Backend interface {
	Name() string
	// ResolveSession returns the identity of an existing session, or nil.
	ResolveSession(ctx context.Context) (*model.Identity, error)
	SignIn(ctx context.Context, email, password string) (model.Identity, error)
	SignUp(ctx context.Context, name, email, password string) (SignUpResult, error)
	SignOut(ctx context.Context) error
}

// Notifier is implemented by backends that push session changes (token
// refresh, remote sign-out). Every notification is a full snapshot; nil
// means no session.
type Notifier interface {
	OnSessionChange(handler func(*model.Identity)) (unsubscribe func())
}
