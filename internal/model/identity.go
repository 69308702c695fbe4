package model

import "strings"

// Identity is the authenticated user. ID is empty for backends that do
// not assign one. Identities are values: replace, never mutate.
type Identity struct {
	ID    string `json:"id,omitempty"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// Valid reports whether the identity can scope data (it has an email).
func (i Identity) Valid() bool { return strings.TrimSpace(i.Email) != "" }

// DisplayName returns name, or the local part of email when name is blank.
func DisplayName(name, email string) string {
	if n := strings.TrimSpace(name); n != "" {
		return n
	}
	local, _, _ := strings.Cut(email, "@")
	return local
}

// Phase is the tag of a SessionState.
type Phase int

const (
	Unresolved Phase = iota
	Anonymous
	Authenticated
)

func (p Phase) String() string {
	switch p {
	case Anonymous:
		return "anonymous"
	case Authenticated:
		return "authenticated"
	default:
		return "unresolved"
	}
}

// SessionState holds exactly one of Unresolved, Anonymous or
// Authenticated(identity). Identity is only meaningful when Authenticated.
type SessionState struct {
	Phase    Phase
	Identity Identity
}

// AnonymousState and AuthenticatedState build the two resolved states.
func AnonymousState() SessionState { return SessionState{Phase: Anonymous} }

func AuthenticatedState(id Identity) SessionState {
	return SessionState{Phase: Authenticated, Identity: id}
}

func (s SessionState) IsAuthenticated() bool { return s.Phase == Authenticated }

// Loading is true until the first resolution settles.
func (s SessionState) Loading() bool { return s.Phase == Unresolved }

// Outcome of an auth operation.
type Outcome string

const (
	Success Outcome = "success"
	Failure Outcome = "failure"
)

// AuthResult is returned by login and register. Identity is set only when
// the operation left the session Authenticated.
type AuthResult struct {
	Outcome  Outcome   `json:"outcome"`
	Identity *Identity `json:"identity,omitempty"`
	Message  string    `json:"message,omitempty"`
	// Err is the classified cause of a failure.
	Err error `json:"-"`
}

func (r AuthResult) OK() bool { return r.Outcome == Success }
