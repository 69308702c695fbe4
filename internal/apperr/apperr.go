// Package apperr classifies every failure the client can surface.
//
// Public operations of the session store and the todo cache return either
// nil or an *Error. Callers switch on Kind to decide presentation:
//
//   - Validation: inline, near the offending field
//   - Authentication: top-level form error, never retried automatically
//   - NotFound: banner; the collection should be refetched
//   - TransportFailure, RequestTimeout, Server: generic banner, safe to retry
//   - Unauthorized: the session is re-resolved before the error is returned
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the error category.
type Kind string

const (
	KindValidation       Kind = "validation"
	KindAuthentication   Kind = "authentication"
	KindNotFound         Kind = "not_found"
	KindConflict         Kind = "conflict"
	KindUnauthorized     Kind = "unauthorized"
	KindTransportFailure Kind = "transport_failure"
	KindRequestTimeout   Kind = "request_timeout"
	KindServer           Kind = "server"
)

// Reason refines a Kind when the caller needs to tell cases apart.
type Reason string

const (
	ReasonNone               Reason = ""
	ReasonInvalidCredentials Reason = "invalid_credentials"
	ReasonDuplicateEmail     Reason = "duplicate_email"
	ReasonMissingField       Reason = "missing_field"
	ReasonWeakPassword       Reason = "weak_password"
	ReasonMissingOwner       Reason = "missing_owner"
)

// Error is a classified failure.
type Error struct {
	Kind    Kind
	Reason  Reason
	Status  int    // HTTP status when the error came from a response, else 0
	Message string // human-readable, shown to the user
	Err     error  // underlying cause (optional)
}

func (e *Error) Error() string {
	if e.Err != nil && e.Message == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	if e.Status != 0 {
		return fmt.Sprintf("%s (%d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates an Error with no underlying cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an Error around err.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// WithReason returns a copy of e carrying reason.
func (e *Error) WithReason(r Reason) *Error {
	c := *e
	c.Reason = r
	return &c
}

// As extracts the *Error from err's chain.
func As(err error) (*Error, bool) {
	var ae *Error
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// KindOf returns the Kind of err, or "" if err is nil or unclassified.
func KindOf(err error) Kind {
	if ae, ok := As(err); ok {
		return ae.Kind
	}
	return ""
}

// ReasonOf returns the Reason of err, or ReasonNone.
func ReasonOf(err error) Reason {
	if ae, ok := As(err); ok {
		return ae.Reason
	}
	return ReasonNone
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool { return err != nil && KindOf(err) == kind }

// Retryable reports whether the failure is network- or server-level.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindTransportFailure, KindRequestTimeout, KindServer:
		return true
	}
	return false
}

// UserMessage returns the message to show for err.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	if ae, ok := As(err); ok && ae.Message != "" {
		return ae.Message
	}
	return err.Error()
}

// Classify turns an arbitrary error into an *Error. Already classified
// errors pass through; anything else becomes a Server error.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	if ae, ok := As(err); ok {
		return ae
	}
	return Wrap(KindServer, err.Error(), err)
}

// KindForStatus maps an HTTP status code to a Kind.
func KindForStatus(status int) Kind {
	switch status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return KindValidation
	case http.StatusUnauthorized, http.StatusForbidden:
		return KindUnauthorized
	case http.StatusNotFound:
		return KindNotFound
	case http.StatusRequestTimeout:
		return KindRequestTimeout
	case http.StatusConflict:
		return KindConflict
	}
	return KindServer
}
