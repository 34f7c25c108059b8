package api

import (
	"fmt"
	"net/http"
)

// AuthErrorKind classifies a failed login or signup.
type AuthErrorKind string

const (
	AuthRejected AuthErrorKind = "rejected"
	AuthNetwork  AuthErrorKind = "network"
	AuthUnknown  AuthErrorKind = "unknown"
)

// AuthError is a login or signup failure. Message is the server's
// explanation when it sent one and is meant for the user.
type AuthError struct {
	Kind    AuthErrorKind
	Status  int
	Message string
	Err     error
}

func (e *AuthError) Error() string {
	switch {
	case e.Message != "":
		return fmt.Sprintf("auth %s: %s", e.Kind, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("auth %s: %v", e.Kind, e.Err)
	case e.Status != 0:
		return fmt.Sprintf("auth %s: %s", e.Kind, http.StatusText(e.Status))
	default:
		return fmt.Sprintf("auth %s", e.Kind)
	}
}

func (e *AuthError) Unwrap() error { return e.Err }

// UserMessage returns text suitable for showing to the user.
func (e *AuthError) UserMessage() string {
	if e.Message != "" {
		return e.Message
	}
	return "Authentication failed"
}

// FetchErrorKind classifies a failed history fetch.
type FetchErrorKind string

const (
	FetchUnauthorized FetchErrorKind = "unauthorized"
	FetchNetwork      FetchErrorKind = "network"
	FetchServer       FetchErrorKind = "server"
)

// FetchError is a history fetch failure.
type FetchError struct {
	Kind   FetchErrorKind
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch history %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("fetch history %s: status %d", e.Kind, e.Status)
}

func (e *FetchError) Unwrap() error { return e.Err }
