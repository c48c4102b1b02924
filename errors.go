package secretauth

import (
	"errors"
	"fmt"
)

// Store level errors. Every IdentityStore implementation reports these so
// callers can match them with errors.Is.
var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

// Authentication errors.
var (
	ErrInvalidCredential = errors.New("invalid credential")
	ErrDuplicateUsername = errors.New("username already exists")
	ErrUnauthenticated   = errors.New("unauthenticated")
	ErrInvalidIdentity   = errors.New("identity needs a username or a provider id")
	ErrAlreadyLinked     = errors.New("local credential already exists")
)

// Error codes carried by AuthError
const (
	ErrCodeMissingField    = "missing_field"
	ErrCodeInvalidUsername = "invalid_username"
	ErrCodeWeakPassword    = "weak_password"
	ErrCodeUsernameTaken   = "username_taken"
	ErrCodeInvalidCreds    = "invalid_credentials"
	ErrCodeAlreadyLinked   = "already_linked"
	ErrCodeInternal        = "internal"
)

// AuthError is a user facing authentication failure. Message is safe to show
// to the end user; the underlying cause (if any) is only ever logged.
type AuthError struct {
	Code    string
	Message string
	Field   string
	Err     error
}

func NewAuthError(code, message, field string) *AuthError {
	return &AuthError{Code: code, Message: message, Field: field}
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AuthError) Unwrap() error { return e.Err }

// wrap attaches a cause to the error
func (e *AuthError) wrap(err error) *AuthError {
	e.Err = err
	return e
}
