package core

import "github.com/pkg/errors"

// FieldError is used to indicate an error with a specific struct field.
type FieldError struct {
	Field string
	Error string
}

type ValidationError struct {
	Err    error
	Fields []FieldError
}

func NewValidationError(err error, flds ...FieldError) error {
	return &ValidationError{err, flds}
}

func (err ValidationError) Error() string {
	if err.Err == nil {
		if len(err.Fields) > 0 {
			return err.Fields[0].Field + ": " + err.Fields[0].Error
		}
		return ""
	}
	return err.Err.Error()
}

// NotFoundError is returned when a requested resource does not exist (or is not visible to the caller).
type NotFoundError struct {
	message string
}

func NewNotFoundError(msg string) error {
	return &NotFoundError{message: msg}
}

func (err NotFoundError) Error() string { return err.message }

// PermissionError is returned when the caller is authenticated but not allowed to perform an action.
type PermissionError struct {
	message string
}

func NewPermissionError(msg string) error {
	return &PermissionError{message: msg}
}

func (err PermissionError) Error() string { return err.message }

// IsNotFound reports whether the cause of err is a NotFoundError.
func IsNotFound(err error) bool {
	_, ok := errors.Cause(err).(*NotFoundError)
	return ok
}

type shutdown struct {
	message string
}

func NewShutdownError(msg string) error {
	return &shutdown{message: msg}
}

func (s shutdown) Error() string {
	return s.message
}

func IsShutdown(err error) bool {
	_, ok := errors.Cause(err).(*shutdown)
	return ok
}

// AuthenticationError is returned when credentials (e.g. a refresh token) cannot be trusted.
type AuthenticationError struct {
	message string
}

func NewAuthenticationError(msg string) error {
	return &AuthenticationError{message: msg}
}

func (err AuthenticationError) Error() string { return err.message }

// UnavailableError is returned when a feature depends on something that is not configured or reachable.
type UnavailableError struct {
	message string
}

func NewUnavailableError(msg string) error {
	return &UnavailableError{message: msg}
}

func (err UnavailableError) Error() string { return err.message }
