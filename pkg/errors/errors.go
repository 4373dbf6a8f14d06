// Package errors defines the error vocabulary shared by the auth service and
// its clients: sentinels for errors.Is, and AppError for what reaches the
// wire.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound           = errors.New("resource not found")
	ErrAlreadyExists      = errors.New("resource already exists")
	ErrInvalidInput       = errors.New("invalid input")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrSessionInvalidated = errors.New("session invalidated")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrForbidden          = errors.New("forbidden")
	ErrRateLimited        = errors.New("rate limited")
	ErrInternal           = errors.New("internal error")
	ErrDependency         = errors.New("dependency unavailable")
)

// Wire codes. A client seeing CodeSessionInvalidated must log out instead
// of refreshing.
const (
	CodeNotFound           = "NOT_FOUND"
	CodeAlreadyExists      = "ALREADY_EXISTS"
	CodeInvalidInput       = "INVALID_INPUT"
	CodeValidation         = "VALIDATION_ERROR"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeSessionInvalidated = "SESSION_INVALIDATED"
	CodeInvalidToken       = "INVALID_TOKEN"
	CodeForbidden          = "FORBIDDEN"
	CodeRateLimited        = "RATE_LIMITED"
	CodeInternal           = "INTERNAL_ERROR"
	CodeDependency         = "DEPENDENCY_ERROR"
)

const (
	msgInternal           = "an internal error occurred"
	msgInvalidToken       = "Invalid or expired token"
	msgSessionInvalidated = "Session has been invalidated. Please log in again."
)

// AppError is an error with a client-facing code, message and HTTP status.
// Err is kept for logs and errors.Is; it never reaches the client.
type AppError struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
	Status  int               `json:"-"`
	Err     error             `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return e.Code + ": " + e.Message
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
}

func (e *AppError) Unwrap() error { return e.Err }

func newError(status int, code, message string, cause error) *AppError {
	return &AppError{Code: code, Message: message, Status: status, Err: cause}
}

func NotFound(resource, id string) *AppError {
	return newError(http.StatusNotFound, CodeNotFound, fmt.Sprintf("%s with id %s not found", resource, id), ErrNotFound)
}

func AlreadyExists(resource, field, value string) *AppError {
	return newError(http.StatusConflict, CodeAlreadyExists, fmt.Sprintf("%s with %s %q already exists", resource, field, value), ErrAlreadyExists)
}

func InvalidInput(message string) *AppError {
	return newError(http.StatusBadRequest, CodeInvalidInput, message, ErrInvalidInput)
}

// InvalidField is a validation failure pinned to one request field.
func InvalidField(field, message string) *AppError {
	e := newError(http.StatusBadRequest, CodeValidation, message, ErrInvalidInput)
	e.Fields = map[string]string{field: message}
	return e
}

func Unauthorized(message string) *AppError {
	return newError(http.StatusUnauthorized, CodeUnauthorized, message, ErrUnauthorized)
}

// SessionInvalidated is the 401 for a token whose version was bumped.
func SessionInvalidated() *AppError {
	return newError(http.StatusUnauthorized, CodeSessionInvalidated, msgSessionInvalidated, ErrSessionInvalidated)
}

// InvalidToken is the 400 for a one-time token that is unknown, used or
// expired. The three cases are indistinguishable on purpose.
func InvalidToken() *AppError {
	return newError(http.StatusBadRequest, CodeInvalidToken, msgInvalidToken, ErrInvalidToken)
}

func Forbidden(message string) *AppError {
	return newError(http.StatusForbidden, CodeForbidden, message, ErrForbidden)
}

func TooManyRequests(message string) *AppError {
	return newError(http.StatusTooManyRequests, CodeRateLimited, message, ErrRateLimited)
}

func Internal(err error) *AppError {
	return newError(http.StatusInternalServerError, CodeInternal, msgInternal, err)
}

// Dependency is a 500 for a store or collaborator that could not be reached.
func Dependency(message string, err error) *AppError {
	return newError(http.StatusInternalServerError, CodeDependency, message, errors.Join(ErrDependency, err))
}

// sentinelKinds is checked in order; more specific sentinels come first.
var sentinelKinds = []struct {
	sentinel error
	status   int
	code     string
	message  string // empty means use err.Error()
}{
	{ErrSessionInvalidated, http.StatusUnauthorized, CodeSessionInvalidated, msgSessionInvalidated},
	{ErrUnauthorized, http.StatusUnauthorized, CodeUnauthorized, "not authorized"},
	{ErrInvalidToken, http.StatusBadRequest, CodeInvalidToken, msgInvalidToken},
	{ErrNotFound, http.StatusNotFound, CodeNotFound, "resource not found"},
	{ErrAlreadyExists, http.StatusConflict, CodeAlreadyExists, "resource already exists"},
	{ErrInvalidInput, http.StatusBadRequest, CodeInvalidInput, ""},
	{ErrForbidden, http.StatusForbidden, CodeForbidden, "forbidden"},
	{ErrRateLimited, http.StatusTooManyRequests, CodeRateLimited, "too many requests"},
}

// From converts err into the AppError a client should see. An AppError in
// the chain is returned as is; a known sentinel gets its standard code; any
// other error becomes an opaque 500.
func From(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	for _, k := range sentinelKinds {
		if !errors.Is(err, k.sentinel) {
			continue
		}
		msg := k.message
		if msg == "" {
			msg = err.Error()
		}
		return newError(k.status, k.code, msg, err)
	}
	return Internal(err)
}

// HTTPStatus is From(err).Status.
func HTTPStatus(err error) int {
	return From(err).Status
}
