// Package errors provides standardized domain errors with codes for indexbridge.
//
// Usage:
//
//	// In services - return typed errors
//	if !exists {
//	    return errors.NotFoundf("index %q not found", name)
//	}
//
//	// In handlers and callers - check with errors.Is
//	if errors.Is(err, errors.ErrConnectivity) {
//	    return health.Degraded(err)
//	}
//
//	// Or use the Code directly for switch statements
//	var domainErr *errors.Error
//	if errors.As(err, &domainErr) {
//	    switch domainErr.Code {
//	    case errors.CodeLockContention:
//	        logger.Warn("rebuild skipped", "reason", domainErr.Message)
//	    case errors.CodeQuerySyntax:
//	        return badRequest(domainErr)
//	    }
//	}
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Re-export standard library functions for convenience.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	Join   = errors.Join
)

// Code represents a machine-readable error code.
type Code string

// Error codes used throughout the application.
const (
	CodeNotFound           Code = "NOT_FOUND"
	CodeAlreadyExists      Code = "ALREADY_EXISTS"
	CodeValidation         Code = "VALIDATION"
	CodeConflict           Code = "CONFLICT"
	CodeInternal           Code = "INTERNAL"
	CodeState              Code = "STATE"
	CodeLockContention     Code = "LOCK_CONTENTION"
	CodePartialWrite       Code = "PARTIAL_WRITE"
	CodePopulator          Code = "POPULATOR"
	CodeConnectivity       Code = "CONNECTIVITY"
	CodeMappingUnavailable Code = "MAPPING_UNAVAILABLE"
	CodeQuerySyntax        Code = "QUERY_SYNTAX"
	CodeRateLimited        Code = "RATE_LIMITED"
)

// HTTPStatus returns the appropriate HTTP status code for an error code.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeNotFound:
		return http.StatusNotFound
	case CodeAlreadyExists, CodeConflict, CodeState, CodeLockContention:
		return http.StatusConflict
	case CodeValidation, CodeQuerySyntax:
		return http.StatusBadRequest
	case CodePartialWrite:
		return http.StatusUnprocessableEntity
	case CodeConnectivity, CodeMappingUnavailable:
		return http.StatusServiceUnavailable
	case CodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// Error is a domain error with a code, message, and optional details.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
	cause   error  // unexported, for wrapping
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is reports whether target matches this error.
// Matches if target is an *Error with the same Code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// HTTPStatus returns the HTTP status code for this error.
func (e *Error) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// WithDetails returns a new error with additional details.
func (e *Error) WithDetails(details any) *Error {
	return &Error{
		Code:    e.Code,
		Message: e.Message,
		Details: details,
		cause:   e.cause,
	}
}

// WithCause wraps an underlying error.
func (e *Error) WithCause(err error) *Error {
	return &Error{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
		cause:   err,
	}
}

// Sentinel errors for use with errors.Is().
var (
	ErrNotFound           = &Error{Code: CodeNotFound, Message: "not found"}
	ErrAlreadyExists      = &Error{Code: CodeAlreadyExists, Message: "already exists"}
	ErrValidation         = &Error{Code: CodeValidation, Message: "validation error"}
	ErrConflict           = &Error{Code: CodeConflict, Message: "conflict"}
	ErrInternal           = &Error{Code: CodeInternal, Message: "internal error"}
	ErrState              = &Error{Code: CodeState, Message: "invalid index state"}
	ErrLockContention     = &Error{Code: CodeLockContention, Message: "rebuild already in progress"}
	ErrPartialWrite       = &Error{Code: CodePartialWrite, Message: "some documents failed to write"}
	ErrPopulator          = &Error{Code: CodePopulator, Message: "populator failed"}
	ErrConnectivity       = &Error{Code: CodeConnectivity, Message: "search backend unreachable"}
	ErrMappingUnavailable = &Error{Code: CodeMappingUnavailable, Message: "index mapping unavailable"}
	ErrQuerySyntax        = &Error{Code: CodeQuerySyntax, Message: "invalid query"}
	ErrRateLimited        = &Error{Code: CodeRateLimited, Message: "too many requests"}
)

// Constructor functions for creating errors with custom messages.

// NotFound creates a not found error.
func NotFound(msg string) *Error {
	return &Error{Code: CodeNotFound, Message: msg}
}

// NotFoundf creates a not found error with formatted message.
func NotFoundf(format string, args ...any) *Error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf(format, args...)}
}

// AlreadyExistsf creates an already exists error with formatted message.
func AlreadyExistsf(format string, args ...any) *Error {
	return &Error{Code: CodeAlreadyExists, Message: fmt.Sprintf(format, args...)}
}

// Validation creates a validation error.
func Validation(msg string) *Error {
	return &Error{Code: CodeValidation, Message: msg}
}

// Validationf creates a validation error with formatted message.
func Validationf(format string, args ...any) *Error {
	return &Error{Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

// ValidationWithDetails creates a validation error with details.
func ValidationWithDetails(msg string, details any) *Error {
	return &Error{Code: CodeValidation, Message: msg, Details: details}
}

// Conflictf creates a conflict error with formatted message.
func Conflictf(format string, args ...any) *Error {
	return &Error{Code: CodeConflict, Message: fmt.Sprintf(format, args...)}
}

// Internal creates an internal error.
func Internal(msg string) *Error {
	return &Error{Code: CodeInternal, Message: msg}
}

// Internalf creates an internal error with formatted message.
func Internalf(format string, args ...any) *Error {
	return &Error{Code: CodeInternal, Message: fmt.Sprintf(format, args...)}
}

// Statef creates an index lifecycle error with formatted message.
func Statef(format string, args ...any) *Error {
	return &Error{Code: CodeState, Message: fmt.Sprintf(format, args...)}
}

// LockContentionf creates a lock contention error with formatted message.
func LockContentionf(format string, args ...any) *Error {
	return &Error{Code: CodeLockContention, Message: fmt.Sprintf(format, args...)}
}

// ItemFailure describes a single document that could not be written.
type ItemFailure struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// PartialWrite creates an error listing the documents that failed within a batch.
func PartialWrite(failures []ItemFailure) *Error {
	return &Error{
		Code:    CodePartialWrite,
		Message: fmt.Sprintf("%d document(s) failed to write", len(failures)),
		Details: failures,
	}
}

// Populator wraps a failure raised by a named document populator.
func Populator(name string, err error) *Error {
	return &Error{
		Code:    CodePopulator,
		Message: fmt.Sprintf("populator %q failed", name),
		Details: map[string]string{"populator": name},
		cause:   err,
	}
}

// Connectivity wraps a transport failure talking to the search backend.
func Connectivity(err error) *Error {
	return &Error{Code: CodeConnectivity, Message: "search backend unreachable", cause: err}
}

// MappingUnavailablef creates a mapping unavailable error with formatted message.
func MappingUnavailablef(format string, args ...any) *Error {
	return &Error{Code: CodeMappingUnavailable, Message: fmt.Sprintf(format, args...)}
}

// SyntaxPosition locates the offending token of a query.
type SyntaxPosition struct {
	Offset int    `json:"offset"`
	Token  string `json:"token,omitempty"`
}

// QuerySyntax creates a query syntax error at the given byte offset.
func QuerySyntax(offset int, token, msg string) *Error {
	return &Error{
		Code:    CodeQuerySyntax,
		Message: fmt.Sprintf("%s at position %d", msg, offset),
		Details: SyntaxPosition{Offset: offset, Token: token},
	}
}

// RateLimited creates a rate limited error.
func RateLimited(msg string) *Error {
	return &Error{Code: CodeRateLimited, Message: msg}
}

// Wrap wraps an error with a code and message.
func Wrap(err error, code Code, msg string) *Error {
	return &Error{Code: code, Message: msg, cause: err}
}

// Wrapf wraps an error with a code and formatted message.
func Wrapf(err error, code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), cause: err}
}
