// SPDX-License-Identifier: Apache-2.0
// Package errors provides typed error handling for Warden. Error codes drive
// both the HTTP status mapping and the turn-level recoverability policy:
// authorization and validation failures are recoverable (they become
// conversational content), plumbing faults are not.
package errors

import (
	"encoding/json"
	"fmt"
)

// ErrorCode classifies Warden errors for monitoring and recovery.
type ErrorCode string

const (
	// CodeInternal indicates an internal system error.
	CodeInternal ErrorCode = "INTERNAL_ERROR"

	// CodeUnknownRole indicates a role token outside the closed role set.
	// Raised at the boundary, before an identity context exists.
	CodeUnknownRole ErrorCode = "UNKNOWN_ROLE"

	// CodeUnauthorized indicates the caller lacks the required permission.
	CodeUnauthorized ErrorCode = "UNAUTHORIZED"

	// CodeUnknownTool indicates the invoked tool is not in the catalog.
	CodeUnknownTool ErrorCode = "UNKNOWN_TOOL"

	// CodeInvalidInput indicates tool arguments failed schema validation.
	CodeInvalidInput ErrorCode = "INVALID_INPUT"

	// CodeNotFound indicates a ledger lookup on an unknown incident id.
	CodeNotFound ErrorCode = "NOT_FOUND"

	// CodeTimeout indicates an operation exceeded its time limit.
	CodeTimeout ErrorCode = "TIMEOUT"

	// CodeEngineError indicates a reasoning-engine (LLM) fault.
	CodeEngineError ErrorCode = "ENGINE_ERROR"
)

// WardenError is a typed error with context for observability.
// It implements the error interface and can be unwrapped with errors.As().
type WardenError struct {
	Code        ErrorCode
	Message     string
	Err         error
	Context     map[string]any
	Recoverable bool
	StatusCode  int
}

// Error implements the error interface.
func (e *WardenError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implements errors.Unwrap for error chain traversal.
func (e *WardenError) Unwrap() error {
	return e.Err
}

// MarshalJSON implements json.Marshaler for structured logging.
func (e *WardenError) MarshalJSON() ([]byte, error) {
	return json.Marshal(&struct {
		Code        string         `json:"code"`
		Message     string         `json:"message"`
		Err         string         `json:"error,omitempty"`
		Recoverable bool           `json:"recoverable"`
		Context     map[string]any `json:"context,omitempty"`
	}{
		Code:        string(e.Code),
		Message:     e.Message,
		Err:         errString(e.Err),
		Recoverable: e.Recoverable,
		Context:     e.Context,
	})
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// New creates a new WardenError with the given code, message, and cause.
func New(code ErrorCode, msg string, cause error) *WardenError {
	return &WardenError{
		Code:        code,
		Message:     msg,
		Err:         cause,
		Context:     make(map[string]any),
		Recoverable: defaultRecoverable(code),
		StatusCode:  codeToStatusCode(code),
	}
}

// WithContext adds a key-value pair to the error context.
// Returns the error for method chaining.
func (e *WardenError) WithContext(key string, value any) *WardenError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// WithRecoverable overrides whether the error can be recovered from.
// Returns the error for method chaining.
func (e *WardenError) WithRecoverable(recoverable bool) *WardenError {
	e.Recoverable = recoverable
	return e
}

// AsWardenError attempts to convert an error to a WardenError.
// Returns the error as WardenError if it is one, or wraps it otherwise.
func AsWardenError(err error) *WardenError {
	if err == nil {
		return nil
	}
	if we, ok := err.(*WardenError); ok {
		return we
	}
	return New(CodeInternal, "wrapped error", err)
}

// Is reports whether err carries the given code anywhere in its chain.
func Is(err error, code ErrorCode) bool {
	for err != nil {
		if we, ok := err.(*WardenError); ok && we.Code == code {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// defaultRecoverable encodes the propagation policy: denials and bad input
// keep the turn alive, plumbing faults abort it.
func defaultRecoverable(code ErrorCode) bool {
	switch code {
	case CodeUnauthorized, CodeUnknownTool, CodeInvalidInput, CodeNotFound:
		return true
	case CodeTimeout:
		return true
	default:
		return false
	}
}

// codeToStatusCode maps error codes to HTTP status codes.
func codeToStatusCode(code ErrorCode) int {
	switch code {
	case CodeNotFound:
		return 404
	case CodeUnauthorized:
		return 403
	case CodeUnknownRole, CodeInvalidInput:
		return 400
	case CodeUnknownTool:
		return 404
	case CodeTimeout:
		return 408
	default:
		return 500
	}
}
