// SPDX-License-Identifier: Apache-2.0
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorFormatting(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := New(CodeEngineError, "engine stream failed", cause)

	msg := err.Error()
	if !strings.Contains(msg, "ENGINE_ERROR") {
		t.Errorf("expected code in message, got %q", msg)
	}
	if !strings.Contains(msg, "connection refused") {
		t.Errorf("expected cause in message, got %q", msg)
	}
}

func TestErrorWithoutCause(t *testing.T) {
	err := New(CodeNotFound, "incident INC-999 not found", nil)
	if strings.Contains(err.Error(), "<nil>") {
		t.Errorf("nil cause leaked into message: %q", err.Error())
	}
}

func TestUnwrap(t *testing.T) {
	cause := stderrors.New("root cause")
	err := New(CodeInternal, "wrapper", cause)
	if !stderrors.Is(err, cause) {
		t.Error("errors.Is should find the wrapped cause")
	}
}

func TestDefaultRecoverable(t *testing.T) {
	tests := []struct {
		code        ErrorCode
		recoverable bool
	}{
		{CodeUnauthorized, true},
		{CodeUnknownTool, true},
		{CodeInvalidInput, true},
		{CodeNotFound, true},
		{CodeTimeout, true},
		{CodeUnknownRole, false},
		{CodeEngineError, false},
		{CodeInternal, false},
	}
	for _, tc := range tests {
		t.Run(string(tc.code), func(t *testing.T) {
			err := New(tc.code, "test", nil)
			if err.Recoverable != tc.recoverable {
				t.Errorf("code %s: expected recoverable=%v, got %v", tc.code, tc.recoverable, err.Recoverable)
			}
		})
	}
}

func TestStatusCodes(t *testing.T) {
	tests := []struct {
		code   ErrorCode
		status int
	}{
		{CodeNotFound, 404},
		{CodeUnknownTool, 404},
		{CodeUnauthorized, 403},
		{CodeUnknownRole, 400},
		{CodeInvalidInput, 400},
		{CodeTimeout, 408},
		{CodeInternal, 500},
		{CodeEngineError, 500},
	}
	for _, tc := range tests {
		t.Run(string(tc.code), func(t *testing.T) {
			if got := New(tc.code, "test", nil).StatusCode; got != tc.status {
				t.Errorf("code %s: expected status %d, got %d", tc.code, tc.status, got)
			}
		})
	}
}

func TestIs(t *testing.T) {
	inner := New(CodeUnauthorized, "denied", nil)
	wrapped := fmt.Errorf("invoke failed: %w", inner)

	if !Is(wrapped, CodeUnauthorized) {
		t.Error("Is should find UNAUTHORIZED through the wrap chain")
	}
	if Is(wrapped, CodeNotFound) {
		t.Error("Is should not report a code that is absent")
	}
	if Is(nil, CodeInternal) {
		t.Error("Is(nil) should be false")
	}
}

func TestAsWardenError(t *testing.T) {
	plain := stderrors.New("plain")
	we := AsWardenError(plain)
	if we.Code != CodeInternal {
		t.Errorf("foreign errors should wrap as INTERNAL_ERROR, got %s", we.Code)
	}

	original := New(CodeNotFound, "missing", nil)
	if AsWardenError(original) != original {
		t.Error("existing WardenError should pass through unchanged")
	}

	if AsWardenError(nil) != nil {
		t.Error("nil should stay nil")
	}
}

func TestWithContext(t *testing.T) {
	err := New(CodeUnauthorized, "denied", nil).
		WithContext("role", "FINANCE").
		WithContext("tool", "restart_service")

	if err.Context["role"] != "FINANCE" {
		t.Errorf("expected role context, got %v", err.Context)
	}
	if err.Context["tool"] != "restart_service" {
		t.Errorf("expected tool context, got %v", err.Context)
	}
}
