/*
 * Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package errors

import (
	"errors"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Error_WithoutInnerError(t *testing.T) {
	err := &Error{Code: ConfigInvalid, Message: "bad memory value"}

	result := err.Error()

	assert.Contains(t, result, "code CONFIG_INVALID")
	assert.Contains(t, result, "message bad memory value")
	assert.NotContains(t, result, "error")
}

func TestError_Error_WithInnerError(t *testing.T) {
	inner := errors.New("dial tcp: timeout")
	err := &Error{Code: ConnectTransport, Message: "cannot reach cluster", InnerError: inner}

	result := err.Error()

	assert.Contains(t, result, "error dial tcp: timeout")
}

func TestError_Chaining(t *testing.T) {
	inner := errors.New("boom")
	err := &Error{}

	out := err.WithCode(StuckTerminating).WithMessage("workload won't delete").WithError(inner)

	assert.Same(t, err, out)
	assert.Equal(t, StuckTerminating, err.Code)
	assert.Equal(t, "workload won't delete", err.Message)
	assert.Equal(t, inner, err.InnerError)
}

func TestError_Unwrap(t *testing.T) {
	inner := errors.New("inner")
	err := NewInternalError("wrapped").WithError(inner)

	assert.Equal(t, inner, errors.Unwrap(err))
}

func TestError_GetTopStackString_EmptyStack(t *testing.T) {
	err := &Error{}
	assert.Empty(t, err.GetTopStackString())
}

func TestError_GetTopStackString_WithCapturedStack(t *testing.T) {
	err := NewPodFailed("container crashed")
	assert.NotEmpty(t, err.GetTopStackString())
	assert.Contains(t, err.GetTopStackString(), "errors_test")
}

func TestError_GetStackString_NilFunc(t *testing.T) {
	err := &Error{Stack: []runtime.Frame{{File: "/path/to/file.go", Line: 42}}}
	result := err.GetStackString()
	assert.Contains(t, result, "/path/to/file.go:42")
}

func TestError_ImplementsErrorInterface(t *testing.T) {
	var _ error = &Error{}
}

func TestConstructors(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		code Code
	}{
		{"config invalid", NewConfigInvalid("x"), ConfigInvalid},
		{"connect auth", NewConnectAuth("x"), ConnectAuth},
		{"connect transport", NewConnectTransport("x"), ConnectTransport},
		{"exec helper missing", NewAuthExecHelperMissing("x"), AuthExecHelperMissing},
		{"forbidden", NewForbidden("x"), Forbidden},
		{"not found", NewNotFound("x"), NotFound},
		{"conflict", NewConflict("x"), Conflict},
		{"stuck terminating", NewStuckTerminating("x"), StuckTerminating},
		{"pod failed", NewPodFailed("x"), PodFailed},
		{"pod deleted externally", NewPodDeletedExternally("x"), PodDeletedExternally},
		{"ready timeout", NewReadyTimeout("x"), ReadyTimeout},
		{"port forward start", NewPortForwardStart("x"), PortForwardStart},
		{"cancelled", NewCancelled("x"), Cancelled},
		{"internal error", NewInternalError("x"), InternalError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, tt.err.Code)
			assert.True(t, IsCore(tt.err))
			assert.Equal(t, tt.code, GetCode(tt.err))
			assert.True(t, Is(tt.err, tt.code))
		})
	}
}

func TestIsCore_NonCoreError(t *testing.T) {
	err := errors.New("plain")
	assert.False(t, IsCore(err))
	assert.Equal(t, Code(""), GetCode(err))
}
