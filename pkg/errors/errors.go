/*
 * Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

// Package errors defines the typed error taxonomy shared by every component
// of the deployment core. Internal I/O errors are mapped to one of the Code
// constants before crossing a component boundary.
package errors

import (
	"fmt"
	"runtime"
	"strings"
)

// Code identifies one of the fatal/non-fatal error kinds the Supervisor
// branches on.
type Code string

const (
	ConfigInvalid         Code = "CONFIG_INVALID"
	ConnectAuth           Code = "CONNECT_AUTH"
	ConnectTransport      Code = "CONNECT_TRANSPORT"
	AuthExecHelperMissing Code = "AUTH_EXEC_HELPER_MISSING"
	Forbidden             Code = "FORBIDDEN"
	NotFound              Code = "NOT_FOUND"
	Conflict              Code = "CONFLICT"
	StuckTerminating      Code = "STUCK_TERMINATING"
	PodFailed             Code = "POD_FAILED"
	PodDeletedExternally  Code = "POD_DELETED_EXTERNALLY"
	ReadyTimeout          Code = "READY_TIMEOUT"
	PortForwardStart      Code = "PORT_FORWARD_START"
	Cancelled             Code = "CANCELLED"
	InternalError         Code = "INTERNAL_ERROR"
)

// Error is the error type every component boundary returns. The New*
// constructors capture Stack at construction time, and only the single
// frame that called the constructor, so callers get a usable top frame
// without paying for a full trace on the hot reconcile path.
type Error struct {
	Code       Code
	Message    string
	InnerError error
	Stack      []runtime.Frame
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "code %s. message %s.", e.Code, e.Message)
	if e.InnerError != nil {
		fmt.Fprintf(&b, " error %s", e.InnerError)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.InnerError
}

// WithCode sets Code and returns the receiver for chaining.
func (e *Error) WithCode(code Code) *Error {
	e.Code = code
	return e
}

// WithMessage sets Message and returns the receiver for chaining.
func (e *Error) WithMessage(msg string) *Error {
	e.Message = msg
	return e
}

// WithError sets InnerError and returns the receiver for chaining.
func (e *Error) WithError(err error) *Error {
	e.InnerError = err
	return e
}

// GetTopStackString renders the innermost captured frame as "file:line func".
func (e *Error) GetTopStackString() string {
	if len(e.Stack) == 0 {
		return ""
	}
	return formatFrame(e.Stack[0])
}

// GetStackString renders every captured frame, one per line.
func (e *Error) GetStackString() string {
	lines := make([]string, 0, len(e.Stack))
	for _, f := range e.Stack {
		lines = append(lines, formatFrame(f))
	}
	return strings.Join(lines, "\n")
}

func formatFrame(f runtime.Frame) string {
	name := "unknown"
	if f.Func != nil {
		parts := strings.Split(f.Func.Name(), "/")
		name = parts[len(parts)-1]
	}
	return fmt.Sprintf("%s:%d %s", f.File, f.Line, name)
}

func captureStack() []runtime.Frame {
	var pcs [1]uintptr
	// Skip runtime.Callers, captureStack, newError and the New* constructor.
	n := runtime.Callers(4, pcs[:])
	if n == 0 {
		return nil
	}
	frames := runtime.CallersFrames(pcs[:n])
	frame, _ := frames.Next()
	return []runtime.Frame{frame}
}

func newError(code Code, message string) *Error {
	return &Error{Code: code, Message: message, Stack: captureStack()}
}

func NewConfigInvalid(message string) *Error         { return newError(ConfigInvalid, message) }
func NewConnectAuth(message string) *Error           { return newError(ConnectAuth, message) }
func NewConnectTransport(message string) *Error      { return newError(ConnectTransport, message) }
func NewAuthExecHelperMissing(message string) *Error { return newError(AuthExecHelperMissing, message) }
func NewForbidden(message string) *Error             { return newError(Forbidden, message) }
func NewNotFound(message string) *Error              { return newError(NotFound, message) }
func NewConflict(message string) *Error              { return newError(Conflict, message) }
func NewStuckTerminating(message string) *Error      { return newError(StuckTerminating, message) }
func NewPodFailed(message string) *Error             { return newError(PodFailed, message) }
func NewPodDeletedExternally(message string) *Error  { return newError(PodDeletedExternally, message) }
func NewReadyTimeout(message string) *Error          { return newError(ReadyTimeout, message) }
func NewPortForwardStart(message string) *Error      { return newError(PortForwardStart, message) }
func NewCancelled(message string) *Error             { return newError(Cancelled, message) }
func NewInternalError(message string) *Error         { return newError(InternalError, message) }

// IsCore reports whether err is one of this package's typed errors.
func IsCore(err error) bool {
	_, ok := err.(*Error)
	return ok
}

// GetCode returns the Code carried by err, or "" if err is not one of this
// package's typed errors.
func GetCode(err error) Code {
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return ""
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	return GetCode(err) == code
}
