// File: api/errors.go
// Package api
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Common error types and error handling utilities for the connection core.

package api

import (
	"errors"
	"fmt"
)

// Common errors used across the library.
var (
	ErrAlreadySent       = errors.New("response already sent")
	ErrStaleRequest      = errors.New("request value used after it was superseded")
	ErrMissingValue      = errors.New("missing required value")
	ErrConstraint        = errors.New("value failed constraint")
	ErrBadHandshake      = errors.New("bad upgrade handshake")
	ErrTerminateFailed   = errors.New("terminate callback failed")
	ErrNilProtocol       = errors.New("switch to a nil protocol")
	ErrMailboxClosed     = errors.New("mailbox is closed")
	ErrFrameTooLarge     = errors.New("frame payload exceeds maximum allowed size")
	ErrProtocolViolation = errors.New("protocol violation")
	ErrInvalidUTF8       = errors.New("invalid utf-8 in text payload")
	ErrBodyTooLarge      = errors.New("request body too large")
	ErrServerClosed      = errors.New("server closed")
)

// ErrorCode represents specific error conditions in the library.
type ErrorCode int

const (
	ErrCodeOK ErrorCode = iota
	ErrCodeInvalidArgument
	ErrCodeMissing
	ErrCodeConstraint
	ErrCodeHandshake
	ErrCodeProtocol
	ErrCodeInternal
)

// Error represents a structured error with code and context.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
	Context map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if len(e.Context) == 0 {
		return msg
	}
	return fmt.Sprintf("%s (context: %+v)", msg, e.Context)
}

// Unwrap exposes the wrapped sentinel to errors.Is.
func (e *Error) Unwrap() error { return e.Err }

// NewError creates a new structured error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Context: make(map[string]any),
	}
}

// WrapError creates a structured error around err.
func WrapError(code ErrorCode, message string, err error) *Error {
	e := NewError(code, message)
	e.Err = err
	return e
}

// WithContext adds context information to the error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}
