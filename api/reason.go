// File: api/reason.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Termination reasons handed to terminate callbacks.

package api

import (
	"errors"
	"fmt"
	"runtime/debug"
)

// ReasonKind separates clean endings from crashes.
type ReasonKind int

const (
	ReasonNormal ReasonKind = iota
	ReasonCrash
)

// Cause qualifies a normal termination.
type Cause int

const (
	CauseDone     Cause = iota // handler finished a plain request
	CauseRemote                // peer sent a close frame
	CauseTimeout               // idle timeout fired
	CauseStop                  // handler asked to shut down without a close frame
	CauseLocal                 // handler replied with a close frame
	CauseClosed                // transport went away
	CauseShutdown              // server is shutting down
)

func (c Cause) String() string {
	switch c {
	case CauseDone:
		return "done"
	case CauseRemote:
		return "remote"
	case CauseTimeout:
		return "timeout"
	case CauseStop:
		return "stop"
	case CauseLocal:
		return "local"
	case CauseClosed:
		return "closed"
	case CauseShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// CrashClass distinguishes a returned error from a recovered panic.
type CrashClass int

const (
	ClassError CrashClass = iota
	ClassPanic
)

func (c CrashClass) String() string {
	if c == ClassPanic {
		return "panic"
	}
	return "error"
}

// CrashError records a failure raised from handler code.
type CrashError struct {
	Class CrashClass
	Err   error
	Stack []byte
}

func (e *CrashError) Error() string {
	return fmt.Sprintf("handler %s: %v", e.Class, e.Err)
}

func (e *CrashError) Unwrap() error { return e.Err }

// Reason is passed to terminate callbacks.
type Reason struct {
	Kind  ReasonKind
	Cause Cause
	// Code is the close code received from the peer for CauseRemote.
	Code  int
	Crash *CrashError
}

// Normal returns a normal reason with the given cause.
func Normal(c Cause) Reason { return Reason{Kind: ReasonNormal, Cause: c} }

// Crashed wraps err into a crash reason. An err that already is a
// *CrashError is used as is.
func Crashed(err error) Reason {
	var ce *CrashError
	if !errors.As(err, &ce) {
		ce = &CrashError{Class: ClassError, Err: err}
	}
	return Reason{Kind: ReasonCrash, Crash: ce}
}

// IsCrash reports whether r is a crash reason.
func (r Reason) IsCrash() bool { return r.Kind == ReasonCrash }

func (r Reason) String() string {
	if r.Kind == ReasonCrash {
		return "crash: " + r.Crash.Error()
	}
	if r.Cause == CauseRemote && r.Code != 0 {
		return fmt.Sprintf("normal: remote (%d)", r.Code)
	}
	return "normal: " + r.Cause.String()
}

// Protect runs fn, converting a panic into a *CrashError of class panic and a
// returned error into one of class error.
func Protect(fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			perr, ok := p.(error)
			if !ok {
				perr = fmt.Errorf("%v", p)
			}
			err = &CrashError{Class: ClassPanic, Err: perr, Stack: debug.Stack()}
		}
	}()
	if e := fn(); e != nil {
		var ce *CrashError
		if errors.As(e, &ce) {
			return ce
		}
		return &CrashError{Class: ClassError, Err: e}
	}
	return nil
}
