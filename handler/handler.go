// File: handler/handler.go
// Package handler defines the handler contract and the dispatcher that
// drives it.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package handler

import (
	"context"
	"log/slog"
	"time"

	"github.com/aahoughton/cowboy/api"
	"github.com/aahoughton/cowboy/control"
	"github.com/aahoughton/cowboy/internal/concurrency"
	"github.com/aahoughton/cowboy/internal/session"
	"github.com/aahoughton/cowboy/request"
)

// Handler is the user callback for one request.
type Handler interface {
	Init(req request.Req, opts any) (Result, error)
}

// Terminator is implemented by handlers that want to observe the end of a
// request. It is called exactly once per request.
type Terminator interface {
	Terminate(reason api.Reason, req request.Req, state any) error
}

// Func adapts a plain function to Handler.
type Func func(req request.Req, opts any) (Result, error)

func (f Func) Init(req request.Req, opts any) (Result, error) { return f(req, opts) }

// Protocol takes over a request after Init returned Switch.
type Protocol interface {
	Name() string
	// Upgrade runs until the protocol is done with the connection. It
	// should call env.Terminate itself before releasing the connection;
	// the dispatcher calls it with the returned exit otherwise.
	Upgrade(ctx context.Context, env *Env, req request.Req, state any, mods Mods) Exit
}

// Exit is what a protocol hands back to the dispatcher.
type Exit struct {
	Reason api.Reason
	Req    request.Req
	State  any
}

// Mods are the result modifiers.
type Mods struct {
	Hibernate      bool
	IdleTimeout    time.Duration
	HasIdleTimeout bool
}

type kind int

const (
	kindDone kind = iota
	kindSwitch
)

// Result tells the dispatcher how Init ended.
type Result struct {
	kind  kind
	req   request.Req
	state any
	proto Protocol
	mods  Mods
}

// Done completes a plain request.
func Done(req request.Req, state any) Result {
	return Result{kind: kindDone, req: req, state: state}
}

// Switch hands the request to proto.
func Switch(proto Protocol, req request.Req, state any) Result {
	return Result{kind: kindSwitch, req: req, state: state, proto: proto}
}

// Hibernate asks the protocol to release memory before waiting.
func (r Result) Hibernate() Result {
	r.mods.Hibernate = true
	return r
}

// IdleTimeout sets the protocol's idle timeout.
func (r Result) IdleTimeout(d time.Duration) Result {
	r.mods.IdleTimeout = d
	r.mods.HasIdleTimeout = true
	return r
}

func (r Result) IsSwitch() bool { return r.kind == kindSwitch }

func (r Result) Req() request.Req { return r.req }

func (r Result) State() any { return r.state }

func (r Result) Mods() Mods { return r.mods }

// Env carries the connection-level collaborators a request and its
// protocol need.
type Env struct {
	Logger       *slog.Logger
	Metrics      *control.Metrics
	Mailbox      *concurrency.Mailbox
	Sessions     *session.Manager
	IdleTimeout  time.Duration
	WriteTimeout time.Duration
	MaxFrameSize int64
	Peer         string

	h          Handler
	terminated bool
	termErr    error
}

// Terminate calls the handler's Terminate once. Later calls return the
// first call's result. A failing Terminate is reported wrapped in
// api.ErrTerminateFailed.
func (e *Env) Terminate(reason api.Reason, req request.Req, state any) error {
	if e.terminated {
		return e.termErr
	}
	e.terminated = true
	e.Metrics.Terminated(reasonLabel(reason))

	t, ok := e.h.(Terminator)
	if !ok {
		return nil
	}
	err := api.Protect(func() error { return t.Terminate(reason, req, state) })
	if err != nil {
		e.Metrics.Crash("terminate", crashClass(err))
		e.Log().Error("terminate failed", "conn", req.ConnID(), "reason", reason.String(), "err", err)
		e.termErr = api.WrapError(api.ErrCodeInternal, "terminate", api.ErrTerminateFailed).
			WithContext("cause", err.Error())
	}
	return e.termErr
}

// Terminated reports whether Terminate has run.
func (e *Env) Terminated() bool { return e.terminated }

// Log returns the connection logger, falling back to the default logger.
func (e *Env) Log() *slog.Logger {
	if e.Logger == nil {
		return slog.Default()
	}
	return e.Logger
}

func reasonLabel(r api.Reason) string {
	if r.IsCrash() {
		return "crash"
	}
	return r.Cause.String()
}

func crashClass(err error) string {
	if ce, ok := err.(*api.CrashError); ok {
		return ce.Class.String()
	}
	return api.ClassError.String()
}
