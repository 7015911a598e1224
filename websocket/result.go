// File: websocket/result.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Callback results for an open socket.

package websocket

import (
	"time"

	"github.com/aahoughton/cowboy/api"
	"github.com/aahoughton/cowboy/handler"
	"github.com/aahoughton/cowboy/request"
)

type action int

const (
	actContinue action = iota
	actReply
	actShutdown
)

// Result is returned by every socket callback.
type Result struct {
	act    action
	req    request.Req
	state  any
	frames []api.Frame
	mods   handler.Mods
}

// Continue keeps the socket open.
func Continue(req request.Req, state any) Result {
	return Result{act: actContinue, req: req, state: state}
}

// Reply writes frames in order. A close frame ends the list and the socket.
func Reply(req request.Req, state any, frames ...api.Frame) Result {
	return Result{act: actReply, req: req, state: state, frames: frames}
}

// Shutdown closes the socket without sending a frame.
func Shutdown(req request.Req, state any) Result {
	return Result{act: actShutdown, req: req, state: state}
}

// Hibernate releases scratch memory once the result has been applied.
func (r Result) Hibernate() Result {
	r.mods.Hibernate = true
	return r
}

// IdleTimeout sets the idle timeout. Only the first explicit value sticks.
func (r Result) IdleTimeout(d time.Duration) Result {
	r.mods.IdleTimeout = d
	r.mods.HasIdleTimeout = true
	return r
}
