// File: handler/dispatcher.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Run drives one request through Init and Terminate and interprets the
// result: plain requests get a default 204 when nothing was sent, switch
// results hand the connection to a protocol.

package handler

import (
	"context"
	"net/http"

	"github.com/aahoughton/cowboy/api"
	"github.com/aahoughton/cowboy/request"
)

// Outcome tells the connection loop what to do next.
type Outcome struct {
	Req    request.Req
	Reason api.Reason
	// KeepAlive is set when another request may be read on the connection.
	KeepAlive bool
	// Upgraded is set when a protocol took the connection over.
	Upgraded bool
	// Fatal is set when the connection must be closed without further
	// output.
	Fatal bool
}

// Run dispatches req to h.
func Run(ctx context.Context, h Handler, opts any, req request.Req, env *Env) Outcome {
	env.h = h
	env.terminated = false
	env.termErr = nil
	log := env.Log()

	var res Result
	err := api.Protect(func() error {
		var e error
		res, e = h.Init(req, opts)
		return e
	})
	if err == nil && res.kind == kindSwitch && res.proto == nil {
		err = api.WrapError(api.ErrCodeInvalidArgument, "switch", api.ErrNilProtocol)
	}
	if err != nil {
		return initCrashed(env, req, opts, err)
	}

	cur := res.req
	if cur.IsZero() {
		cur = req
	}
	if !cur.Current() {
		log.Warn("handler returned a superseded request", "conn", req.ConnID())
		cur = cur.Resume()
	}

	if res.kind == kindSwitch {
		exit := res.proto.Upgrade(ctx, env, cur, res.state, res.mods)
		if exit.Req.IsZero() {
			exit.Req = cur
		}
		terr := env.Terminate(exit.Reason, exit.Req, exit.State)
		return Outcome{
			Req:       exit.Req,
			Reason:    exit.Reason,
			KeepAlive: terr == nil && exit.Req.KeepAlive(),
			Upgraded:  exit.Req.Upgraded(),
			Fatal:     terr != nil || exit.Req.Fatal(),
		}
	}

	if !cur.Sent() {
		var serr error
		if cur, serr = cur.ReplyStatus(http.StatusNoContent); serr != nil {
			log.Debug("default reply failed", "conn", req.ConnID(), "err", serr)
		}
	}
	reason := api.Normal(api.CauseDone)
	terr := env.Terminate(reason, cur, res.state)
	return Outcome{
		Req:       cur,
		Reason:    reason,
		KeepAlive: terr == nil && cur.KeepAlive(),
		Fatal:     terr != nil || cur.Fatal(),
	}
}

// initCrashed answers a failed Init with a 500 unless something was sent,
// and terminates with the original opts as state.
func initCrashed(env *Env, req request.Req, opts any, err error) Outcome {
	reason := api.Crashed(err)
	env.Metrics.Crash("init", reason.Crash.Class.String())
	env.Log().Error("handler init crashed", "conn", req.ConnID(), "path", req.Path(),
		"class", reason.Crash.Class.String(), "err", reason.Crash.Err)
	cur := req.Resume()
	if !cur.Sent() {
		cur, _ = cur.Reply(http.StatusInternalServerError, map[string]string{"connection": "close"}, nil)
	}
	cur.MarkFatal()
	terr := env.Terminate(reason, cur, opts)
	return Outcome{Req: cur, Reason: reason, Fatal: terr != nil || cur.Fatal()}
}
