// File: loop/loop.go
// Package loop keeps a request open and feeds mailbox messages to a
// handler until it stops. It serves long-polling and streamed responses
// without leaving HTTP.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package loop

import (
	"context"
	"net/http"
	"time"

	"github.com/aahoughton/cowboy/api"
	"github.com/aahoughton/cowboy/handler"
	"github.com/aahoughton/cowboy/internal/concurrency"
	"github.com/aahoughton/cowboy/internal/session"
	"github.com/aahoughton/cowboy/request"
)

// Name is the protocol name used in logs and metrics.
const Name = "loop"

// Handler receives mailbox messages while the request is open.
type Handler interface {
	Info(msg any, req request.Req, state any) (Result, error)
}

// Result is returned by Info.
type Result struct {
	stop  bool
	req   request.Req
	state any
	mods  handler.Mods
}

// Continue waits for the next message.
func Continue(req request.Req, state any) Result {
	return Result{req: req, state: state}
}

// Stop ends the request. A 204 is sent if nothing was sent yet.
func Stop(req request.Req, state any) Result {
	return Result{stop: true, req: req, state: state}
}

func (r Result) Hibernate() Result {
	r.mods.Hibernate = true
	return r
}

// IdleTimeout sets the wait limit between messages. Only the first
// explicit value sticks.
func (r Result) IdleTimeout(d time.Duration) Result {
	r.mods.IdleTimeout = d
	r.mods.HasIdleTimeout = true
	return r
}

type proto struct{ h Handler }

// Protocol returns the handler.Protocol serving h.
func Protocol(h Handler) handler.Protocol { return proto{h} }

func (proto) Name() string { return Name }

func (p proto) Upgrade(ctx context.Context, env *handler.Env, req request.Req, state any, mods handler.Mods) handler.Exit {
	log := env.Log().With("conn", req.ConnID(), "path", req.Path())
	inbox := env.Mailbox
	if inbox == nil {
		inbox = concurrency.NewMailbox()
	}
	sess := session.New(req.ConnID(), req.PeerAddr(), Name, inbox)
	sess.SetStatus(api.SessionOpen)
	sess.DefaultIdleTimeout(env.IdleTimeout)
	if mods.HasIdleTimeout {
		sess.SetIdleTimeout(mods.IdleTimeout)
	}
	if env.Sessions != nil {
		env.Sessions.Add(sess)
		defer env.Sessions.Delete(sess.ID())
	}
	if mods.Hibernate {
		sess.SetHibernating(true)
		env.Metrics.Hibernated()
	}

	var timer *time.Timer
	var timeout <-chan time.Time
	arm := func() {
		d := sess.IdleTimeout()
		if d <= 0 {
			return
		}
		if timer == nil {
			timer = time.NewTimer(d)
		} else {
			timer.Reset(d)
		}
		timeout = timer.C
	}
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	arm()

	var reason api.Reason
wait:
	for {
		select {
		case <-inbox.Ready():
			msg, ok := inbox.Pop()
			if !ok {
				continue
			}
			sess.SetHibernating(false)
			var res Result
			err := api.Protect(func() error {
				var e error
				res, e = p.h.Info(msg, req, state)
				return e
			})
			if err != nil {
				reason = api.Crashed(err)
				env.Metrics.Crash("info", reason.Crash.Class.String())
				log.Error("loop handler crashed", "class", reason.Crash.Class.String(), "err", reason.Crash.Err)
				req = req.Resume()
				if !req.Sent() {
					req, _ = req.Reply(http.StatusInternalServerError, map[string]string{"connection": "close"}, nil)
				}
				req.MarkFatal()
				break wait
			}
			if !res.req.IsZero() {
				req = res.req
			}
			state = res.state
			if res.mods.HasIdleTimeout && !sess.SetIdleTimeout(res.mods.IdleTimeout) {
				log.Debug("idle timeout already set, ignoring", "requested", res.mods.IdleTimeout)
			}
			if res.stop {
				reason = api.Normal(api.CauseStop)
				break wait
			}
			arm()
			if res.mods.Hibernate {
				sess.SetHibernating(true)
				env.Metrics.Hibernated()
			}
		case <-timeout:
			log.Debug("loop idle timeout", "after", sess.IdleTimeout())
			reason = api.Normal(api.CauseTimeout)
			break wait
		case <-ctx.Done():
			reason = api.Normal(api.CauseShutdown)
			if !req.Sent() {
				req, _ = req.Reply(http.StatusServiceUnavailable, map[string]string{"connection": "close"}, nil)
			}
			break wait
		}
	}

	sess.SetStatus(api.SessionClosing)
	if !req.Current() {
		req = req.Resume()
	}
	if !req.Sent() {
		var err error
		if req, err = req.ReplyStatus(http.StatusNoContent); err != nil {
			log.Debug("default reply failed", "err", err)
		}
	}
	env.Terminate(reason, req, state)
	// The mailbox belongs to the connection and outlives the loop, so it
	// stays open for the next request.
	sess.SetStatus(api.SessionTerminated)
	return handler.Exit{Reason: reason, Req: req, State: state}
}
