// File: websocket/engine.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Handshake and socket event loop. A socket moves through Handshaking,
// Open, Closing and Terminated. While open it waits on two sources: frames
// decoded by a reader goroutine and messages in the connection mailbox.
// Whichever is ready first is served; callbacks run one at a time on the
// connection goroutine.

package websocket

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/aahoughton/cowboy/api"
	"github.com/aahoughton/cowboy/handler"
	"github.com/aahoughton/cowboy/internal/concurrency"
	"github.com/aahoughton/cowboy/internal/session"
	"github.com/aahoughton/cowboy/protocol"
	"github.com/aahoughton/cowboy/request"
)

type inbound struct {
	f   api.Frame
	err error
}

// conn is the state of one open socket. It is owned by the connection
// goroutine, except for frames which the reader fills.
type conn struct {
	h      Handler
	env    *handler.Env
	log    *slog.Logger
	cfg    config
	sess   *session.Session
	inbox  *concurrency.Mailbox
	stream *request.Stream
	codec  api.FrameCodec

	req   request.Req
	state any

	frames chan inbound
	stop   chan struct{}
	idle   *time.Timer
	idleC  <-chan time.Time
}

func (p *proto) Upgrade(ctx context.Context, env *handler.Env, req request.Req, state any, mods handler.Mods) handler.Exit {
	log := env.Log().With("conn", req.ConnID(), "peer", req.PeerAddr())
	inbox := env.Mailbox
	if inbox == nil {
		inbox = concurrency.NewMailbox()
	}
	sess := session.New(req.ConnID(), req.PeerAddr(), Name, inbox)

	key, err := protocol.ValidateUpgrade(req.Method(), func(name string) string {
		return req.HeaderOr(name, "")
	})
	if err != nil {
		return p.reject(env, log, sess, req, state, err)
	}

	// The session is reachable through the registry before the 101 is sent.
	if env.Sessions != nil {
		env.Sessions.Add(sess)
		defer env.Sessions.Delete(sess.ID())
	}

	offered := protocol.ParseProtocols(req.HeaderOr("sec-websocket-protocol", ""))
	selected, _ := req.RespHeader("sec-websocket-protocol")
	if len(offered) > 0 && selected == "" {
		log.Debug("client offered sub-protocols, none selected", "offered", offered)
	}

	stream, req, err := req.SwitchProtocols(map[string]string{
		"upgrade":              "websocket",
		"connection":           "Upgrade",
		"sec-websocket-accept": protocol.AcceptKey(key),
	})
	if err != nil {
		env.Metrics.Upgrade(Name, false)
		log.Warn("handshake write failed", "err", err)
		sess.Cancel()
		reason := api.Normal(api.CauseClosed)
		env.Terminate(reason, req, state)
		return handler.Exit{Reason: reason, Req: req, State: state}
	}
	env.Metrics.Upgrade(Name, true)
	env.Metrics.SessionOpened()
	defer env.Metrics.SessionClosed()

	sess.SetSubprotocol(selected)
	sess.DefaultIdleTimeout(env.IdleTimeout)
	if mods.HasIdleTimeout {
		sess.SetIdleTimeout(mods.IdleTimeout)
	}
	maxPayload := env.MaxFrameSize
	if maxPayload <= 0 {
		maxPayload = protocol.MaxFramePayload
	}
	cfg := p.cfg
	if cfg.writeTimeout <= 0 {
		cfg.writeTimeout = env.WriteTimeout
	}
	c := &conn{
		h:      p.h,
		env:    env,
		log:    log,
		cfg:    cfg,
		sess:   sess,
		inbox:  inbox,
		stream: stream,
		codec:  p.cfg.codec(stream, maxPayload),
		req:    req,
		state:  state,
		frames: make(chan inbound),
		stop:   make(chan struct{}),
	}
	sess.SetStatus(api.SessionOpen)
	log.Debug("socket open", "subprotocol", selected)
	if mods.Hibernate {
		c.hibernate()
	}

	reason := c.run(ctx)

	sess.SetStatus(api.SessionClosing)
	close(c.stop)
	if c.idle != nil {
		c.idle.Stop()
	}
	env.Terminate(reason, c.req, c.state)
	if n := inbox.Close(); n > 0 {
		log.Debug("dropped undelivered messages", "count", n)
	}
	sess.Cancel()
	c.shut()
	log.Debug("socket closed", "reason", reason.String())
	return handler.Exit{Reason: reason, Req: c.req, State: c.state}
}

// reject answers a failed handshake and ends the request as a crash.
func (p *proto) reject(env *handler.Env, log *slog.Logger, sess *session.Session, req request.Req, state any, err error) handler.Exit {
	env.Metrics.Upgrade(Name, false)
	status := http.StatusBadRequest
	var he *protocol.HandshakeError
	if errors.As(err, &he) {
		status = he.Status
	}
	headers := map[string]string{"connection": "close"}
	if status == http.StatusUpgradeRequired {
		headers["sec-websocket-version"] = protocol.SupportedVersion
	}
	log.Warn("websocket handshake rejected", "status", status, "err", err)
	if !req.Sent() {
		req, _ = req.Reply(status, headers, nil)
	}
	req.MarkFatal()
	sess.Cancel()
	reason := api.Crashed(err)
	env.Terminate(reason, req, state)
	return handler.Exit{Reason: reason, Req: req, State: state}
}

func (c *conn) run(ctx context.Context) api.Reason {
	if in, ok := c.h.(Initializer); ok {
		if r, done := c.call("init_socket", func() (Result, error) { return in.InitSocket(c.req, c.state) }); done {
			return r
		}
	}
	// Messages queued before the socket opened, including the ones the
	// handler sent itself during Init, precede every frame.
	for {
		msg, ok := c.inbox.Pop()
		if !ok {
			break
		}
		if r, done := c.info(msg); done {
			return r
		}
	}

	go c.readLoop()
	c.arm()
	for {
		select {
		case in := <-c.frames:
			c.wake()
			if in.err != nil {
				return c.readFailed(in.err)
			}
			if r, done := c.frame(in.f); done {
				return r
			}
		case <-c.inbox.Ready():
			msg, ok := c.inbox.Pop()
			if !ok {
				continue
			}
			c.wake()
			if r, done := c.info(msg); done {
				return r
			}
		case <-c.idleC:
			c.log.Debug("idle timeout", "after", c.sess.IdleTimeout())
			c.write(api.CloseFrame(api.CloseNormal, "idle timeout"))
			return api.Normal(api.CauseTimeout)
		case <-ctx.Done():
			c.write(api.CloseFrame(api.CloseGoingAway, "server shutdown"))
			return api.Normal(api.CauseShutdown)
		}
	}
}

// readLoop decodes frames until the codec fails or the socket closes. It
// never calls handler code.
func (c *conn) readLoop() {
	for {
		f, err := c.codec.ReadFrame()
		select {
		case c.frames <- inbound{f, err}:
		case <-c.stop:
			return
		}
		if err != nil {
			return
		}
	}
}

func (c *conn) frame(f api.Frame) (api.Reason, bool) {
	c.sess.FrameIn()
	c.env.Metrics.Frame("in", f.Op.String())
	c.touch()

	switch f.Op {
	case api.OpClose:
		code := f.Code
		if code == 0 {
			code = api.CloseNormal
		}
		c.sess.PendingClose = true
		c.write(api.CloseFrame(code, ""))
		return api.Reason{Kind: api.ReasonNormal, Cause: api.CauseRemote, Code: f.Code}, true
	case api.OpPing:
		if err := c.write(api.PongFrame(f.Payload)); err != nil {
			return api.Normal(api.CauseClosed), true
		}
	}
	return c.call("frame", func() (Result, error) { return c.h.HandleFrame(f, c.req, c.state) })
}

func (c *conn) info(msg any) (api.Reason, bool) {
	return c.call("info", func() (Result, error) { return c.h.HandleInfo(msg, c.req, c.state) })
}

// call runs a callback and applies its result. done is set when the
// socket must close with the returned reason.
func (c *conn) call(phase string, fn func() (Result, error)) (reason api.Reason, done bool) {
	var res Result
	err := api.Protect(func() error {
		var e error
		res, e = fn()
		return e
	})
	if err != nil {
		reason = api.Crashed(err)
		c.env.Metrics.Crash(phase, reason.Crash.Class.String())
		c.log.Error("socket callback crashed", "phase", phase,
			"class", reason.Crash.Class.String(), "err", reason.Crash.Err)
		c.write(api.CloseFrame(api.CloseInternalError, ""))
		return reason, true
	}

	if !res.req.IsZero() {
		c.req = res.req
	}
	c.state = res.state
	if res.mods.HasIdleTimeout {
		if c.sess.SetIdleTimeout(res.mods.IdleTimeout) {
			c.arm()
		} else {
			c.log.Debug("idle timeout already set, ignoring", "requested", res.mods.IdleTimeout)
		}
	}

	switch res.act {
	case actReply:
		for _, f := range res.frames {
			if err := c.write(f); err != nil {
				return api.Normal(api.CauseClosed), true
			}
			if f.Op == api.OpClose {
				c.sess.PendingClose = true
				return api.Reason{Kind: api.ReasonNormal, Cause: api.CauseLocal, Code: f.Code}, true
			}
		}
	case actShutdown:
		return api.Normal(api.CauseStop), true
	}
	if res.mods.Hibernate {
		c.hibernate()
	}
	return api.Reason{}, false
}

func (c *conn) write(f api.Frame) error {
	if c.cfg.writeTimeout > 0 && c.stream.Net != nil {
		_ = c.stream.Net.SetWriteDeadline(time.Now().Add(c.cfg.writeTimeout))
	}
	if err := c.codec.WriteFrame(f); err != nil {
		c.log.Debug("frame write failed", "op", f.Op.String(), "err", err)
		return err
	}
	c.sess.FrameOut()
	c.env.Metrics.Frame("out", f.Op.String())
	c.touch()
	return nil
}

// readFailed handles a codec error. Protocol violations are reported to
// the peer before the socket closes.
func (c *conn) readFailed(err error) api.Reason {
	if code := protocol.CloseCodeFor(err); code != 0 {
		c.log.Debug("protocol error from peer", "code", code, "err", err)
		c.write(api.CloseFrame(code, ""))
	} else if !errors.Is(err, io.EOF) {
		c.log.Debug("read failed", "err", err)
	}
	return api.Normal(api.CauseClosed)
}

// arm (re)starts the idle timer from the session's current timeout.
func (c *conn) arm() {
	d := c.sess.IdleTimeout()
	if d <= 0 {
		if c.idle != nil {
			c.idle.Stop()
		}
		c.idleC = nil
		return
	}
	if c.idle == nil {
		c.idle = time.NewTimer(d)
	} else {
		c.idle.Reset(d)
	}
	c.idleC = c.idle.C
}

// touch records activity.
func (c *conn) touch() {
	if c.idleC != nil {
		c.idle.Reset(c.sess.IdleTimeout())
	}
}

func (c *conn) hibernate() {
	if cp, ok := c.codec.(api.Compactor); ok {
		cp.Compact()
	}
	c.sess.SetHibernating(true)
	c.env.Metrics.Hibernated()
}

func (c *conn) wake() {
	if c.sess.Hibernating() {
		c.sess.SetHibernating(false)
	}
}

// shut releases the transport, which also unblocks the reader.
func (c *conn) shut() {
	if err := c.stream.Close(); err != nil {
		c.log.Debug("close failed", "err", err)
	}
	if cl, ok := c.codec.(io.Closer); ok {
		cl.Close()
	}
}
