// File: server/conn.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Per-connection request loop. Every handler callback for the connection
// runs on this goroutine.

package server

import (
	"bufio"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/aahoughton/cowboy/handler"
	"github.com/aahoughton/cowboy/internal/concurrency"
	"github.com/aahoughton/cowboy/request"
)

const minReadBuffer = 4096

func (s *Server) serveConn(nc net.Conn, st *connState) {
	s.metrics.ConnOpened()
	defer s.metrics.ConnClosed()
	defer nc.Close()

	cfg := s.cfg.Server
	peer := nc.RemoteAddr().String()
	log := s.log.With("conn", st.id, "peer", peer)
	log.Debug("connection accepted")

	inbox := concurrency.NewMailbox()
	defer inbox.Close()
	conn := &request.Conn{
		Net:    nc,
		R:      bufio.NewReaderSize(nc, max(cfg.MaxHeaderSize.Int(), minReadBuffer)),
		W:      bufio.NewWriter(nc),
		ID:     st.id,
		Inbox:  inbox,
		Peer:   peer,
		Scheme: "http",
	}
	env := &handler.Env{
		Logger:       s.log,
		Metrics:      s.metrics,
		Mailbox:      inbox,
		Sessions:     s.sessions,
		IdleTimeout:  s.cfg.WebSocket.IdleTimeout.Duration(),
		WriteTimeout: s.cfg.WebSocket.WriteTimeout.Duration(),
		MaxFrameSize: s.cfg.WebSocket.MaxFrameSize.Int64(),
		Peer:         peer,
	}

	for n := 1; ; n++ {
		st.idle.Store(true)
		if s.shutting.Load() {
			return
		}
		if d := cfg.RequestTimeout.Duration(); d > 0 {
			nc.SetReadDeadline(time.Now().Add(d))
		}
		opts := request.Options{
			ServerName:      cfg.ServerName,
			BodyChunkSize:   cfg.BodyChunkSize.Int(),
			Compress:        cfg.Compress,
			CompressMinSize: cfg.CompressMinSize.Int(),
			WriteTimeout:    cfg.WriteTimeout.Duration(),
			ForceClose:      cfg.MaxKeepAlive > 0 && n >= cfg.MaxKeepAlive,
		}
		req, err := request.ReadRequest(conn, opts)
		st.idle.Store(false)
		if err != nil {
			var ne net.Error
			if errors.Is(err, io.EOF) || (errors.As(err, &ne) && ne.Timeout()) {
				log.Debug("connection idle, closing", "requests", n-1)
				return
			}
			log.Warn("malformed request", "err", err)
			if d := cfg.WriteTimeout.Duration(); d > 0 {
				nc.SetWriteDeadline(time.Now().Add(d))
			}
			s.badRequest(conn.W)
			return
		}
		nc.SetReadDeadline(time.Time{})
		if s.shutting.Load() {
			req.MarkFatal()
		}

		o := s.dispatch(req, env)
		if o.Req.Sent() {
			s.metrics.Response(o.Req.Status())
		}
		if o.Upgraded {
			return
		}
		if err := o.Req.FinishResponse(); err != nil {
			log.Debug("flush failed", "err", err)
			return
		}
		if o.Fatal || !o.KeepAlive {
			return
		}
		if !o.Req.Drain(cfg.DrainLimit.Int64()) {
			log.Debug("unread body over drain limit, closing")
			return
		}
	}
}

// dispatch routes req and runs its handler. Unknown paths get a 404.
func (s *Server) dispatch(req request.Req, env *handler.Env) handler.Outcome {
	m, ok := s.router.Lookup(req.Path())
	if !ok {
		r, err := req.Reply(http.StatusNotFound, nil, nil)
		return handler.Outcome{Req: r, KeepAlive: err == nil && r.KeepAlive(), Fatal: err != nil}
	}
	if len(m.Bindings) > 0 {
		req = req.WithBindings(m.Bindings)
	}
	return handler.Run(s.ctx, m.Handler, m.Opts, req, env)
}

func (s *Server) badRequest(w *bufio.Writer) {
	s.metrics.Response(http.StatusBadRequest)
	w.WriteString("HTTP/1.1 400 Bad Request\r\nconnection: close\r\ncontent-length: 0\r\n\r\n")
	w.Flush()
}
