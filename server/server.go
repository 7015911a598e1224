// File: server/server.go
// Package server accepts HTTP/1.x connections, routes each request to its
// handler and runs keep-alive and upgraded connections to completion.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/aahoughton/cowboy/api"
	"github.com/aahoughton/cowboy/control"
	"github.com/aahoughton/cowboy/internal/session"
)

// Server is one listener plus its live connections.
type Server struct {
	cfg      *control.Config
	router   Router
	log      *slog.Logger
	metrics  *control.Metrics
	sessions *session.Manager
	probes   *control.DebugProbes
	limiter  *rate.Limiter

	mu     sync.Mutex
	ln     net.Listener
	conns  map[net.Conn]*connState
	nextID atomic.Uint64

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	shutting atomic.Bool
}

type connState struct {
	id   uint64
	idle atomic.Bool
}

// New builds a server. A nil cfg means control.DefaultConfig().
func New(cfg *control.Config, router Router, opts ...Option) (*Server, error) {
	if cfg == nil {
		cfg = control.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if router == nil {
		return nil, api.NewError(api.ErrCodeInvalidArgument, "server: nil router")
	}
	s := &Server{
		cfg:      cfg,
		router:   router,
		log:      slog.Default(),
		sessions: session.NewManager(32),
		probes:   control.NewDebugProbes(),
		conns:    make(map[net.Conn]*connState),
	}
	for _, o := range opts {
		o(s)
	}
	if r := cfg.Server.AcceptRate; r > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(r), max(cfg.Server.AcceptBurst, 1))
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	control.RegisterPlatformProbes(s.probes)
	s.probes.RegisterProbe("server.connections", func() any {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.conns)
	})
	s.probes.RegisterProbe("server.sessions", func() any {
		var out []api.SessionInfo
		s.sessions.Range(func(ss *session.Session) { out = append(out, ss.Info()) })
		return out
	})
	return s, nil
}

// ListenAndServe opens the configured address, or the listener given with
// WithListener, and serves it until ctx is cancelled or Shutdown is
// called.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()
	if ln == nil {
		lc := net.ListenConfig{Control: socketControl(s.cfg.Server.ReusePort)}
		var err error
		if ln, err = lc.Listen(ctx, "tcp", s.cfg.Server.Address); err != nil {
			return err
		}
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln. It returns api.ErrServerClosed after
// Shutdown. Cancelling ctx starts a shutdown bounded by the configured
// shutdown timeout.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	if s.shutting.Load() {
		ln.Close()
		return api.ErrServerClosed
	}
	s.log.Info("listening", "addr", ln.Addr().String())

	stop := context.AfterFunc(ctx, func() {
		sctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout.Duration())
		defer cancel()
		s.Shutdown(sctx)
	})
	defer stop()

	var backoff time.Duration
	for {
		if s.limiter != nil {
			if err := s.limiter.Wait(s.ctx); err != nil {
				return api.ErrServerClosed
			}
		}
		nc, err := ln.Accept()
		if err != nil {
			if s.shutting.Load() {
				return api.ErrServerClosed
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				backoff = min(max(2*backoff, 5*time.Millisecond), time.Second)
				s.log.Warn("accept failed, retrying", "err", err, "in", backoff)
				time.Sleep(backoff)
				continue
			}
			return err
		}
		backoff = 0
		st := s.track(nc)
		if st == nil {
			nc.Close()
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(nc)
			s.serveConn(nc, st)
		}()
	}
}

func (s *Server) track(nc net.Conn) *connState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutting.Load() {
		return nil
	}
	st := &connState{id: s.nextID.Add(1)}
	s.conns[nc] = st
	return st
}

func (s *Server) untrack(nc net.Conn) {
	s.mu.Lock()
	delete(s.conns, nc)
	s.mu.Unlock()
}

// Shutdown stops accepting, tells upgraded connections to close, ends idle
// keep-alive connections and waits for the rest. When ctx expires first
// the remaining connections are closed forcibly and ctx's error returned.
func (s *Server) Shutdown(ctx context.Context) error {
	if !s.shutting.CompareAndSwap(false, true) {
		return s.wait(ctx)
	}
	s.log.Info("shutting down")
	s.cancel()

	s.mu.Lock()
	if s.ln != nil {
		s.ln.Close()
	}
	now := time.Now()
	for nc, st := range s.conns {
		if st.idle.Load() {
			nc.SetReadDeadline(now)
		}
	}
	s.mu.Unlock()
	return s.wait(ctx)
}

func (s *Server) wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.mu.Lock()
		for nc := range s.conns {
			nc.Close()
		}
		s.mu.Unlock()
		<-done
		return ctx.Err()
	}
}

// Addr returns the listener address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Send delivers msg to the mailbox of the upgraded or looping connection
// connID. It reports whether the connection accepted it.
func (s *Server) Send(connID uint64, msg any) bool {
	return s.sessions.Send(connID, msg)
}

// Broadcast sends msg to every upgraded or looping connection and returns
// how many accepted it.
func (s *Server) Broadcast(msg any) int {
	return s.sessions.Broadcast(msg)
}

// Probes exposes the debug probe registry so callers can add their own.
func (s *Server) Probes() *control.DebugProbes { return s.probes }

// DumpState runs every debug probe.
func (s *Server) DumpState() map[string]any {
	return s.probes.DumpState()
}
