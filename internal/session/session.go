// File: internal/session/session.go
// Package session
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Per-connection state of a protocol that took over a connection: status,
// negotiated sub-protocol, idle timeout, hibernation and the mailbox.

package session

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/aahoughton/cowboy/api"
	"github.com/aahoughton/cowboy/internal/concurrency"
)

// Session holds per-connection state. Fields without atomics are owned by
// the connection goroutine.
type Session struct {
	id       uint64
	peer     string
	protocol string
	inbox    *concurrency.Mailbox
	started  time.Time

	status      atomic.Int32
	hibernating atomic.Bool
	framesIn    atomic.Uint64
	framesOut   atomic.Uint64

	mu          sync.Mutex
	subprotocol string
	idleTimeout time.Duration
	idleSet     bool

	PendingClose bool

	done chan struct{}
	once sync.Once
}

// New creates a session in the handshaking state.
func New(id uint64, peer, protocol string, inbox *concurrency.Mailbox) *Session {
	s := &Session{
		id:       id,
		peer:     peer,
		protocol: protocol,
		inbox:    inbox,
		started:  time.Now(),
		done:     make(chan struct{}),
	}
	s.status.Store(int32(api.SessionHandshaking))
	return s
}

// ID returns the connection identifier.
func (s *Session) ID() uint64 { return s.id }

// Inbox returns the session mailbox.
func (s *Session) Inbox() *concurrency.Mailbox { return s.inbox }

// Send delivers msg to the session mailbox.
func (s *Session) Send(msg any) bool { return s.inbox.Send(msg) }

func (s *Session) Status() api.SessionStatus {
	return api.SessionStatus(s.status.Load())
}

// SetStatus moves the session forward. Status never goes backwards; an
// attempt to do so is ignored and reported as false.
func (s *Session) SetStatus(st api.SessionStatus) bool {
	for {
		cur := s.status.Load()
		if int32(st) < cur {
			return false
		}
		if s.status.CompareAndSwap(cur, int32(st)) {
			return true
		}
	}
}

// SetSubprotocol records the negotiated sub-protocol.
func (s *Session) SetSubprotocol(p string) {
	s.mu.Lock()
	s.subprotocol = p
	s.mu.Unlock()
}

func (s *Session) Subprotocol() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subprotocol
}

// DefaultIdleTimeout installs the configured timeout without consuming the
// single explicit set.
func (s *Session) DefaultIdleTimeout(d time.Duration) {
	s.mu.Lock()
	if !s.idleSet {
		s.idleTimeout = d
	}
	s.mu.Unlock()
}

// SetIdleTimeout applies d if no handler has set a timeout before. Later
// calls are ignored and return false.
func (s *Session) SetIdleTimeout(d time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.idleSet {
		return false
	}
	s.idleSet = true
	s.idleTimeout = d
	return true
}

// IdleTimeout returns the active timeout; zero means unbounded.
func (s *Session) IdleTimeout() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.idleTimeout
}

func (s *Session) SetHibernating(v bool) { s.hibernating.Store(v) }

func (s *Session) Hibernating() bool { return s.hibernating.Load() }

func (s *Session) FrameIn() { s.framesIn.Add(1) }

func (s *Session) FrameOut() { s.framesOut.Add(1) }

// Info returns a snapshot for debug probes.
func (s *Session) Info() api.SessionInfo {
	return api.SessionInfo{
		ConnID:      s.id,
		Peer:        s.peer,
		Protocol:    s.protocol,
		Subprotocol: s.Subprotocol(),
		Status:      s.Status(),
		IdleTimeout: s.IdleTimeout(),
		Hibernating: s.Hibernating(),
		FramesIn:    s.framesIn.Load(),
		FramesOut:   s.framesOut.Load(),
		StartedAt:   s.started,
	}
}

// Cancel marks the session terminated and closes its mailbox; idempotent.
func (s *Session) Cancel() {
	s.once.Do(func() {
		s.SetStatus(api.SessionTerminated)
		s.inbox.Close()
		close(s.done)
	})
}

// Done returns a channel closed upon cancellation.
func (s *Session) Done() <-chan struct{} {
	return s.done
}
