// File: internal/concurrency/mailbox.go
// Package concurrency
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Unbounded per-connection FIFO mailbox. Producers never block; the single
// consumer waits on Ready and takes messages one at a time with Pop.

package concurrency

import (
	"sync"

	"github.com/eapache/queue"
)

// Mailbox is a multi-producer, single-consumer message queue.
type Mailbox struct {
	mu     sync.Mutex
	q      *queue.Queue
	ready  chan struct{}
	closed bool
}

// NewMailbox creates an empty, open mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{
		q:     queue.New(),
		ready: make(chan struct{}, 1),
	}
}

// Send appends msg. It returns false if the mailbox is closed.
func (m *Mailbox) Send(msg any) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.q.Add(msg)
	m.mu.Unlock()
	m.notify()
	return true
}

// Ready delivers a token whenever messages may be waiting.
func (m *Mailbox) Ready() <-chan struct{} {
	return m.ready
}

// Pop removes the oldest message. The ready token is re-armed while
// messages remain so a consumer can interleave other work between pops.
func (m *Mailbox) Pop() (any, bool) {
	m.mu.Lock()
	if m.q.Length() == 0 {
		m.mu.Unlock()
		return nil, false
	}
	msg := m.q.Remove()
	more := m.q.Length() > 0
	m.mu.Unlock()
	if more {
		m.notify()
	}
	return msg, true
}

// Drain removes and returns every queued message in order.
func (m *Mailbox) Drain() []any {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]any, 0, m.q.Length())
	for m.q.Length() > 0 {
		out = append(out, m.q.Remove())
	}
	return out
}

// Len returns the number of queued messages.
func (m *Mailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.q.Length()
}

// Close rejects further sends and discards anything still queued. It returns
// the number of discarded messages.
func (m *Mailbox) Close() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0
	}
	m.closed = true
	n := m.q.Length()
	m.q = queue.New()
	return n
}

// Closed reports whether Close has been called.
func (m *Mailbox) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *Mailbox) notify() {
	select {
	case m.ready <- struct{}{}:
	default:
	}
}
