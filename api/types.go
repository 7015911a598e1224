// File: api/types.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Shared API-level type declarations and constants.

package api

import "time"

// SessionStatus enumerates the state of an upgraded session.
type SessionStatus int32

const (
	SessionUnknown SessionStatus = iota
	SessionHandshaking
	SessionOpen
	SessionClosing
	SessionTerminated
)

func (s SessionStatus) String() string {
	switch s {
	case SessionHandshaking:
		return "handshaking"
	case SessionOpen:
		return "open"
	case SessionClosing:
		return "closing"
	case SessionTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// SessionInfo is a point-in-time snapshot of one upgraded session, used by
// debug probes.
type SessionInfo struct {
	ConnID      uint64
	Peer        string
	Protocol    string
	Subprotocol string
	Status      SessionStatus
	IdleTimeout time.Duration
	Hibernating bool
	FramesIn    uint64
	FramesOut   uint64
	StartedAt   time.Time
}

// Inbox is the sending side of a connection's mailbox. Send never blocks and
// reports false once the owning connection has terminated.
type Inbox interface {
	Send(msg any) bool
}
