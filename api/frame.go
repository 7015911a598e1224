// File: api/frame.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Frame model shared by the upgrade engine and frame codecs.

package api

import "fmt"

// OpCode identifies the kind of a message frame.
type OpCode byte

const (
	OpContinuation OpCode = 0x0
	OpText         OpCode = 0x1
	OpBinary       OpCode = 0x2
	OpClose        OpCode = 0x8
	OpPing         OpCode = 0x9
	OpPong         OpCode = 0xA
)

// IsControl reports whether op is a control opcode.
func (op OpCode) IsControl() bool { return op&0x8 != 0 }

func (op OpCode) String() string {
	switch op {
	case OpContinuation:
		return "continuation"
	case OpText:
		return "text"
	case OpBinary:
		return "binary"
	case OpClose:
		return "close"
	case OpPing:
		return "ping"
	case OpPong:
		return "pong"
	default:
		return fmt.Sprintf("opcode(%d)", byte(op))
	}
}

// Close codes.
const (
	CloseNormal          = 1000
	CloseGoingAway       = 1001
	CloseProtocolError   = 1002
	CloseUnsupportedData = 1003
	CloseNoStatus        = 1005
	CloseAbnormal        = 1006
	CloseInvalidPayload  = 1007
	ClosePolicyViolation = 1008
	CloseMessageTooBig   = 1009
	CloseMissingExt      = 1010
	CloseInternalError   = 1011
)

// Frame is one complete message or control frame. Fragmented messages are
// reassembled by the codec before they are surfaced.
type Frame struct {
	Op      OpCode
	Payload []byte
	// Code and Reason are meaningful for close frames only. A zero Code means
	// the close frame carried no status.
	Code   int
	Reason string
}

// TextFrame builds a text frame.
func TextFrame(s string) Frame { return Frame{Op: OpText, Payload: []byte(s)} }

func BinaryFrame(b []byte) Frame { return Frame{Op: OpBinary, Payload: b} }

func PingFrame(b []byte) Frame { return Frame{Op: OpPing, Payload: b} }

func PongFrame(b []byte) Frame { return Frame{Op: OpPong, Payload: b} }

func CloseFrame(code int, reason string) Frame {
	return Frame{Op: OpClose, Code: code, Reason: reason}
}

func (f Frame) String() string {
	if f.Op == OpClose {
		return fmt.Sprintf("close(%d %q)", f.Code, f.Reason)
	}
	return fmt.Sprintf("%s(%d bytes)", f.Op, len(f.Payload))
}

// FrameCodec reads and writes whole frames on an upgraded connection.
// ReadFrame is called from a single reader goroutine; WriteFrame from the
// connection goroutine only.
type FrameCodec interface {
	ReadFrame() (Frame, error)
	WriteFrame(Frame) error
}

// Compactor is implemented by codecs able to release scratch memory while a
// connection is idle.
type Compactor interface {
	Compact()
}
