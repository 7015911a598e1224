// File: protocol/frame_codec.go
// Package protocol implements the RFC 6455 frame codec with frame size enforcement.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Codec reads whole messages off a buffered stream, reassembling fragments and
// validating masking, control frame limits, close payloads and UTF-8. Writes go
// through a pooled scratch buffer that is returned to the pool on Compact.

package protocol

import (
	"bufio"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"io"
	"unicode/utf8"

	"github.com/valyala/bytebufferpool"

	"github.com/aahoughton/cowboy/api"
)

// MaxFramePayload is the default limit on a single message payload.
const MaxFramePayload = 1 << 20 // 1 MiB

const (
	finBit               = 0x80
	rsvBits              = 0x70
	maskBit              = 0x80
	maxControlPayloadLen = 125
	maxFrameHeaderLen    = 14
)

type flusher interface {
	Flush() error
}

// Codec is the default api.FrameCodec.
type Codec struct {
	br         *bufio.Reader
	w          io.Writer
	maxPayload int64
	client     bool

	// reader side
	fragOp api.OpCode
	frag   []byte
	inFrag bool

	// writer side
	wbuf *bytebufferpool.ByteBuffer
}

// CodecOption tunes a Codec.
type CodecOption func(*Codec)

// WithMaxPayload overrides MaxFramePayload.
func WithMaxPayload(n int64) CodecOption {
	return func(c *Codec) {
		if n > 0 {
			c.maxPayload = n
		}
	}
}

// AsClient makes the codec mask outbound frames and accept unmasked inbound
// ones.
func AsClient() CodecOption {
	return func(c *Codec) { c.client = true }
}

// NewCodec wraps r and w. If r is already a *bufio.Reader it is used directly
// so bytes buffered during the handshake are not lost.
func NewCodec(r io.Reader, w io.Writer, opts ...CodecOption) *Codec {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	c := &Codec{br: br, w: w, maxPayload: MaxFramePayload}
	for _, o := range opts {
		o(c)
	}
	return c
}

var _ api.FrameCodec = (*Codec)(nil)
var _ api.Compactor = (*Codec)(nil)

// ReadFrame returns the next complete message or control frame. Control
// frames interleaved with a fragmented message are returned as they arrive.
func (c *Codec) ReadFrame() (api.Frame, error) {
	for {
		fin, op, payload, err := c.readRaw()
		if err != nil {
			return api.Frame{}, err
		}
		switch op {
		case api.OpPing, api.OpPong:
			return api.Frame{Op: op, Payload: payload}, nil
		case api.OpClose:
			return parseClose(payload)
		case api.OpText, api.OpBinary:
			if c.inFrag {
				return api.Frame{}, protocolError("new message started inside a fragmented message")
			}
			if fin {
				return c.finish(op, payload)
			}
			c.inFrag = true
			c.fragOp = op
			c.frag = append(c.frag[:0], payload...)
		case api.OpContinuation:
			if !c.inFrag {
				return api.Frame{}, protocolError("continuation frame without a started message")
			}
			if int64(len(c.frag)+len(payload)) > c.maxPayload {
				return api.Frame{}, tooLarge(int64(len(c.frag) + len(payload)))
			}
			c.frag = append(c.frag, payload...)
			if fin {
				msg := make([]byte, len(c.frag))
				copy(msg, c.frag)
				c.inFrag = false
				c.frag = c.frag[:0]
				return c.finish(c.fragOp, msg)
			}
		default:
			return api.Frame{}, protocolError("reserved opcode").WithContext("opcode", byte(op))
		}
	}
}

func (c *Codec) finish(op api.OpCode, payload []byte) (api.Frame, error) {
	if op == api.OpText && !utf8.Valid(payload) {
		return api.Frame{}, api.WrapError(api.ErrCodeProtocol, "text frame", api.ErrInvalidUTF8)
	}
	return api.Frame{Op: op, Payload: payload}, nil
}

func (c *Codec) readRaw() (fin bool, op api.OpCode, payload []byte, err error) {
	var hdr [maxFrameHeaderLen]byte
	if _, err = io.ReadFull(c.br, hdr[:2]); err != nil {
		return
	}
	fin = hdr[0]&finBit != 0
	op = api.OpCode(hdr[0] & 0x0F)
	if hdr[0]&rsvBits != 0 {
		err = protocolError("reserved bits set")
		return
	}
	masked := hdr[1]&maskBit != 0
	length := int64(hdr[1] & 0x7F)

	switch length {
	case 126:
		if _, err = io.ReadFull(c.br, hdr[2:4]); err != nil {
			return
		}
		length = int64(binary.BigEndian.Uint16(hdr[2:4]))
	case 127:
		if _, err = io.ReadFull(c.br, hdr[2:10]); err != nil {
			return
		}
		v := binary.BigEndian.Uint64(hdr[2:10])
		if v>>63 != 0 {
			err = protocolError("payload length overflows")
			return
		}
		length = int64(v)
	}

	if op.IsControl() {
		if !fin {
			err = protocolError("fragmented control frame")
			return
		}
		if length > maxControlPayloadLen {
			err = protocolError("control frame payload too long")
			return
		}
	}
	if masked == c.client {
		if c.client {
			err = protocolError("masked frame from server")
		} else {
			err = protocolError("unmasked frame from client")
		}
		return
	}
	if length > c.maxPayload {
		err = tooLarge(length)
		return
	}

	var key [4]byte
	if masked {
		if _, err = io.ReadFull(c.br, key[:]); err != nil {
			return
		}
	}
	payload = make([]byte, length)
	if _, err = io.ReadFull(c.br, payload); err != nil {
		return
	}
	if masked {
		maskBytes(key, payload)
	}
	return
}

func parseClose(payload []byte) (api.Frame, error) {
	f := api.Frame{Op: api.OpClose}
	switch {
	case len(payload) == 0:
		return f, nil
	case len(payload) == 1:
		return api.Frame{}, protocolError("close payload of one byte")
	}
	f.Code = int(binary.BigEndian.Uint16(payload))
	if !ValidCloseCode(f.Code) {
		return api.Frame{}, protocolError("invalid close code").WithContext("code", f.Code)
	}
	reason := payload[2:]
	if !utf8.Valid(reason) {
		return api.Frame{}, api.WrapError(api.ErrCodeProtocol, "close reason", api.ErrInvalidUTF8)
	}
	f.Reason = string(reason)
	return f, nil
}

// ValidCloseCode reports whether code may appear in a close frame on the wire.
func ValidCloseCode(code int) bool {
	switch {
	case code >= 1000 && code <= 1003:
		return true
	case code >= 1007 && code <= 1014:
		return true
	case code >= 3000 && code <= 4999:
		return true
	}
	return false
}

// WriteFrame encodes f and writes it in a single call to the underlying
// writer, flushing it when buffered.
func (c *Codec) WriteFrame(f api.Frame) error {
	if c.wbuf == nil {
		c.wbuf = bytebufferpool.Get()
	}
	buf := c.wbuf
	buf.Reset()

	payload := f.Payload
	if f.Op == api.OpClose {
		payload = nil
		if f.Code != 0 {
			var code [2]byte
			binary.BigEndian.PutUint16(code[:], uint16(f.Code))
			payload = append(code[:], f.Reason...)
		}
	}
	plen := int64(len(payload))
	if f.Op.IsControl() && plen > maxControlPayloadLen {
		return protocolError("control frame payload too long").WithContext("len", plen)
	}
	if plen > c.maxPayload {
		return tooLarge(plen)
	}

	var hdr [maxFrameHeaderLen]byte
	hdr[0] = finBit | byte(f.Op&0x0F)
	var mask byte
	if c.client {
		mask = maskBit
	}
	n := 2
	switch {
	case plen <= 125:
		hdr[1] = byte(plen) | mask
	case plen <= 0xFFFF:
		hdr[1] = 126 | mask
		binary.BigEndian.PutUint16(hdr[2:], uint16(plen))
		n = 4
	default:
		hdr[1] = 127 | mask
		binary.BigEndian.PutUint64(hdr[2:], uint64(plen))
		n = 10
	}
	buf.Write(hdr[:n])

	if c.client {
		var key [4]byte
		if _, err := rand.Read(key[:]); err != nil {
			return err
		}
		buf.Write(key[:])
		start := buf.Len()
		buf.Write(payload)
		maskBytes(key, buf.B[start:])
	} else {
		buf.Write(payload)
	}

	if _, err := c.w.Write(buf.B); err != nil {
		return err
	}
	if fl, ok := c.w.(flusher); ok {
		return fl.Flush()
	}
	return nil
}

// Compact returns the write scratch buffer to the pool. It must be called
// from the writing goroutine.
func (c *Codec) Compact() {
	if c.wbuf != nil {
		bytebufferpool.Put(c.wbuf)
		c.wbuf = nil
	}
}

// CloseCodeFor maps a codec error to the close code to send before dropping
// the connection. It returns 0 for transport errors.
func CloseCodeFor(err error) int {
	switch {
	case errors.Is(err, api.ErrFrameTooLarge):
		return api.CloseMessageTooBig
	case errors.Is(err, api.ErrInvalidUTF8):
		return api.CloseInvalidPayload
	case errors.Is(err, api.ErrProtocolViolation):
		return api.CloseProtocolError
	}
	return 0
}

func maskBytes(key [4]byte, b []byte) {
	for i := range b {
		b[i] ^= key[i&3]
	}
}

func protocolError(msg string) *api.Error {
	return api.WrapError(api.ErrCodeProtocol, msg, api.ErrProtocolViolation)
}

func tooLarge(n int64) *api.Error {
	return api.WrapError(api.ErrCodeProtocol, "frame", api.ErrFrameTooLarge).WithContext("len", n)
}
