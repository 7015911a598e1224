// File: websocket/websocket.go
// Package websocket upgrades a request to an RFC 6455 socket and runs the
// socket's event loop on the connection goroutine.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package websocket

import (
	"time"

	"github.com/aahoughton/cowboy/api"
	"github.com/aahoughton/cowboy/handler"
	"github.com/aahoughton/cowboy/protocol"
	"github.com/aahoughton/cowboy/request"
)

// Name is the protocol name used in logs and metrics.
const Name = "websocket"

// Handler receives socket events. Callbacks never run concurrently.
type Handler interface {
	// HandleFrame gets text, binary, ping and pong frames. Pings have been
	// answered already.
	HandleFrame(f api.Frame, req request.Req, state any) (Result, error)
	// HandleInfo gets messages sent to the connection's mailbox.
	HandleInfo(msg any, req request.Req, state any) (Result, error)
}

// Initializer is implemented by handlers that need a callback once the
// handshake completed, before any event is delivered.
type Initializer interface {
	InitSocket(req request.Req, state any) (Result, error)
}

// CodecFactory builds the frame codec over an upgraded stream.
type CodecFactory func(s *request.Stream, maxPayload int64) api.FrameCodec

// Option configures the protocol.
type Option func(*config)

type config struct {
	codec        CodecFactory
	writeTimeout time.Duration
}

// WithCodec replaces the RFC 6455 codec.
func WithCodec(f CodecFactory) Option {
	return func(c *config) { c.codec = f }
}

// WithWriteTimeout bounds every frame write. Without it the connection's
// configured write timeout applies.
func WithWriteTimeout(d time.Duration) Option {
	return func(c *config) { c.writeTimeout = d }
}

func defaultCodec(s *request.Stream, maxPayload int64) api.FrameCodec {
	return protocol.NewCodec(s.R, s.W, protocol.WithMaxPayload(maxPayload))
}

type proto struct {
	h   Handler
	cfg config
}

// Protocol returns the handler.Protocol that upgrades to a socket served
// by h. Use it with handler.Switch.
func Protocol(h Handler, opts ...Option) handler.Protocol {
	p := &proto{h: h, cfg: config{codec: defaultCodec}}
	for _, o := range opts {
		o(&p.cfg)
	}
	return p
}

func (p *proto) Name() string { return Name }
