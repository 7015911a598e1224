// File: request/request.go
// Package request implements the per-request context handed to handlers.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// A Req is a small value. Facts about the incoming request never change;
// the response facet is copy-on-write and every mutation returns the next
// Req. Only the latest value may be used to mutate or send: using a
// superseded value panics with api.ErrStaleRequest.

package request

import (
	"bufio"
	"io"
	"maps"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/aahoughton/cowboy/api"
)

// Options carries server settings the request layer needs.
type Options struct {
	ServerName      string
	BodyChunkSize   int
	Compress        bool
	CompressMinSize int
	// WriteTimeout bounds each flush of response bytes to the peer.
	WriteTimeout time.Duration
	// ForceClose disables keep-alive for this request regardless of what
	// the client asked for.
	ForceClose bool
}

// core is shared by every Req value derived from one request.
type core struct {
	// immutable facet
	method   string
	scheme   string
	host     string
	port     int
	path     string
	rawQuery string
	version  string
	peerHost string
	peerPort int
	headers  map[string]string
	cookies  []KV
	bindings map[string]string
	connID   uint64
	inbox    api.Inbox

	// streaming facet
	body      io.Reader
	bodyLen   int64 // -1 when chunked
	bodyDone  bool
	lookahead []byte

	// connection
	netConn net.Conn
	br      *bufio.Reader
	bw      *bufio.Writer
	opts    Options

	gen       atomic.Uint64
	sent      atomic.Bool
	fatal     atomic.Bool
	status    int
	keepAlive bool
	streaming bool
	streamEnd bool
	chunked   bool
	upgraded  bool
}

// facet is the copy-on-write response state.
type facet struct {
	headers map[string]string
	body    []byte
	hasBody bool
	meta    map[string]any
	cookies []setCookie
}

type setCookie struct {
	name    string
	encoded string
}

func (f *facet) clone() *facet {
	n := &facet{
		headers: maps.Clone(f.headers),
		body:    f.body,
		hasBody: f.hasBody,
		meta:    maps.Clone(f.meta),
		cookies: append([]setCookie(nil), f.cookies...),
	}
	if n.headers == nil {
		n.headers = make(map[string]string)
	}
	if n.meta == nil {
		n.meta = make(map[string]any)
	}
	return n
}

// Req is the request context.
type Req struct {
	c    *core
	gen  uint64
	resp *facet
}

// KV is one decoded key/value pair.
type KV struct {
	Key   string
	Value string
}

func (r Req) check() {
	if r.c == nil {
		panic("request: use of zero Req")
	}
	if r.gen != r.c.gen.Load() {
		panic(api.WrapError(api.ErrCodeInvalidArgument, "request", api.ErrStaleRequest).
			WithContext("conn", r.c.connID))
	}
}

// next bumps the generation and returns the value owning resp.
func (r Req) next(resp *facet) Req {
	return Req{c: r.c, gen: r.c.gen.Add(1), resp: resp}
}

// Current reports whether r is the latest value of its request.
func (r Req) Current() bool {
	return r.c != nil && r.gen == r.c.gen.Load()
}

func (r Req) Method() string  { return r.c.method }
func (r Req) Scheme() string  { return r.c.scheme }
func (r Req) Host() string    { return r.c.host }
func (r Req) Port() int       { return r.c.port }
func (r Req) Path() string    { return r.c.path }
func (r Req) QS() string      { return r.c.rawQuery }
func (r Req) Version() string { return r.c.version }
func (r Req) ConnID() uint64  { return r.c.connID }
func (r Req) Self() api.Inbox { return r.c.inbox }
func (r Req) Upgraded() bool  { return r.c.upgraded }
func (r Req) HasBody() bool   { return r.c.bodyLen != 0 }
func (r Req) Peer() (string, int) {
	return r.c.peerHost, r.c.peerPort
}

// PeerAddr returns the peer as host:port.
func (r Req) PeerAddr() string {
	return net.JoinHostPort(r.c.peerHost, strconv.Itoa(r.c.peerPort))
}

// BodyLength returns the declared body length, or -1 for chunked bodies.
func (r Req) BodyLength() int64 { return r.c.bodyLen }

// Header returns a request header by lower-case name.
func (r Req) Header(name string) (string, bool) {
	v, ok := r.c.headers[name]
	return v, ok
}

// HeaderOr returns the header or def when absent.
func (r Req) HeaderOr(name, def string) string {
	if v, ok := r.c.headers[name]; ok {
		return v
	}
	return def
}

// Headers returns a copy of all request headers.
func (r Req) Headers() map[string]string { return maps.Clone(r.c.headers) }

// Binding returns a value bound by the router.
func (r Req) Binding(name string) (string, bool) {
	v, ok := r.c.bindings[name]
	return v, ok
}

// Bindings returns a copy of all router bindings.
func (r Req) Bindings() map[string]string { return maps.Clone(r.c.bindings) }

// WithBindings records the router's bindings. Routers call it before the
// request is dispatched.
func (r Req) WithBindings(b map[string]string) Req {
	r.check()
	r.c.bindings = maps.Clone(b)
	return r.next(r.resp)
}

// Meta returns an annotation set with SetMeta.
func (r Req) Meta(key string) (any, bool) {
	v, ok := r.resp.meta[key]
	return v, ok
}

// MetaOr returns the annotation or def.
func (r Req) MetaOr(key string, def any) any {
	if v, ok := r.resp.meta[key]; ok {
		return v
	}
	return def
}

// SetMeta stores an annotation for later middleware or the terminate
// callback.
func (r Req) SetMeta(key string, value any) Req {
	r.check()
	f := r.resp.clone()
	f.meta[key] = value
	return r.next(f)
}

// RespHeader returns a staged response header.
func (r Req) RespHeader(name string) (string, bool) {
	v, ok := r.resp.headers[name]
	return v, ok
}

// HasRespHeader reports whether name has been staged.
func (r Req) HasRespHeader(name string) bool {
	_, ok := r.resp.headers[name]
	return ok
}

// SetRespHeader stages a response header. Names are stored lower-case as
// given; callers pass lower-case names.
func (r Req) SetRespHeader(name, value string) Req {
	r.check()
	f := r.resp.clone()
	f.headers[name] = value
	return r.next(f)
}

// SetRespHeaders stages several headers at once.
func (r Req) SetRespHeaders(h map[string]string) Req {
	r.check()
	f := r.resp.clone()
	for k, v := range h {
		f.headers[k] = v
	}
	return r.next(f)
}

// DeleteRespHeader removes a staged header.
func (r Req) DeleteRespHeader(name string) Req {
	r.check()
	f := r.resp.clone()
	delete(f.headers, name)
	return r.next(f)
}

// HasRespBody reports whether a body has been staged.
func (r Req) HasRespBody() bool { return r.resp.hasBody }

// SetRespBody stages the body used by ReplyStatus.
func (r Req) SetRespBody(body []byte) Req {
	r.check()
	f := r.resp.clone()
	f.body = body
	f.hasBody = true
	return r.next(f)
}

// Sent reports whether a response has been written for this request.
func (r Req) Sent() bool { return r.c.sent.Load() }

// Status returns the status code that was sent, or 0.
func (r Req) Status() int { return r.c.status }

// Fatal reports whether a protocol misuse requires closing the connection.
func (r Req) Fatal() bool { return r.c.fatal.Load() }

// KeepAlive reports whether the connection may carry another request.
func (r Req) KeepAlive() bool {
	return r.c.keepAlive && !r.c.opts.ForceClose && !r.c.fatal.Load() && !r.c.upgraded
}

// MarkFatal flags the connection for closing after the current request.
func (r Req) MarkFatal() { r.c.fatal.Store(true) }

// Resume returns a current value carrying r's response facet. The
// dispatcher uses it to finish a request after handler code crashed or
// handed back a superseded value.
func (r Req) Resume() Req {
	return Req{c: r.c, gen: r.c.gen.Load(), resp: r.resp}
}

// IsZero reports whether r was never initialised.
func (r Req) IsZero() bool { return r.c == nil }
