// File: request/emit.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Response emission. A request gets exactly one response: the first call to
// Reply, ReplyStatus, StreamReply or SwitchProtocols wins and every later one
// fails with api.ErrAlreadySent and marks the connection fatal.

package request

import (
	"bufio"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/valyala/bytebufferpool"
	"github.com/valyala/fasthttp"

	"github.com/aahoughton/cowboy/api"
)

var gzipPool = sync.Pool{
	New: func() any {
		w, _ := gzip.NewWriterLevel(nil, gzip.DefaultCompression)
		return w
	},
}

// Stream is the raw connection handed to a protocol after a 101 response.
type Stream struct {
	Net net.Conn
	R   *bufio.Reader
	W   *bufio.Writer
}

// Close closes the underlying connection, if any.
func (s *Stream) Close() error {
	if s.Net == nil {
		return nil
	}
	return s.Net.Close()
}

// claim takes the single send slot. The sent flag is consulted before the
// staleness check so a second send on any value of the request reports
// ErrAlreadySent.
func (r Req) claim() error {
	if r.c.sent.Load() {
		r.c.fatal.Store(true)
		return api.WrapError(api.ErrCodeInvalidArgument, "reply", api.ErrAlreadySent).
			WithContext("status", r.c.status)
	}
	r.check()
	if !r.c.sent.CompareAndSwap(false, true) {
		r.c.fatal.Store(true)
		return api.WrapError(api.ErrCodeInvalidArgument, "reply", api.ErrAlreadySent)
	}
	return nil
}

// Reply sends a complete response. Explicit headers override staged ones.
func (r Req) Reply(status int, headers map[string]string, body []byte) (Req, error) {
	if err := r.claim(); err != nil {
		return r, err
	}
	return r.next(r.resp), r.writeFull(status, headers, body)
}

// ReplyStatus sends a response made of the staged headers and body.
func (r Req) ReplyStatus(status int) (Req, error) {
	if err := r.claim(); err != nil {
		return r, err
	}
	return r.next(r.resp), r.writeFull(status, nil, r.resp.body)
}

func bodyless(status int) bool {
	return status < 200 || status == 204 || status == 304
}

func (r Req) writeFull(status int, headers map[string]string, body []byte) error {
	c := r.c
	c.status = status
	h := r.merge(headers)

	if bodyless(status) {
		body = nil
		delete(h, "content-length")
	} else {
		if c.opts.Compress && len(body) >= c.opts.CompressMinSize &&
			h["content-encoding"] == "" && containsToken(c.headers["accept-encoding"], "gzip") {
			if z, err := gzipBytes(body); err == nil {
				body = z
				h["content-encoding"] = "gzip"
				h["vary"] = "accept-encoding"
			}
		}
		h["content-length"] = strconv.Itoa(len(body))
	}
	if c.method == fasthttp.MethodHead {
		body = nil
	}

	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	r.appendHead(buf, status, h)
	buf.Write(body)
	return r.flush(buf)
}

// StreamReply sends the status line and headers; the body follows through
// StreamBody. HTTP/1.1 clients get chunked encoding, HTTP/1.0 clients a
// close-delimited body.
func (r Req) StreamReply(status int, headers map[string]string) (Req, error) {
	if err := r.claim(); err != nil {
		return r, err
	}
	c := r.c
	c.status = status
	c.streaming = true
	h := r.merge(headers)
	delete(h, "content-length")
	switch {
	case bodyless(status) || c.method == fasthttp.MethodHead:
		c.streamEnd = true
	case c.version == "HTTP/1.1":
		h["transfer-encoding"] = "chunked"
		c.chunked = true
	default:
		c.keepAlive = false
	}

	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	r.appendHead(buf, status, h)
	return r.next(r.resp), r.flush(buf)
}

// StreamBody writes part of a streamed body; fin ends it.
func (r Req) StreamBody(data []byte, fin bool) (Req, error) {
	r.check()
	c := r.c
	if !c.streaming || c.streamEnd {
		return r, api.NewError(api.ErrCodeInvalidArgument, "no open streamed response")
	}
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	if len(data) > 0 {
		if c.chunked {
			buf.B = strconv.AppendInt(buf.B, int64(len(data)), 16)
			buf.WriteString("\r\n")
			buf.Write(data)
			buf.WriteString("\r\n")
		} else {
			buf.Write(data)
		}
	}
	if fin {
		c.streamEnd = true
		if c.chunked {
			buf.WriteString("0\r\n\r\n")
		}
	}
	return r.next(r.resp), r.flush(buf)
}

// FinishResponse terminates a streamed body the handler left open and
// flushes pending output.
func (r Req) FinishResponse() error {
	c := r.c
	if c.streaming && !c.streamEnd {
		c.streamEnd = true
		if c.chunked {
			c.bw.WriteString("0\r\n\r\n")
		}
	}
	defer c.writeDeadline()()
	return c.bw.Flush()
}

// SwitchProtocols sends a 101 response with the staged headers plus
// headers and hands the connection over.
func (r Req) SwitchProtocols(headers map[string]string) (*Stream, Req, error) {
	if err := r.claim(); err != nil {
		return nil, r, err
	}
	c := r.c
	c.status = fasthttp.StatusSwitchingProtocols
	c.upgraded = true
	h := r.merge(headers)
	delete(h, "content-length")

	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	r.appendHead(buf, c.status, h)
	if err := r.flush(buf); err != nil {
		return nil, r.next(r.resp), err
	}
	return &Stream{Net: c.netConn, R: c.br, W: c.bw}, r.next(r.resp), nil
}

func (r Req) merge(headers map[string]string) map[string]string {
	h := make(map[string]string, len(r.resp.headers)+len(headers)+4)
	for k, v := range r.resp.headers {
		h[k] = v
	}
	for k, v := range headers {
		h[strings.ToLower(k)] = v
	}
	return h
}

func (r Req) appendHead(buf *bytebufferpool.ByteBuffer, status int, h map[string]string) {
	c := r.c
	if _, ok := h["date"]; !ok && status != fasthttp.StatusSwitchingProtocols {
		h["date"] = string(fasthttp.AppendHTTPDate(nil, time.Now()))
	}
	if _, ok := h["server"]; !ok && c.opts.ServerName != "" {
		h["server"] = c.opts.ServerName
	}
	if status != fasthttp.StatusSwitchingProtocols {
		if containsToken(h["connection"], "close") {
			c.keepAlive = false
		}
		switch {
		case !r.KeepAlive():
			h["connection"] = "close"
		case c.version == "HTTP/1.0":
			h["connection"] = "keep-alive"
		}
	}

	buf.WriteString("HTTP/1.1 ")
	buf.B = strconv.AppendInt(buf.B, int64(status), 10)
	buf.WriteString(" ")
	buf.WriteString(fasthttp.StatusMessage(status))
	buf.WriteString("\r\n")
	for k, v := range h {
		buf.WriteString(k)
		buf.WriteString(": ")
		buf.WriteString(v)
		buf.WriteString("\r\n")
	}
	for _, ck := range r.resp.cookies {
		buf.WriteString("set-cookie: ")
		buf.WriteString(ck.encoded)
		buf.WriteString("\r\n")
	}
	buf.WriteString("\r\n")
}

func (r Req) flush(buf *bytebufferpool.ByteBuffer) error {
	defer r.c.writeDeadline()()
	if _, err := r.c.bw.Write(buf.B); err != nil {
		r.c.fatal.Store(true)
		return err
	}
	if err := r.c.bw.Flush(); err != nil {
		r.c.fatal.Store(true)
		return err
	}
	return nil
}

// writeDeadline arms the write timeout and returns the function that
// clears it again.
func (c *core) writeDeadline() func() {
	if c.opts.WriteTimeout <= 0 || c.netConn == nil {
		return func() {}
	}
	c.netConn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	return func() { c.netConn.SetWriteDeadline(time.Time{}) }
}

func gzipBytes(body []byte) ([]byte, error) {
	out := bytebufferpool.Get()
	defer bytebufferpool.Put(out)
	zw := gzipPool.Get().(*gzip.Writer)
	defer gzipPool.Put(zw)
	zw.Reset(out)
	if _, err := zw.Write(body); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return append([]byte(nil), out.B...), nil
}
