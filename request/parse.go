// File: request/parse.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Reads an HTTP/1.x request head off a connection and builds its Req.

package request

import (
	"bufio"
	"bytes"
	"io"
	"net"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"

	"github.com/valyala/fasthttp"

	"github.com/aahoughton/cowboy/api"
)

// Conn is the per-connection state shared by consecutive requests.
type Conn struct {
	Net    net.Conn
	R      *bufio.Reader
	W      *bufio.Writer
	ID     uint64
	Inbox  api.Inbox
	Peer   string
	Scheme string
}

// ReadRequest reads the next request head from c. It returns io.EOF when the
// peer closed or went silent before sending anything, which ends a
// keep-alive connection cleanly.
func ReadRequest(c *Conn, opts Options) (Req, error) {
	// Empty lines ahead of a request line are ignored.
	for {
		b, err := c.R.Peek(1)
		if err != nil {
			return Req{}, io.EOF
		}
		if b[0] != '\r' && b[0] != '\n' {
			break
		}
		c.R.Discard(1)
	}

	var h fasthttp.RequestHeader
	h.DisableNormalizing()
	if err := h.Read(c.R); err != nil {
		return Req{}, api.WrapError(api.ErrCodeInvalidArgument, "read request head", err)
	}

	cr := &core{
		method:  string(h.Method()),
		scheme:  c.Scheme,
		version: string(h.Protocol()),
		headers: make(map[string]string),
		connID:  c.ID,
		inbox:   c.Inbox,
		netConn: c.Net,
		br:      c.R,
		bw:      c.W,
		opts:    opts,
	}
	if cr.scheme == "" {
		cr.scheme = "http"
	}
	if cr.opts.BodyChunkSize <= 0 {
		cr.opts.BodyChunkSize = 64 << 10
	}

	h.VisitAll(func(k, v []byte) {
		name := strings.ToLower(string(k))
		if prev, ok := cr.headers[name]; ok {
			cr.headers[name] = prev + ", " + string(v)
			return
		}
		cr.headers[name] = string(v)
	})
	h.VisitAllCookie(func(k, v []byte) {
		cr.cookies = append(cr.cookies, KV{Key: string(k), Value: string(v)})
	})

	uri := string(h.RequestURI())
	u, err := url.ParseRequestURI(uri)
	if err != nil {
		return Req{}, api.WrapError(api.ErrCodeInvalidArgument, "request target", err).
			WithContext("uri", uri)
	}
	cr.path = u.Path
	cr.rawQuery = u.RawQuery

	cr.host, cr.port = splitHost(string(h.Host()), cr.scheme)
	cr.peerHost, cr.peerPort = splitPeer(c.Peer)

	switch cl := h.ContentLength(); {
	case cl == -1:
		cr.bodyLen = -1
		cr.body = &chunkedBody{r: httputil.NewChunkedReader(c.R), br: c.R}
	case cl > 0:
		cr.bodyLen = int64(cl)
		cr.body = io.LimitReader(c.R, int64(cl))
	default:
		cr.bodyDone = true
	}

	conn := strings.ToLower(cr.headers["connection"])
	switch cr.version {
	case "HTTP/1.1":
		cr.keepAlive = !containsToken(conn, "close")
	case "HTTP/1.0":
		cr.keepAlive = containsToken(conn, "keep-alive")
	default:
		return Req{}, api.NewError(api.ErrCodeInvalidArgument, "unsupported protocol version").
			WithContext("version", cr.version)
	}

	return Req{c: cr, resp: &facet{}}, nil
}

// chunkedBody consumes the trailer section after the last chunk so the
// next request starts at a message boundary.
type chunkedBody struct {
	r    io.Reader
	br   *bufio.Reader
	done bool
}

func (b *chunkedBody) Read(p []byte) (int, error) {
	n, err := b.r.Read(p)
	if err == io.EOF && !b.done {
		b.done = true
		for {
			line, lerr := b.br.ReadSlice('\n')
			if lerr != nil {
				return n, io.ErrUnexpectedEOF
			}
			if len(bytes.TrimRight(line, "\r\n")) == 0 {
				break
			}
		}
	}
	return n, err
}

func splitHost(hostport, scheme string) (string, int) {
	port := 80
	if scheme == "https" {
		port = 443
	}
	if hostport == "" {
		return "", port
	}
	host, p, err := net.SplitHostPort(hostport)
	if err != nil {
		return strings.ToLower(hostport), port
	}
	if n, err := strconv.Atoi(p); err == nil {
		port = n
	}
	return strings.ToLower(host), port
}

func splitPeer(addr string) (string, int) {
	host, p, err := net.SplitHostPort(addr)
	if err != nil {
		return addr, 0
	}
	n, _ := strconv.Atoi(p)
	return host, n
}

func containsToken(v, token string) bool {
	for _, p := range strings.Split(v, ",") {
		if strings.EqualFold(strings.TrimSpace(p), token) {
			return true
		}
	}
	return false
}

// ParseCookies returns the request cookies in header order.
func (r Req) ParseCookies() []KV {
	return append([]KV(nil), r.c.cookies...)
}

// ParseQS decodes the query string into ordered pairs. A key without a value
// yields an empty value.
func (r Req) ParseQS() []KV {
	return parseArgs(r.c.rawQuery)
}

func parseArgs(s string) []KV {
	if s == "" {
		return nil
	}
	var args fasthttp.Args
	args.Parse(s)
	out := make([]KV, 0, args.Len())
	args.VisitAll(func(k, v []byte) {
		out = append(out, KV{Key: string(k), Value: string(v)})
	})
	return out
}
