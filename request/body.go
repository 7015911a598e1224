// File: request/body.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Streaming body cursor. Each read returns the next chunk; after the final
// chunk every further read returns no data. The cursor is shared by all Req
// values of a request and never rewinds.

package request

import (
	"errors"
	"io"
	"time"

	"github.com/aahoughton/cowboy/api"
)

type bodyOpts struct {
	length  int
	timeout time.Duration
}

// BodyOption tunes a single ReadBody call.
type BodyOption func(*bodyOpts)

// Length caps the chunk size returned by one read.
func Length(n int) BodyOption {
	return func(o *bodyOpts) {
		if n > 0 {
			o.length = n
		}
	}
}

// Timeout bounds the time spent waiting for body bytes.
func Timeout(d time.Duration) BodyOption {
	return func(o *bodyOpts) { o.timeout = d }
}

// ReadBody returns the next chunk of the request body and whether more
// follows.
func (r Req) ReadBody(opts ...BodyOption) ([]byte, bool, Req, error) {
	r.check()
	c := r.c
	if c.bodyDone {
		return nil, false, r.next(r.resp), nil
	}
	o := bodyOpts{length: c.opts.BodyChunkSize}
	for _, fn := range opts {
		fn(&o)
	}
	if o.timeout > 0 && c.netConn != nil {
		c.netConn.SetReadDeadline(time.Now().Add(o.timeout))
		defer c.netConn.SetReadDeadline(time.Time{})
	}

	buf := make([]byte, o.length)
	n := copy(buf, c.lookahead)
	c.lookahead = c.lookahead[:0]
	m, err := io.ReadFull(c.body, buf[n:])
	n += m
	switch {
	case err == nil:
		// buffer filled; look one byte ahead so the final chunk says so
		var one [1]byte
		k, perr := io.ReadFull(c.body, one[:])
		if k == 1 {
			c.lookahead = append(c.lookahead, one[0])
			return buf[:n], true, r.next(r.resp), nil
		}
		if !errors.Is(perr, io.EOF) {
			return nil, false, r, bodyError(perr)
		}
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		if c.bodyLen > 0 && remaining(c) > 0 {
			return nil, false, r, bodyError(io.ErrUnexpectedEOF)
		}
	default:
		return nil, false, r, bodyError(err)
	}
	c.bodyDone = true
	return buf[:n], false, r.next(r.resp), nil
}

// remaining reports unread bytes of a Content-Length body.
func remaining(c *core) int64 {
	if lr, ok := c.body.(*io.LimitedReader); ok {
		return lr.N
	}
	return 0
}

func bodyError(err error) error {
	return api.WrapError(api.ErrCodeInvalidArgument, "read request body", err)
}

// ReadAll reads the rest of the body, failing with api.ErrBodyTooLarge past
// limit bytes.
func (r Req) ReadAll(limit int64) ([]byte, Req, error) {
	var out []byte
	for {
		chunk, more, next, err := r.ReadBody()
		if err != nil {
			return nil, r, err
		}
		r = next
		out = append(out, chunk...)
		if int64(len(out)) > limit {
			r.c.fatal.Store(true)
			return nil, r, api.WrapError(api.ErrCodeInvalidArgument, "request body", api.ErrBodyTooLarge).
				WithContext("limit", limit)
		}
		if !more {
			return out, r, nil
		}
	}
}

// ReadURLEncodedBody reads an application/x-www-form-urlencoded body.
func (r Req) ReadURLEncodedBody(limit int64) ([]KV, Req, error) {
	body, r, err := r.ReadAll(limit)
	if err != nil {
		return nil, r, err
	}
	return parseArgs(string(body)), r, nil
}

// Drain discards whatever body the handler left unread so the next request
// on the connection starts at a message boundary. It returns false when more
// than limit bytes remained or the body could not be read.
func (r Req) Drain(limit int64) bool {
	c := r.c
	if c.bodyDone {
		return true
	}
	n, err := io.Copy(io.Discard, io.LimitReader(c.body, limit+1))
	if err != nil || n > limit {
		return false
	}
	c.bodyDone = true
	return true
}
