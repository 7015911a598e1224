// Package fake
// Author: momentics <momentics@gmail.com>
//
// Fake implementations for testing and development.
// Codec is a scripted api.FrameCodec: tests push inbound frames and read
// back what was written.

package fake

import (
	"errors"
	"io"
	"sync"

	"github.com/aahoughton/cowboy/api"
	"github.com/aahoughton/cowboy/request"
)

// ErrCodecClosed is returned by WriteFrame after Close.
var ErrCodecClosed = errors.New("fake codec closed")

type read struct {
	f   api.Frame
	err error
}

// Codec is a fake implementation of api.FrameCodec for testing.
type Codec struct {
	in        chan read
	closed    chan struct{}
	closeOnce sync.Once

	mu         sync.Mutex
	written    []api.Frame
	writeError error
	compacted  int
}

// NewCodec creates a codec with room for 64 pending inbound frames.
func NewCodec() *Codec {
	return &Codec{
		in:     make(chan read, 64),
		closed: make(chan struct{}),
	}
}

// Push queues frames to be returned by ReadFrame.
func (c *Codec) Push(frames ...api.Frame) {
	for _, f := range frames {
		c.in <- read{f: f}
	}
}

// Fail makes the next ReadFrame, after queued frames, return err.
func (c *Codec) Fail(err error) {
	c.in <- read{err: err}
}

// ReadFrame implements api.FrameCodec. It blocks until a frame is pushed or
// the codec is closed.
func (c *Codec) ReadFrame() (api.Frame, error) {
	select {
	case r := <-c.in:
		return r.f, r.err
	case <-c.closed:
		return api.Frame{}, io.EOF
	}
}

// WriteFrame implements api.FrameCodec.
func (c *Codec) WriteFrame(f api.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeError != nil {
		return c.writeError
	}
	select {
	case <-c.closed:
		return ErrCodecClosed
	default:
	}
	c.written = append(c.written, f)
	return nil
}

// Compact implements api.Compactor by counting calls.
func (c *Codec) Compact() {
	c.mu.Lock()
	c.compacted++
	c.mu.Unlock()
}

// Close unblocks readers and rejects further writes.
func (c *Codec) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// SetWriteError configures the codec to fail every write with err.
func (c *Codec) SetWriteError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeError = err
}

// Written returns the frames written so far.
func (c *Codec) Written() []api.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]api.Frame, len(c.written))
	copy(out, c.written)
	return out
}

// Compactions returns how many times Compact was called.
func (c *Codec) Compactions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.compacted
}

// Factory returns a codec factory that always hands out c.
func (c *Codec) Factory() func(*request.Stream, int64) api.FrameCodec {
	return func(*request.Stream, int64) api.FrameCodec { return c }
}
