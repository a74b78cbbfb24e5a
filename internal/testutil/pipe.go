package testutil

import (
	"errors"
	"io"
	"sync"
)

// ErrPipeClosed is returned by WriteMessage after either end closed.
var ErrPipeClosed = errors.New("pipe closed")

// PipeConn is one end of an in-memory message connection.
//
// Each direction is an unbounded FIFO, so writers never block on a slow
// reader. Messages are delivered whole and in order. Closing either end
// closes both; the peer reads any queued messages and then io.EOF.
type PipeConn struct {
	in   *pipeBuffer
	out  *pipeBuffer
	once *sync.Once
}

type pipeBuffer struct {
	mu     sync.Mutex
	msgs   [][]byte
	closed bool
	signal chan struct{}
}

func newPipeBuffer() *pipeBuffer {
	return &pipeBuffer{signal: make(chan struct{}, 1)}
}

func (b *pipeBuffer) notify() {
	select {
	case b.signal <- struct{}{}:
	default:
	}
}

// Pipe returns two connected ends.
func Pipe() (*PipeConn, *PipeConn) {
	ab, ba := newPipeBuffer(), newPipeBuffer()
	once := &sync.Once{}
	return &PipeConn{in: ba, out: ab, once: once}, &PipeConn{in: ab, out: ba, once: once}
}

// ReadMessage blocks until a message arrives or the pipe is closed and
// drained.
func (c *PipeConn) ReadMessage() ([]byte, error) {
	for {
		c.in.mu.Lock()
		if len(c.in.msgs) > 0 {
			msg := c.in.msgs[0]
			c.in.msgs = c.in.msgs[1:]
			c.in.mu.Unlock()
			return msg, nil
		}
		if c.in.closed {
			c.in.mu.Unlock()
			return nil, io.EOF
		}
		c.in.mu.Unlock()
		<-c.in.signal
	}
}

// WriteMessage queues a copy of data for the peer.
func (c *PipeConn) WriteMessage(data []byte) error {
	c.out.mu.Lock()
	defer c.out.mu.Unlock()
	if c.out.closed {
		return ErrPipeClosed
	}
	c.out.msgs = append(c.out.msgs, append([]byte(nil), data...))
	c.out.notify()
	return nil
}

// Buffered returns the number of messages waiting to be read on this end.
func (c *PipeConn) Buffered() int {
	c.in.mu.Lock()
	defer c.in.mu.Unlock()
	return len(c.in.msgs)
}

// Close closes both directions. It is safe to call more than once.
func (c *PipeConn) Close() error {
	c.once.Do(func() {
		for _, b := range []*pipeBuffer{c.in, c.out} {
			b.mu.Lock()
			b.closed = true
			b.notify()
			b.mu.Unlock()
		}
	})
	return nil
}
