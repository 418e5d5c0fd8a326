package sync

import (
	"errors"
	stdsync "sync"
)

var (
	// ErrSinkClosed is returned by Write after Close.
	ErrSinkClosed = errors.New("sync: sink closed")
	// ErrSinkFull is returned when the connection's frame buffer is
	// full; the hub treats it as a dead client.
	ErrSinkFull = errors.New("sync: sink buffer full")
)

// BufferedSink queues frames for one live connection. The connection's
// writer goroutine drains Frames(); the hub writes from its fan-out
// goroutine without ever blocking on a slow client. Order is preserved,
// so delivery is FIFO per connection.
type BufferedSink struct {
	ch   chan Frame
	done chan struct{}
	once stdsync.Once
}

// NewBufferedSink creates a sink with the given frame buffer capacity.
func NewBufferedSink(buf int) *BufferedSink {
	if buf <= 0 {
		buf = 64
	}
	return &BufferedSink{
		ch:   make(chan Frame, buf),
		done: make(chan struct{}),
	}
}

// Write enqueues a frame without blocking.
func (s *BufferedSink) Write(f Frame) error {
	select {
	case <-s.done:
		return ErrSinkClosed
	default:
	}
	select {
	case s.ch <- f:
		return nil
	case <-s.done:
		return ErrSinkClosed
	default:
		return ErrSinkFull
	}
}

// Frames is the queue drained by the connection's writer loop.
func (s *BufferedSink) Frames() <-chan Frame {
	return s.ch
}

// Done is closed when the sink is closed.
func (s *BufferedSink) Done() <-chan struct{} {
	return s.done
}

// Close marks the sink dead. Idempotent.
func (s *BufferedSink) Close() {
	s.once.Do(func() { close(s.done) })
}
