package stream

import (
	"context"
	"errors"
	"io"
	"sync"
)

// defaultBuffer caps the in-flight fragments between producer and consumer.
// A slow consumer blocks the producer instead of growing memory.
const defaultBuffer = 16

var ErrStreamClosed = errors.New("fragment stream closed by consumer")

type fragment struct {
	text string
	err  error
}

// Stream is a bounded, single-producer single-consumer fragment pipe. The
// producer pushes with Send and terminates with CloseSend or Fail; the
// consumer pulls with Recv until io.EOF (success) or a terminal error.
type Stream struct {
	ch        chan fragment
	done      chan struct{}
	closeOnce sync.Once
	sendOnce  sync.Once
}

func New() *Stream {
	return NewBuffered(defaultBuffer)
}

func NewBuffered(buffer int) *Stream {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Stream{
		ch:   make(chan fragment, buffer),
		done: make(chan struct{}),
	}
}

// Send forwards one fragment to the consumer, blocking when the buffer is
// full. It fails once the consumer abandoned the stream or ctx is done, so
// cancellation propagates to the producer promptly.
func (s *Stream) Send(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}
	// Abandon and cancellation win over a buffer slot, so a producer
	// notices promptly instead of filling the remaining capacity first.
	select {
	case <-s.done:
		return ErrStreamClosed
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	select {
	case <-s.done:
		return ErrStreamClosed
	case <-ctx.Done():
		return ctx.Err()
	case s.ch <- fragment{text: text}:
		return nil
	}
}

// CloseSend marks successful completion. The consumer observes io.EOF after
// draining buffered fragments.
func (s *Stream) CloseSend() {
	s.sendOnce.Do(func() {
		close(s.ch)
	})
}

// Fail terminates the stream with err. Fragments already delivered are not
// retracted; the consumer observes err after draining the buffer.
func (s *Stream) Fail(err error) {
	s.sendOnce.Do(func() {
		if err != nil {
			select {
			case s.ch <- fragment{err: err}:
			case <-s.done:
			}
		}
		close(s.ch)
	})
}

// Recv returns the next fragment. io.EOF signals successful completion; any
// other error is terminal.
func (s *Stream) Recv() (string, error) {
	f, ok := <-s.ch
	if !ok {
		return "", io.EOF
	}
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}

// Close abandons the stream from the consumer side, unblocking any pending
// Send. Safe to call multiple times.
func (s *Stream) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
}
