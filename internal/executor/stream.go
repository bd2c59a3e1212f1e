package executor

import (
	"context"
	"errors"
	"sync"

	"github.com/haasonsaas/sessiond/pkg/models"
)

// ErrStreamDone marks the natural end of a message stream: the backend
// delivered its terminal result element. It is not a failure.
var ErrStreamDone = errors.New("execution stream done")

// ErrStreamClosed is returned by Next after the consumer closed the stream.
var ErrStreamClosed = errors.New("execution stream closed")

type streamItem struct {
	msg *models.Message
	err error
}

// Stream is a pull-based sequence of domain messages produced by an
// interactive or forked execution. Messages arrive in strict backend order;
// at most one element is buffered ahead of the consumer.
//
// A consumer that stops pulling must call Close: abandonment is treated as
// cancellation and transitions the session out of processing rather than
// leaving it stuck.
type Stream struct {
	items  chan streamItem
	cancel context.CancelFunc

	closeOnce sync.Once
	closed    chan struct{}
}

// newStream builds a stream whose producer is cancelled via cancel when the
// consumer closes early.
func newStream(cancel context.CancelFunc) *Stream {
	return &Stream{
		items:  make(chan streamItem, 1),
		cancel: cancel,
		closed: make(chan struct{}),
	}
}

// Next blocks until the next domain message arrives. It returns
// ErrStreamDone at the sequence's natural end, ErrStreamClosed after Close,
// or the execution error that ended the stream.
func (s *Stream) Next(ctx context.Context) (*models.Message, error) {
	select {
	case <-s.closed:
		return nil, ErrStreamClosed
	default:
	}
	select {
	case <-s.closed:
		return nil, ErrStreamClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	case item, ok := <-s.items:
		if !ok {
			return nil, ErrStreamDone
		}
		if item.err != nil {
			return nil, item.err
		}
		return item.msg, nil
	}
}

// Close abandons the stream. The producing execution is cancelled and the
// session transitions back to a recoverable state. Close is idempotent.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.cancel()
	})
	return nil
}

// push delivers a message to the consumer, respecting producer cancellation.
func (s *Stream) push(ctx context.Context, msg *models.Message) bool {
	select {
	case s.items <- streamItem{msg: msg}:
		return true
	case <-ctx.Done():
		return false
	case <-s.closed:
		return false
	}
}

// fail delivers a terminal error to the consumer, then ends the stream. The
// buffer slot is tried first so an error still reaches a live consumer when
// the producing context has already ended.
func (s *Stream) fail(ctx context.Context, err error) {
	select {
	case s.items <- streamItem{err: err}:
	default:
		select {
		case s.items <- streamItem{err: err}:
		case <-ctx.Done():
		case <-s.closed:
		}
	}
	close(s.items)
}

// finish ends the stream normally.
func (s *Stream) finish() {
	close(s.items)
}
