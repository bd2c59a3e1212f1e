package executor

import (
	"context"
	"errors"
	"time"

	"github.com/haasonsaas/sessiond/internal/backend"
	"github.com/haasonsaas/sessiond/pkg/models"
)

// Interactive streams domain messages to the caller as the backend produces
// them. The returned Stream is pull-based: the consumer controls pacing, and
// closing it early cancels the execution.
type Interactive struct {
	base
}

func (e *Interactive) Mode() models.SessionMode { return models.ModeInteractive }

// Execute sends a prompt and returns the message stream for its response.
// The backend call is issued under retry and circuit-breaker protection;
// stream consumption itself is not retried.
//
// The query and the response share one context: closing the stream cancels
// the in-flight backend response, and TimeoutSeconds bounds the whole
// response rather than a single attempt.
func (e *Interactive) Execute(ctx context.Context, prompt string) (*Stream, error) {
	start := time.Now()
	e.client.SetStreaming(e.session.Config.StreamPartials)

	if err := e.begin(ctx, prompt); err != nil {
		return nil, err
	}

	runCtx, cancel := e.responseContext(ctx)
	if err := e.retry.Do(runCtx, func(ctx context.Context) error {
		return e.client.Query(ctx, prompt)
	}); err != nil {
		cancel()
		e.fail(ctx, err)
		return nil, err
	}

	stream := newStream(cancel)
	go e.consume(runCtx, stream, start)
	return stream, nil
}

// responseContext derives the context the backend response runs under.
// The session timeout covers the full streamed response here; the retry
// manager's per-attempt deadline is reserved for background executions,
// whose attempts are self-contained.
func (e *Interactive) responseContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if secs := e.session.Config.TimeoutSeconds; secs > 0 {
		return context.WithTimeout(ctx, time.Duration(secs)*time.Second)
	}
	return context.WithCancel(ctx)
}

// consume drains backend events into the stream until the terminal result,
// a stream error, or abandonment by the consumer. Every exit path settles
// the session state: ACTIVE on completion or cancellation, FAILED on error,
// TERMINATED on an interrupting permission denial.
func (e *Interactive) consume(ctx context.Context, stream *Stream, start time.Time) {
	defer e.observeDuration(start)

	events := e.client.Events()
	for {
		select {
		case <-ctx.Done():
			e.abort(ctx, stream)
			return

		case event, ok := <-events:
			if !ok {
				if ctx.Err() != nil {
					e.abort(ctx, stream)
					return
				}
				err := &backend.ProtocolError{Message: "response stream ended without a terminal result"}
				e.fail(ctx, err)
				stream.fail(ctx, err)
				return
			}
			if event.Err != nil {
				e.fail(ctx, event.Err)
				stream.fail(ctx, event.Err)
				return
			}

			switch event.Type {
			case backend.EventPartial:
				e.pushPartial(ctx, event.Partial)

			case backend.EventAssistant:
				msg, err := e.persistAssistant(ctx, event)
				if err != nil {
					e.fail(ctx, err)
					stream.fail(ctx, err)
					return
				}
				if !stream.push(ctx, msg) {
					e.recover(ctx)
					stream.finish()
					return
				}

			case backend.EventResult:
				if err := e.finalize(ctx, event.Result); err != nil {
					e.logger.Error("failed to finalize session",
						"session_id", e.session.ID, "error", err)
					stream.fail(ctx, err)
					return
				}
				stream.finish()
				return
			}
		}
	}
}

// abort settles an execution whose context ended before the terminal result.
// Deadline expiry is a failure; consumer cancellation (Close, caller ctx)
// leaves the session recoverable.
func (e *Interactive) abort(ctx context.Context, stream *Stream) {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err := &backend.ConnectionError{Op: "response", Err: ctx.Err()}
		e.fail(ctx, err)
		stream.fail(ctx, err)
		return
	}
	e.recover(ctx)
	stream.finish()
}
