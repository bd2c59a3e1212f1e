package executor

import (
	"context"
	"errors"
	"time"

	"github.com/haasonsaas/sessiond/internal/backend"
	"github.com/haasonsaas/sessiond/internal/retry"
	"github.com/haasonsaas/sessiond/internal/sessions"
	"github.com/haasonsaas/sessiond/pkg/models"
)

// Background runs the full exchange to completion and reports a single
// ExecutionResult. Backend failures never surface as errors: they land in
// the result so unattended callers get a uniform shape either way.
type Background struct {
	base
}

func (e *Background) Mode() models.SessionMode { return models.ModeBackground }

// Execute sends a prompt, drains the response internally, and returns the
// outcome. The whole exchange runs under retry and circuit-breaker
// protection. The error return is reserved for programming errors such as
// prompting a terminated session.
func (e *Background) Execute(ctx context.Context, prompt string) (*models.ExecutionResult, error) {
	start := time.Now()
	defer e.observeDuration(start)

	e.client.SetStreaming(false)

	if err := e.begin(ctx, prompt); err != nil {
		var invalid *sessions.InvalidTransitionError
		if errors.As(err, &invalid) {
			return nil, err
		}
		return models.FailedResult(err.Error(), models.Usage{}), nil
	}

	result, err := retry.Do(ctx, e.retry, func(ctx context.Context) (*backend.Result, error) {
		return e.runOnce(ctx, prompt)
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			e.recover(ctx)
			return models.FailedResult("execution cancelled", models.Usage{}), nil
		}
		e.fail(ctx, err)
		return models.FailedResult(err.Error(), models.Usage{}), nil
	}

	if finErr := e.finalize(ctx, result); finErr != nil {
		return nil, finErr
	}
	if result.Interrupted {
		return models.FailedResult(result.ErrorMessage, result.Usage), nil
	}
	if result.IsError {
		return models.FailedResult(result.ErrorMessage, result.Usage), nil
	}

	msg, perr := e.lastAssistantPayload(ctx)
	if perr != nil {
		e.logger.Warn("failed to load final assistant message",
			"session_id", e.session.ID, "error", perr)
	}
	payload := result.Payload
	if payload == "" {
		payload = msg
	}
	return models.SucceededResult(payload, result.Usage), nil
}

// runOnce issues one query and drains the event channel until the terminal
// result. Assistant messages are persisted as they arrive so a retried
// attempt does not lose the partial transcript.
func (e *Background) runOnce(ctx context.Context, prompt string) (*backend.Result, error) {
	if err := e.client.Query(ctx, prompt); err != nil {
		return nil, err
	}

	events := e.client.Events()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case event, ok := <-events:
			if !ok {
				return nil, &backend.ProtocolError{Message: "response stream ended without a terminal result"}
			}
			if event.Err != nil {
				return nil, event.Err
			}
			switch event.Type {
			case backend.EventAssistant:
				if _, err := e.persistAssistant(ctx, event); err != nil {
					return nil, err
				}
			case backend.EventResult:
				return event.Result, nil
			}
		}
	}
}

// lastAssistantPayload returns the content of the newest assistant message,
// used when the backend result carries no payload of its own.
func (e *Background) lastAssistantPayload(ctx context.Context) (string, error) {
	history, err := e.store.History(ctx, e.session.ID)
	if err != nil {
		return "", err
	}
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == models.RoleAssistant {
			return history[i].Content, nil
		}
	}
	return "", nil
}
