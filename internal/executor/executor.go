// Package executor implements the execution-dispatch core: the strategies
// that drive a session through its state machine, call the backend under
// retry and circuit-breaker protection, and consume its response stream.
package executor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/sessiond/internal/backend"
	"github.com/haasonsaas/sessiond/internal/broadcast"
	"github.com/haasonsaas/sessiond/internal/observability"
	"github.com/haasonsaas/sessiond/internal/permission"
	"github.com/haasonsaas/sessiond/internal/retry"
	"github.com/haasonsaas/sessiond/internal/sessions"
	"github.com/haasonsaas/sessiond/pkg/models"
)

// Executor drives one session's interaction with the backend. The concrete
// result surface is strategy-specific: interactive and forked executors
// implement StreamExecutor, the background executor implements
// ResultExecutor.
type Executor interface {
	Mode() models.SessionMode
}

// StreamExecutor yields domain messages as they arrive.
type StreamExecutor interface {
	Executor
	Execute(ctx context.Context, prompt string) (*Stream, error)
}

// ResultExecutor consumes the response internally and returns a single
// ExecutionResult. Backend failures surface in the result; the error return
// is reserved for programming errors such as illegal state transitions.
type ResultExecutor interface {
	Executor
	Execute(ctx context.Context, prompt string) (*models.ExecutionResult, error)
}

// base carries the collaborators shared by every executor variant.
type base struct {
	session     *models.Session
	store       sessions.Store
	client      backend.Client
	permissions *permission.Manager
	retry       *retry.Manager
	broadcaster broadcast.Broadcaster
	metrics     *observability.Metrics
	logger      *slog.Logger
}

// begin drives the session into processing and persists the user prompt.
// The first prompt of a session connects the backend
// (CREATED -> CONNECTING -> ACTIVE); later prompts go straight from ACTIVE
// to PROCESSING. Connection errors force the session to FAILED.
func (b *base) begin(ctx context.Context, prompt string) error {
	if b.session.Status == models.StatusCreated {
		if err := b.transition(ctx, models.StatusConnecting); err != nil {
			return err
		}
		if err := b.client.Connect(ctx); err != nil {
			b.fail(ctx, err)
			return err
		}
		if err := b.transition(ctx, models.StatusActive); err != nil {
			return err
		}
	}

	if err := b.transition(ctx, models.StatusProcessing); err != nil {
		return err
	}
	if b.metrics != nil {
		b.metrics.ActiveSessions.Inc()
	}

	msg := &models.Message{
		ID:        uuid.NewString(),
		SessionID: b.session.ID,
		Role:      models.RoleUser,
		Content:   prompt,
		CreatedAt: time.Now(),
	}
	if err := b.store.AppendMessage(ctx, b.session.ID, msg); err != nil {
		b.fail(ctx, err)
		return err
	}
	return nil
}

// transition applies a state change and persists the session. Illegal
// transitions are returned unwrapped and leave the session untouched.
func (b *base) transition(ctx context.Context, to models.SessionStatus) error {
	if err := sessions.Transition(b.session, to); err != nil {
		return err
	}
	if err := b.store.Update(ctx, b.session); err != nil {
		return err
	}
	return nil
}

// fail is the shared error hook: it records the error on the session and
// forces it to FAILED before the caller propagates or wraps the error.
// Cancellation is not failure and leaves the session recoverable instead.
func (b *base) fail(ctx context.Context, err error) {
	if errors.Is(err, context.Canceled) {
		b.recover(ctx)
		return
	}
	b.settleActive()

	b.session.ErrorMessage = err.Error()
	if sessions.CanTransition(b.session.Status, models.StatusFailed) {
		b.session.Status = models.StatusFailed
		b.session.UpdatedAt = time.Now()
	}
	// Persist with a fresh context: the execution context may already be
	// cancelled or past its deadline.
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if updateErr := b.store.Update(persistCtx, b.session); updateErr != nil {
		b.logger.Error("failed to persist session failure",
			"session_id", b.session.ID, "error", updateErr)
	}
	b.countExecution("error")
}

// recover transitions a cancelled or abandoned execution back to ACTIVE so
// the session can accept further prompts.
func (b *base) recover(ctx context.Context) {
	b.settleActive()
	if !sessions.CanTransition(b.session.Status, models.StatusActive) {
		return
	}
	b.session.Status = models.StatusActive
	b.session.UpdatedAt = time.Now()
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := b.store.Update(persistCtx, b.session); err != nil {
		b.logger.Error("failed to persist session recovery",
			"session_id", b.session.ID, "error", err)
	}
	b.countExecution("cancelled")
}

// finalize applies the terminal result element: usage is accumulated and
// the session leaves PROCESSING. An interrupted result (permission denial
// with interrupt semantics) terminates the session instead.
func (b *base) finalize(ctx context.Context, result *backend.Result) error {
	b.settleActive()
	b.session.Usage.Add(result.Usage)

	to := models.StatusActive
	if result.Interrupted {
		to = models.StatusTerminated
		b.session.ErrorMessage = result.ErrorMessage
	}
	if err := b.transition(ctx, to); err != nil {
		return err
	}
	b.countExecution("success")
	return nil
}

// persistAssistant converts an assistant stream element into a domain
// message, persists it, and pushes it to any live subscriber.
func (b *base) persistAssistant(ctx context.Context, event backend.Event) (*models.Message, error) {
	msg := &models.Message{
		ID:        uuid.NewString(),
		SessionID: b.session.ID,
		Role:      models.RoleAssistant,
		Content:   event.Content,
		ToolCalls: event.ToolCalls,
		CreatedAt: time.Now(),
	}
	if err := b.store.AppendMessage(ctx, b.session.ID, msg); err != nil {
		return nil, err
	}
	if b.broadcaster != nil {
		b.broadcaster.Publish(ctx, msg)
	}
	return msg, nil
}

// pushPartial forwards a partial update to subscribers. Partials are never
// persisted or yielded as domain messages.
func (b *base) pushPartial(ctx context.Context, text string) {
	if b.broadcaster != nil {
		b.broadcaster.PublishPartial(ctx, b.session.ID, text)
	}
}

// settleActive decrements the active-session gauge when leaving PROCESSING.
// The gauge is incremented once per begin; every execution exit path passes
// through exactly one of fail, recover, or finalize.
func (b *base) settleActive() {
	if b.metrics != nil && b.session.Status == models.StatusProcessing {
		b.metrics.ActiveSessions.Dec()
	}
}

func (b *base) countExecution(status string) {
	if b.metrics != nil {
		b.metrics.ExecutionCounter.WithLabelValues(string(b.session.Mode), status).Inc()
	}
}

func (b *base) observeDuration(start time.Time) {
	if b.metrics != nil {
		b.metrics.ExecutionDuration.WithLabelValues(string(b.session.Mode)).
			Observe(time.Since(start).Seconds())
	}
}
