package executor

import (
	"context"
	"fmt"

	"github.com/haasonsaas/sessiond/internal/backend"
	"github.com/haasonsaas/sessiond/pkg/models"
)

// Forked behaves like an interactive executor but seeds the backend with the
// parent session's conversation before the first prompt. Context restoration
// is a backend capability: clients that implement backend.Replayer receive
// the parent history, others start fresh.
type Forked struct {
	Interactive
}

func (e *Forked) Mode() models.SessionMode { return models.ModeForked }

// RestoresContext reports whether this executor's backend can replay the
// parent conversation. Callers that require true continuity should check
// this before prompting.
func (e *Forked) RestoresContext() bool {
	_, ok := e.client.(backend.Replayer)
	return ok
}

// Execute restores the parent context on the session's first prompt, then
// proceeds exactly like an interactive execution.
func (e *Forked) Execute(ctx context.Context, prompt string) (*Stream, error) {
	if e.session.Status == models.StatusCreated {
		if err := e.restoreContext(ctx); err != nil {
			// CREATED cannot fail directly; replay is part of establishing
			// the conversation, so the failure settles via CONNECTING.
			if terr := e.transition(ctx, models.StatusConnecting); terr != nil {
				e.logger.Error("failed to record replay failure",
					"session_id", e.session.ID, "error", terr)
			}
			e.fail(ctx, err)
			return nil, err
		}
	}
	return e.Interactive.Execute(ctx, prompt)
}

// restoreContext loads the parent history up to the configured cutoff and
// replays it into the backend. A backend without replay support degrades to
// a fresh start rather than failing the fork.
func (e *Forked) restoreContext(ctx context.Context) error {
	replayer, ok := e.client.(backend.Replayer)
	if !ok {
		e.logger.Info("backend cannot replay history, fork starts fresh",
			"session_id", e.session.ID, "parent_session_id", e.session.ParentSessionID)
		return nil
	}

	history, err := e.store.HistoryUpTo(ctx, e.session.ParentSessionID, e.session.Config.ForkCutoff)
	if err != nil {
		return fmt.Errorf("load parent history: %w", err)
	}
	if len(history) == 0 {
		return nil
	}
	if err := replayer.Replay(ctx, history); err != nil {
		return fmt.Errorf("replay parent history: %w", err)
	}

	e.logger.Debug("restored parent context",
		"session_id", e.session.ID,
		"parent_session_id", e.session.ParentSessionID,
		"messages", len(history))
	return nil
}
