// Package permission orchestrates policy evaluation, decision caching, and
// audit logging behind the single callback the backend invokes before
// running any tool.
package permission

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/sessiond/internal/audit"
	"github.com/haasonsaas/sessiond/internal/backend"
	"github.com/haasonsaas/sessiond/internal/policy"
	"github.com/haasonsaas/sessiond/pkg/models"
)

// Manager wraps a policy engine with an in-process decision cache and audit
// logging. One Manager serves one session; cache entries live for the
// session's lifetime unless Invalidate is called explicitly.
type Manager struct {
	session *models.Session
	engine  *policy.Engine
	sink    audit.Sink
	logger  *slog.Logger

	// OnDecision, when set, observes every check with whether it was
	// served from the cache. Set it before the first Check.
	OnDecision func(decision policy.Decision, cached bool)

	mu    sync.Mutex
	cache map[string]policy.Decision
}

// NewManager creates a permission manager for a session. The sink may be
// nil, disabling audit persistence; the logger may be nil.
func NewManager(session *models.Session, engine *policy.Engine, sink audit.Sink, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		session: session,
		engine:  engine,
		sink:    sink,
		logger:  logger.With("session_id", session.ID),
		cache:   make(map[string]policy.Decision),
	}
}

// Check evaluates a proposed tool invocation. Cache hits skip the engine;
// misses are evaluated, audited, cached and returned. Audit failures are
// logged and never change the decision.
func (m *Manager) Check(ctx context.Context, tool string, input json.RawMessage) policy.Decision {
	key := cacheKey(tool, input)

	m.mu.Lock()
	if decision, ok := m.cache[key]; ok {
		m.mu.Unlock()
		m.observe(decision, true)
		m.record(ctx, tool, input, decision, true)
		return decision
	}
	m.mu.Unlock()

	decision := m.engine.Evaluate(ctx, &policy.Request{
		Tool:        tool,
		Input:       input,
		SessionID:   m.session.ID,
		WorkspaceID: m.session.WorkspaceID,
	})

	m.mu.Lock()
	m.cache[key] = decision
	m.mu.Unlock()

	m.observe(decision, false)
	m.record(ctx, tool, input, decision, false)
	return decision
}

func (m *Manager) observe(decision policy.Decision, cached bool) {
	if m.OnDecision != nil {
		m.OnDecision(decision, cached)
	}
}

// Callback exposes Check in the shape the backend consumes.
func (m *Manager) Callback() backend.PermissionFunc {
	return func(ctx context.Context, tool string, input json.RawMessage) policy.Decision {
		return m.Check(ctx, tool, input)
	}
}

// Invalidate clears the decision cache. Callers must invalidate after
// changing policy configuration mid-session; there is no implicit expiry.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache = make(map[string]policy.Decision)
}

func (m *Manager) record(ctx context.Context, tool string, input json.RawMessage, decision policy.Decision, cached bool) {
	if m.sink == nil {
		return
	}
	err := m.sink.RecordDecision(ctx, audit.DecisionRecord{
		ID:        uuid.NewString(),
		SessionID: m.session.ID,
		Tool:      tool,
		Input:     input,
		Allowed:   decision.Allow,
		Reason:    decision.Reason,
		Interrupt: decision.Interrupt,
		Cached:    cached,
		CreatedAt: time.Now(),
	})
	if err != nil {
		m.logger.Warn("audit write failed", "tool", tool, "error", err)
	}
}

// cacheKey builds the canonical (tool, input) cache key. JSON input is
// compacted so formatting differences do not defeat the cache.
func cacheKey(tool string, input json.RawMessage) string {
	var compact bytes.Buffer
	if len(input) > 0 && json.Compact(&compact, input) == nil {
		return tool + "\x00" + compact.String()
	}
	return tool + "\x00" + string(input)
}
