package executor

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/haasonsaas/sessiond/internal/audit"
	"github.com/haasonsaas/sessiond/internal/backend"
	"github.com/haasonsaas/sessiond/internal/broadcast"
	"github.com/haasonsaas/sessiond/internal/infra"
	"github.com/haasonsaas/sessiond/internal/observability"
	"github.com/haasonsaas/sessiond/internal/permission"
	"github.com/haasonsaas/sessiond/internal/policy"
	"github.com/haasonsaas/sessiond/internal/retry"
	"github.com/haasonsaas/sessiond/internal/sessions"
	"github.com/haasonsaas/sessiond/pkg/models"
)

// Deps carries the shared collaborators an executor is assembled from.
// Store, Client, and Engine are required; the rest are optional and degrade
// to no-ops when nil.
type Deps struct {
	Store       sessions.Store
	Client      backend.Client
	Engine      *policy.Engine
	AuditSink   audit.Sink
	Breaker     *infra.CircuitBreaker
	RetryPolicy retry.Policy
	Broadcaster broadcast.Broadcaster
	Metrics     *observability.Metrics
	Logger      *slog.Logger
}

// New assembles the executor variant matching the session's mode and wires
// the session-scoped permission manager into the backend client. The session
// must already be stored; a forked session must name its parent.
func New(session *models.Session, deps Deps) (Executor, error) {
	if session == nil {
		return nil, fmt.Errorf("session is required")
	}
	if deps.Store == nil || deps.Client == nil || deps.Engine == nil {
		return nil, fmt.Errorf("store, client, and engine are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("session_id", session.ID, "mode", string(session.Mode))

	perm := permission.NewManager(session, deps.Engine, deps.AuditSink, logger)
	if deps.Metrics != nil {
		metrics := deps.Metrics
		perm.OnDecision = func(decision policy.Decision, cached bool) {
			outcome := "denied"
			if decision.Allow {
				outcome = "allowed"
			}
			source := "engine"
			if cached {
				source = "cache"
			}
			metrics.PermissionDecisions.WithLabelValues(outcome, source).Inc()
		}
	}
	deps.Client.SetPermissionFunc(perm.Callback())

	retryMgr := retry.NewManager(deps.RetryPolicy, deps.Breaker, logger)
	// The per-attempt deadline only fits background mode, where an attempt
	// is a self-contained query-and-drain. Streaming modes bound the whole
	// response inside Execute instead.
	if session.Mode == models.ModeBackground && session.Config.TimeoutSeconds > 0 {
		retryMgr.AttemptTimeout = time.Duration(session.Config.TimeoutSeconds) * time.Second
	}
	if deps.Metrics != nil {
		retryMgr.OnRetry = deps.Metrics.RetryCounter.Inc
	}

	b := base{
		session:     session,
		store:       deps.Store,
		client:      deps.Client,
		permissions: perm,
		retry:       retryMgr,
		broadcaster: deps.Broadcaster,
		metrics:     deps.Metrics,
		logger:      logger,
	}

	switch session.Mode {
	case models.ModeInteractive:
		return &Interactive{base: b}, nil
	case models.ModeBackground:
		return &Background{base: b}, nil
	case models.ModeForked:
		if session.ParentSessionID == "" {
			return nil, fmt.Errorf("forked session %s has no parent session", session.ID)
		}
		return &Forked{Interactive: Interactive{base: b}}, nil
	default:
		return nil, fmt.Errorf("unknown session mode %q", session.Mode)
	}
}
