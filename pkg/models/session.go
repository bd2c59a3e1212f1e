// Package models defines the core domain types shared across sessiond.
package models

import (
	"time"
)

// SessionStatus represents where a session is in its lifecycle.
type SessionStatus string

const (
	StatusCreated    SessionStatus = "created"
	StatusConnecting SessionStatus = "connecting"
	StatusActive     SessionStatus = "active"
	StatusProcessing SessionStatus = "processing"
	StatusPaused     SessionStatus = "paused"
	StatusWaiting    SessionStatus = "waiting"
	StatusCompleted  SessionStatus = "completed"
	StatusFailed     SessionStatus = "failed"
	StatusTerminated SessionStatus = "terminated"
	StatusArchived   SessionStatus = "archived"
)

// IsTerminal returns true for statuses that end a session's active life.
// Terminal sessions may still be archived by lifecycle management.
func (s SessionStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTerminated:
		return true
	default:
		return false
	}
}

// SessionMode selects the execution strategy used to drive a session.
type SessionMode string

const (
	// ModeInteractive streams domain messages to the caller as they arrive.
	ModeInteractive SessionMode = "interactive"

	// ModeBackground consumes the full response internally and returns a
	// single ExecutionResult.
	ModeBackground SessionMode = "background"

	// ModeForked behaves like interactive but seeds the backend with the
	// parent session's conversation before the first prompt.
	ModeForked SessionMode = "forked"
)

// SessionConfig is the per-session configuration bundle. It is supplied at
// session creation and treated as read-only by executors.
type SessionConfig struct {
	// Model names the backend model to use. Empty means backend default.
	Model string `json:"model,omitempty" yaml:"model,omitempty"`

	// MaxTurns limits assistant turns per execution (0 = backend default).
	MaxTurns int `json:"max_turns,omitempty" yaml:"max_turns,omitempty"`

	// AllowedTools is the tool allow-list enforced by the permission layer.
	// Empty means all tools are permitted by the allow-list policy.
	AllowedTools []string `json:"allowed_tools,omitempty" yaml:"allowed_tools,omitempty"`

	// StreamPartials enables partial-message streaming on the backend
	// connection. Only meaningful for interactive and forked sessions.
	StreamPartials bool `json:"stream_partials,omitempty" yaml:"stream_partials,omitempty"`

	// TimeoutSeconds bounds a single backend attempt. Retry backoff is
	// accounted separately. 0 disables the per-attempt deadline.
	TimeoutSeconds int `json:"timeout_seconds,omitempty" yaml:"timeout_seconds,omitempty"`

	// ForkCutoff limits how many parent messages a forked session restores.
	// 0 restores the full parent history. Ignored for other modes.
	ForkCutoff int `json:"fork_cutoff,omitempty" yaml:"fork_cutoff,omitempty"`
}

// Session is the unit of conversation. It is created externally and mutated
// only through explicit state transitions issued by an executor.
type Session struct {
	ID              string         `json:"id"`
	Status          SessionStatus  `json:"status"`
	Mode            SessionMode    `json:"mode"`
	ParentSessionID string         `json:"parent_session_id,omitempty"`
	Config          SessionConfig  `json:"config"`
	WorkspaceID     string         `json:"workspace_id,omitempty"`
	ErrorMessage    string         `json:"error_message,omitempty"`
	Usage           Usage          `json:"usage"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// Usage is a resource-consumption snapshot accumulated over a session's
// executions and finalized from the backend's terminal result element.
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
	Turns        int   `json:"turns"`
	DurationMs   int64 `json:"duration_ms"`
}

// Add accumulates another usage snapshot into u.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.Turns += other.Turns
	u.DurationMs += other.DurationMs
}
