// Package backend defines the contract for the external conversational-agent
// runtime and provides the production Anthropic adapter.
//
// The core treats the backend as an opaque streaming channel: connect, send a
// prompt, consume typed events until a terminal result, disconnect. The one
// inward-facing hook is the permission callback the backend must invoke
// before running any tool.
package backend

import (
	"context"
	"encoding/json"

	"github.com/haasonsaas/sessiond/internal/policy"
	"github.com/haasonsaas/sessiond/pkg/models"
)

// EventType identifies the kind of a stream element.
type EventType string

const (
	// EventAssistant carries a complete assistant content element.
	EventAssistant EventType = "assistant"

	// EventPartial carries an incremental text update. Partials are pushed
	// to subscribers but never persisted or yielded as domain messages.
	EventPartial EventType = "partial"

	// EventResult is the terminal element of a response stream.
	EventResult EventType = "result"
)

// Event is a single typed element received from the backend stream.
// Exactly one of the payload fields is meaningful for a given Type;
// Err reports a stream-level failure and ends the stream.
type Event struct {
	Type      EventType
	Content   string
	ToolCalls []models.ToolCall
	Partial   string
	Result    *Result
	Err       error
}

// Result is the terminal element of a response stream.
type Result struct {
	Payload      string
	IsError      bool
	ErrorMessage string

	// Interrupted is set when a permission denial with interrupt semantics
	// aborted the response. It is not an error: the backend stopped because
	// it was told to.
	Interrupted bool

	Usage models.Usage
}

// PermissionFunc is the synchronous callback the backend invokes before any
// tool execution. Implementations must be safe for concurrent use.
type PermissionFunc func(ctx context.Context, tool string, input json.RawMessage) policy.Decision

// Client is the boundary contract for a backend agent connection. A Client
// drives exactly one session's conversation; it is not shared.
type Client interface {
	// Connect establishes the backend connection.
	Connect(ctx context.Context) error

	// SetStreaming toggles partial-message events. Must be called before
	// Query to take effect for that response.
	SetStreaming(enabled bool)

	// SetPermissionFunc installs the callback consulted before tool runs.
	SetPermissionFunc(fn PermissionFunc)

	// Query sends a prompt. The response is consumed via Events.
	Query(ctx context.Context, prompt string) error

	// Events returns the stream of typed elements for the current response.
	// The channel is closed after the terminal result or a stream error.
	Events() <-chan Event

	// Disconnect tears down the connection and returns accumulated usage.
	Disconnect() (models.Usage, error)
}

// Replayer is an optional capability: clients that implement it can seed a
// fresh connection with prior conversation turns. Forked sessions restore
// parent context only when their client implements Replayer; callers can
// query the executor's capability flag to find out which behavior they got.
type Replayer interface {
	Replay(ctx context.Context, history []*models.Message) error
}
