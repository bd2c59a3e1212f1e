// Package audit provides write-only persistence for permission decisions
// and tool-call outcomes. Sink failures never influence the decisions
// being recorded.
package audit

import (
	"context"
	"encoding/json"
	"time"
)

// DecisionRecord captures one permission evaluation for the audit trail.
type DecisionRecord struct {
	ID        string          `json:"id"`
	SessionID string          `json:"session_id"`
	Tool      string          `json:"tool"`
	Input     json.RawMessage `json:"input,omitempty"`
	Allowed   bool            `json:"allowed"`
	Reason    string          `json:"reason,omitempty"`
	Interrupt bool            `json:"interrupt,omitempty"`
	Cached    bool            `json:"cached,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Sink accepts decision records for write-only audit persistence.
// Implementations must be safe for concurrent use.
type Sink interface {
	RecordDecision(ctx context.Context, rec DecisionRecord) error
}

// MultiSink fans a record out to several sinks, returning the first error
// after attempting all of them.
type MultiSink []Sink

func (m MultiSink) RecordDecision(ctx context.Context, rec DecisionRecord) error {
	var firstErr error
	for _, sink := range m {
		if err := sink.RecordDecision(ctx, rec); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
