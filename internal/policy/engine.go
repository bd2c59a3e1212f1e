// Package policy implements the ordered security-policy pipeline evaluated
// for every proposed tool invocation.
package policy

import (
	"context"
	"encoding/json"
	"sort"
)

// Decision is the outcome of evaluating a tool invocation request.
type Decision struct {
	Allow  bool   `json:"allow"`
	Reason string `json:"reason,omitempty"`

	// Interrupt marks a denial that should abort the whole session, not
	// just the one tool call.
	Interrupt bool `json:"interrupt,omitempty"`
}

// Allowed returns an allow decision.
func Allowed() Decision {
	return Decision{Allow: true}
}

// Denied returns a deny decision with a human-readable reason.
func Denied(reason string) Decision {
	return Decision{Allow: false, Reason: reason}
}

// DeniedInterrupt returns a deny decision that aborts the session.
func DeniedInterrupt(reason string) Decision {
	return Decision{Allow: false, Reason: reason, Interrupt: true}
}

// Request describes one proposed tool invocation.
type Request struct {
	Tool        string
	Input       json.RawMessage
	SessionID   string
	WorkspaceID string
}

// Policy is a single stateless security check. Policies carry their own
// configuration but hold no engine state; Evaluate must be safe for
// concurrent use.
type Policy interface {
	// Name identifies the policy in decision reasons and audit records.
	Name() string

	// Priority orders evaluation; lower runs first.
	Priority() int

	// AppliesTo reports whether the policy participates for this tool.
	AppliesTo(tool string) bool

	// Evaluate checks the request. Returning a deny short-circuits all
	// later policies.
	Evaluate(ctx context.Context, req *Request) Decision
}

// Engine evaluates registered policies in ascending priority order with
// first-deny-wins semantics. The registration list is sorted once at
// construction and treated as immutable afterwards, keeping the evaluation
// path lock-free.
type Engine struct {
	policies []Policy
}

// NewEngine creates an engine over the given policies. The slice is copied
// and sorted by priority; registration after construction is not supported.
func NewEngine(policies ...Policy) *Engine {
	sorted := append([]Policy(nil), policies...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority() < sorted[j].Priority()
	})
	return &Engine{policies: sorted}
}

// Policies returns the registered policies in evaluation order.
func (e *Engine) Policies() []Policy {
	return e.policies
}

// Evaluate runs the applicable policies in priority order. The first deny
// wins and stops evaluation; if no policy applies, or every applicable
// policy allows, the request is allowed.
func (e *Engine) Evaluate(ctx context.Context, req *Request) Decision {
	for _, p := range e.policies {
		if !p.AppliesTo(req.Tool) {
			continue
		}
		decision := p.Evaluate(ctx, req)
		if !decision.Allow {
			if decision.Reason == "" {
				decision.Reason = "denied by policy " + p.Name()
			}
			return decision
		}
	}
	return Allowed()
}
