package policy

import (
	"context"
	"encoding/json"
	"testing"
)

// fakePolicy is a configurable policy for engine ordering tests.
type fakePolicy struct {
	name     string
	priority int
	applies  bool
	decision Decision
	calls    int
}

func (p *fakePolicy) Name() string            { return p.name }
func (p *fakePolicy) Priority() int           { return p.priority }
func (p *fakePolicy) AppliesTo(string) bool   { return p.applies }
func (p *fakePolicy) Evaluate(ctx context.Context, req *Request) Decision {
	p.calls++
	return p.decision
}

func TestEngine_DefaultAllow(t *testing.T) {
	engine := NewEngine()
	decision := engine.Evaluate(context.Background(), &Request{Tool: "read"})
	if !decision.Allow {
		t.Errorf("Evaluate() with no policies = %+v, want allow", decision)
	}
}

func TestEngine_FirstDenyWins(t *testing.T) {
	low := &fakePolicy{name: "p1", priority: 5, applies: true, decision: Denied("access to Bash is restricted")}
	high := &fakePolicy{name: "p2", priority: 10, applies: true, decision: Allowed()}
	engine := NewEngine(high, low)

	decision := engine.Evaluate(context.Background(), &Request{Tool: "bash"})
	if decision.Allow {
		t.Fatal("Evaluate() = allow, want deny")
	}
	if decision.Reason != "access to Bash is restricted" {
		t.Errorf("Reason = %q, want the denying policy's reason", decision.Reason)
	}
	if low.calls != 1 {
		t.Errorf("low-priority policy calls = %d, want 1", low.calls)
	}
	if high.calls != 0 {
		t.Errorf("later policy calls = %d, want 0 (deny short-circuits)", high.calls)
	}
}

func TestEngine_PriorityOrder(t *testing.T) {
	var order []string
	record := func(name string, priority int) Policy {
		return &recordingPolicy{name: name, priority: priority, order: &order}
	}
	engine := NewEngine(record("third", 30), record("first", 10), record("second", 20))

	engine.Evaluate(context.Background(), &Request{Tool: "read"})
	want := []string{"first", "second", "third"}
	if len(order) != len(want) {
		t.Fatalf("evaluated %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d] = %s, want %s", i, order[i], want[i])
		}
	}
}

type recordingPolicy struct {
	name     string
	priority int
	order    *[]string
}

func (p *recordingPolicy) Name() string          { return p.name }
func (p *recordingPolicy) Priority() int         { return p.priority }
func (p *recordingPolicy) AppliesTo(string) bool { return true }
func (p *recordingPolicy) Evaluate(ctx context.Context, req *Request) Decision {
	*p.order = append(*p.order, p.name)
	return Allowed()
}

func TestEngine_SkipsInapplicablePolicies(t *testing.T) {
	inapplicable := &fakePolicy{name: "p1", priority: 5, applies: false, decision: Denied("never")}
	engine := NewEngine(inapplicable)

	decision := engine.Evaluate(context.Background(), &Request{Tool: "read"})
	if !decision.Allow {
		t.Errorf("Evaluate() = %+v, want allow when no policy applies", decision)
	}
	if inapplicable.calls != 0 {
		t.Errorf("calls = %d, want 0", inapplicable.calls)
	}
}

func TestEngine_FillsEmptyDenyReason(t *testing.T) {
	silent := &fakePolicy{name: "quiet_guard", priority: 1, applies: true, decision: Decision{Allow: false}}
	engine := NewEngine(silent)

	decision := engine.Evaluate(context.Background(), &Request{Tool: "bash"})
	if decision.Allow {
		t.Fatal("want deny")
	}
	if decision.Reason != "denied by policy quiet_guard" {
		t.Errorf("Reason = %q, want default reason naming the policy", decision.Reason)
	}
}

func TestEngine_InterruptPropagates(t *testing.T) {
	destructive := &fakePolicy{name: "p", priority: 1, applies: true, decision: DeniedInterrupt("rm on root blocked")}
	engine := NewEngine(destructive)

	decision := engine.Evaluate(context.Background(), &Request{
		Tool:  "bash",
		Input: json.RawMessage(`{"command":"rm -rf /"}`),
	})
	if decision.Allow || !decision.Interrupt {
		t.Errorf("Evaluate() = %+v, want interrupting deny", decision)
	}
}
