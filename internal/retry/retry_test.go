package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/haasonsaas/sessiond/internal/backend"
	"github.com/haasonsaas/sessiond/internal/infra"
)

func noJitterPolicy(maxRetries int) Policy {
	return Policy{
		MaxRetries:      maxRetries,
		BaseDelay:       time.Second,
		MaxDelay:        30 * time.Second,
		ExponentialBase: 2,
	}
}

// newTestManager returns a manager whose sleeps are captured instead of
// executed.
func newTestManager(policy Policy, breaker *infra.CircuitBreaker) (*Manager, *[]time.Duration) {
	m := NewManager(policy, breaker, nil)
	slept := &[]time.Duration{}
	m.sleep = func(ctx context.Context, d time.Duration) error {
		*slept = append(*slept, d)
		return nil
	}
	return m, slept
}

func TestComputeDelayWithRand(t *testing.T) {
	policy := DefaultPolicy()

	tests := []struct {
		name    string
		attempt int
		random  float64
		want    time.Duration
	}{
		{"first_no_jitter", 0, 0, time.Second},
		{"second_no_jitter", 1, 0, 2 * time.Second},
		{"third_no_jitter", 2, 0, 4 * time.Second},
		{"first_max_jitter", 0, 0.999999, 1249999 * time.Microsecond},
		{"capped_at_max", 10, 0, 30 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeDelayWithRand(policy, tt.attempt, tt.random)
			if got < tt.want-time.Millisecond || got > tt.want+time.Millisecond {
				t.Errorf("ComputeDelayWithRand(%d, %v) = %v, want ~%v",
					tt.attempt, tt.random, got, tt.want)
			}
		})
	}
}

func TestComputeDelay_JitterCap(t *testing.T) {
	policy := DefaultPolicy()
	got := ComputeDelayWithRand(policy, 20, 0.999999)
	max := time.Duration(float64(policy.MaxDelay) * (1 + jitterFraction))
	if got > max {
		t.Errorf("ComputeDelayWithRand = %v, want <= %v", got, max)
	}
}

func TestManager_SucceedsFirstAttempt(t *testing.T) {
	m, slept := newTestManager(noJitterPolicy(3), nil)

	calls := 0
	err := m.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if len(*slept) != 0 {
		t.Errorf("slept %v, want no sleeps", *slept)
	}
}

func TestManager_RetriesTransientWithBackoff(t *testing.T) {
	m, slept := newTestManager(noJitterPolicy(3), nil)

	calls := 0
	err := m.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 4 {
			return &backend.ConnectionError{Op: "query", Err: errors.New("connection refused")}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if calls != 4 {
		t.Errorf("calls = %d, want 4", calls)
	}

	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	if len(*slept) != len(want) {
		t.Fatalf("slept %v, want %v", *slept, want)
	}
	for i, d := range want {
		if (*slept)[i] != d {
			t.Errorf("delay[%d] = %v, want %v", i, (*slept)[i], d)
		}
	}
}

func TestManager_ExhaustsRetries(t *testing.T) {
	m, slept := newTestManager(noJitterPolicy(3), nil)

	transient := &backend.ConnectionError{Op: "query", Err: errors.New("503 service unavailable")}
	calls := 0
	err := m.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return transient
	})
	if !errors.Is(err, transient) {
		t.Errorf("Do() error = %v, want last transient error", err)
	}
	if calls != 4 {
		t.Errorf("calls = %d, want 4 (max_retries+1)", calls)
	}
	if len(*slept) != 3 {
		t.Errorf("sleeps = %d, want 3 (no sleep after final attempt)", len(*slept))
	}
}

func TestManager_NonTransientFailsFast(t *testing.T) {
	m, slept := newTestManager(noJitterPolicy(3), nil)

	fatal := &backend.ProtocolError{Code: "invalid_request", Message: "malformed message"}
	calls := 0
	err := m.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return fatal
	})
	if !errors.Is(err, fatal) {
		t.Errorf("Do() error = %v, want protocol error", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if len(*slept) != 0 {
		t.Errorf("slept %v, want no sleeps", *slept)
	}
}

func TestManager_OpenBreakerConsumesNoAttempt(t *testing.T) {
	breaker := infra.NewCircuitBreaker(infra.CircuitBreakerConfig{
		FailureThreshold: 1,
		RecoveryTimeout:  time.Hour,
	})
	breaker.RecordFailure()

	m, _ := newTestManager(noJitterPolicy(3), breaker)

	calls := 0
	err := m.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	})
	if !errors.Is(err, infra.ErrCircuitOpen) {
		t.Errorf("Do() error = %v, want ErrCircuitOpen", err)
	}
	if calls != 0 {
		t.Errorf("calls = %d, want 0", calls)
	}
}

func TestManager_ReportsOutcomesToBreaker(t *testing.T) {
	breaker := infra.NewCircuitBreaker(infra.CircuitBreakerConfig{
		FailureThreshold: 1,
		RecoveryTimeout:  time.Hour,
	})
	m, _ := newTestManager(noJitterPolicy(0), breaker)

	err := m.Do(context.Background(), func(ctx context.Context) error {
		return &backend.ConnectionError{Op: "query", Err: errors.New("timeout")}
	})
	if err == nil {
		t.Fatal("Do() should fail")
	}
	if got := breaker.State(); got != infra.CircuitOpen {
		t.Errorf("breaker state = %s, want open after exhausted retries", got)
	}
}

func TestManager_CancelledContextStopsRetrying(t *testing.T) {
	m := NewManager(noJitterPolicy(5), nil, nil)
	// Real sleep path: the context cancels during the first backoff.
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	err := m.Do(ctx, func(ctx context.Context) error {
		calls++
		cancel()
		return &backend.ConnectionError{Op: "query", Err: errors.New("connection reset")}
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Do() error = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestManager_AttemptTimeoutIsTransient(t *testing.T) {
	m, slept := newTestManager(noJitterPolicy(1), nil)
	m.AttemptTimeout = 10 * time.Millisecond

	calls := 0
	err := m.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls == 1 {
			<-ctx.Done()
			return ctx.Err()
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2 (deadline blow retried)", calls)
	}
	if len(*slept) != 1 {
		t.Errorf("sleeps = %d, want 1", len(*slept))
	}
}

func TestDo_Generic(t *testing.T) {
	m, _ := newTestManager(noJitterPolicy(2), nil)

	calls := 0
	got, err := Do(context.Background(), m, func(ctx context.Context) (string, error) {
		calls++
		if calls < 2 {
			return "", &backend.ConnectionError{Op: "query", Err: errors.New("429 too many requests")}
		}
		return "done", nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if got != "done" {
		t.Errorf("Do() = %q, want %q", got, "done")
	}
}
