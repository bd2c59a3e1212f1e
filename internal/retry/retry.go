// Package retry executes backend operations with bounded retry, exponential
// backoff, and circuit-breaker protection.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"github.com/haasonsaas/sessiond/internal/backend"
	"github.com/haasonsaas/sessiond/internal/infra"
)

// jitterFraction is the maximum uniform inflation applied to a computed
// delay when jitter is enabled.
const jitterFraction = 0.25

// Policy is the immutable retry configuration supplied once per executor.
type Policy struct {
	// MaxRetries is the number of retries after the first attempt, so an
	// operation runs at most MaxRetries+1 times.
	MaxRetries int

	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration

	// MaxDelay caps the computed backoff.
	MaxDelay time.Duration

	// ExponentialBase is the backoff growth factor per attempt.
	ExponentialBase float64

	// Jitter inflates each delay by up to 25% uniformly when set.
	Jitter bool
}

// DefaultPolicy returns the retry policy used when config does not override.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:      3,
		BaseDelay:       time.Second,
		MaxDelay:        30 * time.Second,
		ExponentialBase: 2,
		Jitter:          true,
	}
}

// ComputeDelay calculates the backoff before retrying after the given
// zero-based attempt index.
func ComputeDelay(policy Policy, attempt int) time.Duration {
	return ComputeDelayWithRand(policy, attempt, rand.Float64()) // #nosec G404 -- jitter does not require cryptographic randomness
}

// ComputeDelayWithRand calculates the backoff using a provided random value
// in [0.0, 1.0). Useful for deterministic tests.
func ComputeDelayWithRand(policy Policy, attempt int, randomValue float64) time.Duration {
	base := float64(policy.BaseDelay) * math.Pow(policy.ExponentialBase, float64(attempt))
	delay := math.Min(base, float64(policy.MaxDelay))
	if policy.Jitter {
		delay += delay * jitterFraction * randomValue
		delay = math.Min(delay, float64(policy.MaxDelay)*(1+jitterFraction))
	}
	return time.Duration(delay)
}

// Manager runs operations under the retry policy, consulting the circuit
// breaker before every attempt and reporting outcomes back to it.
type Manager struct {
	policy  Policy
	breaker *infra.CircuitBreaker
	logger  *slog.Logger

	// AttemptTimeout bounds a single attempt. Retry backoff is accounted
	// separately; 0 disables the per-attempt deadline.
	AttemptTimeout time.Duration

	// OnRetry is invoked once per retried attempt, before the backoff sleep.
	OnRetry func()

	// sleep is replaceable for tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewManager creates a retry manager. The breaker may be nil, in which case
// no circuit protection is applied.
func NewManager(policy Policy, breaker *infra.CircuitBreaker, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		policy:  policy,
		breaker: breaker,
		logger:  logger,
		sleep:   sleepWithContext,
	}
}

// Policy returns the manager's retry policy.
func (m *Manager) Policy() Policy { return m.policy }

// Do runs op with retry and circuit-breaker protection.
//
// Before each attempt the breaker is consulted; a rejected attempt returns
// infra.ErrCircuitOpen immediately without consuming a retry. Transient
// connectivity errors back off and retry until attempts are exhausted; any
// other error fails fast. Success and terminal failure are both reported to
// the breaker.
func (m *Manager) Do(ctx context.Context, op func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt <= m.policy.MaxRetries; attempt++ {
		if m.breaker != nil {
			if err := m.breaker.Allow(); err != nil {
				return err
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		err := m.runAttempt(ctx, op)
		if err == nil {
			m.recordSuccess()
			return nil
		}
		lastErr = err

		if !backend.IsTransient(err) {
			m.recordFailure()
			return err
		}
		if attempt >= m.policy.MaxRetries {
			break
		}

		if m.OnRetry != nil {
			m.OnRetry()
		}
		delay := ComputeDelay(m.policy, attempt)
		m.logger.Warn("transient backend error, retrying",
			"attempt", attempt+1,
			"max_attempts", m.policy.MaxRetries+1,
			"delay", delay,
			"error", err)
		if err := m.sleep(ctx, delay); err != nil {
			return err
		}
	}

	m.recordFailure()
	return lastErr
}

// runAttempt executes one attempt under the per-attempt deadline. A deadline
// blown by the attempt itself (parent context still live) is reported as a
// transient connection error so it participates in retry.
func (m *Manager) runAttempt(ctx context.Context, op func(ctx context.Context) error) error {
	attemptCtx := ctx
	cancel := context.CancelFunc(func() {})
	if m.AttemptTimeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, m.AttemptTimeout)
	}
	defer cancel()

	err := op(attemptCtx)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return &backend.ConnectionError{Op: "attempt", Err: err}
	}
	return err
}

func (m *Manager) recordSuccess() {
	if m.breaker != nil {
		m.breaker.RecordSuccess()
	}
}

func (m *Manager) recordFailure() {
	if m.breaker != nil {
		m.breaker.RecordFailure()
	}
}

// Do runs an operation that returns a value under the manager's retry and
// circuit-breaker protection.
func Do[T any](ctx context.Context, m *Manager, op func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := m.Do(ctx, func(ctx context.Context) error {
		value, err := op(ctx)
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	return result, err
}

// sleepWithContext sleeps for the duration, respecting cancellation.
func sleepWithContext(ctx context.Context, duration time.Duration) error {
	if duration <= 0 {
		return nil
	}
	timer := time.NewTimer(duration)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
