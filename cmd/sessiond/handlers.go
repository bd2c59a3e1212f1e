// handlers.go contains the command implementations: runtime assembly from
// configuration plus the run and chat loops.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/haasonsaas/sessiond/internal/audit"
	"github.com/haasonsaas/sessiond/internal/backend"
	"github.com/haasonsaas/sessiond/internal/broadcast"
	"github.com/haasonsaas/sessiond/internal/config"
	"github.com/haasonsaas/sessiond/internal/executor"
	"github.com/haasonsaas/sessiond/internal/infra"
	"github.com/haasonsaas/sessiond/internal/observability"
	"github.com/haasonsaas/sessiond/internal/policy"
	"github.com/haasonsaas/sessiond/internal/retry"
	"github.com/haasonsaas/sessiond/internal/sessions"
	"github.com/haasonsaas/sessiond/pkg/models"
)

type runOptions struct {
	configPath string
	prompt     string
	model      string
	timeout    int
	parentID   string
	forkCutoff int
}

type chatOptions struct {
	configPath string
	model      string
	partials   bool
}

// runtime bundles the long-lived collaborators the commands assemble from
// configuration.
type runtime struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    sessions.Store
	client   backend.Client
	engine   *policy.Engine
	sink     audit.Sink
	breakers *infra.CircuitBreakerRegistry
	metrics  *observability.Metrics
	fanout   *broadcast.Fanout
	closers  []func() error
}

func (r *runtime) close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			r.logger.Warn("shutdown error", "error", err)
		}
	}
}

// buildRuntime loads configuration and wires the execution stack. A missing
// config file at the default path is not an error; defaults apply. A
// non-empty model overrides the configured backend model.
func buildRuntime(configPath, model string) (*runtime, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if model != "" {
		cfg.Backend.Model = model
	}
	if cfg.Backend.APIKey == "" {
		return nil, fmt.Errorf("no API key: set backend.api_key or ANTHROPIC_API_KEY")
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: os.Stderr,
	})
	slog.SetDefault(logger)

	rt := &runtime{
		cfg:     cfg,
		logger:  logger,
		store:   sessions.NewMemoryStore(),
		metrics: observability.NewMetrics(prometheus.NewRegistry()),
		fanout:  broadcast.NewFanout(),
	}

	client, err := backend.NewAnthropicClient(backend.AnthropicConfig{
		APIKey:    cfg.Backend.APIKey,
		Model:     cfg.Backend.Model,
		MaxTokens: cfg.Backend.MaxTokens,
		BaseURL:   cfg.Backend.BaseURL,
	})
	if err != nil {
		return nil, fmt.Errorf("backend client: %w", err)
	}
	rt.client = client

	engine, err := buildEngine(cfg)
	if err != nil {
		return nil, err
	}
	rt.engine = engine

	auditLogger := audit.NewLogger(audit.LoggerConfig{
		Output:     os.Stderr,
		BufferSize: cfg.Audit.BufferSize,
	})
	rt.closers = append(rt.closers, auditLogger.Close)
	sinks := audit.MultiSink{auditLogger}
	if cfg.Audit.SQLitePath != "" {
		store, err := audit.OpenSQLiteStore(cfg.Audit.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("audit store: %w", err)
		}
		rt.closers = append(rt.closers, store.Close)
		sinks = append(sinks, store)
	}
	rt.sink = sinks

	metrics := rt.metrics
	rt.breakers = infra.NewCircuitBreakerRegistry(infra.CircuitBreakerConfig{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		SuccessThreshold: cfg.Breaker.SuccessThreshold,
		RecoveryTimeout:  cfg.Breaker.RecoveryTimeout,
		OnStateChange: func(from, to string) {
			metrics.CircuitState.WithLabelValues("backend").
				Set(observability.CircuitStateValue(to))
			logger.Warn("circuit breaker state change", "from", from, "to", to)
		},
	})

	return rt, nil
}

func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return config.Default(), nil
	}
	return config.Load(path)
}

// buildEngine assembles the policy engine from configuration. Command
// safety always applies; the allowlist, path guard, and schema policies are
// configuration-driven.
func buildEngine(cfg *config.Config) (*policy.Engine, error) {
	policies := []policy.Policy{&policy.CommandSafety{}}
	if len(cfg.Policy.AllowedTools) > 0 {
		policies = append(policies, &policy.ToolAllowlist{Allowed: cfg.Policy.AllowedTools})
	}
	if len(cfg.Policy.PathRoots) > 0 {
		policies = append(policies, &policy.PathGuard{Roots: cfg.Policy.PathRoots})
	}
	if len(cfg.Policy.ToolSchemas) > 0 {
		schemaPolicy, err := policy.NewSchemaPolicy(cfg.Policy.ToolSchemas)
		if err != nil {
			return nil, fmt.Errorf("tool schemas: %w", err)
		}
		policies = append(policies, schemaPolicy)
	}
	return policy.NewEngine(policies...), nil
}

func (r *runtime) retryPolicy() retry.Policy {
	return retry.Policy{
		MaxRetries:      r.cfg.Retry.MaxRetries,
		BaseDelay:       r.cfg.Retry.BaseDelay,
		MaxDelay:        r.cfg.Retry.MaxDelay,
		ExponentialBase: r.cfg.Retry.ExponentialBase,
		Jitter:          r.cfg.Retry.Jitter == nil || *r.cfg.Retry.Jitter,
	}
}

func (r *runtime) newSession(mode models.SessionMode, cfg models.SessionConfig, parentID string) (*models.Session, error) {
	session := &models.Session{
		ID:              uuid.NewString(),
		Status:          models.StatusCreated,
		Mode:            mode,
		ParentSessionID: parentID,
		Config:          cfg,
	}
	if err := r.store.Create(context.Background(), session); err != nil {
		return nil, err
	}
	return session, nil
}

func (r *runtime) deps() executor.Deps {
	return executor.Deps{
		Store:       r.store,
		Client:      r.client,
		Engine:      r.engine,
		AuditSink:   r.sink,
		Breaker:     r.breakers.Get("backend"),
		RetryPolicy: r.retryPolicy(),
		Broadcaster: r.fanout,
		Metrics:     r.metrics,
		Logger:      r.logger,
	}
}

// runRun executes one prompt in background mode and prints the result as a
// JSON document on stdout.
func runRun(ctx context.Context, opts runOptions) error {
	rt, err := buildRuntime(opts.configPath, opts.model)
	if err != nil {
		return err
	}
	defer rt.close()

	sessionCfg := models.SessionConfig{
		Model:          opts.model,
		TimeoutSeconds: opts.timeout,
		ForkCutoff:     opts.forkCutoff,
	}

	mode := models.ModeBackground
	if opts.parentID != "" {
		mode = models.ModeForked
	}
	session, err := rt.newSession(mode, sessionCfg, opts.parentID)
	if err != nil {
		return err
	}

	exec, err := executor.New(session, rt.deps())
	if err != nil {
		return err
	}

	var result *models.ExecutionResult
	switch e := exec.(type) {
	case executor.ResultExecutor:
		result, err = e.Execute(ctx, opts.prompt)
		if err != nil {
			return err
		}
	case executor.StreamExecutor:
		result, err = drainStream(ctx, e, session, opts.prompt)
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("executor for mode %s has no execution surface", session.Mode)
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	if !result.Success {
		return fmt.Errorf("execution failed: %s", result.ErrorMessage)
	}
	return nil
}

// drainStream consumes a stream executor to completion, collecting assistant
// content into a single result. Used when run is given a fork parent, since
// forked executors stream.
func drainStream(ctx context.Context, e executor.StreamExecutor, session *models.Session, prompt string) (*models.ExecutionResult, error) {
	stream, err := e.Execute(ctx, prompt)
	if err != nil {
		return models.FailedResult(err.Error(), session.Usage), nil
	}
	defer stream.Close()

	var parts []string
	for {
		msg, err := stream.Next(ctx)
		if errors.Is(err, executor.ErrStreamDone) {
			return models.SucceededResult(strings.Join(parts, "\n"), session.Usage), nil
		}
		if err != nil {
			return models.FailedResult(err.Error(), session.Usage), nil
		}
		parts = append(parts, msg.Content)
	}
}

// runChat drives an interactive session over stdin/stdout.
func runChat(ctx context.Context, opts chatOptions) error {
	rt, err := buildRuntime(opts.configPath, opts.model)
	if err != nil {
		return err
	}
	defer rt.close()

	session, err := rt.newSession(models.ModeInteractive, models.SessionConfig{
		Model:          opts.model,
		StreamPartials: opts.partials,
	}, "")
	if err != nil {
		return err
	}

	exec, err := executor.New(session, rt.deps())
	if err != nil {
		return err
	}
	streamer, ok := exec.(executor.StreamExecutor)
	if !ok {
		return fmt.Errorf("interactive executor has no stream surface")
	}

	if opts.partials {
		notifications, cancel := rt.fanout.Subscribe(64)
		defer cancel()
		go printPartials(notifications)
	}

	fmt.Printf("session %s (ctrl-d or \"exit\" to quit)\n", session.ID)
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		prompt := strings.TrimSpace(scanner.Text())
		if prompt == "" {
			continue
		}
		if prompt == "exit" || prompt == "quit" {
			break
		}
		if err := chatTurn(ctx, streamer, prompt); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			if session.Status.IsTerminal() {
				return err
			}
		}
	}

	usage, err := rt.client.Disconnect()
	if err != nil {
		rt.logger.Warn("disconnect error", "error", err)
	}
	fmt.Printf("total usage: %d in / %d out tokens, %d turns\n",
		usage.InputTokens, usage.OutputTokens, usage.Turns)
	return scanner.Err()
}

func chatTurn(ctx context.Context, streamer executor.StreamExecutor, prompt string) error {
	turnCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	stream, err := streamer.Execute(turnCtx, prompt)
	if err != nil {
		return err
	}
	defer stream.Close()

	for {
		msg, err := stream.Next(turnCtx)
		if errors.Is(err, executor.ErrStreamDone) {
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Println(msg.Content)
		for _, call := range msg.ToolCalls {
			fmt.Printf("  [tool %s]\n", call.Name)
		}
	}
}

func printPartials(notifications <-chan broadcast.Notification) {
	for n := range notifications {
		if n.Partial {
			fmt.Print(n.Text)
		}
	}
}
