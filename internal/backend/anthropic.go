package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/haasonsaas/sessiond/pkg/models"
)

const defaultAnthropicModel = "claude-sonnet-4-20250514"

// defaultMaxTokens bounds a single response when the session config does not
// say otherwise.
const defaultMaxTokens = 4096

// AnthropicConfig configures the Anthropic backend adapter.
type AnthropicConfig struct {
	// APIKey authenticates against the Anthropic API. Required.
	APIKey string

	// Model is the default model when the query does not specify one.
	Model string

	// MaxTokens limits response length. 0 uses the adapter default.
	MaxTokens int

	// BaseURL overrides the API endpoint, mainly for testing.
	BaseURL string
}

// AnthropicClient adapts the Anthropic streaming API to the Client contract.
// One AnthropicClient drives one session's conversation: it accumulates the
// message history across queries so multi-turn sessions keep their context.
type AnthropicClient struct {
	client anthropic.Client
	config AnthropicConfig

	mu        sync.Mutex
	connected bool
	streaming bool
	inflight  bool
	perm      PermissionFunc
	history   []anthropic.MessageParam
	usage     models.Usage
	events    chan Event
}

// NewAnthropicClient creates a backend client backed by the Anthropic API.
func NewAnthropicClient(config AnthropicConfig) (*AnthropicClient, error) {
	if strings.TrimSpace(config.APIKey) == "" {
		return nil, errors.New("anthropic: api key is required")
	}
	if config.Model == "" {
		config.Model = defaultAnthropicModel
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = defaultMaxTokens
	}

	opts := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}

	return &AnthropicClient{
		client: anthropic.NewClient(opts...),
		config: config,
	}, nil
}

// Connect marks the client ready. The Anthropic API is connectionless, so
// this only validates state; the first Query opens the actual stream.
func (c *AnthropicClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connected {
		return &ProtocolError{Message: "already connected"}
	}
	c.connected = true
	return nil
}

func (c *AnthropicClient) SetStreaming(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.streaming = enabled
}

func (c *AnthropicClient) SetPermissionFunc(fn PermissionFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.perm = fn
}

// Query sends a prompt and starts consuming the streaming response into the
// events channel. It returns once the stream is started; elements arrive
// through Events.
func (c *AnthropicClient) Query(ctx context.Context, prompt string) error {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return &ProtocolError{Message: "query before connect"}
	}
	if c.inflight {
		c.mu.Unlock()
		return &ProtocolError{Message: "query while a response is still streaming"}
	}
	// The user turn is staged, not committed: a retried Query must not
	// leave one duplicate turn in the history per failed attempt.
	userTurn := anthropic.NewUserMessage(anthropic.NewTextBlock(prompt))
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.config.Model),
		Messages:  append(append([]anthropic.MessageParam(nil), c.history...), userTurn),
		MaxTokens: int64(c.config.MaxTokens),
	}
	events := make(chan Event, 1)
	c.events = events
	c.inflight = true
	streaming := c.streaming
	perm := c.perm
	c.mu.Unlock()

	stream := c.client.Messages.NewStreaming(ctx, params)
	go c.consume(ctx, stream, events, streaming, perm, userTurn)
	return nil
}

// Events returns the element stream of the in-flight response.
func (c *AnthropicClient) Events() <-chan Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.events
}

// Disconnect tears down the client and returns the usage accumulated across
// all queries on this connection.
func (c *AnthropicClient) Disconnect() (models.Usage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	c.events = nil
	return c.usage, nil
}

// Replay seeds the conversation with prior turns before the first prompt.
// This is the replay-as-preamble mechanism forked sessions rely on.
func (c *AnthropicClient) Replay(ctx context.Context, history []*models.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.history) > 0 {
		return &ProtocolError{Message: "replay after conversation started"}
	}
	for _, msg := range history {
		switch msg.Role {
		case models.RoleUser:
			c.history = append(c.history, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		case models.RoleAssistant:
			c.history = append(c.history, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}
	return nil
}

type anthropicStream interface {
	Next() bool
	Current() anthropic.MessageStreamEventUnion
	Err() error
}

// consume translates Anthropic SSE events into backend events. Text deltas
// become partials, the accumulated message becomes one assistant element,
// and message_stop becomes the terminal result. Every delivery honors ctx
// so an abandoned consumer never wedges the producer; the staged user turn
// is committed to the history only on a terminal result.
func (c *AnthropicClient) consume(ctx context.Context, stream anthropicStream, events chan<- Event, streaming bool, perm PermissionFunc, userTurn anthropic.MessageParam) {
	defer close(events)
	defer c.finishQuery()

	start := time.Now()
	var text strings.Builder
	var toolCalls []models.ToolCall
	var currentTool *models.ToolCall
	var toolInput strings.Builder
	var usage models.Usage

	send := func(event Event) bool {
		select {
		case events <- event:
			return true
		case <-ctx.Done():
			return false
		}
	}
	fail := func(err error) {
		send(Event{Err: c.wrapError(err)})
	}

	for stream.Next() {
		event := stream.Current()

		switch event.Type {
		case "message_start":
			messageStart := event.AsMessageStart()
			usage.InputTokens = messageStart.Message.Usage.InputTokens

		case "content_block_start":
			contentBlockStart := event.AsContentBlockStart()
			if contentBlockStart.ContentBlock.Type == "tool_use" {
				toolUse := contentBlockStart.ContentBlock.AsToolUse()
				currentTool = &models.ToolCall{ID: toolUse.ID, Name: toolUse.Name}
				toolInput.Reset()
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text == "" {
					continue
				}
				text.WriteString(delta.Text)
				if streaming {
					if !send(Event{Type: EventPartial, Partial: delta.Text}) {
						return
					}
				}
			case "input_json_delta":
				toolInput.WriteString(delta.PartialJSON)
			}

		case "content_block_stop":
			if currentTool == nil {
				continue
			}
			currentTool.Input = json.RawMessage(toolInput.String())
			if perm != nil {
				decision := perm(ctx, currentTool.Name, currentTool.Input)
				if !decision.Allow {
					if decision.Interrupt {
						if send(Event{Type: EventResult, Result: &Result{
							Interrupted:  true,
							ErrorMessage: decision.Reason,
							Usage:        usage,
						}}) {
							c.recordUsage(usage)
						}
						return
					}
					text.WriteString(fmt.Sprintf("\n[tool %s denied: %s]", currentTool.Name, decision.Reason))
					currentTool = nil
					continue
				}
			}
			toolCalls = append(toolCalls, *currentTool)
			currentTool = nil

		case "message_delta":
			messageDelta := event.AsMessageDelta()
			if messageDelta.Usage.OutputTokens > 0 {
				usage.OutputTokens = messageDelta.Usage.OutputTokens
			}

		case "message_stop":
			usage.Turns = 1
			usage.DurationMs = time.Since(start).Milliseconds()
			content := text.String()
			c.commitTurn(userTurn, content)
			if !send(Event{Type: EventAssistant, Content: content, ToolCalls: toolCalls}) {
				return
			}
			if send(Event{Type: EventResult, Result: &Result{Payload: content, Usage: usage}}) {
				c.recordUsage(usage)
			}
			return

		case "error":
			fail(errors.New("anthropic stream error"))
			return
		}
	}

	if err := stream.Err(); err != nil {
		fail(err)
		return
	}
	fail(errors.New("stream ended without terminal message_stop"))
}

// commitTurn records a completed exchange in the conversation history. The
// user turn is withheld until here so failed or abandoned attempts leave the
// history untouched.
func (c *AnthropicClient) commitTurn(userTurn anthropic.MessageParam, content string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = append(c.history, userTurn)
	if content != "" {
		c.history = append(c.history, anthropic.NewAssistantMessage(anthropic.NewTextBlock(content)))
	}
}

func (c *AnthropicClient) recordUsage(usage models.Usage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.usage.Add(usage)
}

func (c *AnthropicClient) finishQuery() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inflight = false
}

// wrapError maps SDK and transport failures onto the transient/fatal split
// the retry layer depends on.
func (c *AnthropicClient) wrapError(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == 429 || apiErr.StatusCode >= 500 {
			return &ConnectionError{Op: "stream", Err: err}
		}
		return &ProtocolError{
			Code:    fmt.Sprintf("http_%d", apiErr.StatusCode),
			Message: apiErr.Error(),
			Err:     err,
		}
	}

	if hasTransientPattern(err.Error()) {
		return &ConnectionError{Op: "stream", Err: err}
	}
	return &ProtocolError{Message: err.Error(), Err: err}
}
