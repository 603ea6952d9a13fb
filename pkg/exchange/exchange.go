package exchange

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/harun/goose/internal/observability"
	"github.com/harun/goose/internal/tracing"
	"github.com/harun/goose/pkg/message"
	"github.com/harun/goose/pkg/moderation"
	"github.com/harun/goose/pkg/provider"
	"github.com/harun/goose/pkg/toolexecutor"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Config holds Exchange configuration
type Config struct {
	Provider     provider.Provider
	Executor     *toolexecutor.Executor
	Model        string
	SystemPrompt string
	MaxTokens    int
	Temperature  float64
	// Timeout bounds each backend call. Zero means no deadline beyond the caller's context.
	Timeout time.Duration
	// Moderator shapes the history sent with each call. Nil sends it unchanged.
	Moderator moderation.Moderator
}

// Exchange is the single authority over one session's history and token usage.
type Exchange struct {
	provider provider.Provider
	executor *toolexecutor.Executor
	config   Config

	mu      sync.Mutex
	history []message.Message

	usageMu sync.Mutex
	usage   provider.Usage
}

// New creates an Exchange with an empty history.
func New(cfg Config) (*Exchange, error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if cfg.Executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	return &Exchange{
		provider: cfg.Provider,
		executor: cfg.Executor,
		config:   cfg,
	}, nil
}

// Tools returns the declared tool set in registry order.
func (e *Exchange) Tools() []toolexecutor.ToolDefinition {
	return e.executor.Registry().List()
}

// ProviderName reports the backend name for logs and metrics.
func (e *Exchange) ProviderName() string {
	return e.provider.Name()
}

// AddMessage validates msg and appends a copy of it. On failure nothing is appended.
func (e *Exchange) AddMessage(msg message.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := checkReferences(e.history, msg); err != nil {
		return err
	}
	e.history = append(e.history, msg.Clone())
	return nil
}

// Restore replaces an empty history with msgs, typically read back from a session log.
// Every message is checked as if it were added in order; on failure nothing changes.
func (e *Exchange) Restore(msgs []message.Message) error {
	restored := make([]message.Message, 0, len(msgs))
	for i, msg := range msgs {
		if err := msg.Validate(); err != nil {
			return fmt.Errorf("message %d: %w", i, err)
		}
		if err := checkReferences(restored, msg); err != nil {
			return fmt.Errorf("message %d: %w", i, err)
		}
		restored = append(restored, msg.Clone())
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.history) > 0 {
		return fmt.Errorf("cannot restore into a non-empty history")
	}
	e.history = restored
	return nil
}

// Generate sends the history and tools to the backend. On success the usage counter is
// incremented, the assistant reply is appended and a copy is returned. On failure the
// error is a *ProviderError and neither history nor usage changes.
func (e *Exchange) Generate(ctx context.Context, tools []toolexecutor.ToolDefinition) (message.Message, error) {
	startTime := time.Now()
	ctx, span := tracing.StartSpan(ctx, "exchange.generate",
		attribute.String("provider", e.provider.Name()),
		attribute.String("model", e.config.Model),
		attribute.Int("tools", len(tools)),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, log.Logger)

	history := e.HistorySnapshot()
	if e.config.Moderator != nil {
		history = e.config.Moderator.Moderate(history)
	}
	request := provider.Request{
		Model:        e.config.Model,
		SystemPrompt: e.config.SystemPrompt,
		History:      history,
		Tools:        tools,
		MaxTokens:    e.config.MaxTokens,
		Temperature:  e.config.Temperature,
	}

	callCtx := ctx
	if e.config.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, e.config.Timeout)
		defer cancel()
	}

	resp, err := e.provider.Generate(callCtx, request)
	if err == nil {
		err = checkResponse(resp)
	}
	duration := time.Since(startTime)

	if err != nil {
		if ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			err = &TimeoutError{After: e.config.Timeout, Err: err}
		}
		perr := &ProviderError{Provider: e.provider.Name(), Err: err}

		observability.RecordGenerate(e.provider.Name(), duration, 0, false)
		span.RecordError(perr)
		span.SetStatus(codes.Error, "generate failed")
		logger.Error().
			Err(err).
			Int("history", len(history)).
			Dur("duration", duration).
			Msg("Model call failed")
		return message.Message{}, perr
	}

	reply := resp.Message
	e.addUsage(resp.Usage)

	e.mu.Lock()
	e.history = append(e.history, reply.Clone())
	e.mu.Unlock()

	observability.RecordGenerate(e.provider.Name(), duration, resp.Usage.Total(), true)
	span.SetAttributes(
		attribute.Int64("tokens.input", resp.Usage.InputTokens),
		attribute.Int64("tokens.output", resp.Usage.OutputTokens),
	)
	logger.Debug().
		Int64("input_tokens", resp.Usage.InputTokens).
		Int64("output_tokens", resp.Usage.OutputTokens).
		Int("tool_uses", len(reply.ToolUses())).
		Dur("duration", duration).
		Msg("Model call completed")

	return reply.Clone(), nil
}

func (e *Exchange) addUsage(u provider.Usage) {
	e.usageMu.Lock()
	defer e.usageMu.Unlock()
	e.usage.InputTokens += u.InputTokens
	e.usage.OutputTokens += u.OutputTokens
}

// Rewind removes and returns the most recent message.
func (e *Exchange) Rewind() (message.Message, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.history) == 0 {
		return message.Message{}, ErrEmptyHistory
	}
	last := e.history[len(e.history)-1]
	e.history[len(e.history)-1] = message.Message{}
	e.history = e.history[:len(e.history)-1]
	return last, nil
}

// TokenUsage returns the accumulated usage.
func (e *Exchange) TokenUsage() provider.Usage {
	e.usageMu.Lock()
	defer e.usageMu.Unlock()
	return e.usage
}

// HistorySnapshot returns a deep copy of the history.
func (e *Exchange) HistorySnapshot() []message.Message {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]message.Message, len(e.history))
	for i, msg := range e.history {
		out[i] = msg.Clone()
	}
	return out
}

// Len returns the number of messages in history.
func (e *Exchange) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.history)
}

// Last returns a copy of the most recent message.
func (e *Exchange) Last() (message.Message, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.history) == 0 {
		return message.Message{}, false
	}
	return e.history[len(e.history)-1].Clone(), true
}

// DispatchTool runs one tool call. The result is not appended to history.
func (e *Exchange) DispatchTool(ctx context.Context, use message.ToolUse) message.ToolResult {
	return e.executor.Execute(ctx, use)
}

// checkReferences requires every tool result in msg to answer a tool use carried by an
// assistant message in history.
func checkReferences(history []message.Message, msg message.Message) error {
	results := msg.ToolResults()
	if len(results) == 0 {
		return nil
	}

	known := make(map[string]struct{})
	for _, h := range history {
		if h.Role != message.RoleAssistant {
			continue
		}
		for _, use := range h.ToolUses() {
			known[use.ID] = struct{}{}
		}
	}
	for _, result := range results {
		if _, ok := known[result.ToolUseID]; !ok {
			return &message.InvalidMessageError{
				Rule: fmt.Sprintf("tool result %s does not reference a tool use in history", result.ToolUseID),
			}
		}
	}
	return nil
}

func checkResponse(resp *provider.Response) error {
	if resp == nil {
		return fmt.Errorf("malformed response: empty")
	}
	if resp.Message.Role != message.RoleAssistant {
		return fmt.Errorf("malformed response: role %q", resp.Message.Role)
	}
	if err := resp.Message.Validate(); err != nil {
		return fmt.Errorf("malformed response: %w", err)
	}
	return nil
}
