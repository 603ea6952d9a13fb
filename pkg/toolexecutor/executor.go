package toolexecutor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"time"
	"unicode/utf8"

	"github.com/harun/goose/internal/observability"
	"github.com/harun/goose/internal/tracing"
	"github.com/harun/goose/pkg/message"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	DefaultTimeout        = 2 * time.Minute
	DefaultMaxOutputBytes = 32 * 1024
)

// Options configures an Executor.
type Options struct {
	// Timeout bounds each handler call. Zero means DefaultTimeout.
	Timeout time.Duration
	// MaxOutputBytes truncates handler output. Zero means DefaultMaxOutputBytes.
	MaxOutputBytes int
	// WorkingDir is exposed to handlers through the ExecutionContext.
	WorkingDir string
}

// Executor runs validated tool calls against the host.
type Executor struct {
	registry  *Registry
	timeout   time.Duration
	maxOutput int
	workDir   string
}

// New creates an executor over registry and seals the registry.
func New(registry *Registry, opts Options) *Executor {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxOutputBytes <= 0 {
		opts.MaxOutputBytes = DefaultMaxOutputBytes
	}
	registry.Seal()

	log.Debug().
		Int("tools", registry.Len()).
		Dur("timeout", opts.Timeout).
		Msg("Tool executor initialized")

	return &Executor{
		registry:  registry,
		timeout:   opts.Timeout,
		maxOutput: opts.MaxOutputBytes,
		workDir:   opts.WorkingDir,
	}
}

func (e *Executor) Registry() *Registry {
	return e.registry
}

// Execute runs one tool call and always returns a result for it. Failures of any kind
// come back as an error-flagged result carrying the diagnostic text.
func (e *Executor) Execute(ctx context.Context, use message.ToolUse) message.ToolResult {
	startTime := time.Now()
	ctx = tracing.WithToolUseID(ctx, use.ID)
	ctx, span := tracing.StartSpan(ctx, "tool.execute", attribute.String("tool.name", use.Name))
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, log.Logger).With().Str("tool", use.Name).Logger()

	output, err := e.run(ctx, use)
	duration := time.Since(startTime)
	kind := errorKind(err)

	observability.RecordToolExecution(use.Name, duration, kind)
	metadata := map[string]interface{}{"duration_ms": duration.Milliseconds()}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, kind)
		metadata["error_kind"] = kind
		observability.RecordToolAudit(ctx, use.Name, tracing.GetSession(ctx), "failure", metadata)

		logger.Warn().
			Dur("duration", duration).
			Str("kind", kind).
			Err(err).
			Msg("Tool execution failed")

		text := err.Error()
		if output != "" {
			text = output + "\n" + text
		}
		return message.ErrorResult(use.ID, e.truncate(text))
	}

	observability.RecordToolAudit(ctx, use.Name, tracing.GetSession(ctx), "success", metadata)
	logger.Debug().Dur("duration", duration).Msg("Tool execution completed")

	return message.ToolResult{ToolUseID: use.ID, Output: e.truncate(output)}
}

// run returns the rendered handler output and the failure, if any. Handlers that fail
// may still return output, such as a shell command's stdout before a non-zero exit.
func (e *Executor) run(ctx context.Context, use message.ToolUse) (string, error) {
	rt, err := e.registry.lookup(use.Name)
	if err != nil {
		return "", err
	}

	params, err := use.Params()
	if err != nil {
		return "", &InvalidParameterError{Tool: use.Name, Reason: err.Error()}
	}
	if err := rt.validate(params); err != nil {
		return "", err
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	timeoutCtx = ContextWithExecContext(timeoutCtx, &ExecutionContext{
		Session:    tracing.GetSession(ctx),
		ToolUseID:  use.ID,
		WorkingDir: e.workDir,
	})

	type outcome struct {
		result interface{}
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error().
					Str("tool", use.Name).
					Interface("panic", r).
					Bytes("stack", debug.Stack()).
					Msg("Tool handler panicked")
				done <- outcome{err: fmt.Errorf("tool panicked: %v", r)}
			}
		}()
		result, err := rt.def.Handler(timeoutCtx, params)
		done <- outcome{result: result, err: err}
	}()

	select {
	case out := <-done:
		rendered := render(out.result)
		if out.err != nil {
			if errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
				return rendered, &TimeoutError{Tool: use.Name, After: e.timeout}
			}
			return rendered, &ExecutionError{Tool: use.Name, Err: out.err}
		}
		return rendered, nil

	case <-timeoutCtx.Done():
		if ctx.Err() != nil {
			return "", &ExecutionError{Tool: use.Name, Err: fmt.Errorf("tool execution cancelled: %w", ctx.Err())}
		}
		return "", &TimeoutError{Tool: use.Name, After: e.timeout}
	}
}

func render(result interface{}) string {
	switch v := result.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case fmt.Stringer:
		return v.String()
	default:
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}

// truncate cuts output that exceeds the size limit
func (e *Executor) truncate(output string) string {
	if len(output) <= e.maxOutput {
		return output
	}

	log.Warn().
		Int("original", len(output)).
		Int("truncated", e.maxOutput).
		Msg("Output truncated")

	cut := e.maxOutput
	for cut > 0 && !utf8.RuneStart(output[cut]) {
		cut--
	}
	return output[:cut] + "\n... [output truncated]"
}
