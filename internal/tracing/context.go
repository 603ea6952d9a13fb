package tracing

import (
	"context"

	"github.com/google/uuid"
)

// ContextKey is the type for context keys
type ContextKey string

const (
	// TraceIDKey is the context key for trace ID
	TraceIDKey ContextKey = "trace_id"
	// TurnIDKey is the context key for one operator turn
	TurnIDKey ContextKey = "turn_id"
	// SessionKey is the context key for the session name
	SessionKey ContextKey = "session"
	// ToolUseIDKey is the context key for the tool use being executed
	ToolUseIDKey ContextKey = "tool_use_id"
)

// TraceContext holds tracing information
type TraceContext struct {
	TraceID   string
	TurnID    string
	Session   string
	ToolUseID string
}

func NewTraceID() string {
	return uuid.New().String()
}

func NewTurnID() string {
	return "turn_" + uuid.New().String()
}

func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

func WithTurnID(ctx context.Context, turnID string) context.Context {
	return context.WithValue(ctx, TurnIDKey, turnID)
}

func WithSession(ctx context.Context, session string) context.Context {
	return context.WithValue(ctx, SessionKey, session)
}

func WithToolUseID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ToolUseIDKey, id)
}

func stringValue(ctx context.Context, key ContextKey) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

// GetTraceID retrieves the trace ID from the context
func GetTraceID(ctx context.Context) string { return stringValue(ctx, TraceIDKey) }

// GetTurnID retrieves the turn ID from the context
func GetTurnID(ctx context.Context) string { return stringValue(ctx, TurnIDKey) }

// GetSession retrieves the session name from the context
func GetSession(ctx context.Context) string { return stringValue(ctx, SessionKey) }

// GetToolUseID retrieves the tool use ID from the context
func GetToolUseID(ctx context.Context) string { return stringValue(ctx, ToolUseIDKey) }

// FromContext extracts all tracing information from the context
func FromContext(ctx context.Context) *TraceContext {
	return &TraceContext{
		TraceID:   GetTraceID(ctx),
		TurnID:    GetTurnID(ctx),
		Session:   GetSession(ctx),
		ToolUseID: GetToolUseID(ctx),
	}
}

// NewContext creates a new context with tracing information
func NewContext(ctx context.Context, tc *TraceContext) context.Context {
	if tc.TraceID != "" {
		ctx = WithTraceID(ctx, tc.TraceID)
	}
	if tc.TurnID != "" {
		ctx = WithTurnID(ctx, tc.TurnID)
	}
	if tc.Session != "" {
		ctx = WithSession(ctx, tc.Session)
	}
	if tc.ToolUseID != "" {
		ctx = WithToolUseID(ctx, tc.ToolUseID)
	}
	return ctx
}

// NewSessionContext tags ctx with the session name and a fresh trace ID.
func NewSessionContext(ctx context.Context, session string) context.Context {
	ctx = WithTraceID(ctx, NewTraceID())
	return WithSession(ctx, session)
}

// NewTurnContext starts a new operator turn, keeping the session and trace of ctx.
func NewTurnContext(ctx context.Context) context.Context {
	if GetTraceID(ctx) == "" {
		ctx = WithTraceID(ctx, NewTraceID())
	}
	return WithTurnID(ctx, NewTurnID())
}
