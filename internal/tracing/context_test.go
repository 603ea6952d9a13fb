package tracing

import (
	"context"
	"strings"
	"testing"
)

func TestNewTraceID(t *testing.T) {
	id1 := NewTraceID()
	id2 := NewTraceID()

	if id1 == "" {
		t.Error("NewTraceID returned empty string")
	}

	if id1 == id2 {
		t.Error("NewTraceID returned duplicate IDs")
	}
}

func TestNewTurnID(t *testing.T) {
	id := NewTurnID()
	if !strings.HasPrefix(id, "turn_") {
		t.Errorf("Expected turn_ prefix, got %s", id)
	}
	if id == NewTurnID() {
		t.Error("NewTurnID returned duplicate IDs")
	}
}

func TestContextRoundTrip(t *testing.T) {
	ctx := context.Background()
	ctx = WithTraceID(ctx, "trace-1")
	ctx = WithTurnID(ctx, "turn-1")
	ctx = WithSession(ctx, "a1b2")
	ctx = WithToolUseID(ctx, "call_1")

	tc := FromContext(ctx)
	if tc.TraceID != "trace-1" || tc.TurnID != "turn-1" || tc.Session != "a1b2" || tc.ToolUseID != "call_1" {
		t.Errorf("Unexpected trace context: %+v", tc)
	}
}

func TestGettersOnEmptyContext(t *testing.T) {
	ctx := context.Background()

	if GetTraceID(ctx) != "" || GetTurnID(ctx) != "" || GetSession(ctx) != "" || GetToolUseID(ctx) != "" {
		t.Error("Expected empty values from empty context")
	}
}

func TestNewContextSkipsEmptyFields(t *testing.T) {
	ctx := NewContext(context.Background(), &TraceContext{Session: "x9y8"})

	if GetSession(ctx) != "x9y8" {
		t.Error("Session not set")
	}
	if GetTraceID(ctx) != "" {
		t.Error("Trace ID should stay empty")
	}
}

func TestNewTurnContext(t *testing.T) {
	sessionCtx := NewSessionContext(context.Background(), "a1b2")
	traceID := GetTraceID(sessionCtx)
	if traceID == "" {
		t.Fatal("Session context has no trace ID")
	}

	first := NewTurnContext(sessionCtx)
	second := NewTurnContext(sessionCtx)

	if GetTraceID(first) != traceID {
		t.Error("Turn context should keep the session trace ID")
	}
	if GetSession(first) != "a1b2" {
		t.Error("Turn context should keep the session")
	}
	if GetTurnID(first) == "" || GetTurnID(first) == GetTurnID(second) {
		t.Error("Each turn should get a distinct turn ID")
	}
}

func TestStartSpanSetsTraceID(t *testing.T) {
	if err := InitOpenTelemetry("goose-test", "0.0.0"); err != nil {
		t.Fatalf("InitOpenTelemetry failed: %v", err)
	}
	t.Cleanup(func() { _ = ShutdownOpenTelemetry(context.Background()) })

	ctx, span := StartSpan(context.Background(), "test.span")
	defer span.End()

	if GetTraceID(ctx) == "" {
		t.Error("Expected trace ID from span context")
	}
}

func TestStartSpanKeepsExistingTraceID(t *testing.T) {
	ctx := WithTraceID(context.Background(), "trace-fixed")
	ctx, span := StartSpan(ctx, "test.span")
	defer span.End()

	if got := GetTraceID(ctx); got != "trace-fixed" {
		t.Errorf("trace id = %q, want trace-fixed", got)
	}
}
