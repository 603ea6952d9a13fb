package observability

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// AuditLogger appends one JSON line per side effect the operator may need to review: tool
// executions, interrupt recoveries and session starts and ends.
type AuditLogger struct {
	mu  sync.Mutex
	out zerolog.Logger
	w   io.Closer
}

var (
	auditMu sync.RWMutex
	audit   = &AuditLogger{out: zerolog.Nop()}
)

// GetAuditLogger returns the process audit log. It discards events until InitAuditLogger
// succeeds.
func GetAuditLogger() *AuditLogger {
	auditMu.RLock()
	defer auditMu.RUnlock()
	return audit
}

// InitAuditLogger opens path for appending and makes it the process audit log.
func InitAuditLogger(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}

	next := &AuditLogger{out: zerolog.New(f).With().Timestamp().Logger(), w: f}
	auditMu.Lock()
	prev := audit
	audit = next
	auditMu.Unlock()
	return prev.Close()
}

// record writes one event. When ctx carries a recording span the event is also attached to
// it and the line gets the span's trace id.
func (a *AuditLogger) record(ctx context.Context, kind, session, action, status string, metadata map[string]interface{}) {
	var traceID string
	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		traceID = span.SpanContext().TraceID().String()
		span.AddEvent("audit."+kind, trace.WithAttributes(
			attribute.String("audit.action", action),
			attribute.String("audit.status", status),
		))
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	ev := a.out.Log().
		Str("type", kind).
		Str("session", session).
		Str("action", action).
		Str("status", status)
	if traceID != "" {
		ev = ev.Str("trace_id", traceID)
	}
	if len(metadata) > 0 {
		ev = ev.Fields(map[string]interface{}{"metadata": metadata})
	}
	ev.Send()
}

// Close closes the underlying file, if any. Later events are discarded.
func (a *AuditLogger) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.w == nil {
		return nil
	}
	err := a.w.Close()
	a.w = nil
	a.out = zerolog.Nop()
	return err
}

// RecordToolAudit logs one tool execution.
func RecordToolAudit(ctx context.Context, tool, session, status string, metadata map[string]interface{}) {
	GetAuditLogger().record(ctx, "tool", session, "execute:"+tool, status, metadata)
}

// RecordInterruptAudit logs the recovery action taken after an interrupt.
func RecordInterruptAudit(ctx context.Context, session, action string) {
	GetAuditLogger().record(ctx, "interrupt", session, action, "recovered", nil)
}

// RecordSessionAudit logs a session lifecycle change such as start or end.
func RecordSessionAudit(ctx context.Context, action, session string, metadata map[string]interface{}) {
	GetAuditLogger().record(ctx, "session", session, action, "success", metadata)
}
