// Package audit records every lifecycle event of the tool pipeline.
//
// The logger never returns an error to callers: losing an audit record is
// preferable to blocking or failing the guarded action, so sink failures
// degrade to a local warning log.
package audit

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/pohlai88/lynx/pkg/protocol"
	"github.com/pohlai88/lynx/pkg/registry"
	"github.com/pohlai88/lynx/pkg/session"
)

// EventType enumerates the recorded lifecycle events.
type EventType string

const (
	EventRun              EventType = "run"
	EventExecutionStart   EventType = "execution_start"
	EventExecutionSuccess EventType = "execution_success"
	EventExecutionFailure EventType = "execution_failure"
	EventExecutionWarning EventType = "execution_warning"
	EventRefusal          EventType = "refusal"
)

// Event is one audit record.
type Event struct {
	Type      EventType              `json:"event_type"`
	RunID     string                 `json:"run_id"`
	ToolID    string                 `json:"tool_id,omitempty"`
	TenantID  string                 `json:"tenant_id"`
	ActorID   string                 `json:"actor_id"`
	RiskLevel protocol.RiskLevel     `json:"risk_level,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Input     map[string]interface{} `json:"input,omitempty"`
	Output    map[string]interface{} `json:"output,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Reason    string                 `json:"reason,omitempty"`
	Query     string                 `json:"query,omitempty"`
	Response  string                 `json:"response,omitempty"`
	Status    string                 `json:"status,omitempty"`
	TraceID   string                 `json:"trace_id,omitempty"`
}

// Sink is an append-only write target for audit events.
type Sink interface {
	Write(ctx context.Context, ev Event) error
}

// Logger records audit events to a sink, best-effort.
type Logger struct {
	sink Sink
}

// NewLogger creates an audit logger over the given sink. A nil sink yields
// a logger that only emits local log lines.
func NewLogger(sink Sink) *Logger {
	return &Logger{sink: sink}
}

// Record writes one event. Sink failures are swallowed after a local
// warning; the caller's operation must proceed regardless.
func (l *Logger) Record(ctx context.Context, ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		ev.TraceID = span.SpanContext().TraceID().String()
		span.AddEvent(string(ev.Type), trace.WithAttributes(
			attribute.String("audit.tool_id", ev.ToolID),
			attribute.String("audit.tenant_id", ev.TenantID),
			attribute.String("audit.actor_id", ev.ActorID),
		))
	}

	if l.sink == nil {
		return
	}

	if err := l.sink.Write(ctx, ev); err != nil {
		log.Warn().
			Err(err).
			Str("event_type", string(ev.Type)).
			Str("tool_id", ev.ToolID).
			Str("run_id", ev.RunID).
			Msg("Audit write failed")
	}
}

// Run records a completed agent run.
func (l *Logger) Run(ctx context.Context, execCtx *session.ExecutionContext, query, response, status string) {
	l.Record(ctx, Event{
		Type:     EventRun,
		RunID:    execCtx.RunID,
		TenantID: execCtx.TenantID,
		ActorID:  execCtx.UserID,
		Query:    query,
		Response: response,
		Status:   status,
	})
}

// ExecutionStart records a tool invocation about to run, with its
// validated input.
func (l *Logger) ExecutionStart(ctx context.Context, execCtx *session.ExecutionContext, tool *registry.Tool, input map[string]interface{}) {
	l.Record(ctx, l.toolEvent(EventExecutionStart, execCtx, tool, Event{Input: input}))
}

// ExecutionSuccess records a completed tool invocation with its output.
func (l *Logger) ExecutionSuccess(ctx context.Context, execCtx *session.ExecutionContext, tool *registry.Tool, output map[string]interface{}) {
	l.Record(ctx, l.toolEvent(EventExecutionSuccess, execCtx, tool, Event{Output: output}))
}

// ExecutionFailure records a tool invocation that returned an error.
func (l *Logger) ExecutionFailure(ctx context.Context, execCtx *session.ExecutionContext, tool *registry.Tool, err error) {
	l.Record(ctx, l.toolEvent(EventExecutionFailure, execCtx, tool, Event{Error: err.Error()}))
}

// ExecutionWarning records a non-fatal anomaly, e.g. an output that failed
// schema coercion.
func (l *Logger) ExecutionWarning(ctx context.Context, execCtx *session.ExecutionContext, tool *registry.Tool, warning string) {
	l.Record(ctx, l.toolEvent(EventExecutionWarning, execCtx, tool, Event{Reason: warning}))
}

// Refusal records an action that was blocked before invocation.
func (l *Logger) Refusal(ctx context.Context, execCtx *session.ExecutionContext, tool *registry.Tool, reason string) {
	l.Record(ctx, l.toolEvent(EventRefusal, execCtx, tool, Event{Reason: reason}))
}

func (l *Logger) toolEvent(typ EventType, execCtx *session.ExecutionContext, tool *registry.Tool, base Event) Event {
	base.Type = typ
	base.RunID = execCtx.RunID
	base.ToolID = tool.ID
	base.TenantID = execCtx.TenantID
	base.ActorID = execCtx.UserID
	base.RiskLevel = tool.Risk
	return base
}
