package observability

import (
	"context"
	"strings"

	"github.com/pohlai88/lynx/pkg/audit"
)

// MetricsSink decorates an audit sink, counting refusal and terminal
// events as they pass through. The wrapped sink's error is returned
// unchanged so the logger's degradation behavior is unaffected.
type MetricsSink struct {
	next audit.Sink
}

// NewMetricsSink wraps next with prometheus counting.
func NewMetricsSink(next audit.Sink) *MetricsSink {
	EnsureRegistered()
	return &MetricsSink{next: next}
}

func (s *MetricsSink) Write(ctx context.Context, ev audit.Event) error {
	switch ev.Type {
	case audit.EventRefusal:
		RecordRefusal(ev.ToolID, refusalReason(ev.Reason))
	case audit.EventExecutionSuccess:
		RecordExecutionStatus("succeeded")
	case audit.EventExecutionFailure:
		RecordExecutionStatus("failed")
	}
	if s.next == nil {
		return nil
	}
	return s.next.Write(ctx, ev)
}

// refusalReason buckets free-text refusal reasons into low-cardinality
// label values.
func refusalReason(reason string) string {
	switch {
	case strings.HasPrefix(reason, "Input validation failed"):
		return "input_validation"
	case reason == "Insufficient permissions":
		return "permission_denied"
	case strings.HasPrefix(reason, "Explicit approval required"):
		return "approval_required"
	default:
		return "other"
	}
}
