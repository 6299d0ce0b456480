package audit

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pohlai88/lynx/pkg/protocol"
	"github.com/pohlai88/lynx/pkg/registry"
	"github.com/pohlai88/lynx/pkg/session"
)

// RecordingSink captures events for assertions.
type RecordingSink struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (s *RecordingSink) Write(_ context.Context, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, ev)
	return nil
}

func (s *RecordingSink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

func testContext() *session.ExecutionContext {
	return &session.ExecutionContext{
		UserID:   "user-1",
		TenantID: "tenant-a",
		RunID:    "run-1",
	}
}

func paymentTool() *registry.Tool {
	return &registry.Tool{
		ID:     "vpm.cell.payment.execute",
		Layer:  protocol.LayerCell,
		Risk:   protocol.RiskHigh,
		Domain: "vpm",
	}
}

func TestLogger_ToolEvents(t *testing.T) {
	sink := &RecordingSink{}
	l := NewLogger(sink)
	ctx := context.Background()
	execCtx := testContext()
	tool := paymentTool()

	l.ExecutionStart(ctx, execCtx, tool, map[string]interface{}{"draft_id": "d1"})
	l.ExecutionSuccess(ctx, execCtx, tool, map[string]interface{}{"payment_id": "p1"})
	l.ExecutionFailure(ctx, execCtx, tool, errors.New("boom"))
	l.ExecutionWarning(ctx, execCtx, tool, "output validation failed")
	l.Refusal(ctx, execCtx, tool, "Insufficient permissions")

	events := sink.Events()
	require.Len(t, events, 5)

	assert.Equal(t, EventExecutionStart, events[0].Type)
	assert.Equal(t, "d1", events[0].Input["draft_id"])
	assert.Equal(t, EventExecutionSuccess, events[1].Type)
	assert.Equal(t, EventExecutionFailure, events[2].Type)
	assert.Equal(t, "boom", events[2].Error)
	assert.Equal(t, EventExecutionWarning, events[3].Type)
	assert.Equal(t, EventRefusal, events[4].Type)
	assert.Equal(t, "Insufficient permissions", events[4].Reason)

	for _, ev := range events {
		assert.Equal(t, "run-1", ev.RunID)
		assert.Equal(t, "tenant-a", ev.TenantID)
		assert.Equal(t, "user-1", ev.ActorID)
		assert.Equal(t, "vpm.cell.payment.execute", ev.ToolID)
		assert.Equal(t, protocol.RiskHigh, ev.RiskLevel)
		assert.False(t, ev.Timestamp.IsZero())
	}
}

func TestLogger_RunEvent(t *testing.T) {
	sink := &RecordingSink{}
	l := NewLogger(sink)

	l.Run(context.Background(), testContext(), "pay vendor X", "drafted a payment", "completed")

	events := sink.Events()
	require.Len(t, events, 1)
	assert.Equal(t, EventRun, events[0].Type)
	assert.Equal(t, "pay vendor X", events[0].Query)
	assert.Equal(t, "completed", events[0].Status)
	assert.Empty(t, events[0].ToolID)
}

func TestLogger_SinkFailureIsSwallowed(t *testing.T) {
	sink := &RecordingSink{err: errors.New("sink down")}
	l := NewLogger(sink)

	assert.NotPanics(t, func() {
		l.Refusal(context.Background(), testContext(), paymentTool(), "whatever")
	})
}

func TestLogger_NilSink(t *testing.T) {
	l := NewLogger(nil)

	assert.NotPanics(t, func() {
		l.ExecutionStart(context.Background(), testContext(), paymentTool(), nil)
	})
}

func TestSQLiteSink_WriteAndRead(t *testing.T) {
	sink, err := NewSQLiteSink(":memory:")
	require.NoError(t, err)
	defer sink.Close()

	l := NewLogger(sink)
	ctx := context.Background()

	l.Refusal(ctx, testContext(), paymentTool(), "Insufficient permissions")
	l.ExecutionSuccess(ctx, testContext(), paymentTool(), map[string]interface{}{"ok": true})

	events, err := sink.RecentEvents(ctx, "tenant-a", 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	// Newest first.
	assert.Equal(t, EventExecutionSuccess, events[0].Type)
	assert.Equal(t, EventRefusal, events[1].Type)

	// Tenant isolation on reads.
	other, err := sink.RecentEvents(ctx, "tenant-b", 10)
	require.NoError(t, err)
	assert.Empty(t, other)
}
