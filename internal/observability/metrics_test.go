package observability

import (
	"context"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pohlai88/lynx/pkg/audit"
)

func scrape(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(MetricsHandler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func TestRecordersAppearInExposition(t *testing.T) {
	RecordToolExecution("vpm.cell.payment.execute", "succeeded", 42*time.Millisecond)
	RecordDraftCreated("vendor_payment")
	RecordSettlementSweep("none", "completed")
	RecordAgentRun("anthropic", time.Second, true)

	body := scrape(t)
	assert.Contains(t, body, `tool_execution_total{outcome="succeeded",tool="vpm.cell.payment.execute"}`)
	assert.Contains(t, body, `draft_created_total{draft_type="vendor_payment"}`)
	assert.Contains(t, body, `settlement_sweep_total{outcome="completed",provider="none"}`)
	assert.Contains(t, body, `agent_run_total{provider="anthropic",status="success"}`)
}

type captureSink struct {
	events []audit.Event
}

func (s *captureSink) Write(_ context.Context, ev audit.Event) error {
	s.events = append(s.events, ev)
	return nil
}

func TestMetricsSink_PassesThrough(t *testing.T) {
	inner := &captureSink{}
	sink := NewMetricsSink(inner)

	ev := audit.Event{
		Type:     audit.EventRefusal,
		ToolID:   "vpm.cell.payment.execute",
		TenantID: "tenant-1",
		Reason:   "Insufficient permissions",
	}
	require.NoError(t, sink.Write(context.Background(), ev))
	require.Len(t, inner.events, 1)
	assert.Equal(t, audit.EventRefusal, inner.events[0].Type)

	body := scrape(t)
	assert.Contains(t, body, `tool_refusal_total{reason="permission_denied",tool="vpm.cell.payment.execute"}`)
}

func TestMetricsSink_NilNext(t *testing.T) {
	sink := NewMetricsSink(nil)
	assert.NoError(t, sink.Write(context.Background(), audit.Event{Type: audit.EventExecutionSuccess}))
}

func TestRefusalReason(t *testing.T) {
	tests := []struct {
		reason string
		want   string
	}{
		{"Input validation failed: amount is required", "input_validation"},
		{"Insufficient permissions", "permission_denied"},
		{"Explicit approval required for high-risk action in production mode", "approval_required"},
		{"something else entirely", "other"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, refusalReason(tt.reason), tt.reason)
	}
}
