package daemon

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pohlai88/lynx/internal/config"
	"github.com/pohlai88/lynx/internal/logger"
	"github.com/pohlai88/lynx/pkg/mcp/domain"
	"github.com/pohlai88/lynx/pkg/protocol"
	"github.com/pohlai88/lynx/pkg/session"
)

func newTestDaemon(t *testing.T, mutate func(*config.Config)) *Daemon {
	t.Helper()

	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.DataDir = dir
	cfg.Logging.File = filepath.Join(dir, "lynx.log")
	cfg.Logging.Console = false
	cfg.Storage.DatabasePath = filepath.Join(dir, "lynx.db")
	cfg.Storage.AuditPath = filepath.Join(dir, "audit.db")
	cfg.Settlement.Enabled = false
	if mutate != nil {
		mutate(cfg)
	}
	require.NoError(t, cfg.Validate())

	log, err := logger.New(logger.Config{Level: "error", File: cfg.Logging.File})
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })

	d, err := New(cfg, log)
	require.NoError(t, err)
	return d
}

func adminContext(d *Daemon) *session.ExecutionContext {
	mgr := d.GetSessionManager()
	sess := mgr.CreateSession("user-1", "tenant-1", "admin", []string{"payments:execute"})
	return mgr.NewExecutionContext(sess)
}

func TestNew_RegistersFullCatalog(t *testing.T) {
	d := newTestDaemon(t, nil)
	defer d.closeStorage()

	status := d.Status()
	assert.False(t, status.Running)
	assert.Equal(t, config.ModeDev, status.Mode)
	assert.Equal(t, 13, status.Tools)
	assert.False(t, status.ApprovalGate)
	assert.False(t, status.KernelEnabled)
	assert.False(t, status.AgentEnabled)

	for _, id := range []string{
		"vpm.domain.vendor.read",
		"vpm.cluster.payment.draft.create",
		"vpm.cell.payment.execute",
	} {
		_, err := d.GetRegistry().Get(id)
		assert.NoError(t, err, id)
	}
}

func TestStartStop(t *testing.T) {
	d := newTestDaemon(t, nil)

	require.NoError(t, d.Start())
	assert.True(t, d.Status().Running)
	assert.Error(t, d.Start(), "second start must be refused")

	require.NoError(t, d.Stop())
	assert.False(t, d.Status().Running)
	assert.Error(t, d.Stop(), "second stop must be refused")
}

func TestPaymentFlow_EndToEnd(t *testing.T) {
	d := newTestDaemon(t, nil)
	defer d.closeStorage()

	d.GetDirectory().AddVendor("tenant-1", domain.VendorProfile{
		VendorID:   "v-1",
		VendorName: "Acme Supplies",
		Status:     "active",
	})

	ctx := context.Background()
	execCtx := adminContext(d)

	// Cluster: create the payment draft. The amount is a native int; the
	// pipeline coerces it to the JSON number the handler stores.
	out, err := d.GetExecutor().Execute(ctx, "vpm.cluster.payment.draft.create", map[string]interface{}{
		"vendor_id": "v-1",
		"amount":    250,
		"due_date":  "2026-09-30",
	}, execCtx)
	require.NoError(t, err)
	draftID, _ := out["draft_id"].(string)
	require.NotEmpty(t, draftID)

	draft, err := d.GetStore().GetDraft(ctx, "tenant-1", draftID)
	require.NoError(t, err)
	require.NotNil(t, draft)
	assert.Equal(t, 250.0, draft.Payload["amount"])

	// Approval happens outside the tool surface.
	for _, status := range []protocol.DraftStatus{protocol.StatusSubmitted, protocol.StatusApproved} {
		_, err := d.GetStore().UpdateDraftStatus(ctx, "tenant-1", draftID, status)
		require.NoError(t, err)
	}

	// Cell: execute the approved draft.
	out, err = d.GetExecutor().Execute(ctx, "vpm.cell.payment.execute", map[string]interface{}{
		"draft_id": draftID,
	}, execCtx)
	require.NoError(t, err)

	paymentID, _ := out["payment_id"].(string)
	assert.True(t, strings.HasPrefix(paymentID, "pay_"))
	assert.Equal(t, "pending_settlement", out["status"])

	// Domain: the payment status read sees the queued intent.
	out, err = d.GetExecutor().Execute(ctx, "vpm.domain.payment.status.read", map[string]interface{}{
		"payment_id": paymentID,
	}, execCtx)
	require.NoError(t, err)
	assert.Equal(t, string(protocol.SettlementQueued), out["settlement_status"])

	// The audit trail recorded the run.
	events, err := d.auditSink.RecentEvents(ctx, "tenant-1", 50)
	require.NoError(t, err)
	assert.NotEmpty(t, events)
}

func TestProductionMode_GatesHighRisk(t *testing.T) {
	d := newTestDaemon(t, func(cfg *config.Config) {
		cfg.Mode = config.ModeProd
	})
	defer d.closeStorage()

	d.GetDirectory().AddVendor("tenant-1", domain.VendorProfile{
		VendorID: "v-1", VendorName: "Acme", Status: "active",
	})

	ctx := context.Background()
	execCtx := adminContext(d)

	out, err := d.GetExecutor().Execute(ctx, "vpm.cluster.payment.draft.create", map[string]interface{}{
		"vendor_id": "v-1",
		"amount":    250.0,
		"due_date":  "2026-09-30",
	}, execCtx)
	require.NoError(t, err, "cluster tools are medium risk and stay open")
	draftID, _ := out["draft_id"].(string)

	for _, status := range []protocol.DraftStatus{protocol.StatusSubmitted, protocol.StatusApproved} {
		_, err := d.GetStore().UpdateDraftStatus(ctx, "tenant-1", draftID, status)
		require.NoError(t, err)
	}

	// Without explicit approval the high-risk execute is refused.
	_, err = d.GetExecutor().Execute(ctx, "vpm.cell.payment.execute", map[string]interface{}{
		"draft_id": draftID,
	}, execCtx)
	require.Error(t, err)

	approved := true
	execCtx.ExplicitApproval = &approved
	out, err = d.GetExecutor().Execute(ctx, "vpm.cell.payment.execute", map[string]interface{}{
		"draft_id": draftID,
	}, execCtx)
	require.NoError(t, err)
	assert.Equal(t, "pending_settlement", out["status"])
}

func TestSettlementWorker_Configured(t *testing.T) {
	d := newTestDaemon(t, func(cfg *config.Config) {
		cfg.Settlement.Enabled = true
		cfg.Settlement.Schedule = "@every 1h"
	})
	defer d.closeStorage()

	require.NotNil(t, d.settlementWorker)
}
