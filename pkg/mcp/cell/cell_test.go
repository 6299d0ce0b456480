package cell

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pohlai88/lynx/pkg/protocol"
	"github.com/pohlai88/lynx/pkg/registry"
	"github.com/pohlai88/lynx/pkg/session"
	"github.com/pohlai88/lynx/pkg/store"
)

func newFixture(t *testing.T) (*Service, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	svc := NewService(st, st, st)

	reg := registry.New()
	svc.Register(reg)
	require.Equal(t, 3, reg.Count())

	return svc, st
}

func cellContext(tenantID string) *session.ExecutionContext {
	return &session.ExecutionContext{
		UserID:   "user-1",
		TenantID: tenantID,
		UserRole: "admin",
		RunID:    "run-1",
	}
}

func seedDraft(t *testing.T, st *store.MemoryStore, tenantID, draftType string, status protocol.DraftStatus, payload map[string]interface{}) string {
	t.Helper()
	draft := &protocol.Draft{
		DraftID:   uuid.NewString(),
		TenantID:  tenantID,
		DraftType: draftType,
		Payload:   payload,
		Status:    protocol.StatusDraft,
		RiskLevel: protocol.RiskMedium,
		CreatedBy: "user-1",
		CreatedAt: time.Now().UTC(),
	}
	_, _, err := st.CreateDraft(context.Background(), draft)
	require.NoError(t, err)

	for _, step := range pathTo(status) {
		_, err := st.UpdateDraftStatus(context.Background(), tenantID, draft.DraftID, step)
		require.NoError(t, err)
	}
	return draft.DraftID
}

func pathTo(status protocol.DraftStatus) []protocol.DraftStatus {
	switch status {
	case protocol.StatusDraft:
		return nil
	case protocol.StatusSubmitted:
		return []protocol.DraftStatus{protocol.StatusSubmitted}
	case protocol.StatusApproved:
		return []protocol.DraftStatus{protocol.StatusSubmitted, protocol.StatusApproved}
	case protocol.StatusCancelled:
		return []protocol.DraftStatus{protocol.StatusCancelled}
	case protocol.StatusRejected:
		return []protocol.DraftStatus{protocol.StatusRejected}
	case protocol.StatusPublished:
		return []protocol.DraftStatus{protocol.StatusSubmitted, protocol.StatusApproved, protocol.StatusPublished}
	default:
		return []protocol.DraftStatus{protocol.StatusSubmitted, protocol.StatusApproved, protocol.StatusExecuted}
	}
}

func paymentPayload() map[string]interface{} {
	return map[string]interface{}{
		"vendor_id": "v-1",
		"vendor_snapshot": map[string]interface{}{
			"vendor_id":   "v-1",
			"vendor_name": "Acme Supplies",
			"status":      "active",
		},
		"amount":   500.0,
		"currency": "USD",
		"execution_readiness": map[string]interface{}{
			"is_vendor_active":        true,
			"amount_within_threshold": true,
			"requires_manual_review":  false,
		},
	}
}

func TestValidateCellExecution_Order(t *testing.T) {
	_, st := newFixture(t)
	ctx := context.Background()
	execCtx := cellContext("tenant-a")

	t.Run("missing draft", func(t *testing.T) {
		_, _, err := ValidateCellExecution(ctx, st, st, "nope", execCtx, "tool", false)
		var notFound *DraftNotFoundError
		require.ErrorAs(t, err, &notFound)
	})

	t.Run("cross-tenant draft looks missing", func(t *testing.T) {
		draftID := seedDraft(t, st, "tenant-b", "docs", protocol.StatusApproved, nil)
		_, _, err := ValidateCellExecution(ctx, st, st, draftID, execCtx, "tool", false)
		var notFound *DraftNotFoundError
		require.ErrorAs(t, err, &notFound)
	})

	t.Run("cancelled draft", func(t *testing.T) {
		draftID := seedDraft(t, st, "tenant-a", "docs", protocol.StatusCancelled, nil)
		_, _, err := ValidateCellExecution(ctx, st, st, draftID, execCtx, "tool", false)
		var cancelled *DraftCancelledError
		require.ErrorAs(t, err, &cancelled)
	})

	t.Run("not approved", func(t *testing.T) {
		draftID := seedDraft(t, st, "tenant-a", "docs", protocol.StatusSubmitted, nil)
		_, _, err := ValidateCellExecution(ctx, st, st, draftID, execCtx, "tool", false)
		var notApproved *DraftNotApprovedError
		require.ErrorAs(t, err, &notApproved)
		assert.Contains(t, err.Error(), "not approved (status: submitted)")
	})

	t.Run("bypass allows non-approved with audit trail", func(t *testing.T) {
		draftID := seedDraft(t, st, "tenant-a", "docs", protocol.StatusSubmitted, nil)
		draft, bypass, err := ValidateCellExecution(ctx, st, st, draftID, execCtx, "tool", true)
		require.NoError(t, err)
		require.NotNil(t, draft)
		require.NotNil(t, bypass)
		assert.Equal(t, "user-1", bypass.AuthorizedBy)
		assert.Contains(t, bypass.PolicyReference, "allow_bypass")
	})

	// The exactly-once message wins over the status message even though the
	// executed draft also has a disqualifying status.
	t.Run("already executed reports execution id", func(t *testing.T) {
		draftID := seedDraft(t, st, "tenant-a", "docs", protocol.StatusApproved, nil)
		rec := &protocol.ExecutionRecord{
			ExecutionID: uuid.NewString(),
			DraftID:     draftID,
			ToolID:      "tool",
			TenantID:    "tenant-a",
			ActorID:     "user-1",
			Status:      protocol.ExecutionStarted,
			CreatedAt:   time.Now().UTC(),
		}
		_, _, err := st.CreateExecution(ctx, rec)
		require.NoError(t, err)
		_, err = st.CompleteExecution(ctx, "tenant-a", rec.ExecutionID, store.Completion{Status: protocol.ExecutionSucceeded})
		require.NoError(t, err)
		_, err = st.UpdateDraftStatus(ctx, "tenant-a", draftID, protocol.StatusExecuted)
		require.NoError(t, err)

		_, _, err = ValidateCellExecution(ctx, st, st, draftID, execCtx, "tool", false)
		var already *store.AlreadyExecutedError
		require.ErrorAs(t, err, &already)
		assert.Equal(t, rec.ExecutionID, already.ExecutionID)
	})

	t.Run("published draft without execution record", func(t *testing.T) {
		draftID := seedDraft(t, st, "tenant-a", "docs", protocol.StatusPublished, nil)
		_, _, err := ValidateCellExecution(ctx, st, st, draftID, execCtx, "tool", false)
		var executed *DraftAlreadyExecutedError
		require.ErrorAs(t, err, &executed)
	})
}

func TestDraftSubmit_ThenResubmitFails(t *testing.T) {
	svc, st := newFixture(t)
	ctx := context.Background()
	execCtx := cellContext("tenant-a")
	draftID := seedDraft(t, st, "tenant-a", "docs", protocol.StatusDraft, map[string]interface{}{"title": "Doc"})

	out, err := svc.draftSubmitForApproval(ctx, map[string]interface{}{"draft_id": draftID}, execCtx)
	require.NoError(t, err)
	assert.Equal(t, "submitted", out["status"])
	assert.NotEmpty(t, out["execution_id"])

	_, err = svc.draftSubmitForApproval(ctx, map[string]interface{}{"draft_id": draftID}, execCtx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already submitted")
}

func TestDraftSubmit_StateSpecificMessages(t *testing.T) {
	svc, st := newFixture(t)
	ctx := context.Background()
	execCtx := cellContext("tenant-a")

	cases := []struct {
		status  protocol.DraftStatus
		message string
	}{
		{protocol.StatusCancelled, "cancelled"},
		{protocol.StatusApproved, "already approved"},
		{protocol.StatusRejected, "rejected"},
		{protocol.StatusPublished, "already published"},
		{protocol.StatusExecuted, "already executed"},
	}
	for _, tc := range cases {
		t.Run(string(tc.status), func(t *testing.T) {
			draftID := seedDraft(t, st, "tenant-a", "docs", tc.status, nil)
			_, err := svc.draftSubmitForApproval(ctx, map[string]interface{}{"draft_id": draftID}, execCtx)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.message)
		})
	}
}

func TestWorkflowPublish(t *testing.T) {
	svc, st := newFixture(t)
	ctx := context.Background()
	execCtx := cellContext("tenant-a")
	draftID := seedDraft(t, st, "tenant-a", "workflow", protocol.StatusApproved, map[string]interface{}{
		"workflow_kind": "onboarding",
		"name":          "Vendor onboarding",
	})

	out, err := svc.workflowDraftPublish(ctx, map[string]interface{}{"draft_id": draftID}, execCtx)
	require.NoError(t, err)
	assert.Equal(t, "published", out["status"])
	assert.True(t, strings.HasPrefix(out["workflow_id"].(string), "workflow-"))

	draft, err := st.GetDraft(ctx, "tenant-a", draftID)
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusPublished, draft.Status)
}

func TestPaymentExecute_RequiresApproval(t *testing.T) {
	svc, st := newFixture(t)
	ctx := context.Background()
	execCtx := cellContext("tenant-a")
	draftID := seedDraft(t, st, "tenant-a", "vpm_payment", protocol.StatusDraft, paymentPayload())

	// Not yet approved.
	_, err := svc.paymentExecute(ctx, map[string]interface{}{"draft_id": draftID}, execCtx)
	var notApproved *DraftNotApprovedError
	require.ErrorAs(t, err, &notApproved)

	// Approve and retry.
	_, err = st.UpdateDraftStatus(ctx, "tenant-a", draftID, protocol.StatusSubmitted)
	require.NoError(t, err)
	_, err = st.UpdateDraftStatus(ctx, "tenant-a", draftID, protocol.StatusApproved)
	require.NoError(t, err)

	out, err := svc.paymentExecute(ctx, map[string]interface{}{"draft_id": draftID}, execCtx)
	require.NoError(t, err)

	paymentID := out["payment_id"].(string)
	assert.True(t, strings.HasPrefix(paymentID, "pay_"))
	assert.Equal(t, "pending_settlement", out["status"])

	intent, err := st.GetIntent(ctx, "tenant-a", paymentID)
	require.NoError(t, err)
	require.NotNil(t, intent)
	assert.Equal(t, protocol.SettlementQueued, intent.SettlementStatus)
	assert.Equal(t, "none", intent.Provider)

	draft, err := st.GetDraft(ctx, "tenant-a", draftID)
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusExecuted, draft.Status)
}

func TestPaymentExecute_ExactlyOnce(t *testing.T) {
	svc, st := newFixture(t)
	ctx := context.Background()
	execCtx := cellContext("tenant-a")
	draftID := seedDraft(t, st, "tenant-a", "vpm_payment", protocol.StatusApproved, paymentPayload())

	first, err := svc.paymentExecute(ctx, map[string]interface{}{"draft_id": draftID}, execCtx)
	require.NoError(t, err)

	_, err = svc.paymentExecute(ctx, map[string]interface{}{"draft_id": draftID}, execCtx)
	var already *store.AlreadyExecutedError
	require.ErrorAs(t, err, &already)
	assert.Equal(t, first["execution_id"], already.ExecutionID)

	// No second settlement intent was queued.
	intents, err := st.DequeueIntents(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, intents, 1)
}

func TestPaymentExecute_InactiveVendorFails(t *testing.T) {
	svc, st := newFixture(t)
	ctx := context.Background()
	execCtx := cellContext("tenant-a")

	payload := paymentPayload()
	payload["vendor_snapshot"].(map[string]interface{})["status"] = "inactive"
	draftID := seedDraft(t, st, "tenant-a", "vpm_payment", protocol.StatusApproved, payload)

	_, err := svc.paymentExecute(ctx, map[string]interface{}{"draft_id": draftID}, execCtx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not active")

	// The draft was not consumed.
	draft, err := st.GetDraft(ctx, "tenant-a", draftID)
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusApproved, draft.Status)
}

func TestPaymentExecute_RecordsRollbackInstructions(t *testing.T) {
	svc, st := newFixture(t)
	ctx := context.Background()
	execCtx := cellContext("tenant-a")
	draftID := seedDraft(t, st, "tenant-a", "vpm_payment", protocol.StatusApproved, paymentPayload())

	_, err := svc.paymentExecute(ctx, map[string]interface{}{"draft_id": draftID}, execCtx)
	require.NoError(t, err)

	execs, err := st.ListExecutions(ctx, "tenant-a", store.ExecutionFilter{ToolID: "vpm.cell.payment.execute"})
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.Equal(t, protocol.ExecutionSucceeded, execs[0].Status)
	assert.Equal(t, "revert_payment_creation", execs[0].RollbackInstructions["action"])
}
