package cell

import (
	"context"
	"fmt"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog/log"

	"github.com/pohlai88/lynx/pkg/protocol"
	"github.com/pohlai88/lynx/pkg/registry"
	"github.com/pohlai88/lynx/pkg/session"
	"github.com/pohlai88/lynx/pkg/store"
)

const paymentIDAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// Service holds the stores behind the cell tool handlers.
type Service struct {
	drafts      store.DraftStore
	executions  store.ExecutionStore
	settlements store.SettlementStore
}

// NewService creates the cell tool service.
func NewService(drafts store.DraftStore, executions store.ExecutionStore, settlements store.SettlementStore) *Service {
	return &Service{drafts: drafts, executions: executions, settlements: settlements}
}

// Register adds every cell tool to the registry.
func (s *Service) Register(reg *registry.Registry) {
	draftInput := map[string]interface{}{
		"type":     "object",
		"required": []interface{}{"draft_id"},
		"properties": map[string]interface{}{
			"draft_id":   map[string]interface{}{"type": "string"},
			"request_id": map[string]interface{}{"type": "string"},
		},
	}

	reg.MustRegister(registry.Tool{
		ID:          "docs.cell.draft.submit_for_approval",
		Name:        "Submit Document Draft for Approval",
		Description: "Moves a document draft into the approval queue. Only changes draft state, no production mutation.",
		Layer:       protocol.LayerCell,
		Risk:        protocol.RiskLow,
		Domain:      "docs",
		InputSchema: draftInput,
		Handler:     s.draftSubmitForApproval,
	})

	reg.MustRegister(registry.Tool{
		ID:          "workflow.cell.draft.publish",
		Name:        "Publish Workflow Draft",
		Description: "Publishes an approved workflow draft as a production workflow record.",
		Layer:       protocol.LayerCell,
		Risk:        protocol.RiskMedium,
		Domain:      "workflow",
		InputSchema: draftInput,
		Handler:     s.workflowDraftPublish,
	})

	reg.MustRegister(registry.Tool{
		ID:          "vpm.cell.payment.execute",
		Name:        "Execute Payment",
		Description: "Executes an approved payment draft: mints a payment id, queues a settlement intent, and marks the draft executed. Internal-only, no bank APIs.",
		Layer:       protocol.LayerCell,
		Risk:        protocol.RiskHigh,
		Domain:      "vpm",
		InputSchema: draftInput,
		Handler:     s.paymentExecute,
	})
}

// Submission is a pre-approval state change, so it runs its own status
// checks with per-state messages instead of the approved-drafts-only gate.
func (s *Service) draftSubmitForApproval(ctx context.Context, input map[string]interface{}, execCtx *session.ExecutionContext) (map[string]interface{}, error) {
	draftID, _ := input["draft_id"].(string)
	requestID, _ := input["request_id"].(string)

	draft, err := s.drafts.GetDraft(ctx, execCtx.TenantID, draftID)
	if err != nil {
		return nil, err
	}
	if draft == nil {
		return nil, &DraftNotFoundError{DraftID: draftID, TenantID: execCtx.TenantID}
	}
	switch draft.Status {
	case protocol.StatusCancelled:
		return nil, fmt.Errorf("draft %s is cancelled and cannot be submitted", draftID)
	case protocol.StatusSubmitted:
		return nil, fmt.Errorf("draft %s is already submitted", draftID)
	case protocol.StatusApproved:
		return nil, fmt.Errorf("draft %s is already approved", draftID)
	case protocol.StatusRejected:
		return nil, fmt.Errorf("draft %s is rejected and cannot be resubmitted without modification", draftID)
	case protocol.StatusPublished:
		return nil, fmt.Errorf("draft %s is already published", draftID)
	case protocol.StatusExecuted:
		return nil, fmt.Errorf("draft %s is already executed", draftID)
	}

	exec, err := startExecution(ctx, s.executions, execCtx, draftID, "docs.cell.draft.submit_for_approval", requestID, nil)
	if err != nil {
		return nil, err
	}

	updated, err := s.drafts.UpdateDraftStatus(ctx, execCtx.TenantID, draftID, protocol.StatusSubmitted)
	if err != nil {
		s.fail(ctx, execCtx.TenantID, exec.ExecutionID, err, nil)
		return nil, err
	}

	if _, err := s.executions.CompleteExecution(ctx, execCtx.TenantID, exec.ExecutionID, store.Completion{
		Status: protocol.ExecutionSucceeded,
		ResultPayload: map[string]interface{}{
			"draft_id":   draftID,
			"old_status": string(protocol.StatusDraft),
			"new_status": string(protocol.StatusSubmitted),
		},
	}); err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"execution_id": exec.ExecutionID,
		"draft_id":     draftID,
		"status":       string(updated.Status),
		"tenant_id":    execCtx.TenantID,
	}, nil
}

func (s *Service) workflowDraftPublish(ctx context.Context, input map[string]interface{}, execCtx *session.ExecutionContext) (map[string]interface{}, error) {
	const toolID = "workflow.cell.draft.publish"
	draftID, _ := input["draft_id"].(string)
	requestID, _ := input["request_id"].(string)

	draft, _, err := ValidateCellExecution(ctx, s.drafts, s.executions, draftID, execCtx, toolID, false)
	if err != nil {
		return nil, err
	}

	exec, err := startExecution(ctx, s.executions, execCtx, draftID, toolID, requestID, nil)
	if err != nil {
		return nil, err
	}

	workflowID := fmt.Sprintf("workflow-%.8s-%.8s", draft.DraftID, execCtx.TenantID)

	if _, err := s.drafts.UpdateDraftStatus(ctx, execCtx.TenantID, draftID, protocol.StatusPublished); err != nil {
		s.fail(ctx, execCtx.TenantID, exec.ExecutionID, err, nil)
		return nil, err
	}

	if _, err := s.executions.CompleteExecution(ctx, execCtx.TenantID, exec.ExecutionID, store.Completion{
		Status: protocol.ExecutionSucceeded,
		ResultPayload: map[string]interface{}{
			"draft_id":      draftID,
			"workflow_id":   workflowID,
			"old_status":    string(protocol.StatusApproved),
			"new_status":    string(protocol.StatusPublished),
			"workflow_kind": draft.Payload["workflow_kind"],
			"workflow_name": draft.Payload["name"],
		},
	}); err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"execution_id": exec.ExecutionID,
		"draft_id":     draftID,
		"workflow_id":  workflowID,
		"status":       string(protocol.StatusPublished),
		"tenant_id":    execCtx.TenantID,
	}, nil
}

func (s *Service) paymentExecute(ctx context.Context, input map[string]interface{}, execCtx *session.ExecutionContext) (map[string]interface{}, error) {
	const toolID = "vpm.cell.payment.execute"
	draftID, _ := input["draft_id"].(string)
	requestID, _ := input["request_id"].(string)

	draft, _, err := ValidateCellExecution(ctx, s.drafts, s.executions, draftID, execCtx, toolID, false)
	if err != nil {
		return nil, err
	}

	vendorSnapshot, _ := draft.Payload["vendor_snapshot"].(map[string]interface{})
	if status, _ := vendorSnapshot["status"].(string); status != "active" {
		return nil, fmt.Errorf("vendor %v is not active (status: %v), cannot execute payment",
			vendorSnapshot["vendor_id"], vendorSnapshot["status"])
	}
	readiness, _ := draft.Payload["execution_readiness"].(map[string]interface{})
	if active, _ := readiness["is_vendor_active"].(bool); !active {
		return nil, fmt.Errorf("vendor is not active according to execution readiness checklist")
	}

	exec, err := startExecution(ctx, s.executions, execCtx, draftID, toolID, requestID, draft.SourceContext)
	if err != nil {
		return nil, err
	}

	suffix, err := gonanoid.Generate(paymentIDAlphabet, 12)
	if err != nil {
		s.fail(ctx, execCtx.TenantID, exec.ExecutionID, err, nil)
		return nil, fmt.Errorf("failed to mint payment id: %w", err)
	}
	paymentID := "pay_" + suffix

	now := time.Now().UTC()
	intent := &protocol.SettlementIntent{
		PaymentID:        paymentID,
		SettlementStatus: protocol.SettlementQueued,
		Provider:         "none", // no bank integration
		TenantID:         execCtx.TenantID,
		CreatedAt:        now,
		UpdatedAt:        now,
		Metadata: map[string]interface{}{
			"draft_id":  draftID,
			"vendor_id": vendorSnapshot["vendor_id"],
			"amount":    draft.Payload["amount"],
			"currency":  draft.Payload["currency"],
		},
	}
	rollback := map[string]interface{}{
		"action":     "revert_payment_creation",
		"payment_id": paymentID,
	}

	if err := s.settlements.EnqueueIntent(ctx, intent); err != nil {
		s.fail(ctx, execCtx.TenantID, exec.ExecutionID, err, rollback)
		return nil, err
	}

	if _, err := s.drafts.UpdateDraftStatus(ctx, execCtx.TenantID, draftID, protocol.StatusExecuted); err != nil {
		s.fail(ctx, execCtx.TenantID, exec.ExecutionID, err, rollback)
		return nil, err
	}

	if _, err := s.executions.CompleteExecution(ctx, execCtx.TenantID, exec.ExecutionID, store.Completion{
		Status: protocol.ExecutionSucceeded,
		ResultPayload: map[string]interface{}{
			"draft_id":       draftID,
			"payment_id":     paymentID,
			"old_status":     string(protocol.StatusApproved),
			"new_status":     string(protocol.StatusExecuted),
			"payment_status": "pending_settlement",
			"vendor_id":      vendorSnapshot["vendor_id"],
			"amount":         draft.Payload["amount"],
			"currency":       draft.Payload["currency"],
		},
		RollbackInstructions: rollback,
	}); err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"execution_id": exec.ExecutionID,
		"draft_id":     draftID,
		"payment_id":   paymentID,
		"status":       "pending_settlement",
		"settlement_intent": map[string]interface{}{
			"payment_id":        intent.PaymentID,
			"settlement_status": string(intent.SettlementStatus),
			"provider":          intent.Provider,
		},
		"tenant_id": execCtx.TenantID,
	}, nil
}

// fail records a terminal failed write; the original error is what the
// caller sees, so a failure here is only logged.
func (s *Service) fail(ctx context.Context, tenantID, executionID string, cause error, rollback map[string]interface{}) {
	if _, err := s.executions.CompleteExecution(ctx, tenantID, executionID, store.Completion{
		Status:               protocol.ExecutionFailed,
		ErrorMessage:         cause.Error(),
		RollbackInstructions: rollback,
	}); err != nil {
		log.Warn().Err(err).Str("execution_id", executionID).Msg("Failed to record execution failure")
	}
}
