// Package cell implements the execution tool layer, the only place
// production state is mutated. Every cell handler runs the execution gate
// first, creates a started execution record, performs its tenant-scoped
// mutation, and completes the record exactly once.
package cell

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pohlai88/lynx/pkg/protocol"
	"github.com/pohlai88/lynx/pkg/session"
	"github.com/pohlai88/lynx/pkg/store"
)

// DraftNotFoundError covers both a missing draft and a cross-tenant draft;
// callers cannot tell the two apart.
type DraftNotFoundError struct {
	DraftID  string
	TenantID string
}

func (e *DraftNotFoundError) Error() string {
	return fmt.Sprintf("draft %s not found or does not belong to tenant %s", e.DraftID, e.TenantID)
}

// DraftCancelledError reports execution of a cancelled draft.
type DraftCancelledError struct {
	DraftID string
}

func (e *DraftCancelledError) Error() string {
	return fmt.Sprintf("draft %s is cancelled and cannot be executed", e.DraftID)
}

// DraftAlreadyExecutedError reports a draft whose status shows it already
// ran, used when no succeeded execution record was found for this tool.
type DraftAlreadyExecutedError struct {
	DraftID string
	Status  protocol.DraftStatus
}

func (e *DraftAlreadyExecutedError) Error() string {
	return fmt.Sprintf("draft %s has already been executed (status: %s)", e.DraftID, e.Status)
}

// DraftNotApprovedError reports execution of a draft that has not reached
// approved status.
type DraftNotApprovedError struct {
	DraftID string
	Status  protocol.DraftStatus
}

func (e *DraftNotApprovedError) Error() string {
	return fmt.Sprintf("draft %s is not approved (status: %s)", e.DraftID, e.Status)
}

// BypassInfo records an authorized approval bypass for the audit trail.
type BypassInfo struct {
	Reason          string    `json:"bypass_reason"`
	AuthorizedBy    string    `json:"bypass_authorized_by"`
	Timestamp       time.Time `json:"bypass_timestamp"`
	PolicyReference string    `json:"bypass_policy_reference"`
}

// ValidateCellExecution is the gate every cell handler calls before doing
// anything else. It returns the draft when execution may proceed.
//
// The check order matters: the exactly-once lookup runs before the status
// checks because an already-executed draft has moved to published or
// executed, and "already executed (execution_id: ...)" is the actionable
// message there, not "wrong status". The status check after it is a safety
// net for records written by another code path.
func ValidateCellExecution(ctx context.Context, drafts store.DraftStore, executions store.ExecutionStore,
	draftID string, execCtx *session.ExecutionContext, toolID string, allowBypass bool) (*protocol.Draft, *BypassInfo, error) {

	draft, err := drafts.GetDraft(ctx, execCtx.TenantID, draftID)
	if err != nil {
		return nil, nil, err
	}
	if draft == nil {
		return nil, nil, &DraftNotFoundError{DraftID: draftID, TenantID: execCtx.TenantID}
	}

	if draft.Status == protocol.StatusCancelled {
		return nil, nil, &DraftCancelledError{DraftID: draftID}
	}

	prior, err := executions.SucceededExecution(ctx, execCtx.TenantID, draftID, toolID)
	if err != nil {
		return nil, nil, err
	}
	if prior != nil {
		return nil, nil, &store.AlreadyExecutedError{
			DraftID:     draftID,
			ToolID:      toolID,
			ExecutionID: prior.ExecutionID,
		}
	}

	if draft.Status == protocol.StatusPublished || draft.Status == protocol.StatusExecuted {
		return nil, nil, &DraftAlreadyExecutedError{DraftID: draftID, Status: draft.Status}
	}

	if draft.Status != protocol.StatusApproved {
		if allowBypass {
			return draft, &BypassInfo{
				Reason:          fmt.Sprintf("draft status is %s, policy allows bypass", draft.Status),
				AuthorizedBy:    execCtx.UserID,
				Timestamp:       time.Now().UTC(),
				PolicyReference: fmt.Sprintf("tool:%s:allow_bypass", toolID),
			}, nil
		}
		return nil, nil, &DraftNotApprovedError{DraftID: draftID, Status: draft.Status}
	}

	return draft, nil, nil
}

// startExecution creates a started execution record for one cell call.
func startExecution(ctx context.Context, executions store.ExecutionStore, execCtx *session.ExecutionContext,
	draftID, toolID, requestID string, sourceContext map[string]interface{}) (*protocol.ExecutionRecord, error) {

	rec := &protocol.ExecutionRecord{
		ExecutionID:   uuid.NewString(),
		DraftID:       draftID,
		ToolID:        toolID,
		TenantID:      execCtx.TenantID,
		ActorID:       execCtx.UserID,
		Status:        protocol.ExecutionStarted,
		CreatedAt:     time.Now().UTC(),
		RequestID:     requestID,
		SourceContext: sourceContext,
	}
	stored, _, err := executions.CreateExecution(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("failed to create execution record: %w", err)
	}
	return stored, nil
}
