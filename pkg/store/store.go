// Package store persists drafts, execution records, and settlement intents.
// All lookups are tenant scoped: asking for another tenant's row behaves
// exactly like asking for a row that does not exist.
package store

import (
	"context"
	"fmt"

	"github.com/pohlai88/lynx/pkg/protocol"
)

// DraftFilter narrows List queries. Zero values mean "any".
type DraftFilter struct {
	Status    protocol.DraftStatus
	DraftType string
	Limit     int
}

// ExecutionFilter narrows execution listings.
type ExecutionFilter struct {
	Status protocol.ExecutionStatus
	ToolID string
	Limit  int
}

// AlreadyExecutedError reports a second execution attempt against a draft
// that already has a succeeded record for the same tool.
type AlreadyExecutedError struct {
	DraftID     string
	ToolID      string
	ExecutionID string
}

func (e *AlreadyExecutedError) Error() string {
	return fmt.Sprintf("draft %s already executed by %s (execution %s)", e.DraftID, e.ToolID, e.ExecutionID)
}

// DraftStore manages the draft lifecycle.
//
// CreateDraft is idempotent on (tenant, draft_type, request_id): when the
// draft carries a request id that was seen before, the previously stored
// draft is returned untouched and created reports false.
type DraftStore interface {
	CreateDraft(ctx context.Context, draft *protocol.Draft) (stored *protocol.Draft, created bool, err error)

	// GetDraft returns (nil, nil) when the draft does not exist or belongs
	// to another tenant.
	GetDraft(ctx context.Context, tenantID, draftID string) (*protocol.Draft, error)

	// UpdateDraftStatus transitions a draft, enforcing the lifecycle rules.
	// Illegal moves return protocol.ErrInvalidTransition (wrapped). Unlike
	// GetDraft, a missing draft is an error rather than (nil, nil); a
	// cross-tenant draft reports the same "not found" error as a missing
	// one, never that it exists elsewhere.
	UpdateDraftStatus(ctx context.Context, tenantID, draftID string, to protocol.DraftStatus) (*protocol.Draft, error)

	ListDrafts(ctx context.Context, tenantID string, filter DraftFilter) ([]*protocol.Draft, error)
}

// Completion is the terminal write merged into a started execution record.
type Completion struct {
	Status               protocol.ExecutionStatus
	ResultPayload        map[string]interface{}
	ErrorMessage         string
	RollbackInstructions map[string]interface{}
}

// ExecutionStore manages execution records and the exactly-once guarantee.
type ExecutionStore interface {
	// CreateExecution inserts a started record. When the record carries a
	// request id already seen for the tenant, the stored record is returned
	// and created reports false.
	CreateExecution(ctx context.Context, rec *protocol.ExecutionRecord) (stored *protocol.ExecutionRecord, created bool, err error)

	// GetExecution returns (nil, nil) on not-found or cross-tenant access.
	GetExecution(ctx context.Context, tenantID, executionID string) (*protocol.ExecutionRecord, error)

	// SucceededExecution returns the succeeded record for (draft, tool) if
	// one exists, else (nil, nil).
	SucceededExecution(ctx context.Context, tenantID, draftID, toolID string) (*protocol.ExecutionRecord, error)

	// CompleteExecution moves a started record to a terminal status, merging
	// in the completion payload. Calling it on a record that is already
	// terminal is an error.
	CompleteExecution(ctx context.Context, tenantID, executionID string, c Completion) (*protocol.ExecutionRecord, error)

	ListExecutions(ctx context.Context, tenantID string, filter ExecutionFilter) ([]*protocol.ExecutionRecord, error)
}

// SettlementStore queues settlement intents produced by payment executions.
type SettlementStore interface {
	EnqueueIntent(ctx context.Context, intent *protocol.SettlementIntent) error
	GetIntent(ctx context.Context, tenantID, intentID string) (*protocol.SettlementIntent, error)
	// DequeueIntents claims up to limit queued intents, marking them
	// processing. Used by the settlement worker.
	DequeueIntents(ctx context.Context, limit int) ([]*protocol.SettlementIntent, error)
	ResolveIntent(ctx context.Context, intentID string, status protocol.SettlementStatus) error
}

// Store combines the three stores behind one handle.
type Store interface {
	DraftStore
	ExecutionStore
	SettlementStore
	Close() error
}
