package protocol

import (
	"errors"
	"time"
)

// DraftStatus is the lifecycle state of a draft.
type DraftStatus string

const (
	StatusDraft     DraftStatus = "draft"
	StatusSubmitted DraftStatus = "submitted"
	StatusApproved  DraftStatus = "approved"
	StatusRejected  DraftStatus = "rejected"
	StatusCancelled DraftStatus = "cancelled"
	StatusPublished DraftStatus = "published"
	StatusExecuted  DraftStatus = "executed"
)

// ErrInvalidTransition is returned when a status update would move a draft
// backward or out of a terminal state.
var ErrInvalidTransition = errors.New("invalid draft status transition")

// Valid reports whether s is one of the enumerated draft statuses.
func (s DraftStatus) Valid() bool {
	switch s {
	case StatusDraft, StatusSubmitted, StatusApproved, StatusRejected,
		StatusCancelled, StatusPublished, StatusExecuted:
		return true
	}
	return false
}

// Terminal reports whether s is an absorbing state.
func (s DraftStatus) Terminal() bool {
	switch s {
	case StatusRejected, StatusCancelled, StatusPublished, StatusExecuted:
		return true
	}
	return false
}

// CanTransition reports whether a draft may move from one status to another.
// Transitions are monotonic: draft -> submitted -> approved -> published or
// executed, with rejected and cancelled as side exits.
func CanTransition(from, to DraftStatus) bool {
	switch from {
	case StatusDraft:
		return to == StatusSubmitted || to == StatusRejected || to == StatusCancelled
	case StatusSubmitted:
		return to == StatusApproved || to == StatusRejected
	case StatusApproved:
		return to == StatusPublished || to == StatusExecuted
	default:
		return false
	}
}

// Transition returns the new status, or ErrInvalidTransition if the move is
// not permitted by the state machine.
func Transition(from, to DraftStatus) (DraftStatus, error) {
	if !CanTransition(from, to) {
		return from, ErrInvalidTransition
	}
	return to, nil
}

// RiskLevel classifies how dangerous an action is.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Valid reports whether r is one of the enumerated risk levels.
func (r RiskLevel) Valid() bool {
	return r == RiskLow || r == RiskMedium || r == RiskHigh
}

// Layer identifies which of the three tool layers a tool belongs to.
type Layer string

const (
	LayerDomain  Layer = "domain"  // read-only advisory tools
	LayerCluster Layer = "cluster" // draft-creating tools
	LayerCell    Layer = "cell"    // execution tools, approved drafts only
)

// Valid reports whether l is one of the enumerated layers.
func (l Layer) Valid() bool {
	return l == LayerDomain || l == LayerCluster || l == LayerCell
}

// Draft is a proposed, not-yet-executed action awaiting approval.
//
// Apart from Status, a draft never changes after creation: retried creation
// calls with the same (tenant, request_id) return the original record
// unchanged rather than re-applying the new payload.
type Draft struct {
	DraftID              string                 `json:"draft_id"`
	TenantID             string                 `json:"tenant_id"`
	DraftType            string                 `json:"draft_type"`
	Payload              map[string]interface{} `json:"payload"`
	Status               DraftStatus            `json:"status"`
	RiskLevel            RiskLevel              `json:"risk_level"`
	CreatedBy            string                 `json:"created_by"`
	CreatedAt            time.Time              `json:"created_at"`
	SourceContext        map[string]interface{} `json:"source_context"`
	RecommendedApprovers []string               `json:"recommended_approvers"`
	RequestID            string                 `json:"request_id,omitempty"`
}
