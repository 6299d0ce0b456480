package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    DraftStatus
		to      DraftStatus
		allowed bool
	}{
		{"draft to submitted", StatusDraft, StatusSubmitted, true},
		{"draft to cancelled", StatusDraft, StatusCancelled, true},
		{"draft to rejected", StatusDraft, StatusRejected, true},
		{"draft to approved skips submission", StatusDraft, StatusApproved, false},
		{"submitted to approved", StatusSubmitted, StatusApproved, true},
		{"submitted to rejected", StatusSubmitted, StatusRejected, true},
		{"submitted to cancelled", StatusSubmitted, StatusCancelled, false},
		{"approved to published", StatusApproved, StatusPublished, true},
		{"approved to executed", StatusApproved, StatusExecuted, true},
		{"approved back to draft", StatusApproved, StatusDraft, false},
		{"executed is terminal", StatusExecuted, StatusPublished, false},
		{"rejected is terminal", StatusRejected, StatusSubmitted, false},
		{"cancelled is terminal", StatusCancelled, StatusDraft, false},
		{"published is terminal", StatusPublished, StatusExecuted, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, CanTransition(tt.from, tt.to))
		})
	}
}

func TestTransition_Invalid(t *testing.T) {
	got, err := Transition(StatusExecuted, StatusDraft)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, StatusExecuted, got, "status must be unchanged on invalid transition")
}

func TestDraftStatus_Terminal(t *testing.T) {
	assert.False(t, StatusDraft.Terminal())
	assert.False(t, StatusSubmitted.Terminal())
	assert.False(t, StatusApproved.Terminal())
	assert.True(t, StatusRejected.Terminal())
	assert.True(t, StatusCancelled.Terminal())
	assert.True(t, StatusPublished.Terminal())
	assert.True(t, StatusExecuted.Terminal())
}

func TestEnums_Valid(t *testing.T) {
	assert.True(t, RiskHigh.Valid())
	assert.False(t, RiskLevel("critical").Valid())
	assert.True(t, LayerCell.Valid())
	assert.False(t, Layer("edge").Valid())
	assert.True(t, ExecutionDenied.Valid())
	assert.False(t, ExecutionStatus("queued").Valid())
	assert.True(t, SettlementQueued.Valid())
	assert.False(t, SettlementStatus("settled").Valid())
}
