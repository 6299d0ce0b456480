package protocol

import "time"

// ExecutionStatus is the lifecycle state of a cell tool execution.
type ExecutionStatus string

const (
	ExecutionStarted   ExecutionStatus = "started"
	ExecutionSucceeded ExecutionStatus = "succeeded"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionDenied    ExecutionStatus = "denied"
)

// Valid reports whether s is one of the enumerated execution statuses.
func (s ExecutionStatus) Valid() bool {
	switch s {
	case ExecutionStarted, ExecutionSucceeded, ExecutionFailed, ExecutionDenied:
		return true
	}
	return false
}

// Terminal reports whether s is a final state. A record is completed exactly
// once: started -> succeeded|failed|denied, never a second terminal write.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionSucceeded || s == ExecutionFailed || s == ExecutionDenied
}

// ExecutionRecord tracks one cell tool invocation against one draft.
type ExecutionRecord struct {
	ExecutionID          string                 `json:"execution_id"`
	DraftID              string                 `json:"draft_id"`
	ToolID               string                 `json:"tool_id"`
	TenantID             string                 `json:"tenant_id"`
	ActorID              string                 `json:"actor_id"`
	Status               ExecutionStatus        `json:"status"`
	ResultPayload        map[string]interface{} `json:"result_payload"`
	CreatedAt            time.Time              `json:"created_at"`
	CompletedAt          *time.Time             `json:"completed_at,omitempty"`
	ErrorMessage         string                 `json:"error_message,omitempty"`
	RollbackInstructions map[string]interface{} `json:"rollback_instructions,omitempty"`
	RequestID            string                 `json:"request_id,omitempty"`
	SourceContext        map[string]interface{} `json:"source_context,omitempty"`
}
