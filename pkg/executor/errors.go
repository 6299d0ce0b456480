package executor

import "fmt"

// InputValidationError reports input that failed the tool's input schema.
type InputValidationError struct {
	ToolID  string
	Details []string
}

func (e *InputValidationError) Error() string {
	return fmt.Sprintf("input validation failed for %s: %v", e.ToolID, e.Details)
}

// PermissionDeniedError reports a permission check failure. RequiredRole and
// RequiredScope carry the tool's requirements for operator diagnosis.
type PermissionDeniedError struct {
	ToolID        string
	Reason        string
	RequiredRole  []string
	RequiredScope []string
}

func (e *PermissionDeniedError) Error() string {
	return fmt.Sprintf("permission denied for %s: %s", e.ToolID, e.Reason)
}

// ApprovalRequiredError reports a high-risk call made in production mode
// without explicit approval.
type ApprovalRequiredError struct {
	ToolID string
}

func (e *ApprovalRequiredError) Error() string {
	return fmt.Sprintf("explicit approval required for high-risk tool %s in production mode", e.ToolID)
}
