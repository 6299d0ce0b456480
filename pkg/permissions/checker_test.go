package permissions

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pohlai88/lynx/pkg/protocol"
	"github.com/pohlai88/lynx/pkg/registry"
	"github.com/pohlai88/lynx/pkg/session"
)

type stubPolicy struct {
	decision PolicyDecision
	err      error
	calls    int
}

func (s *stubPolicy) CheckPermission(ctx context.Context, userID, action, resourceType string) (PolicyDecision, error) {
	s.calls++
	return s.decision, s.err
}

func adminTool() *registry.Tool {
	return &registry.Tool{
		ID:           "workflow.cell.draft.publish",
		Layer:        protocol.LayerCell,
		Risk:         protocol.RiskMedium,
		Domain:       "workflow",
		RequiredRole: []string{"admin"},
	}
}

func TestChecker_RoleDenied(t *testing.T) {
	c := NewChecker()
	execCtx := &session.ExecutionContext{UserID: "u1", UserRole: "user"}

	d := c.Check(context.Background(), adminTool(), execCtx)

	assert.False(t, d.Allowed)
	assert.Equal(t, SourceLocal, d.Source)
	assert.Contains(t, d.Reason, "role")
}

func TestChecker_ScopeDenied(t *testing.T) {
	c := NewChecker()
	tool := &registry.Tool{
		ID:            "vpm.cluster.payment.draft.create",
		Domain:        "vpm",
		RequiredScope: []string{"vpm:write"},
	}
	execCtx := &session.ExecutionContext{UserRole: "admin", UserScope: []string{"docs:read"}}

	d := c.Check(context.Background(), tool, execCtx)

	assert.False(t, d.Allowed)
	assert.Equal(t, SourceLocal, d.Source)
}

func TestChecker_ScopeIntersection(t *testing.T) {
	c := NewChecker()
	tool := &registry.Tool{
		ID:            "vpm.cluster.payment.draft.create",
		Domain:        "vpm",
		RequiredScope: []string{"vpm:write", "finance:write"},
	}
	execCtx := &session.ExecutionContext{UserScope: []string{"finance:write"}}

	d := c.Check(context.Background(), tool, execCtx)

	assert.True(t, d.Allowed, "any one matching scope is enough")
}

func TestChecker_EmptyRequirementsAllow(t *testing.T) {
	c := NewChecker()
	tool := &registry.Tool{ID: "system.domain.health.read", Domain: "system"}

	d := c.Check(context.Background(), tool, &session.ExecutionContext{UserRole: "user"})

	assert.True(t, d.Allowed)
	assert.Equal(t, SourceLocal, d.Source)
}

func TestChecker_RemoteDenyIsAuthoritative(t *testing.T) {
	policy := &stubPolicy{decision: PolicyDecision{Allowed: false, Reason: "tenant suspended"}}
	c := NewChecker(WithPolicyClient(policy))
	execCtx := &session.ExecutionContext{UserID: "u1", UserRole: "admin"}

	d := c.Check(context.Background(), adminTool(), execCtx)

	assert.False(t, d.Allowed)
	assert.Equal(t, SourceRemote, d.Source)
	assert.Equal(t, "tenant suspended", d.Reason)
}

func TestChecker_RemoteAllow(t *testing.T) {
	policy := &stubPolicy{decision: PolicyDecision{Allowed: true}}
	c := NewChecker(WithPolicyClient(policy))
	execCtx := &session.ExecutionContext{UserID: "u1", UserRole: "admin"}

	d := c.Check(context.Background(), adminTool(), execCtx)

	assert.True(t, d.Allowed)
	assert.Equal(t, SourceRemote, d.Source)
	assert.Equal(t, 1, policy.calls)
}

func TestChecker_RemoteUnavailableFallsBackToLocal(t *testing.T) {
	policy := &stubPolicy{err: errors.New("connection refused")}
	c := NewChecker(WithPolicyClient(policy))
	execCtx := &session.ExecutionContext{UserID: "u1", UserRole: "admin"}

	d := c.Check(context.Background(), adminTool(), execCtx)

	assert.True(t, d.Allowed, "local result stands when the policy service is down")
	assert.Equal(t, SourceRemoteUnavailable, d.Source)
}

func TestChecker_RemoteUnavailableFailClosed(t *testing.T) {
	policy := &stubPolicy{err: errors.New("connection refused")}
	c := NewChecker(WithPolicyClient(policy), WithFailClosed(true))
	execCtx := &session.ExecutionContext{UserID: "u1", UserRole: "admin"}

	d := c.Check(context.Background(), adminTool(), execCtx)

	assert.False(t, d.Allowed)
	assert.Equal(t, SourceRemoteUnavailable, d.Source)
}

func TestChecker_LocalDenySkipsRemote(t *testing.T) {
	policy := &stubPolicy{decision: PolicyDecision{Allowed: true}}
	c := NewChecker(WithPolicyClient(policy))
	execCtx := &session.ExecutionContext{UserID: "u1", UserRole: "user"}

	d := c.Check(context.Background(), adminTool(), execCtx)

	assert.False(t, d.Allowed)
	assert.Equal(t, 0, policy.calls, "remote service is never asked to rescue a local deny")
}
