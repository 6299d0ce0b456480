package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_CreateAndGetSession(t *testing.T) {
	m := NewManager(time.Hour)

	s := m.CreateSession("user-1", "tenant-a", "admin", []string{"vpm:write"})
	require.NotEmpty(t, s.SessionID)
	assert.Equal(t, "tenant-a", s.TenantID)

	got := m.GetSession(s.SessionID)
	require.NotNil(t, got)
	assert.Equal(t, s.SessionID, got.SessionID)
	assert.Equal(t, 1, m.Count())
}

func TestManager_ExpiredSessionPruned(t *testing.T) {
	m := NewManager(time.Millisecond)

	s := m.CreateSession("user-1", "tenant-a", "user", nil)
	time.Sleep(5 * time.Millisecond)

	assert.Nil(t, m.GetSession(s.SessionID))
	assert.Equal(t, 0, m.Count())
}

func TestManager_NewExecutionContext(t *testing.T) {
	m := NewManager(0)

	s := m.CreateSession("user-1", "tenant-a", "finance_manager", []string{"vpm:read"})
	ctx1 := m.NewExecutionContext(s)
	ctx2 := m.NewExecutionContext(s)

	assert.Equal(t, "tenant-a", ctx1.TenantID)
	assert.Equal(t, s.SessionID, ctx1.SessionID)
	assert.NotEmpty(t, ctx1.RunID)
	assert.NotEqual(t, ctx1.RunID, ctx2.RunID, "each run gets a fresh run id")
	assert.Nil(t, ctx1.ExplicitApproval)
}

func TestEnforceTenantIsolation(t *testing.T) {
	execCtx := &ExecutionContext{TenantID: "tenant-a"}

	assert.NoError(t, EnforceTenantIsolation(execCtx, "tenant-a"))

	err := EnforceTenantIsolation(execCtx, "tenant-b")
	require.Error(t, err)

	var isoErr *TenantIsolationError
	require.ErrorAs(t, err, &isoErr)
	assert.Equal(t, "tenant-a", isoErr.ContextTenant)
	assert.Equal(t, "tenant-b", isoErr.RequestedTenant)
}

func TestExecutionContext_HasScope(t *testing.T) {
	execCtx := &ExecutionContext{UserScope: []string{"docs:write", "vpm:read"}}

	assert.True(t, execCtx.HasScope("vpm:read"))
	assert.False(t, execCtx.HasScope("vpm:write"))
}
