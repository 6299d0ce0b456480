package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Session represents an authenticated, tenant-scoped session.
type Session struct {
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	TenantID  string    `json:"tenant_id"`
	UserRole  string    `json:"user_role"`
	UserScope []string  `json:"user_scope"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ExecutionContext is the per-call identity passed through the entire tool
// pipeline. It is constructed once per run and treated as read-only by
// handlers; only ExplicitApproval may be set afterwards, by approval flows.
type ExecutionContext struct {
	UserID    string   `json:"user_id"`
	TenantID  string   `json:"tenant_id"`
	UserRole  string   `json:"user_role"`
	UserScope []string `json:"user_scope"`

	SessionID string `json:"session_id"`
	RunID     string `json:"run_id"`

	// Populated from the kernel service when available.
	KernelMetadata map[string]interface{} `json:"kernel_metadata,omitempty"`

	// Nil means "not stated"; high-risk tools in production require true.
	ExplicitApproval *bool `json:"explicit_approval,omitempty"`
}

// HasScope reports whether the context carries the given scope.
func (c *ExecutionContext) HasScope(scope string) bool {
	for _, s := range c.UserScope {
		if s == scope {
			return true
		}
	}
	return false
}

// TenantIsolationError is raised when a caller references data outside its
// own tenant.
type TenantIsolationError struct {
	ContextTenant   string
	RequestedTenant string
}

func (e *TenantIsolationError) Error() string {
	return fmt.Sprintf("tenant isolation violation: tenant %s attempted to access tenant %s data",
		e.ContextTenant, e.RequestedTenant)
}

// EnforceTenantIsolation rejects any request that names a tenant other than
// the one the context was authenticated for.
func EnforceTenantIsolation(execCtx *ExecutionContext, requestedTenantID string) error {
	if execCtx.TenantID != requestedTenantID {
		return &TenantIsolationError{
			ContextTenant:   execCtx.TenantID,
			RequestedTenant: requestedTenantID,
		}
	}
	return nil
}

// Manager manages tenant-scoped sessions in memory.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	timeout  time.Duration
}

// NewManager creates a session manager. Sessions expire after the given
// timeout; zero means the 8 hour default.
func NewManager(timeout time.Duration) *Manager {
	if timeout <= 0 {
		timeout = 8 * time.Hour
	}
	return &Manager{
		sessions: make(map[string]*Session),
		timeout:  timeout,
	}
}

// CreateSession creates a new tenant-scoped session.
func (m *Manager) CreateSession(userID, tenantID, userRole string, userScope []string) *Session {
	now := time.Now()
	s := &Session{
		SessionID: uuid.NewString(),
		UserID:    userID,
		TenantID:  tenantID,
		UserRole:  userRole,
		UserScope: userScope,
		CreatedAt: now,
		ExpiresAt: now.Add(m.timeout),
	}

	m.mu.Lock()
	m.sessions[s.SessionID] = s
	m.mu.Unlock()

	log.Debug().
		Str("session_id", s.SessionID).
		Str("tenant_id", tenantID).
		Msg("Session created")

	return s
}

// GetSession returns the session if it exists and has not expired. Expired
// sessions are pruned on lookup.
func (m *Manager) GetSession(sessionID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return nil
	}
	if time.Now().After(s.ExpiresAt) {
		delete(m.sessions, sessionID)
		return nil
	}
	return s
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// NewExecutionContext builds the execution context for one run from an
// authenticated session. The run ID is always freshly generated.
func (m *Manager) NewExecutionContext(s *Session) *ExecutionContext {
	return &ExecutionContext{
		UserID:    s.UserID,
		TenantID:  s.TenantID,
		UserRole:  s.UserRole,
		UserScope: s.UserScope,
		SessionID: s.SessionID,
		RunID:     uuid.NewString(),
	}
}
