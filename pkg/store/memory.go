package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pohlai88/lynx/pkg/protocol"
)

// MemoryStore is an in-memory Store used by tests and the dev daemon mode.
type MemoryStore struct {
	mu sync.RWMutex

	drafts     map[string]*protocol.Draft          // draft_id -> draft
	draftIdem  map[string]string                   // tenant|type|request_id -> draft_id
	executions map[string]*protocol.ExecutionRecord // execution_id -> record
	execIdem   map[string]string                   // tenant|request_id -> execution_id
	intents    map[string]*protocol.SettlementIntent

	draftOrder  []string
	execOrder   []string
	intentOrder []string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		drafts:     make(map[string]*protocol.Draft),
		draftIdem:  make(map[string]string),
		executions: make(map[string]*protocol.ExecutionRecord),
		execIdem:   make(map[string]string),
		intents:    make(map[string]*protocol.SettlementIntent),
	}
}

func idemKey(parts ...string) string {
	key := parts[0]
	for _, p := range parts[1:] {
		key += "\x1f" + p
	}
	return key
}

func copyDraft(d *protocol.Draft) *protocol.Draft {
	cp := *d
	return &cp
}

func copyExecution(r *protocol.ExecutionRecord) *protocol.ExecutionRecord {
	cp := *r
	if r.CompletedAt != nil {
		ts := *r.CompletedAt
		cp.CompletedAt = &ts
	}
	return &cp
}

// CreateDraft implements DraftStore.
func (s *MemoryStore) CreateDraft(_ context.Context, draft *protocol.Draft) (*protocol.Draft, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if draft.RequestID != "" {
		key := idemKey(draft.TenantID, draft.DraftType, draft.RequestID)
		if existingID, ok := s.draftIdem[key]; ok {
			return copyDraft(s.drafts[existingID]), false, nil
		}
	}
	if _, ok := s.drafts[draft.DraftID]; ok {
		return nil, false, fmt.Errorf("draft %s already exists", draft.DraftID)
	}

	stored := copyDraft(draft)
	s.drafts[stored.DraftID] = stored
	s.draftOrder = append(s.draftOrder, stored.DraftID)
	if stored.RequestID != "" {
		s.draftIdem[idemKey(stored.TenantID, stored.DraftType, stored.RequestID)] = stored.DraftID
	}
	return copyDraft(stored), true, nil
}

// GetDraft implements DraftStore.
func (s *MemoryStore) GetDraft(_ context.Context, tenantID, draftID string) (*protocol.Draft, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.drafts[draftID]
	if !ok || d.TenantID != tenantID {
		return nil, nil
	}
	return copyDraft(d), nil
}

// UpdateDraftStatus implements DraftStore.
func (s *MemoryStore) UpdateDraftStatus(_ context.Context, tenantID, draftID string, to protocol.DraftStatus) (*protocol.Draft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.drafts[draftID]
	if !ok || d.TenantID != tenantID {
		return nil, fmt.Errorf("draft %s not found", draftID)
	}
	next, err := protocol.Transition(d.Status, to)
	if err != nil {
		return nil, fmt.Errorf("draft %s: %s -> %s: %w", draftID, d.Status, to, err)
	}
	d.Status = next
	return copyDraft(d), nil
}

// ListDrafts implements DraftStore.
func (s *MemoryStore) ListDrafts(_ context.Context, tenantID string, filter DraftFilter) ([]*protocol.Draft, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*protocol.Draft
	for _, id := range s.draftOrder {
		d := s.drafts[id]
		if d.TenantID != tenantID {
			continue
		}
		if filter.Status != "" && d.Status != filter.Status {
			continue
		}
		if filter.DraftType != "" && d.DraftType != filter.DraftType {
			continue
		}
		out = append(out, copyDraft(d))
	}
	// Newest first, mirroring the sqlite ordering.
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// CreateExecution implements ExecutionStore.
func (s *MemoryStore) CreateExecution(_ context.Context, rec *protocol.ExecutionRecord) (*protocol.ExecutionRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.RequestID != "" {
		key := idemKey(rec.TenantID, rec.RequestID)
		if existingID, ok := s.execIdem[key]; ok {
			return copyExecution(s.executions[existingID]), false, nil
		}
	}
	if _, ok := s.executions[rec.ExecutionID]; ok {
		return nil, false, fmt.Errorf("execution %s already exists", rec.ExecutionID)
	}

	stored := copyExecution(rec)
	s.executions[stored.ExecutionID] = stored
	s.execOrder = append(s.execOrder, stored.ExecutionID)
	if stored.RequestID != "" {
		s.execIdem[idemKey(stored.TenantID, stored.RequestID)] = stored.ExecutionID
	}
	return copyExecution(stored), true, nil
}

// GetExecution implements ExecutionStore.
func (s *MemoryStore) GetExecution(_ context.Context, tenantID, executionID string) (*protocol.ExecutionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.executions[executionID]
	if !ok || r.TenantID != tenantID {
		return nil, nil
	}
	return copyExecution(r), nil
}

// SucceededExecution implements ExecutionStore.
func (s *MemoryStore) SucceededExecution(_ context.Context, tenantID, draftID, toolID string) (*protocol.ExecutionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, id := range s.execOrder {
		r := s.executions[id]
		if r.TenantID == tenantID && r.DraftID == draftID && r.ToolID == toolID && r.Status == protocol.ExecutionSucceeded {
			return copyExecution(r), nil
		}
	}
	return nil, nil
}

// CompleteExecution implements ExecutionStore.
func (s *MemoryStore) CompleteExecution(_ context.Context, tenantID, executionID string, c Completion) (*protocol.ExecutionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !c.Status.Terminal() {
		return nil, fmt.Errorf("execution %s: %q is not a terminal status", executionID, c.Status)
	}
	r, ok := s.executions[executionID]
	if !ok || r.TenantID != tenantID {
		return nil, fmt.Errorf("execution %s not found", executionID)
	}
	if r.Status != protocol.ExecutionStarted {
		return nil, fmt.Errorf("execution %s already completed with status %q", executionID, r.Status)
	}
	now := time.Now().UTC()
	r.Status = c.Status
	r.CompletedAt = &now
	r.ResultPayload = c.ResultPayload
	r.ErrorMessage = c.ErrorMessage
	r.RollbackInstructions = c.RollbackInstructions
	return copyExecution(r), nil
}

// ListExecutions implements ExecutionStore.
func (s *MemoryStore) ListExecutions(_ context.Context, tenantID string, filter ExecutionFilter) ([]*protocol.ExecutionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*protocol.ExecutionRecord
	for _, id := range s.execOrder {
		r := s.executions[id]
		if r.TenantID != tenantID {
			continue
		}
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		if filter.ToolID != "" && r.ToolID != filter.ToolID {
			continue
		}
		out = append(out, copyExecution(r))
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// EnqueueIntent implements SettlementStore.
func (s *MemoryStore) EnqueueIntent(_ context.Context, intent *protocol.SettlementIntent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.intents[intent.PaymentID]; ok {
		return fmt.Errorf("settlement intent for payment %s already exists", intent.PaymentID)
	}
	cp := *intent
	s.intents[cp.PaymentID] = &cp
	s.intentOrder = append(s.intentOrder, cp.PaymentID)
	return nil
}

// GetIntent implements SettlementStore.
func (s *MemoryStore) GetIntent(_ context.Context, tenantID, intentID string) (*protocol.SettlementIntent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	in, ok := s.intents[intentID]
	if !ok || in.TenantID != tenantID {
		return nil, nil
	}
	cp := *in
	return &cp, nil
}

// DequeueIntents implements SettlementStore.
func (s *MemoryStore) DequeueIntents(_ context.Context, limit int) ([]*protocol.SettlementIntent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = 10
	}
	var out []*protocol.SettlementIntent
	for _, id := range s.intentOrder {
		if len(out) >= limit {
			break
		}
		in := s.intents[id]
		if in.SettlementStatus != protocol.SettlementQueued {
			continue
		}
		in.SettlementStatus = protocol.SettlementProcessing
		in.UpdatedAt = time.Now().UTC()
		cp := *in
		out = append(out, &cp)
	}
	return out, nil
}

// ResolveIntent implements SettlementStore.
func (s *MemoryStore) ResolveIntent(_ context.Context, intentID string, status protocol.SettlementStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	in, ok := s.intents[intentID]
	if !ok {
		return fmt.Errorf("settlement intent %s not found", intentID)
	}
	in.SettlementStatus = status
	in.UpdatedAt = time.Now().UTC()
	return nil
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }
