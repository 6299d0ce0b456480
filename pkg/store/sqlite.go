package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/pohlai88/lynx/pkg/protocol"
)

// SQLiteStore persists drafts, executions, and settlement intents to a
// single sqlite database. Idempotency and exactly-once execution are
// enforced by partial unique indexes so the guarantees hold across
// concurrent writers, not just within one process.
type SQLiteStore struct {
	db *sql.DB
}

const schema = `
	CREATE TABLE IF NOT EXISTS drafts (
		draft_id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		draft_type TEXT NOT NULL,
		payload TEXT NOT NULL,
		status TEXT NOT NULL,
		risk_level TEXT NOT NULL,
		created_by TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		source_context TEXT,
		recommended_approvers TEXT,
		request_id TEXT
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_drafts_request
		ON drafts(tenant_id, draft_type, request_id) WHERE request_id IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_drafts_tenant_status ON drafts(tenant_id, status);

	CREATE TABLE IF NOT EXISTS executions (
		execution_id TEXT PRIMARY KEY,
		draft_id TEXT NOT NULL,
		tool_id TEXT NOT NULL,
		tenant_id TEXT NOT NULL,
		actor_id TEXT NOT NULL,
		status TEXT NOT NULL,
		result_payload TEXT,
		created_at TIMESTAMP NOT NULL,
		completed_at TIMESTAMP,
		error_message TEXT,
		rollback_instructions TEXT,
		request_id TEXT,
		source_context TEXT
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_executions_request
		ON executions(tenant_id, request_id) WHERE request_id IS NOT NULL;
	CREATE UNIQUE INDEX IF NOT EXISTS idx_executions_succeeded
		ON executions(tenant_id, draft_id, tool_id) WHERE status = 'succeeded';
	CREATE INDEX IF NOT EXISTS idx_executions_tenant_draft ON executions(tenant_id, draft_id);

	CREATE TABLE IF NOT EXISTS settlement_intents (
		payment_id TEXT PRIMARY KEY,
		settlement_status TEXT NOT NULL,
		provider TEXT NOT NULL,
		tenant_id TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		metadata TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_intents_status ON settlement_intents(settlement_status);
`

// NewSQLiteStore opens (or creates) the database at path and applies the
// schema. WAL mode keeps readers from blocking the writer.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func marshalJSON(v interface{}) string {
	if v == nil {
		return ""
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// CreateDraft implements DraftStore. A request id collision returns the
// originally stored draft so retried creations are no-ops.
func (s *SQLiteStore) CreateDraft(ctx context.Context, draft *protocol.Draft) (*protocol.Draft, bool, error) {
	if draft.RequestID != "" {
		existing, err := s.draftByRequestID(ctx, draft.TenantID, draft.DraftType, draft.RequestID)
		if err != nil {
			return nil, false, err
		}
		if existing != nil {
			return existing, false, nil
		}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO drafts (draft_id, tenant_id, draft_type, payload, status, risk_level, created_by, created_at, source_context, recommended_approvers, request_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		draft.DraftID, draft.TenantID, draft.DraftType,
		marshalJSON(draft.Payload), string(draft.Status), string(draft.RiskLevel),
		draft.CreatedBy, draft.CreatedAt.UTC().Format(time.RFC3339Nano),
		marshalJSON(draft.SourceContext), marshalJSON(draft.RecommendedApprovers),
		nullable(draft.RequestID),
	)
	if err != nil {
		// A concurrent writer may have claimed the request id between the
		// lookup and the insert. The index makes that race safe.
		if isUniqueViolation(err) && draft.RequestID != "" {
			existing, lookupErr := s.draftByRequestID(ctx, draft.TenantID, draft.DraftType, draft.RequestID)
			if lookupErr != nil {
				return nil, false, lookupErr
			}
			if existing != nil {
				return existing, false, nil
			}
		}
		return nil, false, fmt.Errorf("failed to insert draft: %w", err)
	}
	stored := *draft
	return &stored, true, nil
}

func (s *SQLiteStore) draftByRequestID(ctx context.Context, tenantID, draftType, requestID string) (*protocol.Draft, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT draft_id, tenant_id, draft_type, payload, status, risk_level, created_by, created_at, source_context, recommended_approvers, request_id
		FROM drafts WHERE tenant_id = ? AND draft_type = ? AND request_id = ?`,
		tenantID, draftType, requestID)
	return scanDraft(row)
}

// GetDraft implements DraftStore. Cross-tenant and missing drafts are both
// reported as (nil, nil).
func (s *SQLiteStore) GetDraft(ctx context.Context, tenantID, draftID string) (*protocol.Draft, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT draft_id, tenant_id, draft_type, payload, status, risk_level, created_by, created_at, source_context, recommended_approvers, request_id
		FROM drafts WHERE draft_id = ? AND tenant_id = ?`,
		draftID, tenantID)
	return scanDraft(row)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDraft(row rowScanner) (*protocol.Draft, error) {
	var d protocol.Draft
	var payload, status, risk, createdAt string
	var sourceCtx, approvers, requestID sql.NullString
	err := row.Scan(&d.DraftID, &d.TenantID, &d.DraftType, &payload, &status, &risk,
		&d.CreatedBy, &createdAt, &sourceCtx, &approvers, &requestID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan draft: %w", err)
	}
	d.Status = protocol.DraftStatus(status)
	d.RiskLevel = protocol.RiskLevel(risk)
	d.RequestID = requestID.String
	if ts, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		d.CreatedAt = ts
	}
	if payload != "" {
		if err := json.Unmarshal([]byte(payload), &d.Payload); err != nil {
			return nil, fmt.Errorf("failed to decode draft payload: %w", err)
		}
	}
	if sourceCtx.String != "" {
		_ = json.Unmarshal([]byte(sourceCtx.String), &d.SourceContext)
	}
	if approvers.String != "" {
		_ = json.Unmarshal([]byte(approvers.String), &d.RecommendedApprovers)
	}
	return &d, nil
}

// UpdateDraftStatus implements DraftStore. The transition is validated in
// memory, then applied with an optimistic WHERE on the old status so a
// concurrent update cannot double-apply.
func (s *SQLiteStore) UpdateDraftStatus(ctx context.Context, tenantID, draftID string, to protocol.DraftStatus) (*protocol.Draft, error) {
	d, err := s.GetDraft(ctx, tenantID, draftID)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, fmt.Errorf("draft %s not found", draftID)
	}
	next, err := protocol.Transition(d.Status, to)
	if err != nil {
		return nil, fmt.Errorf("draft %s: %s -> %s: %w", draftID, d.Status, to, err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE drafts SET status = ? WHERE draft_id = ? AND tenant_id = ? AND status = ?`,
		string(next), draftID, tenantID, string(d.Status))
	if err != nil {
		return nil, fmt.Errorf("failed to update draft status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, fmt.Errorf("draft %s: concurrent status change: %w", draftID, protocol.ErrInvalidTransition)
	}
	d.Status = next
	return d, nil
}

// ListDrafts implements DraftStore.
func (s *SQLiteStore) ListDrafts(ctx context.Context, tenantID string, filter DraftFilter) ([]*protocol.Draft, error) {
	query := `
		SELECT draft_id, tenant_id, draft_type, payload, status, risk_level, created_by, created_at, source_context, recommended_approvers, request_id
		FROM drafts WHERE tenant_id = ?`
	args := []interface{}{tenantID}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	if filter.DraftType != "" {
		query += " AND draft_type = ?"
		args = append(args, filter.DraftType)
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list drafts: %w", err)
	}
	defer rows.Close()

	var out []*protocol.Draft
	for rows.Next() {
		d, err := scanDraft(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// CreateExecution implements ExecutionStore.
func (s *SQLiteStore) CreateExecution(ctx context.Context, rec *protocol.ExecutionRecord) (*protocol.ExecutionRecord, bool, error) {
	if rec.RequestID != "" {
		existing, err := s.executionByRequestID(ctx, rec.TenantID, rec.RequestID)
		if err != nil {
			return nil, false, err
		}
		if existing != nil {
			return existing, false, nil
		}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO executions (execution_id, draft_id, tool_id, tenant_id, actor_id, status, result_payload, created_at, completed_at, error_message, rollback_instructions, request_id, source_context)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL, ?, ?, ?, ?)`,
		rec.ExecutionID, rec.DraftID, rec.ToolID, rec.TenantID, rec.ActorID,
		string(rec.Status), marshalJSON(rec.ResultPayload),
		rec.CreatedAt.UTC().Format(time.RFC3339Nano),
		rec.ErrorMessage, marshalJSON(rec.RollbackInstructions),
		nullable(rec.RequestID), marshalJSON(rec.SourceContext),
	)
	if err != nil {
		if isUniqueViolation(err) && rec.RequestID != "" {
			existing, lookupErr := s.executionByRequestID(ctx, rec.TenantID, rec.RequestID)
			if lookupErr != nil {
				return nil, false, lookupErr
			}
			if existing != nil {
				return existing, false, nil
			}
		}
		return nil, false, fmt.Errorf("failed to insert execution: %w", err)
	}
	stored := *rec
	return &stored, true, nil
}

func (s *SQLiteStore) executionByRequestID(ctx context.Context, tenantID, requestID string) (*protocol.ExecutionRecord, error) {
	row := s.db.QueryRowContext(ctx, executionSelect+` WHERE tenant_id = ? AND request_id = ?`, tenantID, requestID)
	return scanExecution(row)
}

const executionSelect = `
	SELECT execution_id, draft_id, tool_id, tenant_id, actor_id, status, result_payload, created_at, completed_at, error_message, rollback_instructions, request_id, source_context
	FROM executions`

func scanExecution(row rowScanner) (*protocol.ExecutionRecord, error) {
	var r protocol.ExecutionRecord
	var status, createdAt string
	var result, completedAt, errMsg, rollback, requestID, sourceCtx sql.NullString
	err := row.Scan(&r.ExecutionID, &r.DraftID, &r.ToolID, &r.TenantID, &r.ActorID,
		&status, &result, &createdAt, &completedAt, &errMsg, &rollback, &requestID, &sourceCtx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan execution: %w", err)
	}
	r.Status = protocol.ExecutionStatus(status)
	r.ErrorMessage = errMsg.String
	r.RequestID = requestID.String
	if ts, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		r.CreatedAt = ts
	}
	if completedAt.String != "" {
		if ts, err := time.Parse(time.RFC3339Nano, completedAt.String); err == nil {
			r.CompletedAt = &ts
		}
	}
	if result.String != "" {
		_ = json.Unmarshal([]byte(result.String), &r.ResultPayload)
	}
	if rollback.String != "" {
		_ = json.Unmarshal([]byte(rollback.String), &r.RollbackInstructions)
	}
	if sourceCtx.String != "" {
		_ = json.Unmarshal([]byte(sourceCtx.String), &r.SourceContext)
	}
	return &r, nil
}

// GetExecution implements ExecutionStore.
func (s *SQLiteStore) GetExecution(ctx context.Context, tenantID, executionID string) (*protocol.ExecutionRecord, error) {
	row := s.db.QueryRowContext(ctx, executionSelect+` WHERE execution_id = ? AND tenant_id = ?`, executionID, tenantID)
	return scanExecution(row)
}

// SucceededExecution implements ExecutionStore.
func (s *SQLiteStore) SucceededExecution(ctx context.Context, tenantID, draftID, toolID string) (*protocol.ExecutionRecord, error) {
	row := s.db.QueryRowContext(ctx, executionSelect+` WHERE tenant_id = ? AND draft_id = ? AND tool_id = ? AND status = 'succeeded'`,
		tenantID, draftID, toolID)
	return scanExecution(row)
}

// CompleteExecution implements ExecutionStore. The WHERE status='started'
// guard makes the terminal write happen at most once.
func (s *SQLiteStore) CompleteExecution(ctx context.Context, tenantID, executionID string, c Completion) (*protocol.ExecutionRecord, error) {
	if !c.Status.Terminal() {
		return nil, fmt.Errorf("execution %s: %q is not a terminal status", executionID, c.Status)
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE executions SET status = ?, completed_at = ?, result_payload = ?, error_message = ?, rollback_instructions = ?
		WHERE execution_id = ? AND tenant_id = ? AND status = 'started'`,
		string(c.Status), now.Format(time.RFC3339Nano), marshalJSON(c.ResultPayload),
		c.ErrorMessage, marshalJSON(c.RollbackInstructions), executionID, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to complete execution: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		existing, lookupErr := s.GetExecution(ctx, tenantID, executionID)
		if lookupErr != nil {
			return nil, lookupErr
		}
		if existing == nil {
			return nil, fmt.Errorf("execution %s not found", executionID)
		}
		return nil, fmt.Errorf("execution %s already completed with status %q", executionID, existing.Status)
	}
	return s.GetExecution(ctx, tenantID, executionID)
}

// ListExecutions implements ExecutionStore.
func (s *SQLiteStore) ListExecutions(ctx context.Context, tenantID string, filter ExecutionFilter) ([]*protocol.ExecutionRecord, error) {
	query := executionSelect + ` WHERE tenant_id = ?`
	args := []interface{}{tenantID}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	if filter.ToolID != "" {
		query += " AND tool_id = ?"
		args = append(args, filter.ToolID)
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	var out []*protocol.ExecutionRecord
	for rows.Next() {
		r, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// EnqueueIntent implements SettlementStore.
func (s *SQLiteStore) EnqueueIntent(ctx context.Context, intent *protocol.SettlementIntent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settlement_intents (payment_id, settlement_status, provider, tenant_id, created_at, updated_at, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		intent.PaymentID, string(intent.SettlementStatus), intent.Provider, intent.TenantID,
		intent.CreatedAt.UTC().Format(time.RFC3339Nano), intent.UpdatedAt.UTC().Format(time.RFC3339Nano),
		marshalJSON(intent.Metadata),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("settlement intent for payment %s already exists", intent.PaymentID)
		}
		return fmt.Errorf("failed to enqueue settlement intent: %w", err)
	}
	return nil
}

// GetIntent implements SettlementStore.
func (s *SQLiteStore) GetIntent(ctx context.Context, tenantID, intentID string) (*protocol.SettlementIntent, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT payment_id, settlement_status, provider, tenant_id, created_at, updated_at, metadata
		FROM settlement_intents WHERE payment_id = ? AND tenant_id = ?`,
		intentID, tenantID)

	var in protocol.SettlementIntent
	var status, createdAt, updatedAt string
	var metadata sql.NullString
	err := row.Scan(&in.PaymentID, &status, &in.Provider, &in.TenantID, &createdAt, &updatedAt, &metadata)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan settlement intent: %w", err)
	}
	in.SettlementStatus = protocol.SettlementStatus(status)
	if ts, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		in.CreatedAt = ts
	}
	if ts, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		in.UpdatedAt = ts
	}
	if metadata.String != "" {
		_ = json.Unmarshal([]byte(metadata.String), &in.Metadata)
	}
	return &in, nil
}

// DequeueIntents implements SettlementStore. Claimed intents move to
// processing inside one transaction so two workers never claim the same row.
func (s *SQLiteStore) DequeueIntents(ctx context.Context, limit int) ([]*protocol.SettlementIntent, error) {
	if limit <= 0 {
		limit = 10
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT payment_id, settlement_status, provider, tenant_id, created_at, updated_at, metadata
		FROM settlement_intents WHERE settlement_status = 'queued'
		ORDER BY created_at ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query queued intents: %w", err)
	}

	var out []*protocol.SettlementIntent
	for rows.Next() {
		var in protocol.SettlementIntent
		var status, createdAt, updatedAt string
		var metadata sql.NullString
		if err := rows.Scan(&in.PaymentID, &status, &in.Provider, &in.TenantID, &createdAt, &updatedAt, &metadata); err != nil {
			rows.Close()
			return nil, err
		}
		in.SettlementStatus = protocol.SettlementProcessing
		if ts, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			in.CreatedAt = ts
		}
		if metadata.String != "" {
			_ = json.Unmarshal([]byte(metadata.String), &in.Metadata)
		}
		out = append(out, &in)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	for _, in := range out {
		in.UpdatedAt = now
		if _, err := tx.ExecContext(ctx, `
			UPDATE settlement_intents SET settlement_status = 'processing', updated_at = ?
			WHERE payment_id = ?`, now.Format(time.RFC3339Nano), in.PaymentID); err != nil {
			return nil, fmt.Errorf("failed to claim settlement intent: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return out, nil
}

// ResolveIntent implements SettlementStore.
func (s *SQLiteStore) ResolveIntent(ctx context.Context, intentID string, status protocol.SettlementStatus) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE settlement_intents SET settlement_status = ?, updated_at = ?
		WHERE payment_id = ?`,
		string(status), time.Now().UTC().Format(time.RFC3339Nano), intentID)
	if err != nil {
		return fmt.Errorf("failed to resolve settlement intent: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("settlement intent %s not found", intentID)
	}
	return nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
