package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/pohlai88/lynx/pkg/protocol"
)

// ZerologSink writes audit events as JSON lines through zerolog, typically
// to a dedicated append-only file.
type ZerologSink struct {
	mu     sync.Mutex
	logger zerolog.Logger
	file   *os.File
}

// NewZerologSink creates a sink over an existing logger.
func NewZerologSink(logger zerolog.Logger) *ZerologSink {
	return &ZerologSink{logger: logger}
}

// NewFileSink opens (or creates) an append-only audit file and returns a
// sink writing JSON lines to it.
func NewFileSink(path string) (*ZerologSink, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit file: %w", err)
	}
	return &ZerologSink{
		logger: zerolog.New(file).With().Timestamp().Logger(),
		file:   file,
	}, nil
}

// Write implements Sink.
func (s *ZerologSink) Write(_ context.Context, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.logger.Log().
		Str("event_type", string(ev.Type)).
		Str("run_id", ev.RunID).
		Str("tenant_id", ev.TenantID).
		Str("actor_id", ev.ActorID).
		Time("ts", ev.Timestamp)

	if ev.ToolID != "" {
		entry = entry.Str("tool_id", ev.ToolID).Str("risk_level", string(ev.RiskLevel))
	}
	if ev.Input != nil {
		entry = entry.Interface("input", ev.Input)
	}
	if ev.Output != nil {
		entry = entry.Interface("output", ev.Output)
	}
	if ev.Error != "" {
		entry = entry.Str("error", ev.Error)
	}
	if ev.Reason != "" {
		entry = entry.Str("reason", ev.Reason)
	}
	if ev.TraceID != "" {
		entry = entry.Str("trace_id", ev.TraceID)
	}

	entry.Msg("")
	return nil
}

// Close closes the underlying file, if any.
func (s *ZerologSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file != nil {
		return s.file.Close()
	}
	return nil
}

// SQLiteSink appends audit events to a sqlite table so domain read tools
// can query recent activity.
type SQLiteSink struct {
	db *sql.DB
}

const auditSchema = `
	CREATE TABLE IF NOT EXISTS audit_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_type TEXT NOT NULL,
		run_id TEXT NOT NULL,
		tool_id TEXT,
		tenant_id TEXT NOT NULL,
		actor_id TEXT NOT NULL,
		risk_level TEXT,
		input TEXT,
		output TEXT,
		error TEXT,
		reason TEXT,
		status TEXT,
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_audit_tenant_run ON audit_logs(tenant_id, run_id);
	CREATE INDEX IF NOT EXISTS idx_audit_tenant_time ON audit_logs(tenant_id, created_at);
`

// NewSQLiteSink creates a sqlite-backed audit sink at the given path. The
// special path ":memory:" is supported for tests.
func NewSQLiteSink(path string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec(auditSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize audit schema: %w", err)
	}
	return &SQLiteSink{db: db}, nil
}

// Write implements Sink.
func (s *SQLiteSink) Write(ctx context.Context, ev Event) error {
	input, _ := json.Marshal(ev.Input)
	output, _ := json.Marshal(ev.Output)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (event_type, run_id, tool_id, tenant_id, actor_id, risk_level, input, output, error, reason, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(ev.Type), ev.RunID, ev.ToolID, ev.TenantID, ev.ActorID,
		string(ev.RiskLevel), string(input), string(output), ev.Error, ev.Reason,
		ev.Status, ev.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	return err
}

// RecentEvents returns the most recent events for one tenant, newest first.
// Used by the audit domain read tool.
func (s *SQLiteSink) RecentEvents(ctx context.Context, tenantID string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_type, run_id, tool_id, tenant_id, actor_id, risk_level, error, reason, status, created_at
		FROM audit_logs WHERE tenant_id = ?
		ORDER BY id DESC LIMIT ?`, tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var ev Event
		var typ, risk, createdAt string
		if err := rows.Scan(&typ, &ev.RunID, &ev.ToolID, &ev.TenantID, &ev.ActorID, &risk, &ev.Error, &ev.Reason, &ev.Status, &createdAt); err != nil {
			return nil, err
		}
		ev.Type = EventType(typ)
		ev.RiskLevel = protocol.RiskLevel(risk)
		if ts, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			ev.Timestamp = ts
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Close closes the underlying database.
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}
