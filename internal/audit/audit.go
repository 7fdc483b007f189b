// Package audit persists a local record of agent runs: tool calls, policy
// decisions and approval outcomes. All writes are best-effort; a nil *Log
// is safe to call so the engine works without a database.
package audit

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS tool_calls (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	call_id TEXT NOT NULL,
	agent_id TEXT,
	tool TEXT NOT NULL,
	status TEXT NOT NULL,
	detail TEXT,
	started_at DATETIME NOT NULL,
	ended_at DATETIME,
	duration_ms INTEGER DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_tool_calls_call ON tool_calls(call_id);
CREATE INDEX IF NOT EXISTS idx_tool_calls_agent ON tool_calls(agent_id);

CREATE TABLE IF NOT EXISTS policy_decisions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	call_id TEXT,
	tool TEXT NOT NULL,
	verdict TEXT NOT NULL,
	reason TEXT,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_policy_call ON policy_decisions(call_id);

CREATE TABLE IF NOT EXISTS approvals (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	approval_id TEXT UNIQUE NOT NULL,
	call_id TEXT,
	tool TEXT NOT NULL,
	command TEXT,
	outcome TEXT NOT NULL DEFAULT 'pending',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	resolved_at DATETIME
);
CREATE INDEX IF NOT EXISTS idx_approvals_call ON approvals(call_id);
`

// Log is the sqlite-backed audit log.
type Log struct {
	db *sql.DB
}

// Open opens or creates the audit database at dbPath.
func Open(dbPath string) (*Log, error) {
	db, err := sql.Open("sqlite", "file:"+dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply audit schema: %w", err)
	}
	// Leftover pending approvals belong to a dead process.
	_, _ = db.Exec(`UPDATE approvals SET outcome = 'timeout', resolved_at = CURRENT_TIMESTAMP WHERE outcome = 'pending'`)
	return &Log{db: db}, nil
}

// Close closes the underlying database.
func (l *Log) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

// ToolCallStarted records the start of a tool call and returns the row id.
func (l *Log) ToolCallStarted(callID, agentID, tool string) int64 {
	if l == nil {
		return 0
	}
	res, err := l.db.Exec(
		`INSERT INTO tool_calls (call_id, agent_id, tool, status, started_at) VALUES (?, ?, ?, 'running', ?)`,
		callID, agentID, tool, time.Now().UTC(),
	)
	if err != nil {
		return 0
	}
	id, _ := res.LastInsertId()
	return id
}

// ToolCallFinished records the terminal status of a tool call.
func (l *Log) ToolCallFinished(rowID int64, status, detail string, started time.Time) {
	if l == nil || rowID == 0 {
		return
	}
	now := time.Now().UTC()
	_, _ = l.db.Exec(
		`UPDATE tool_calls SET status = ?, detail = ?, ended_at = ?, duration_ms = ? WHERE id = ?`,
		status, detail, now, now.Sub(started).Milliseconds(), rowID,
	)
}

// PolicyDecision records one permission evaluation.
func (l *Log) PolicyDecision(callID, tool, verdict, reason string) {
	if l == nil {
		return
	}
	_, _ = l.db.Exec(
		`INSERT INTO policy_decisions (call_id, tool, verdict, reason) VALUES (?, ?, ?, ?)`,
		callID, tool, verdict, reason,
	)
}

// ApprovalCreated records a new pending approval.
func (l *Log) ApprovalCreated(approvalID, callID, tool, command string) {
	if l == nil {
		return
	}
	_, _ = l.db.Exec(
		`INSERT INTO approvals (approval_id, call_id, tool, command) VALUES (?, ?, ?, ?)`,
		approvalID, callID, tool, command,
	)
}

// ApprovalResolved records the outcome of a pending approval.
func (l *Log) ApprovalResolved(approvalID, outcome string) {
	if l == nil {
		return
	}
	_, _ = l.db.Exec(
		`UPDATE approvals SET outcome = ?, resolved_at = CURRENT_TIMESTAMP WHERE approval_id = ?`,
		outcome, approvalID,
	)
}

// PendingApprovals returns the approval ids currently marked pending.
func (l *Log) PendingApprovals() ([]string, error) {
	if l == nil {
		return nil, nil
	}
	rows, err := l.db.Query(`SELECT approval_id FROM approvals WHERE outcome = 'pending' ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query pending approvals: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
