// Package history persists folded assistant messages and execution outcomes
// in a local SQLite database, with scheduled retention pruning.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/HyphaGroup/execstream/internal/session"
)

// ErrExecutionNotFound is returned when no outcome was recorded for an execution
var ErrExecutionNotFound = errors.New("execution not found")

// Execution is the recorded outcome of one session
type Execution struct {
	ExecutionID string         `json:"execution_id"`
	TargetID    string         `json:"target_id"`
	ProjectID   string         `json:"project_id,omitempty"`
	Mode        session.Mode   `json:"mode"`
	Status      session.Status `json:"status"`
	Error       string         `json:"error,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	EndedAt     time.Time      `json:"ended_at"`
}

// Filter narrows List results
type Filter struct {
	ExecutionID string
	Limit       int
}

// Store handles history persistence
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) history.db under dataDir
func NewStore(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "history.db")
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		execution_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		tools TEXT NOT NULL DEFAULT '[]',
		tasks TEXT NOT NULL DEFAULT '[]',
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_execution ON messages(execution_id);
	CREATE INDEX IF NOT EXISTS idx_messages_created ON messages(created_at);

	CREATE TABLE IF NOT EXISTS executions (
		execution_id TEXT PRIMARY KEY,
		target_id TEXT NOT NULL,
		project_id TEXT NOT NULL DEFAULT '',
		mode TEXT NOT NULL,
		status TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		started_at DATETIME,
		ended_at DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_executions_ended ON executions(ended_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveMessage stores a folded message. Saving the same id twice replaces it.
func (s *Store) SaveMessage(ctx context.Context, msg *session.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	tools, err := json.Marshal(nonNilTools(msg.Tools))
	if err != nil {
		return fmt.Errorf("failed to encode tools: %w", err)
	}
	tasks, err := json.Marshal(nonNilTasks(msg.Tasks))
	if err != nil {
		return fmt.Errorf("failed to encode tasks: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO messages (id, execution_id, role, content, tools, tasks, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ExecutionID, msg.Role, msg.Content, string(tools), string(tasks), msg.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

// List returns messages newest first
func (s *Store) List(ctx context.Context, f Filter) ([]session.Message, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, execution_id, role, content, tools, tasks, created_at FROM messages`
	var args []any
	if f.ExecutionID != "" {
		query += ` WHERE execution_id = ?`
		args = append(args, f.ExecutionID)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []session.Message
	for rows.Next() {
		var msg session.Message
		var tools, tasks string
		if err := rows.Scan(&msg.ID, &msg.ExecutionID, &msg.Role, &msg.Content, &tools, &tasks, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		if err := json.Unmarshal([]byte(tools), &msg.Tools); err != nil {
			return nil, fmt.Errorf("failed to decode tools of %s: %w", msg.ID, err)
		}
		if err := json.Unmarshal([]byte(tasks), &msg.Tasks); err != nil {
			return nil, fmt.Errorf("failed to decode tasks of %s: %w", msg.ID, err)
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

// RecordExecution stores the outcome of a finished session
func (s *Store) RecordExecution(ctx context.Context, e Execution) error {
	if e.ExecutionID == "" {
		return fmt.Errorf("execution_id is required")
	}
	if e.EndedAt.IsZero() {
		e.EndedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO executions (execution_id, target_id, project_id, mode, status, error, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ExecutionID, e.TargetID, e.ProjectID, string(e.Mode), string(e.Status), e.Error,
		e.StartedAt.UTC(), e.EndedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert execution: %w", err)
	}
	return nil
}

// GetExecution returns the recorded outcome of one execution
func (s *Store) GetExecution(ctx context.Context, executionID string) (*Execution, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT execution_id, target_id, project_id, mode, status, error, started_at, ended_at
		FROM executions WHERE execution_id = ?`, executionID)
	e, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrExecutionNotFound
	}
	return e, err
}

// ListExecutions returns recorded outcomes, most recently ended first
func (s *Store) ListExecutions(ctx context.Context, limit int) ([]Execution, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT execution_id, target_id, project_id, mode, status, error, started_at, ended_at
		FROM executions ORDER BY ended_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// Prune deletes messages and executions older than before.
// It returns the number of rows removed.
func (s *Store) Prune(ctx context.Context, before time.Time) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	cutoff := before.UTC()
	res, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune messages: %w", err)
	}
	msgs, _ := res.RowsAffected()

	res, err = tx.ExecContext(ctx, `DELETE FROM executions WHERE ended_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune executions: %w", err)
	}
	execs, _ := res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit prune: %w", err)
	}
	return msgs + execs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanExecution(row scanner) (*Execution, error) {
	var e Execution
	var mode, status string
	var started, ended sql.NullTime
	if err := row.Scan(&e.ExecutionID, &e.TargetID, &e.ProjectID, &mode, &status, &e.Error, &started, &ended); err != nil {
		return nil, err
	}
	e.Mode = session.Mode(mode)
	e.Status = session.Status(status)
	if started.Valid {
		e.StartedAt = started.Time
	}
	if ended.Valid {
		e.EndedAt = ended.Time
	}
	return &e, nil
}

func nonNilTools(t []session.ToolRecord) []session.ToolRecord {
	if t == nil {
		return []session.ToolRecord{}
	}
	return t
}

func nonNilTasks(t []session.TaskItem) []session.TaskItem {
	if t == nil {
		return []session.TaskItem{}
	}
	return t
}
