// Package tasks persists the user's to-do list.
package tasks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Task priorities.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// Task statuses.
const (
	StatusOpen = "open"
	StatusDone = "done"
)

type Task struct {
	ID       int64  `json:"id"`
	Title    string `json:"title"`
	Priority string `json:"priority"`
	Status   string `json:"status"`

	DeadlineUnixMs  int64 `json:"deadline_unix_ms,omitempty"`
	CreatedAtUnixMs int64 `json:"created_at_unix_ms"`
	DoneAtUnixMs    int64 `json:"done_at_unix_ms,omitempty"`
}

// Urgent reports whether the task should trigger deadline automation.
func (t Task) Urgent() bool {
	return t.Priority == PriorityHigh || t.Priority == PriorityUrgent
}

func NormalizePriority(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case PriorityLow:
		return PriorityLow
	case PriorityHigh:
		return PriorityHigh
	case PriorityUrgent, "urgente":
		return PriorityUrgent
	default:
		return PriorityMedium
	}
}

type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	p := filepath.Clean(strings.TrimSpace(path))
	if p == "" {
		return nil, errors.New("missing db path")
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Create(ctx context.Context, t Task) (Task, error) {
	if s == nil || s.db == nil {
		return Task{}, errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	t.Title = strings.TrimSpace(t.Title)
	if t.Title == "" {
		return Task{}, errors.New("missing task title")
	}
	t.Priority = NormalizePriority(t.Priority)
	t.Status = StatusOpen
	if t.DeadlineUnixMs < 0 {
		t.DeadlineUnixMs = 0
	}
	t.CreatedAtUnixMs = time.Now().UnixMilli()
	t.DoneAtUnixMs = 0

	res, err := s.db.ExecContext(ctx, `
INSERT INTO tasks(title, priority, status, deadline_unix_ms, created_at_unix_ms, done_at_unix_ms)
VALUES(?, ?, ?, ?, ?, 0)
`, t.Title, t.Priority, t.Status, t.DeadlineUnixMs, t.CreatedAtUnixMs)
	if err != nil {
		return Task{}, err
	}
	t.ID, _ = res.LastInsertId()
	return t, nil
}

// List returns open tasks ordered by deadline (undated last), then priority.
// With includeDone, completed tasks follow the open ones.
func (s *Store) List(ctx context.Context, includeDone bool) ([]Task, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	where := `WHERE status = 'open'`
	if includeDone {
		where = ""
	}
	q := fmt.Sprintf(`
SELECT id, title, priority, status, deadline_unix_ms, created_at_unix_ms, done_at_unix_ms
FROM tasks
%s
ORDER BY
  CASE status WHEN 'open' THEN 0 ELSE 1 END,
  CASE WHEN deadline_unix_ms > 0 THEN 0 ELSE 1 END,
  deadline_unix_ms ASC,
  CASE priority WHEN 'urgent' THEN 0 WHEN 'high' THEN 1 WHEN 'medium' THEN 2 ELSE 3 END,
  id ASC
`, where)

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Task, 0, 16)
	for rows.Next() {
		var t Task
		if err := rows.Scan(&t.ID, &t.Title, &t.Priority, &t.Status, &t.DeadlineUnixMs, &t.CreatedAtUnixMs, &t.DoneAtUnixMs); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) Get(ctx context.Context, id int64) (*Task, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if id <= 0 {
		return nil, errors.New("invalid task id")
	}

	var t Task
	err := s.db.QueryRowContext(ctx, `
SELECT id, title, priority, status, deadline_unix_ms, created_at_unix_ms, done_at_unix_ms
FROM tasks
WHERE id = ?
`, id).Scan(&t.ID, &t.Title, &t.Priority, &t.Status, &t.DeadlineUnixMs, &t.CreatedAtUnixMs, &t.DoneAtUnixMs)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

func (s *Store) Complete(ctx context.Context, id int64) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if id <= 0 {
		return errors.New("invalid task id")
	}

	now := time.Now().UnixMilli()
	res, err := s.db.ExecContext(ctx, `
UPDATE tasks
SET status = 'done', done_at_unix_ms = ?
WHERE id = ? AND status = 'open'
`, now, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func initSchema(db *sql.DB) error {
	if db == nil {
		return errors.New("nil db")
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		return fmt.Errorf("pragma journal_mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=3000;`); err != nil {
		return fmt.Errorf("pragma busy_timeout: %w", err)
	}

	const targetVersion = 1
	var v int
	if err := db.QueryRow(`PRAGMA user_version;`).Scan(&v); err != nil {
		return fmt.Errorf("pragma user_version: %w", err)
	}
	if v >= targetVersion {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS tasks (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  title TEXT NOT NULL,
  priority TEXT NOT NULL DEFAULT 'medium',
  status TEXT NOT NULL DEFAULT 'open',
  deadline_unix_ms INTEGER NOT NULL DEFAULT 0,
  created_at_unix_ms INTEGER NOT NULL,
  done_at_unix_ms INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_tasks_status_deadline ON tasks(status, deadline_unix_ms ASC);
`); err != nil {
		return err
	}

	if _, err := tx.Exec(fmt.Sprintf(`PRAGMA user_version=%d;`, targetVersion)); err != nil {
		return err
	}
	return tx.Commit()
}
