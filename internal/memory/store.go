package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Conversation modes. A paused conversation belongs to a human operator
// until pause_until_unix_ms passes or Resume is called.
const (
	ModeActive = "active"
	ModePaused = "paused"
)

// Turn roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSummary   = "summary"
)

// Store is a local SQLite-backed persistence layer for conversations and turns.
//
// Notes:
// - One conversation per WhatsApp thread (chat JID).
// - WAL is enabled so status queries can read while the engine is writing.
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

type Conversation struct {
	ThreadID           string `json:"thread_id"`
	Mode               string `json:"mode"`
	PauseUntilUnixMs   int64  `json:"pause_until_unix_ms"`
	Summary            string `json:"summary"`
	CreatedAtUnixMs    int64  `json:"created_at_unix_ms"`
	UpdatedAtUnixMs    int64  `json:"updated_at_unix_ms"`
	LastMessagePreview string `json:"last_message_preview"`
}

type Turn struct {
	ID       int64  `json:"id"`
	ThreadID string `json:"thread_id"`

	TurnID    string `json:"turn_id"`
	Role      string `json:"role"`
	AgentUsed string `json:"agent_used"`
	Content   string `json:"content"`

	CreatedAtUnixMs int64 `json:"created_at_unix_ms"`
}

// ErrDuplicateTurn is returned by Append when (thread_id, turn_id) was already stored.
var ErrDuplicateTurn = errors.New("duplicate turn")

func normalizeMode(mode string) string {
	mode = strings.TrimSpace(mode)
	switch mode {
	case ModeActive, ModePaused:
		return mode
	default:
		return ModeActive
	}
}

func normalizeRole(role string) string {
	role = strings.TrimSpace(role)
	switch role {
	case RoleUser, RoleAssistant, RoleSummary:
		return role
	default:
		return ""
	}
}

// Append inserts a turn and updates conversation metadata in the same
// transaction. The conversation row is created on first write.
func (s *Store) Append(ctx context.Context, threadID string, t Turn) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	threadID = strings.TrimSpace(threadID)
	if threadID == "" {
		return 0, errors.New("missing thread_id")
	}

	t.ThreadID = threadID
	t.TurnID = strings.TrimSpace(t.TurnID)
	if t.TurnID == "" {
		t.TurnID = uuid.NewString()
	}
	t.Role = normalizeRole(t.Role)
	t.AgentUsed = strings.TrimSpace(t.AgentUsed)
	t.Content = strings.TrimSpace(t.Content)

	if t.Role == "" {
		return 0, errors.New("invalid role")
	}
	if t.Content == "" {
		return 0, errors.New("empty content")
	}

	now := time.Now().UnixMilli()
	if t.CreatedAtUnixMs <= 0 {
		t.CreatedAtUnixMs = now
	}
	preview := buildPreview(t.Content)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
INSERT INTO conversations(thread_id, mode, pause_until_unix_ms, summary, created_at_unix_ms, updated_at_unix_ms, last_message_preview)
VALUES(?, ?, 0, '', ?, ?, '')
ON CONFLICT(thread_id) DO NOTHING
`, threadID, ModeActive, t.CreatedAtUnixMs, t.CreatedAtUnixMs); err != nil {
		return 0, err
	}

	res, err := tx.ExecContext(ctx, `
INSERT INTO turns(thread_id, turn_id, role, agent_used, content, created_at_unix_ms)
VALUES(?, ?, ?, ?, ?, ?)
`, threadID, t.TurnID, t.Role, t.AgentUsed, t.Content, t.CreatedAtUnixMs)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, ErrDuplicateTurn
		}
		return 0, err
	}
	rowID, _ := res.LastInsertId()

	if _, err := tx.ExecContext(ctx, `
UPDATE conversations
SET updated_at_unix_ms = ?, last_message_preview = ?
WHERE thread_id = ?
`, t.CreatedAtUnixMs, preview, threadID); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return rowID, nil
}

// Load returns the conversation row, or nil when the thread is unknown.
func (s *Store) Load(ctx context.Context, threadID string) (*Conversation, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	threadID = strings.TrimSpace(threadID)
	if threadID == "" {
		return nil, errors.New("missing thread_id")
	}

	var c Conversation
	err := s.db.QueryRowContext(ctx, `
SELECT thread_id, mode, pause_until_unix_ms, summary, created_at_unix_ms, updated_at_unix_ms, last_message_preview
FROM conversations
WHERE thread_id = ?
`, threadID).Scan(
		&c.ThreadID,
		&c.Mode,
		&c.PauseUntilUnixMs,
		&c.Summary,
		&c.CreatedAtUnixMs,
		&c.UpdatedAtUnixMs,
		&c.LastMessagePreview,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

// History returns the latest turns in ascending order by internal id.
func (s *Store) History(ctx context.Context, threadID string, limit int) ([]Turn, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	threadID = strings.TrimSpace(threadID)
	if threadID == "" {
		return nil, errors.New("missing thread_id")
	}
	if limit <= 0 {
		limit = 100
	}
	if limit > 500 {
		limit = 500
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT id, thread_id, turn_id, role, agent_used, content, created_at_unix_ms
FROM turns
WHERE thread_id = ?
ORDER BY id DESC
LIMIT ?
`, threadID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tmp := make([]Turn, 0, limit)
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.ID, &t.ThreadID, &t.TurnID, &t.Role, &t.AgentUsed, &t.Content, &t.CreatedAtUnixMs); err != nil {
			return nil, err
		}
		tmp = append(tmp, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to ASC order.
	out := make([]Turn, 0, len(tmp))
	for i := len(tmp) - 1; i >= 0; i-- {
		out = append(out, tmp[i])
	}
	return out, nil
}

// SetMode updates the conversation mode and pause window, creating the
// conversation row if the thread has never been seen.
func (s *Store) SetMode(ctx context.Context, threadID string, mode string, pauseUntilUnixMs int64) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	threadID = strings.TrimSpace(threadID)
	if threadID == "" {
		return errors.New("missing thread_id")
	}
	mode = normalizeMode(mode)
	if mode == ModeActive {
		pauseUntilUnixMs = 0
	}
	if pauseUntilUnixMs < 0 {
		pauseUntilUnixMs = 0
	}

	now := time.Now().UnixMilli()
	_, err := s.db.ExecContext(ctx, `
INSERT INTO conversations(thread_id, mode, pause_until_unix_ms, summary, created_at_unix_ms, updated_at_unix_ms, last_message_preview)
VALUES(?, ?, ?, '', ?, ?, '')
ON CONFLICT(thread_id) DO UPDATE SET
  mode = excluded.mode,
  pause_until_unix_ms = excluded.pause_until_unix_ms,
  updated_at_unix_ms = excluded.updated_at_unix_ms
`, threadID, mode, pauseUntilUnixMs, now, now)
	return err
}

// ListConversations returns conversations ordered by most recent activity.
func (s *Store) ListConversations(ctx context.Context, limit int) ([]Conversation, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT thread_id, mode, pause_until_unix_ms, summary, created_at_unix_ms, updated_at_unix_ms, last_message_preview
FROM conversations
ORDER BY updated_at_unix_ms DESC, thread_id DESC
LIMIT ?
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Conversation, 0, limit)
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(
			&c.ThreadID,
			&c.Mode,
			&c.PauseUntilUnixMs,
			&c.Summary,
			&c.CreatedAtUnixMs,
			&c.UpdatedAtUnixMs,
			&c.LastMessagePreview,
		); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// CountTurns returns the number of stored turns for the thread.
func (s *Store) CountTurns(ctx context.Context, threadID string) (int, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	threadID = strings.TrimSpace(threadID)
	if threadID == "" {
		return 0, errors.New("missing thread_id")
	}

	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM turns WHERE thread_id = ?`, threadID).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *Store) CountConversations(ctx context.Context) (int, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM conversations`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// CompactTurns replaces every turn with id < beforeID by a single summary
// turn and stores the rolling summary on the conversation row, in one
// transaction. The summary turn reuses a freed id so it still sorts before
// the turns that were kept.
func (s *Store) CompactTurns(ctx context.Context, threadID string, beforeID int64, summary string) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	threadID = strings.TrimSpace(threadID)
	summary = strings.TrimSpace(summary)
	if threadID == "" {
		return errors.New("missing thread_id")
	}
	if beforeID <= 1 {
		return errors.New("invalid compaction boundary")
	}
	if summary == "" {
		return errors.New("empty summary")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var minID, maxTS sql.NullInt64
	if err := tx.QueryRowContext(ctx, `
SELECT MIN(id), MAX(created_at_unix_ms)
FROM turns
WHERE thread_id = ? AND id < ?
`, threadID, beforeID).Scan(&minID, &maxTS); err != nil {
		return err
	}
	if !minID.Valid {
		return tx.Commit()
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM turns WHERE thread_id = ? AND id < ?`, threadID, beforeID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return tx.Commit()
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO turns(id, thread_id, turn_id, role, agent_used, content, created_at_unix_ms)
VALUES(?, ?, ?, ?, ?, ?, ?)
`, minID.Int64, threadID, uuid.NewString(), RoleSummary, "summary", summary, maxTS.Int64); err != nil {
		return err
	}

	now := time.Now().UnixMilli()
	if _, err := tx.ExecContext(ctx, `
UPDATE conversations
SET summary = ?, updated_at_unix_ms = ?
WHERE thread_id = ?
`, summary, now, threadID); err != nil {
		return err
	}

	return tx.Commit()
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "constraint failed")
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
	return migrateSchema(db)
}

func migrateSchema(db *sql.DB) error {
	if db == nil {
		return errors.New("nil db")
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
CREATE TABLE IF NOT EXISTS conversations (
  thread_id TEXT PRIMARY KEY,
  mode TEXT NOT NULL DEFAULT 'active',
  pause_until_unix_ms INTEGER NOT NULL DEFAULT 0,
  summary TEXT NOT NULL DEFAULT '',
  created_at_unix_ms INTEGER NOT NULL,
  updated_at_unix_ms INTEGER NOT NULL,
  last_message_preview TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_conversations_updated ON conversations(updated_at_unix_ms DESC, thread_id DESC);

CREATE TABLE IF NOT EXISTS turns (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  thread_id TEXT NOT NULL,
  turn_id TEXT NOT NULL,
  role TEXT NOT NULL,
  agent_used TEXT NOT NULL DEFAULT '',
  content TEXT NOT NULL,
  created_at_unix_ms INTEGER NOT NULL,
  UNIQUE(thread_id, turn_id)
);
CREATE INDEX IF NOT EXISTS idx_turns_thread_id ON turns(thread_id, id ASC);
`); err != nil {
		return err
	}

	if _, err := tx.Exec(fmt.Sprintf(`PRAGMA user_version=%d;`, targetVersion)); err != nil {
		return err
	}
	return tx.Commit()
}

func buildPreview(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	text = strings.ReplaceAll(text, "\n", " ")
	text = strings.ReplaceAll(text, "\r", " ")
	text = strings.TrimSpace(text)
	return truncateRunes(text, 160)
}

func truncateRunes(s string, max int) string {
	if max <= 0 {
		return ""
	}
	n := 0
	for i := range s {
		if n >= max {
			return strings.TrimSpace(s[:i])
		}
		n++
	}
	return strings.TrimSpace(s)
}
