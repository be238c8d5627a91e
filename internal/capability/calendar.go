package capability

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

// SQLiteCalendar is a local, single-user calendar. Events live next to the
// rest of the engine's data; there is no external calendar account involved.
type SQLiteCalendar struct {
	db *sql.DB
}

func OpenCalendar(path string) (*SQLiteCalendar, error) {
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
	if err := initCalendarSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return &SQLiteCalendar{db: db}, nil
}

func (c *SQLiteCalendar) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

func (c *SQLiteCalendar) CreateEvent(ctx context.Context, ev Event) (Event, error) {
	if c == nil || c.db == nil {
		return Event{}, errors.New("calendar not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	ev.Title = strings.TrimSpace(ev.Title)
	ev.Description = strings.TrimSpace(ev.Description)
	if ev.Title == "" {
		return Event{}, errors.New("missing event title")
	}
	if ev.StartUnixMs <= 0 {
		return Event{}, errors.New("missing event start")
	}
	if ev.EndUnixMs <= 0 {
		ev.EndUnixMs = ev.StartUnixMs + time.Hour.Milliseconds()
	}
	if ev.EndUnixMs < ev.StartUnixMs {
		return Event{}, errors.New("event ends before it starts")
	}
	ev.CreatedAtUnixMs = time.Now().UnixMilli()

	res, err := c.db.ExecContext(ctx, `
INSERT INTO events(title, description, start_unix_ms, end_unix_ms, created_at_unix_ms)
VALUES(?, ?, ?, ?, ?)
`, ev.Title, ev.Description, ev.StartUnixMs, ev.EndUnixMs, ev.CreatedAtUnixMs)
	if err != nil {
		return Event{}, err
	}
	ev.ID, _ = res.LastInsertId()
	return ev, nil
}

// ListEvents returns events overlapping [from, to), ordered by start time.
func (c *SQLiteCalendar) ListEvents(ctx context.Context, from time.Time, to time.Time) ([]Event, error) {
	if c == nil || c.db == nil {
		return nil, errors.New("calendar not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if !to.After(from) {
		return nil, errors.New("empty time window")
	}

	rows, err := c.db.QueryContext(ctx, `
SELECT id, title, description, start_unix_ms, end_unix_ms, created_at_unix_ms
FROM events
WHERE end_unix_ms > ? AND start_unix_ms < ?
ORDER BY start_unix_ms ASC, id ASC
`, from.UnixMilli(), to.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Event, 0, 8)
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.ID, &ev.Title, &ev.Description, &ev.StartUnixMs, &ev.EndUnixMs, &ev.CreatedAtUnixMs); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *SQLiteCalendar) DeleteEvent(ctx context.Context, id int64) error {
	if c == nil || c.db == nil {
		return errors.New("calendar not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if id <= 0 {
		return errors.New("invalid event id")
	}

	res, err := c.db.ExecContext(ctx, `DELETE FROM events WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func initCalendarSchema(db *sql.DB) error {
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
CREATE TABLE IF NOT EXISTS events (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  title TEXT NOT NULL,
  description TEXT NOT NULL DEFAULT '',
  start_unix_ms INTEGER NOT NULL,
  end_unix_ms INTEGER NOT NULL,
  created_at_unix_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_start ON events(start_unix_ms ASC);
`); err != nil {
		return err
	}

	if _, err := tx.Exec(fmt.Sprintf(`PRAGMA user_version=%d;`, targetVersion)); err != nil {
		return err
	}
	return tx.Commit()
}
