// Package journal keeps a SQLite history of pipeline runs and their lifecycle events.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/e7canasta/sensorpod/modules/eventbus"
)

// Run is one pipeline runtime as recorded in the journal
type Run struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Loop        bool       `json:"loop"`
	Loops       int        `json:"loops"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	FinalState  string     `json:"final_state"`
	Error       string     `json:"error,omitempty"`
	Category    string     `json:"category,omitempty"`
}

// Entry is one recorded lifecycle event
type Entry struct {
	RunID   string    `json:"run_id"`
	Kind    string    `json:"kind"`
	Source  string    `json:"source,omitempty"`
	Message string    `json:"message,omitempty"`
	At      time.Time `json:"at"`
}

// Journal handles SQLite persistence. All methods are safe for concurrent use.
type Journal struct {
	db     *sql.DB
	mu     sync.RWMutex
	logger zerolog.Logger
}

// Open creates a Journal at path, creating tables if they don't exist.
// ":memory:" opens a shared in-memory database.
func Open(path string, logger zerolog.Logger) (*Journal, error) {
	connStr := path
	if path == ":memory:" {
		connStr = "file::memory:?cache=shared"
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("journal: open database: %w", err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: ping database: %w", err)
	}
	if path != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("journal: enable WAL mode: %w", err)
		}
	}

	j := &Journal{db: db, logger: logger.With().Str("component", "journal").Logger()}
	if err := j.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: create tables: %w", err)
	}
	return j, nil
}

func (j *Journal) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		loop INTEGER NOT NULL DEFAULT 0,
		loops INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		started_at INTEGER,
		ended_at INTEGER,
		final_state TEXT NOT NULL DEFAULT 'created',
		error TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL REFERENCES runs(id),
		kind TEXT NOT NULL,
		source TEXT NOT NULL DEFAULT '',
		message TEXT NOT NULL DEFAULT '',
		at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_events_run ON events(run_id, at);
	`
	_, err := j.db.Exec(schema)
	return err
}

// Close closes the database connection
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.db.Close()
}

// Record stores ev and folds it into its run row
func (j *Journal) Record(ev eventbus.Event) error {
	if ev.RuntimeID == "" {
		return fmt.Errorf("journal: event %s has no runtime id", ev.Kind)
	}
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	tx, err := j.db.Begin()
	if err != nil {
		return fmt.Errorf("journal: begin: %w", err)
	}
	defer tx.Rollback()

	// runs first seen mid-life still get a row
	if _, err := tx.Exec(
		`INSERT OR IGNORE INTO runs (id, name, description, loop, created_at) VALUES (?, ?, ?, ?, ?)`,
		ev.RuntimeID, ev.Pipeline, ev.Meta["description"], boolToInt(ev.Meta["loop"] == "true"), at.UnixNano(),
	); err != nil {
		return fmt.Errorf("journal: insert run: %w", err)
	}

	var update string
	var args []any
	switch ev.Kind {
	case eventbus.KindPlaying:
		update, args = `UPDATE runs SET started_at = ?, final_state = 'playing' WHERE id = ?`, []any{at.UnixNano()}
	case eventbus.KindLooped:
		update = `UPDATE runs SET loops = loops + 1 WHERE id = ?`
	case eventbus.KindError:
		update, args = `UPDATE runs SET error = ?, category = ? WHERE id = ?`, []any{ev.Message, ev.Category}
	case eventbus.KindTerminated:
		update = `UPDATE runs SET ended_at = ?, final_state = 'terminated',
			error = CASE WHEN error = '' THEN ? ELSE error END,
			category = CASE WHEN category = '' THEN ? ELSE category END
			WHERE id = ?`
		args = []any{at.UnixNano(), ev.Message, ev.Category}
	}
	if update != "" {
		if _, err := tx.Exec(update, append(args, ev.RuntimeID)...); err != nil {
			return fmt.Errorf("journal: update run: %w", err)
		}
	}

	if _, err := tx.Exec(
		`INSERT INTO events (run_id, kind, source, message, at) VALUES (?, ?, ?, ?, ?)`,
		ev.RuntimeID, ev.Kind.String(), ev.Source, ev.Message, at.UnixNano(),
	); err != nil {
		return fmt.Errorf("journal: insert event: %w", err)
	}
	return tx.Commit()
}

// Follow records events from ch until ctx is done. Failures are logged, not returned.
func (j *Journal) Follow(ctx context.Context, ch <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-ch:
			if err := j.Record(ev); err != nil {
				j.logger.Warn().Err(err).Str("runtime_id", ev.RuntimeID).Str("kind", ev.Kind.String()).Msg("journal: record failed")
			}
		}
	}
}

// Runs returns the most recent runs first
func (j *Journal) Runs(limit int) ([]Run, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	rows, err := j.db.Query(`
		SELECT id, name, description, loop, loops, created_at, started_at, ended_at,
			final_state, error, category
		FROM runs
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("journal: query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r              Run
			loop           int
			created        int64
			started, ended sql.NullInt64
		)
		if err := rows.Scan(&r.ID, &r.Name, &r.Description, &loop, &r.Loops, &created, &started, &ended,
			&r.FinalState, &r.Error, &r.Category); err != nil {
			return nil, fmt.Errorf("journal: scan run: %w", err)
		}
		r.Loop = loop != 0
		r.CreatedAt = time.Unix(0, created)
		r.StartedAt = nullTime(started)
		r.EndedAt = nullTime(ended)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Events returns the recorded events of one run in order
func (j *Journal) Events(runID string) ([]Entry, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	rows, err := j.db.Query(`
		SELECT run_id, kind, source, message, at
		FROM events
		WHERE run_id = ?
		ORDER BY id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("journal: query events: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e  Entry
			at int64
		)
		if err := rows.Scan(&e.RunID, &e.Kind, &e.Source, &e.Message, &at); err != nil {
			return nil, fmt.Errorf("journal: scan event: %w", err)
		}
		e.At = time.Unix(0, at)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func nullTime(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(0, v.Int64)
	return &t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
