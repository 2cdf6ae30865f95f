// Package history is the local record of orchestration runs, one row per
// provision/update pass. It is observability only: a history failure must
// never fail the run it records.
package history

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"skipper/internal/converge"
)

// Run is one recorded orchestration pass.
type Run struct {
	ID         int64
	Host       string
	Operation  string
	Status     string
	Steps      []converge.StepRecord
	StartedAt  time.Time
	FinishedAt time.Time
}

// StatusFor summarizes a pass outcome for the runs table.
func StatusFor(res converge.Result, err error) string {
	switch {
	case err != nil:
		return "failed"
	case res.AllSkipped():
		return "no-op"
	default:
		return "converged"
	}
}

// Store is the sqlite-backed run history.
type Store struct {
	db *sql.DB
}

// Open opens (and if needed initializes) the history database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set history db journal mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set history db busy timeout: %w", err)
	}
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS runs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	host TEXT NOT NULL,
	operation TEXT NOT NULL,
	status TEXT NOT NULL,
	steps_json TEXT NOT NULL,
	started_at TEXT NOT NULL,
	finished_at TEXT NOT NULL
)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize history schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Record appends one run.
func (s *Store) Record(run Run) error {
	stepsJSON, err := json.Marshal(run.Steps)
	if err != nil {
		return fmt.Errorf("marshal run steps: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO runs (host, operation, status, steps_json, started_at, finished_at) VALUES (?, ?, ?, ?, ?, ?)`,
		run.Host,
		run.Operation,
		run.Status,
		string(stepsJSON),
		run.StartedAt.UTC().Format(time.RFC3339Nano),
		run.FinishedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

// List returns the most recent runs, newest first. limit <= 0 selects a
// default of 20.
func (s *Store) List(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(
		`SELECT id, host, operation, status, steps_json, started_at, finished_at FROM runs ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	out := make([]Run, 0, limit)
	for rows.Next() {
		var run Run
		var stepsJSON, startedAt, finishedAt string
		if err := rows.Scan(&run.ID, &run.Host, &run.Operation, &run.Status, &stepsJSON, &startedAt, &finishedAt); err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		if err := json.Unmarshal([]byte(stepsJSON), &run.Steps); err != nil {
			return nil, fmt.Errorf("unmarshal steps for run %d: %w", run.ID, err)
		}
		if t, err := time.Parse(time.RFC3339Nano, startedAt); err == nil {
			run.StartedAt = t
		}
		if t, err := time.Parse(time.RFC3339Nano, finishedAt); err == nil {
			run.FinishedAt = t
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run rows: %w", err)
	}
	return out, nil
}
