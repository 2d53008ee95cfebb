package db

import (
	"fmt"
	"strings"
)

// Run represents a row in the runs table.
type Run struct {
	ID         string
	OutDir     string
	Status     string
	Detail     string
	StartedAt  string
	FinishedAt string
}

// Invocation represents a row in the invocations table.
type Invocation struct {
	ID         int
	RunID      string
	Tool       string
	Args       string
	ExitCode   int
	DurationMs int64
	Timestamp  string
}

// RunEvent represents a row in the run_events table.
type RunEvent struct {
	ID        int
	RunID     string
	Event     string
	Detail    string
	Timestamp string
}

// CreateRun records a newly started pipeline run.
func (d *DB) CreateRun(id, outDir string) error {
	_, err := d.conn.Exec(
		"INSERT INTO runs (id, out_dir, status) VALUES (?, ?, 'running')", id, outDir)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// FinishRun marks a run completed or failed.
func (d *DB) FinishRun(id, status, detail string) error {
	_, err := d.conn.Exec(
		"UPDATE runs SET status = ?, detail = ?, finished_at = datetime('now') WHERE id = ?",
		status, detail, id)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	return nil
}

// GetRun reads one run by ID.
func (d *DB) GetRun(id string) (*Run, error) {
	var r Run
	var detail, finished *string
	err := d.conn.QueryRow(
		"SELECT id, out_dir, status, detail, started_at, finished_at FROM runs WHERE id = ?", id).
		Scan(&r.ID, &r.OutDir, &r.Status, &detail, &r.StartedAt, &finished)
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	if detail != nil {
		r.Detail = *detail
	}
	if finished != nil {
		r.FinishedAt = *finished
	}
	return &r, nil
}

// ListRuns returns the most recent runs, newest first.
func (d *DB) ListRuns(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := d.conn.Query(
		"SELECT id, out_dir, status, detail, started_at, finished_at FROM runs ORDER BY started_at DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var detail, finished *string
		if err := rows.Scan(&r.ID, &r.OutDir, &r.Status, &detail, &r.StartedAt, &finished); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if detail != nil {
			r.Detail = *detail
		}
		if finished != nil {
			r.FinishedAt = *finished
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// LogRunEvent appends a lifecycle event for a run.
func (d *DB) LogRunEvent(runID, event, detail string) error {
	_, err := d.conn.Exec(
		"INSERT INTO run_events (run_id, event, detail) VALUES (?, ?, ?)", runID, event, detail)
	if err != nil {
		return fmt.Errorf("insert run event: %w", err)
	}
	return nil
}

// ListRunEvents returns the events for a run, oldest first.
func (d *DB) ListRunEvents(runID string) ([]RunEvent, error) {
	rows, err := d.conn.Query(
		"SELECT id, run_id, event, detail, timestamp FROM run_events WHERE run_id = ? ORDER BY id", runID)
	if err != nil {
		return nil, fmt.Errorf("list run events: %w", err)
	}
	defer rows.Close()

	var events []RunEvent
	for rows.Next() {
		var e RunEvent
		var detail *string
		if err := rows.Scan(&e.ID, &e.RunID, &e.Event, &detail, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan run event: %w", err)
		}
		if detail != nil {
			e.Detail = *detail
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// ListInvocations returns every external command a run issued, in order.
func (d *DB) ListInvocations(runID string) ([]Invocation, error) {
	rows, err := d.conn.Query(
		"SELECT id, run_id, tool, args, exit_code, duration_ms, timestamp FROM invocations WHERE run_id = ? ORDER BY id", runID)
	if err != nil {
		return nil, fmt.Errorf("list invocations: %w", err)
	}
	defer rows.Close()

	var invs []Invocation
	for rows.Next() {
		var i Invocation
		if err := rows.Scan(&i.ID, &i.RunID, &i.Tool, &i.Args, &i.ExitCode, &i.DurationMs, &i.Timestamp); err != nil {
			return nil, fmt.Errorf("scan invocation: %w", err)
		}
		invs = append(invs, i)
	}
	return invs, rows.Err()
}

// RunRecorder binds invocation recording to one run ID. It satisfies the
// invoker's Recorder interface; recording failures are swallowed because the
// ledger must never fail a pipeline.
type RunRecorder struct {
	db    *DB
	runID string
}

// NewRunRecorder creates a RunRecorder for the given run.
func (d *DB) NewRunRecorder(runID string) *RunRecorder {
	return &RunRecorder{db: d, runID: runID}
}

// RecordInvocation inserts one invocation row.
func (r *RunRecorder) RecordInvocation(tool string, args []string, exitCode int, durationMs int64) {
	_, _ = r.db.conn.Exec(
		"INSERT INTO invocations (run_id, tool, args, exit_code, duration_ms) VALUES (?, ?, ?, ?, ?)",
		r.runID, tool, strings.Join(args, " "), exitCode, durationMs)
}
