package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"tracecheck/internal/events"
	"tracecheck/internal/report"
)

var ErrNotFound = errors.New("not found")

// Run is one persisted validation run.
type Run struct {
	ID          string  `json:"id"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	Level       string  `json:"level"`
	TraceSource string  `json:"trace_source,omitempty"`
	TraceEvents int     `json:"trace_events"`
	TotalRules  int     `json:"total_rules"`
	PassedRules int     `json:"passed_rules"`
	FailedRules int     `json:"failed_rules"`
	SuccessRate float64 `json:"success_rate"`
}

// Event is one audit log entry.
type Event struct {
	ID      int64  `json:"id"`
	TS      string `json:"ts" format:"date-time"`
	Type    string `json:"type"`
	RunID   string `json:"run_id,omitempty"`
	Payload string `json:"payload_json"`
}

// Store persists validation runs and their per-rule results.
type Store struct {
	DB     *sql.DB
	Events events.Writer
	Now    func() time.Time
}

func New(db *sql.DB) Store {
	return Store{
		DB:     db,
		Events: events.Writer{DB: db},
		Now:    time.Now,
	}
}

func (s Store) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// SaveRun records a report with its per-rule results and appends a
// run.recorded event.
func (s Store) SaveRun(ctx context.Context, rep *report.Report, traceSource string, traceEvents int) (Run, error) {
	data, err := json.Marshal(rep)
	if err != nil {
		return Run{}, fmt.Errorf("marshal report: %w", err)
	}
	run := Run{
		ID:          uuid.New().String(),
		CreatedAt:   s.now().UTC().Format(time.RFC3339),
		Level:       rep.Level,
		TraceSource: traceSource,
		TraceEvents: traceEvents,
		TotalRules:  rep.TotalRules,
		PassedRules: rep.PassedRules,
		FailedRules: rep.FailedRules,
		SuccessRate: rep.SuccessRate,
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return Run{}, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `INSERT INTO runs(id,created_at,level,trace_source,trace_events,total_rules,passed_rules,failed_rules,success_rate,report_json)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		run.ID, run.CreatedAt, run.Level, nullable(run.TraceSource), run.TraceEvents,
		run.TotalRules, run.PassedRules, run.FailedRules, run.SuccessRate, string(data)); err != nil {
		return Run{}, fmt.Errorf("insert run: %w", err)
	}
	for seq, res := range rep.Results {
		var measured any
		if res.MeasuredValue != nil {
			measured = *res.MeasuredValue
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO run_results(run_id,seq,rule_name,category,passed,message,measured_value)
			VALUES (?,?,?,?,?,?,?)`,
			run.ID, seq, res.RuleName, string(res.Category), boolInt(res.Passed), res.Message, measured); err != nil {
			return Run{}, fmt.Errorf("insert run result: %w", err)
		}
	}
	if err := s.Events.Append(ctx, tx, "run.recorded", run.ID, events.EventPayload{
		"level":        run.Level,
		"failed_rules": run.FailedRules,
		"success_rate": run.SuccessRate,
	}); err != nil {
		return Run{}, err
	}
	if err := tx.Commit(); err != nil {
		return Run{}, err
	}
	return run, nil
}

// ListRuns returns runs newest first, up to limit (0 means all).
func (s Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	q := `SELECT id,created_at,level,COALESCE(trace_source,''),trace_events,total_rules,passed_rules,failed_rules,success_rate FROM runs ORDER BY created_at DESC, id DESC`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.CreatedAt, &r.Level, &r.TraceSource, &r.TraceEvents,
			&r.TotalRules, &r.PassedRules, &r.FailedRules, &r.SuccessRate); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetRun loads one run with its full report.
func (s Store) GetRun(ctx context.Context, id string) (Run, *report.Report, error) {
	var r Run
	var reportJSON string
	err := s.DB.QueryRowContext(ctx, `SELECT id,created_at,level,COALESCE(trace_source,''),trace_events,total_rules,passed_rules,failed_rules,success_rate,report_json FROM runs WHERE id=?`, id).
		Scan(&r.ID, &r.CreatedAt, &r.Level, &r.TraceSource, &r.TraceEvents,
			&r.TotalRules, &r.PassedRules, &r.FailedRules, &r.SuccessRate, &reportJSON)
	if err == sql.ErrNoRows {
		return Run{}, nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Run{}, nil, err
	}
	var rep report.Report
	if err := json.Unmarshal([]byte(reportJSON), &rep); err != nil {
		return Run{}, nil, fmt.Errorf("unmarshal stored report: %w", err)
	}
	return r, &rep, nil
}

// DeleteRun removes a run and its results.
func (s Store) DeleteRun(ctx context.Context, id string) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	res, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE id=?`, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err := s.Events.Append(ctx, tx, "run.deleted", id, nil); err != nil {
		return err
	}
	return tx.Commit()
}

// TailEvents returns the newest audit log entries, oldest first.
func (s Store) TailEvents(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id,ts,type,COALESCE(run_id,''),payload_json FROM events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.RunID, &e.Payload); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// reverse to chronological order
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
