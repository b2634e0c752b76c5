package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"tracecheck/internal/db"
	"tracecheck/internal/migrate"
	"tracecheck/internal/report"
	"tracecheck/internal/rules"
	"tracecheck/internal/store"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(dir)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store.New(conn)
}

func sampleReport() *report.Report {
	v := 150.0
	return report.Build(rules.Standard, []rules.Result{
		{RuleName: "required-nodes-present", Category: rules.Structure, Passed: true, Message: "ok"},
		{RuleName: "latency-bound", Category: rules.Performance, Passed: false, Message: "exceeded", MeasuredValue: &v},
	}, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
}

func TestSaveAndGetRun(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	run, err := st.SaveRun(ctx, sampleReport(), "trace.jsonl", 42)
	if err != nil {
		t.Fatalf("save run: %v", err)
	}
	if run.ID == "" {
		t.Fatalf("expected run id")
	}
	if run.Level != "standard" || run.TraceEvents != 42 || run.FailedRules != 1 {
		t.Fatalf("run fields: %+v", run)
	}

	got, rep, err := st.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if got.ID != run.ID || got.TraceSource != "trace.jsonl" {
		t.Fatalf("fetched run: %+v", got)
	}
	if rep == nil || rep.TotalRules != 2 || len(rep.Results) != 2 {
		t.Fatalf("fetched report: %+v", rep)
	}
	if rep.Results[1].MeasuredValue == nil || *rep.Results[1].MeasuredValue != 150 {
		t.Fatalf("measured value lost in round trip: %+v", rep.Results[1])
	}
}

func TestGetRunNotFound(t *testing.T) {
	st := newTestStore(t)
	_, _, err := st.GetRun(context.Background(), "missing")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListRunsNewestFirst(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var ids []string
	for i := 0; i < 3; i++ {
		when := base.Add(time.Duration(i) * time.Minute)
		st.Now = func() time.Time { return when }
		run, err := st.SaveRun(ctx, sampleReport(), "", 0)
		if err != nil {
			t.Fatalf("save run %d: %v", i, err)
		}
		ids = append(ids, run.ID)
	}

	runs, err := st.ListRuns(ctx, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("expected 3 runs, got %d", len(runs))
	}
	if runs[0].ID != ids[2] || runs[2].ID != ids[0] {
		t.Fatalf("not newest first: %v vs %v", runs, ids)
	}

	limited, err := st.ListRuns(ctx, 2)
	if err != nil {
		t.Fatalf("list limited: %v", err)
	}
	if len(limited) != 2 || limited[0].ID != ids[2] {
		t.Fatalf("limit broken: %v", limited)
	}
}

func TestDeleteRun(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	run, err := st.SaveRun(ctx, sampleReport(), "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := st.DeleteRun(ctx, run.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, _, err := st.GetRun(ctx, run.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected deleted run gone, got %v", err)
	}
	// cascade removed the per-rule rows
	var count int
	if err := st.DB.QueryRowContext(ctx, `SELECT count(*) FROM run_results WHERE run_id=?`, run.ID).Scan(&count); err != nil {
		t.Fatalf("count results: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected cascaded delete, %d rows remain", count)
	}
	if err := st.DeleteRun(ctx, run.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("double delete should be ErrNotFound, got %v", err)
	}
}

func TestTailEventsChronological(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	run, err := st.SaveRun(ctx, sampleReport(), "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := st.DeleteRun(ctx, run.ID); err != nil {
		t.Fatal(err)
	}

	events, err := st.TailEvents(ctx, 10)
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Type != "run.recorded" || events[1].Type != "run.deleted" {
		t.Fatalf("expected chronological order: %+v", events)
	}
	if events[0].RunID != run.ID {
		t.Fatalf("event run id: %+v", events[0])
	}
}
