package sqlite

import (
	"path/filepath"
	"testing"
	"time"

	"clouddoctor/internal/triage"
)

func testStore(t *testing.T) *RunStore {
	t.Helper()
	db, err := InitDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("InitDB failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewRunStore(db)
}

func TestRecordAndReadRuns(t *testing.T) {
	store := testStore(t)

	err := store.RecordRun(triage.RunRecord{
		RequestID:      "user_101530",
		TriggeredBy:    "user",
		WindowMinutes:  30,
		LogsFetched:    12,
		Severity:       "critical",
		DetectedIssues: []string{"db-failure", "pool-exhaustion"},
		Drafted:        true,
		Notified:       true,
		Duration:       1500 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("RecordRun failed: %v", err)
	}

	runs, err := store.RecentRuns(10)
	if err != nil {
		t.Fatalf("RecentRuns failed: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(runs))
	}
	row := runs[0]
	if row.RequestID != "user_101530" || row.Severity != "critical" {
		t.Fatalf("unexpected row: %+v", row)
	}
	if len(row.DetectedIssues) != 2 || row.DetectedIssues[1] != "pool-exhaustion" {
		t.Fatalf("expected issues split back out, got %v", row.DetectedIssues)
	}
	if !row.Drafted || !row.Notified {
		t.Fatalf("expected drafted and notified flags set, got %+v", row)
	}
	if row.DurationMillis != 1500 {
		t.Fatalf("expected duration 1500ms, got %d", row.DurationMillis)
	}
}

func TestRecentRunsOrderAndLimit(t *testing.T) {
	store := testStore(t)

	for _, id := range []string{"r1", "r2", "r3"} {
		if err := store.RecordRun(triage.RunRecord{RequestID: id, WindowMinutes: 30}); err != nil {
			t.Fatalf("RecordRun %s failed: %v", id, err)
		}
	}

	runs, err := store.RecentRuns(2)
	if err != nil {
		t.Fatalf("RecentRuns failed: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected limit 2 applied, got %d", len(runs))
	}
	if runs[0].RequestID != "r3" || runs[1].RequestID != "r2" {
		t.Fatalf("expected newest first, got %v / %v", runs[0].RequestID, runs[1].RequestID)
	}
}

func TestRecentRunsEmptyIssues(t *testing.T) {
	store := testStore(t)

	if err := store.RecordRun(triage.RunRecord{RequestID: "clean", WindowMinutes: 30, Severity: "info"}); err != nil {
		t.Fatalf("RecordRun failed: %v", err)
	}

	runs, err := store.RecentRuns(1)
	if err != nil {
		t.Fatalf("RecentRuns failed: %v", err)
	}
	if runs[0].DetectedIssues == nil || len(runs[0].DetectedIssues) != 0 {
		t.Fatalf("expected empty issue list, got %v", runs[0].DetectedIssues)
	}
}

func TestRecordRunWithError(t *testing.T) {
	store := testStore(t)

	if err := store.RecordRun(triage.RunRecord{RequestID: "failed", WindowMinutes: 30, Err: "log source unavailable"}); err != nil {
		t.Fatalf("RecordRun failed: %v", err)
	}

	runs, err := store.RecentRuns(1)
	if err != nil {
		t.Fatalf("RecentRuns failed: %v", err)
	}
	if runs[0].Err != "log source unavailable" {
		t.Fatalf("expected error persisted, got %q", runs[0].Err)
	}
}
