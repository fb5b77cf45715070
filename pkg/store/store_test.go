package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ormasoftchile/radrun/pkg/runtime"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "radrun.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func createRecord(t *testing.T, s *SQLiteStore, id string) *runtime.ExecutionRecord {
	t.Helper()
	rec := &runtime.ExecutionRecord{
		ID:           id,
		ScenarioName: "auth-flow",
		ProfileName:  "lab",
		Status:       runtime.StatusRunning,
		StartedAt:    time.Now().UTC().Truncate(time.Second),
	}
	if err := s.CreateExecution(context.Background(), rec); err != nil {
		t.Fatalf("CreateExecution: %v", err)
	}
	return rec
}

func TestExecutionLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	rec := createRecord(t, s, "exec-1")

	ended := rec.StartedAt.Add(3 * time.Second)
	if err := s.FinishExecution(ctx, rec.ID, runtime.StatusCompleted, ended); err != nil {
		t.Fatalf("FinishExecution: %v", err)
	}

	records, err := s.ListExecutions(ctx)
	if err != nil {
		t.Fatalf("ListExecutions: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	got := records[0]
	if got.Status != runtime.StatusCompleted {
		t.Errorf("status = %q, want Completed", got.Status)
	}
	if got.EndedAt == nil {
		t.Error("EndedAt not persisted")
	}
}

func TestFinishExecutionIsOneWay(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	rec := createRecord(t, s, "exec-1")

	if err := s.FinishExecution(ctx, rec.ID, runtime.StatusFailed, time.Now()); err != nil {
		t.Fatalf("first FinishExecution: %v", err)
	}
	if err := s.FinishExecution(ctx, rec.ID, runtime.StatusCompleted, time.Now()); err == nil {
		t.Error("second FinishExecution succeeded, terminal state was overwritten")
	}

	records, _ := s.ListExecutions(ctx)
	if records[0].Status != runtime.StatusFailed {
		t.Errorf("status = %q, want Failed to stick", records[0].Status)
	}
}

func TestFinishUnknownExecution(t *testing.T) {
	s := openTestStore(t)
	if err := s.FinishExecution(context.Background(), "nope", runtime.StatusCompleted, time.Now()); err == nil {
		t.Error("FinishExecution of unknown id succeeded, want error")
	}
}

func TestGetExecution(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	rec := createRecord(t, s, "exec-1")

	got, err := s.GetExecution(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetExecution: %v", err)
	}
	if got.Status != runtime.StatusRunning || got.EndedAt != nil {
		t.Errorf("fresh record = %+v, want Running with nil EndedAt", got)
	}

	if err := s.FinishExecution(ctx, rec.ID, runtime.StatusFailed, time.Now()); err != nil {
		t.Fatalf("FinishExecution: %v", err)
	}
	got, err = s.GetExecution(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetExecution after finish: %v", err)
	}
	if got.Status != runtime.StatusFailed {
		t.Errorf("status = %q, want Failed", got.Status)
	}
	if got.EndedAt == nil {
		t.Error("EndedAt not returned for a finished record")
	}

	if _, err := s.GetExecution(ctx, "nope"); err == nil {
		t.Error("GetExecution of unknown id succeeded, want error")
	}
}

func TestAppendAndGetLogsPreservesOrder(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	createRecord(t, s, "exec-1")

	stamp := time.Now().UTC().Truncate(time.Millisecond)
	batch := []runtime.LogEntry{
		{Timestamp: stamp, Level: runtime.LevelInfo, Message: "first"},
		{Timestamp: stamp, Level: runtime.LevelSent, StepID: "s1", Message: "second", Detail: "Access-Request"},
		{Timestamp: stamp.Add(time.Millisecond), Level: runtime.LevelError, StepID: "s1", Message: "third"},
	}
	if err := s.AppendLogs(ctx, "exec-1", batch); err != nil {
		t.Fatalf("AppendLogs: %v", err)
	}

	got, err := s.GetLogs(ctx, "exec-1")
	if err != nil {
		t.Fatalf("GetLogs: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d entries, want 3", len(got))
	}
	for i, want := range []string{"first", "second", "third"} {
		if got[i].Message != want {
			t.Errorf("entry %d message = %q, want %q", i, got[i].Message, want)
		}
	}
	if got[1].StepID != "s1" || got[1].Detail != "Access-Request" {
		t.Errorf("entry 1 = %+v, step id or detail lost", got[1])
	}
}

func TestLogsIsolatedPerExecution(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	createRecord(t, s, "exec-a")
	createRecord(t, s, "exec-b")

	s.AppendLogs(ctx, "exec-a", []runtime.LogEntry{{Timestamp: time.Now(), Level: runtime.LevelInfo, Message: "a"}})
	s.AppendLogs(ctx, "exec-b", []runtime.LogEntry{{Timestamp: time.Now(), Level: runtime.LevelInfo, Message: "b1"}, {Timestamp: time.Now(), Level: runtime.LevelInfo, Message: "b2"}})

	a, _ := s.GetLogs(ctx, "exec-a")
	b, _ := s.GetLogs(ctx, "exec-b")
	if len(a) != 1 || len(b) != 2 {
		t.Errorf("len(a) = %d, len(b) = %d, want 1 and 2", len(a), len(b))
	}
}

func TestCreateSummaryRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	createRecord(t, s, "exec-1")

	sum := &runtime.RunSummary{
		ExecutionID:  "exec-1",
		Status:       runtime.StatusFailed,
		StepsTotal:   5,
		StepsPassed:  2,
		StepsFailed:  1,
		StepsSkipped: 2,
		FailedStepID: "s3",
		Error:        "radius tool exited with code 1",
	}
	if err := s.CreateSummary(ctx, sum); err != nil {
		t.Fatalf("CreateSummary: %v", err)
	}

	// Duplicate summary for the same run must be rejected by the PK.
	if err := s.CreateSummary(ctx, sum); err == nil {
		t.Error("duplicate summary accepted, want primary key violation")
	}
}
