package task

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/dotsetgreg/kiwid/pkg/memory"
)

func newTestMachine(t *testing.T, maxDepth int) (*Machine, *memory.SQLiteStore) {
	t.Helper()
	store, err := memory.Open(filepath.Join(t.TempDir(), "store.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return NewMachine(store, maxDepth), store
}

func TestOneActiveTaskPerUser(t *testing.T) {
	m, _ := newTestMachine(t, 4)

	if _, err := m.Begin("u1", "first"); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := m.Begin("u1", "second"); !errors.Is(err, ErrActiveTaskExists) {
		t.Fatalf("expected ErrActiveTaskExists, got %v", err)
	}

	// other users are unaffected
	if _, err := m.Begin("u2", "other"); err != nil {
		t.Fatalf("begin u2: %v", err)
	}
}

func TestInterruptResumeRoundTrip(t *testing.T) {
	m, _ := newTestMachine(t, 4)
	ctx := context.Background()

	started, err := m.Begin("u1", "book a flight")
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := m.SetPlan("u1", []string{"search flights", "compare prices", "book"}); err != nil {
		t.Fatalf("set plan: %v", err)
	}
	if err := m.RecordCall("u1", StepCall{Tool: "search", Result: "found 3 options"}); err != nil {
		t.Fatalf("record call: %v", err)
	}

	before := m.Active("u1")
	wantStep := before.CurrentStep
	wantSteps := make([]Step, len(before.Steps))
	copy(wantSteps, before.Steps)

	if err := m.Interrupt("u1", "urgent question"); err != nil {
		t.Fatalf("interrupt: %v", err)
	}
	if m.Active("u1") != nil {
		t.Fatal("active slot should be free after interrupt")
	}

	goal, err := m.Resume("u1")
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if goal != "book a flight" {
		t.Fatalf("unexpected resumed goal %q", goal)
	}

	restored := m.Active("u1")
	if restored == nil {
		t.Fatal("expected restored task in active slot")
	}
	if restored.ID != started.ID {
		t.Fatalf("resumed a different task: %s vs %s", restored.ID, started.ID)
	}
	if restored.Status != StatusActive {
		t.Fatalf("expected active status, got %s", restored.Status)
	}
	if restored.CurrentStep != wantStep {
		t.Fatalf("step index not restored: got %d want %d", restored.CurrentStep, wantStep)
	}
	if !reflect.DeepEqual(restored.Steps, wantSteps) {
		t.Fatalf("partial results not restored:\ngot  %+v\nwant %+v", restored.Steps, wantSteps)
	}

	depth, err := m.Depth(ctx, "u1")
	if err != nil {
		t.Fatalf("depth: %v", err)
	}
	if depth != 0 {
		t.Fatalf("stack should be empty after resume, depth=%d", depth)
	}
}

func TestInterruptAtDepthBoundLeavesStackUnchanged(t *testing.T) {
	m, _ := newTestMachine(t, 2)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := m.Begin("u1", "layered work"); err != nil {
			t.Fatalf("begin: %v", err)
		}
		if err := m.Interrupt("u1", "next thing"); err != nil {
			t.Fatalf("interrupt %d: %v", i, err)
		}
	}

	if _, err := m.Begin("u1", "one too many"); err != nil {
		t.Fatalf("begin: %v", err)
	}
	err := m.Interrupt("u1", "overflow")
	if !errors.Is(err, ErrStackDepthExceeded) {
		t.Fatalf("expected ErrStackDepthExceeded, got %v", err)
	}

	depth, derr := m.Depth(ctx, "u1")
	if derr != nil {
		t.Fatalf("depth: %v", derr)
	}
	if depth != 2 {
		t.Fatalf("stack must be unchanged after denied interrupt, depth=%d", depth)
	}
	if active := m.Active("u1"); active == nil || active.Status != StatusActive {
		t.Fatalf("denied interrupt must leave the task active, got %+v", active)
	}
}

func TestCompleteAutoResumesMostRecentInterrupted(t *testing.T) {
	m, _ := newTestMachine(t, 4)
	ctx := context.Background()

	first, err := m.Begin("u1", "long research task")
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := m.Interrupt("u1", "user asked something else"); err != nil {
		t.Fatalf("interrupt: %v", err)
	}

	if _, err := m.Begin("u1", "quick question"); err != nil {
		t.Fatalf("begin second: %v", err)
	}
	resumed, err := m.Complete(ctx, "u1")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if resumed == nil || resumed.ID != first.ID {
		t.Fatalf("expected first task auto-resumed, got %+v", resumed)
	}
	if m.Active("u1") != resumed {
		t.Fatal("resumed task should occupy the active slot")
	}
}

func TestCompleteWithEmptyStack(t *testing.T) {
	m, _ := newTestMachine(t, 4)

	if _, err := m.Begin("u1", "simple"); err != nil {
		t.Fatalf("begin: %v", err)
	}
	resumed, err := m.Complete(context.Background(), "u1")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if resumed != nil {
		t.Fatalf("expected no resumption with empty stack, got %+v", resumed)
	}
	if m.Active("u1") != nil {
		t.Fatal("active slot should be free")
	}
}

func TestResumeGuards(t *testing.T) {
	m, _ := newTestMachine(t, 4)

	if _, err := m.Resume("u1"); err == nil {
		t.Fatal("expected error resuming with empty stack")
	}

	if _, err := m.Begin("u1", "busy"); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := m.Resume("u1"); !errors.Is(err, ErrActiveTaskExists) {
		t.Fatalf("expected ErrActiveTaskExists, got %v", err)
	}
}

func TestFailFreesSlotWithoutTouchingStack(t *testing.T) {
	m, _ := newTestMachine(t, 4)
	ctx := context.Background()

	if _, err := m.Begin("u1", "background work"); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := m.Interrupt("u1", "pause"); err != nil {
		t.Fatalf("interrupt: %v", err)
	}
	if _, err := m.Begin("u1", "doomed"); err != nil {
		t.Fatalf("begin: %v", err)
	}

	if err := m.Fail("u1", "tool exhausted retries"); err != nil {
		t.Fatalf("fail: %v", err)
	}
	if m.Active("u1") != nil {
		t.Fatal("active slot should be free after failure")
	}
	depth, err := m.Depth(ctx, "u1")
	if err != nil {
		t.Fatalf("depth: %v", err)
	}
	if depth != 1 {
		t.Fatalf("failure must not pop the interrupted stack, depth=%d", depth)
	}
}

func TestTerminalTasksAreArchived(t *testing.T) {
	m, store := newTestMachine(t, 4)
	ctx := context.Background()

	completed, err := m.Begin("u1", "quick job")
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := m.Complete(ctx, "u1"); err != nil {
		t.Fatalf("complete: %v", err)
	}

	failed, err := m.Begin("u1", "doomed job")
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := m.Fail("u1", "retries exhausted"); err != nil {
		t.Fatalf("fail: %v", err)
	}

	records, err := store.ArchivedTasks(ctx, "u1", 10)
	if err != nil {
		t.Fatalf("archived tasks: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected both terminal tasks archived, got %d records", len(records))
	}

	byID := make(map[string]memory.TaskRecord, len(records))
	for _, rec := range records {
		byID[rec.TaskID] = rec
	}
	if rec, ok := byID[completed.ID]; !ok || rec.Status != string(StatusCompleted) {
		t.Fatalf("completed task not archived correctly: %+v", rec)
	}
	rec, ok := byID[failed.ID]
	if !ok || rec.Status != string(StatusFailed) {
		t.Fatalf("failed task not archived correctly: %+v", rec)
	}
	if rec.Detail != "retries exhausted" {
		t.Fatalf("failure reason lost in archive: %q", rec.Detail)
	}

	restored, err := restore(rec.Snapshot)
	if err != nil {
		t.Fatalf("restore archived snapshot: %v", err)
	}
	if restored.Goal != "doomed job" {
		t.Fatalf("archived snapshot lost the goal: %q", restored.Goal)
	}

	// archival is provenance only; no record for another user
	other, err := store.ArchivedTasks(ctx, "u2", 10)
	if err != nil {
		t.Fatalf("archived tasks u2: %v", err)
	}
	if len(other) != 0 {
		t.Fatalf("archive leaked across users: %+v", other)
	}
}

func TestSnapshotRestoreIsLossless(t *testing.T) {
	original := &Task{
		ID:          "task-abc",
		UserID:      "u1",
		Goal:        "plan the trip",
		CurrentStep: 1,
		Status:      StatusInterrupted,
		Steps: []Step{
			{Description: "pick dates", Done: true, Calls: []StepCall{
				{Tool: "calendar", Arguments: map[string]interface{}{"month": "june"}, Result: "free 12-19"},
			}},
			{Description: "find hotel"},
		},
		InterruptReason: "incoming alarm",
	}

	data, err := original.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	got, err := restore(data)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if got.ID != original.ID || got.CurrentStep != original.CurrentStep || got.InterruptReason != original.InterruptReason {
		t.Fatalf("scalar fields lost: %+v", got)
	}
	if !reflect.DeepEqual(got.Steps, original.Steps) {
		t.Fatalf("steps lost in round trip:\ngot  %+v\nwant %+v", got.Steps, original.Steps)
	}
}
