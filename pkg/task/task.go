// Package task drives a single user's work through ordered steps and
// owns the interruption/resumption mechanics. Each user has at most one
// active task plus a bounded stack of interrupted snapshots.
package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dotsetgreg/kiwid/pkg/logger"
	"github.com/dotsetgreg/kiwid/pkg/memory"
)

var (
	// ErrStackDepthExceeded denies an interruption that would grow the
	// stack past its bound. The stack is left unchanged; the caller must
	// finish or abandon an interrupted task first.
	ErrStackDepthExceeded = errors.New("interrupted-task stack depth exceeded")

	// ErrNoActiveTask is returned by operations that need an active task.
	ErrNoActiveTask = errors.New("no active task")

	// ErrActiveTaskExists is returned by Resume when the active slot is
	// still occupied.
	ErrActiveTaskExists = errors.New("a task is already active")
)

type Status string

const (
	StatusActive      Status = "active"
	StatusInterrupted Status = "interrupted"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
)

// StepCall records one tool invocation and its outcome within a step.
type StepCall struct {
	Tool      string                 `json:"tool"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`
	Result    string                 `json:"result,omitempty"`
	IsError   bool                   `json:"is_error,omitempty"`
}

// Step is one unit of planned execution.
type Step struct {
	Description string     `json:"description"`
	Calls       []StepCall `json:"calls,omitempty"`
	Done        bool       `json:"done,omitempty"`
}

// Task tracks progress through ordered steps toward a user goal.
type Task struct {
	ID              string    `json:"id"`
	UserID          string    `json:"user_id"`
	Goal            string    `json:"goal"`
	Steps           []Step    `json:"steps,omitempty"`
	CurrentStep     int       `json:"current_step"`
	Status          Status    `json:"status"`
	InterruptReason string    `json:"interrupt_reason,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// Snapshot serializes the task for the interrupted stack.
func (t *Task) Snapshot() ([]byte, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("serialize task snapshot: %w", err)
	}
	return data, nil
}

func restore(data []byte) (*Task, error) {
	var t Task
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("restore task snapshot: %w", err)
	}
	return &t, nil
}

// Remaining reports whether any planned steps are left.
func (t *Task) Remaining() bool {
	return t.CurrentStep < len(t.Steps)
}

// SnapshotStore is the persistence the machine needs for the
// interrupted stack, satisfied by memory.SQLiteStore.
type SnapshotStore interface {
	PushSnapshot(ctx context.Context, userID string, snapshot []byte) error
	PopSnapshot(ctx context.Context, userID string) ([]byte, error)
	SnapshotDepth(ctx context.Context, userID string) (int, error)
	ArchiveTask(ctx context.Context, userID, taskID, status, detail string, snapshot []byte) error
}

// Machine holds each user's active slot and mediates every transition.
// Per-user state is only touched by that user's worker, but the maps
// are shared, so a single mutex guards them.
type Machine struct {
	store    SnapshotStore
	maxDepth int

	mu     sync.Mutex
	active map[string]*Task
}

func NewMachine(store SnapshotStore, maxDepth int) *Machine {
	if maxDepth <= 0 {
		maxDepth = 4
	}
	return &Machine{
		store:    store,
		maxDepth: maxDepth,
		active:   make(map[string]*Task),
	}
}

// Begin creates and activates a task for the user. Fails when the
// active slot is occupied; interruption is the only way to displace an
// active task.
func (m *Machine) Begin(userID, goal string) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.active[userID]; ok {
		return nil, ErrActiveTaskExists
	}
	t := &Task{
		ID:        "task-" + uuid.NewString()[:8],
		UserID:    userID,
		Goal:      goal,
		Status:    StatusActive,
		CreatedAt: time.Now(),
	}
	m.active[userID] = t
	logger.InfoCF("task", "task started", map[string]interface{}{"id": t.ID, "user": userID})
	return t, nil
}

// Active returns the user's active task, or nil.
func (m *Machine) Active(userID string) *Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active[userID]
}

// SetPlan records decomposed steps on the active task. Called when the
// completion response enumerates sub-goals; single-shot answers never
// get a plan.
func (m *Machine) SetPlan(userID string, steps []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.active[userID]
	if !ok {
		return ErrNoActiveTask
	}
	t.Steps = t.Steps[:0]
	for _, desc := range steps {
		t.Steps = append(t.Steps, Step{Description: desc})
	}
	t.CurrentStep = 0
	return nil
}

// RecordCall attaches a tool call outcome to the current step and
// advances the step index. Results arriving for a task with no plan are
// recorded as an implicit single step.
func (m *Machine) RecordCall(userID string, call StepCall) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.active[userID]
	if !ok {
		return ErrNoActiveTask
	}
	if len(t.Steps) == 0 {
		t.Steps = append(t.Steps, Step{Description: t.Goal})
	}
	idx := t.CurrentStep
	if idx >= len(t.Steps) {
		idx = len(t.Steps) - 1
	}
	t.Steps[idx].Calls = append(t.Steps[idx].Calls, call)
	t.Steps[idx].Done = true
	if t.CurrentStep < len(t.Steps) {
		t.CurrentStep++
	}
	return nil
}

// Complete finishes the active task and pops the most recent
// interrupted snapshot back to active, if any. Returns the resumed task
// or nil when the stack was empty.
func (m *Machine) Complete(ctx context.Context, userID string) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.active[userID]
	if !ok {
		return nil, ErrNoActiveTask
	}
	t.Status = StatusCompleted
	delete(m.active, userID)
	m.archiveLocked(ctx, t, "")
	logger.InfoCF("task", "task completed", map[string]interface{}{"id": t.ID, "user": userID})

	return m.popToActiveLocked(ctx, userID)
}

// Fail marks the active task failed and frees the slot. The stack is
// untouched; resumption of interrupted work remains explicit.
func (m *Machine) Fail(userID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.active[userID]
	if !ok {
		return ErrNoActiveTask
	}
	t.Status = StatusFailed
	delete(m.active, userID)
	m.archiveLocked(context.Background(), t, reason)
	logger.WarnCF("task", "task failed", map[string]interface{}{
		"id":     t.ID,
		"user":   userID,
		"reason": reason,
	})
	return nil
}

// Interrupt snapshots the active task onto the interrupted stack and
// frees the active slot. At the depth bound the request fails and the
// stack is left unchanged.
func (m *Machine) Interrupt(userID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ctx := context.Background()

	t, ok := m.active[userID]
	if !ok {
		return ErrNoActiveTask
	}

	depth, err := m.store.SnapshotDepth(ctx, userID)
	if err != nil {
		return err
	}
	if depth >= m.maxDepth {
		return fmt.Errorf("%w (depth %d)", ErrStackDepthExceeded, depth)
	}

	t.Status = StatusInterrupted
	t.InterruptReason = reason
	data, err := t.Snapshot()
	if err != nil {
		t.Status = StatusActive
		t.InterruptReason = ""
		return err
	}
	if err := m.store.PushSnapshot(ctx, userID, data); err != nil {
		t.Status = StatusActive
		t.InterruptReason = ""
		return err
	}
	delete(m.active, userID)
	logger.InfoCF("task", "task interrupted", map[string]interface{}{
		"id":     t.ID,
		"user":   userID,
		"reason": reason,
		"depth":  depth + 1,
	})
	return nil
}

// Resume pops the most recent snapshot back to active and returns its
// goal. Fails when another task is active or the stack is empty.
func (m *Machine) Resume(userID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.active[userID]; ok {
		return "", ErrActiveTaskExists
	}
	t, err := m.popToActiveLocked(context.Background(), userID)
	if err != nil {
		return "", err
	}
	if t == nil {
		return "", fmt.Errorf("nothing to resume: %w", memory.ErrEmptyStack)
	}
	return t.Goal, nil
}

// archiveLocked records a terminal task in the store. The slot is
// already freed; an archive failure is logged, it does not undo the
// transition.
func (m *Machine) archiveLocked(ctx context.Context, t *Task, detail string) {
	data, err := t.Snapshot()
	if err == nil {
		err = m.store.ArchiveTask(ctx, t.UserID, t.ID, string(t.Status), detail, data)
	}
	if err != nil {
		logger.WarnCF("task", "failed to archive terminal task", map[string]interface{}{
			"id":    t.ID,
			"user":  t.UserID,
			"error": err.Error(),
		})
	}
}

// popToActiveLocked restores the top snapshot into the active slot.
// Returns nil when the stack is empty.
func (m *Machine) popToActiveLocked(ctx context.Context, userID string) (*Task, error) {
	data, err := m.store.PopSnapshot(ctx, userID)
	if err != nil {
		if errors.Is(err, memory.ErrEmptyStack) {
			return nil, nil
		}
		return nil, err
	}
	t, err := restore(data)
	if err != nil {
		return nil, err
	}
	t.Status = StatusActive
	m.active[userID] = t
	logger.InfoCF("task", "task resumed", map[string]interface{}{"id": t.ID, "user": userID})
	return t, nil
}

// Depth reports the user's interrupted stack depth.
func (m *Machine) Depth(ctx context.Context, userID string) (int, error) {
	return m.store.SnapshotDepth(ctx, userID)
}
