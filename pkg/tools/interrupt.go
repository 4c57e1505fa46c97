package tools

import (
	"context"
	"fmt"
	"strings"
)

// TaskController is the slice of the task machine the self-interruption
// tools need. Interrupt snapshots the active task and frees the active
// slot; Resume pops the most recent snapshot back to active.
type TaskController interface {
	Interrupt(userID, reason string) error
	Resume(userID string) (string, error)
}

// InterruptTool lets the reasoning step interrupt its own active task.
// The in-flight work is not aborted; the snapshot is taken at the next
// step boundary and the active slot is freed.
type InterruptTool struct {
	ctl TaskController
}

func NewInterruptTool(ctl TaskController) *InterruptTool {
	return &InterruptTool{ctl: ctl}
}

func (t *InterruptTool) Name() string { return "interrupt" }

func (t *InterruptTool) Description() string {
	return "Pause the current task to handle something else. The task is snapshotted and can be resumed later."
}

func (t *InterruptTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"reason": map[string]interface{}{
				"type":        "string",
				"description": "Why the current task is being paused",
			},
		},
		"required": []string{"reason"},
	}
}

func (t *InterruptTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	userID := UserFromContext(ctx)
	if userID == "" {
		return ErrorResult("interrupt: no user in execution context")
	}
	reason, _ := args["reason"].(string)
	reason = strings.TrimSpace(reason)

	if err := t.ctl.Interrupt(userID, reason); err != nil {
		return ErrorResult(fmt.Sprintf("interrupt failed: %v", err)).WithError(err)
	}
	return SilentResult("Acknowledged. The active task has been snapshotted; the active slot is now free.")
}

// ResumeTool pops the most recently interrupted task back to active.
type ResumeTool struct {
	ctl TaskController
}

func NewResumeTool(ctl TaskController) *ResumeTool {
	return &ResumeTool{ctl: ctl}
}

func (t *ResumeTool) Name() string { return "resume" }

func (t *ResumeTool) Description() string {
	return "Resume the most recently interrupted task from its snapshot."
}

func (t *ResumeTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}

func (t *ResumeTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	userID := UserFromContext(ctx)
	if userID == "" {
		return ErrorResult("resume: no user in execution context")
	}

	goal, err := t.ctl.Resume(userID)
	if err != nil {
		return ErrorResult(fmt.Sprintf("resume failed: %v", err)).WithError(err)
	}
	return SilentResult(fmt.Sprintf("Resumed interrupted task: %s", goal))
}
