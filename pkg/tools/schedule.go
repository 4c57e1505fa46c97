package tools

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// AlarmScheduler is the slice of the scheduler the alarm tools need.
type AlarmScheduler interface {
	ScheduleAt(ctx context.Context, userID string, fireAt time.Time, payload string) (string, error)
	ScheduleCron(ctx context.Context, userID, expr, payload string) (string, error)
	Cancel(ctx context.Context, alarmID string) (bool, error)
}

// ScheduleTool registers a future or recurring alarm. When it fires, the
// payload arrives as an ordinary inbound message of kind alarm and flows
// through the session router like user input.
type ScheduleTool struct {
	scheduler AlarmScheduler
}

func NewScheduleTool(scheduler AlarmScheduler) *ScheduleTool {
	return &ScheduleTool{scheduler: scheduler}
}

func (t *ScheduleTool) Name() string { return "schedule" }

func (t *ScheduleTool) Description() string {
	return "Schedule a reminder. Use in_seconds or at (RFC3339) for one-shot alarms, or cron for recurring ones."
}

func (t *ScheduleTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"payload": map[string]interface{}{
				"type":        "string",
				"description": "Message delivered when the alarm fires",
			},
			"in_seconds": map[string]interface{}{
				"type":        "integer",
				"description": "Fire after this many seconds",
			},
			"at": map[string]interface{}{
				"type":        "string",
				"description": "Fire at this RFC3339 timestamp",
			},
			"cron": map[string]interface{}{
				"type":        "string",
				"description": "Cron expression for a recurring alarm",
			},
		},
		"required": []string{"payload"},
	}
}

func (t *ScheduleTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	userID := UserFromContext(ctx)
	if userID == "" {
		return ErrorResult("schedule: no user in execution context")
	}

	payload, _ := args["payload"].(string)
	payload = strings.TrimSpace(payload)

	if expr, ok := args["cron"].(string); ok && strings.TrimSpace(expr) != "" {
		id, err := t.scheduler.ScheduleCron(ctx, userID, strings.TrimSpace(expr), payload)
		if err != nil {
			return ErrorResult(fmt.Sprintf("schedule failed: %v", err)).WithError(err)
		}
		return SilentResult(fmt.Sprintf("Recurring alarm %s registered (cron %q).", id, expr))
	}

	fireAt, err := resolveFireAt(args)
	if err != nil {
		return ErrorResult(fmt.Sprintf("schedule failed: %v", err)).WithError(err)
	}

	id, err := t.scheduler.ScheduleAt(ctx, userID, fireAt, payload)
	if err != nil {
		return ErrorResult(fmt.Sprintf("schedule failed: %v", err)).WithError(err)
	}
	return SilentResult(fmt.Sprintf("Alarm %s registered for %s.", id, fireAt.Format(time.RFC3339)))
}

func resolveFireAt(args map[string]interface{}) (time.Time, error) {
	if raw, ok := args["at"].(string); ok && strings.TrimSpace(raw) != "" {
		fireAt, err := time.Parse(time.RFC3339, strings.TrimSpace(raw))
		if err != nil {
			return time.Time{}, fmt.Errorf("parse at timestamp: %w", err)
		}
		return fireAt, nil
	}
	if seconds, ok := asFloat(args["in_seconds"]); ok && seconds > 0 {
		return time.Now().Add(time.Duration(seconds) * time.Second), nil
	}
	return time.Time{}, fmt.Errorf("one of in_seconds, at, or cron is required")
}

// CancelAlarmTool cancels a pending alarm by id.
type CancelAlarmTool struct {
	scheduler AlarmScheduler
}

func NewCancelAlarmTool(scheduler AlarmScheduler) *CancelAlarmTool {
	return &CancelAlarmTool{scheduler: scheduler}
}

func (t *CancelAlarmTool) Name() string { return "cancel_alarm" }

func (t *CancelAlarmTool) Description() string {
	return "Cancel a pending alarm by id."
}

func (t *CancelAlarmTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"id": map[string]interface{}{
				"type":        "string",
				"description": "The alarm id to cancel",
			},
		},
		"required": []string{"id"},
	}
}

func (t *CancelAlarmTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	id, _ := args["id"].(string)
	ok, err := t.scheduler.Cancel(ctx, strings.TrimSpace(id))
	if err != nil {
		return ErrorResult(fmt.Sprintf("cancel_alarm failed: %v", err)).WithError(err)
	}
	if !ok {
		return SilentResult(fmt.Sprintf("Alarm %s was not pending (already fired or cancelled).", id))
	}
	return SilentResult(fmt.Sprintf("Alarm %s cancelled.", id))
}
