package tools

import (
	"context"
	"fmt"
	"strings"
)

// MemoryWriter is the long-term memory append capability. The store
// performs no worthiness judgment; this tool is only invoked when the
// reasoning step has already decided something is worth keeping.
type MemoryWriter interface {
	Remember(ctx context.Context, userID, content, source, kind string) error
}

// FollowupWriter records things to assist the user with later. These are
// separate from the interrupted-task stack: they carry no resumable
// execution state.
type FollowupWriter interface {
	AddFollowup(ctx context.Context, userID, content string) (string, error)
	ResolveFollowup(ctx context.Context, userID, followupID string) error
}

type RememberTool struct {
	writer MemoryWriter
}

func NewRememberTool(writer MemoryWriter) *RememberTool {
	return &RememberTool{writer: writer}
}

func (t *RememberTool) Name() string { return "remember" }

func (t *RememberTool) Description() string {
	return "Save a durable fact, preference, or event about the user to long-term memory."
}

func (t *RememberTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"content": map[string]interface{}{
				"type":        "string",
				"description": "The information to remember, phrased as a standalone statement",
			},
			"kind": map[string]interface{}{
				"type":        "string",
				"enum":        []string{"fact", "preference", "event"},
				"description": "What kind of memory this is",
			},
			"source": map[string]interface{}{
				"type":        "string",
				"description": "Where this was learned (defaults to the current conversation)",
			},
		},
		"required": []string{"content", "kind"},
	}
}

func (t *RememberTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	userID := UserFromContext(ctx)
	if userID == "" {
		return ErrorResult("remember: no user in execution context")
	}

	content, _ := args["content"].(string)
	kind, _ := args["kind"].(string)
	source, _ := args["source"].(string)
	if strings.TrimSpace(source) == "" {
		source = "conversation"
	}

	if err := t.writer.Remember(ctx, userID, strings.TrimSpace(content), source, kind); err != nil {
		return ErrorResult(fmt.Sprintf("remember failed: %v", err)).WithError(err)
	}
	return SilentResult("Saved to long-term memory.")
}

type NoteFollowupTool struct {
	writer FollowupWriter
}

func NewNoteFollowupTool(writer FollowupWriter) *NoteFollowupTool {
	return &NoteFollowupTool{writer: writer}
}

func (t *NoteFollowupTool) Name() string { return "note_followup" }

func (t *NoteFollowupTool) Description() string {
	return "Note something to help the user with later. Pending followups reappear in future conversations until resolved."
}

func (t *NoteFollowupTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"content": map[string]interface{}{
				"type":        "string",
				"description": "What to follow up on",
			},
		},
		"required": []string{"content"},
	}
}

func (t *NoteFollowupTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	userID := UserFromContext(ctx)
	if userID == "" {
		return ErrorResult("note_followup: no user in execution context")
	}

	content, _ := args["content"].(string)
	id, err := t.writer.AddFollowup(ctx, userID, strings.TrimSpace(content))
	if err != nil {
		return ErrorResult(fmt.Sprintf("note_followup failed: %v", err)).WithError(err)
	}
	return SilentResult(fmt.Sprintf("Followup noted (id %s).", id))
}

type ResolveFollowupTool struct {
	writer FollowupWriter
}

func NewResolveFollowupTool(writer FollowupWriter) *ResolveFollowupTool {
	return &ResolveFollowupTool{writer: writer}
}

func (t *ResolveFollowupTool) Name() string { return "resolve_followup" }

func (t *ResolveFollowupTool) Description() string {
	return "Mark a pending followup as handled so it stops reappearing."
}

func (t *ResolveFollowupTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"id": map[string]interface{}{
				"type":        "string",
				"description": "The followup id to resolve",
			},
		},
		"required": []string{"id"},
	}
}

func (t *ResolveFollowupTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	userID := UserFromContext(ctx)
	if userID == "" {
		return ErrorResult("resolve_followup: no user in execution context")
	}

	id, _ := args["id"].(string)
	if err := t.writer.ResolveFollowup(ctx, userID, strings.TrimSpace(id)); err != nil {
		return ErrorResult(fmt.Sprintf("resolve_followup failed: %v", err)).WithError(err)
	}
	return SilentResult("Followup resolved.")
}
