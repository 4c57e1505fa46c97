package tools

import (
	"context"
	"fmt"
	"strings"
)

// DraftManager stages on-behalf-of-user messages. A draft is never
// enqueued outbound until the user explicitly confirms it; unconfirmed
// drafts expire and are discarded.
type DraftManager interface {
	CreateDraft(ctx context.Context, userID, channel, chatID, content string) (string, error)
}

// DraftUserMessageTool drafts an outbound message written in the user's
// voice, derived from their prior style in history. The draft is shown
// back for confirmation; it is not sent by this tool.
type DraftUserMessageTool struct {
	drafts DraftManager
}

func NewDraftUserMessageTool(drafts DraftManager) *DraftUserMessageTool {
	return &DraftUserMessageTool{drafts: drafts}
}

func (t *DraftUserMessageTool) Name() string { return "draft_user_message" }

func (t *DraftUserMessageTool) Description() string {
	return "Draft a message to be sent on the user's behalf, mimicking their style. The user must confirm before it is sent; unconfirmed drafts expire."
}

func (t *DraftUserMessageTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"content": map[string]interface{}{
				"type":        "string",
				"description": "The drafted message text, in the user's voice",
			},
		},
		"required": []string{"content"},
	}
}

func (t *DraftUserMessageTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	userID := UserFromContext(ctx)
	if userID == "" {
		return ErrorResult("draft_user_message: no user in execution context")
	}
	channel, chatID := TransportFromContext(ctx)

	content, _ := args["content"].(string)
	content = strings.TrimSpace(content)

	draftID, err := t.drafts.CreateDraft(ctx, userID, channel, chatID, content)
	if err != nil {
		return ErrorResult(fmt.Sprintf("draft_user_message failed: %v", err)).WithError(err)
	}

	forUser := fmt.Sprintf("Draft %s (sent as you):\n\n%s\n\nReply \"confirm %s\" to send it or \"discard %s\" to drop it.",
		draftID, content, draftID, draftID)
	return UserResult(fmt.Sprintf("Draft %s staged; awaiting user confirmation.", draftID), forUser)
}
