package tools

import (
	"context"
	"errors"
)

// Tool is the interface that all leaf tools must implement. Parameters
// returns a JSON-schema object; arguments are validated against it
// before Execute is dispatched.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) *Result
}

// Resolution and validation failures, distinguished so the reasoning
// step can retry with a corrected call instead of giving up.
var (
	// ErrNotFound: the name matches nothing in the registry.
	ErrNotFound = errors.New("tool not found")
	// ErrStaleReference: the name exists but was not in the visible set
	// presented when the call was proposed.
	ErrStaleReference = errors.New("stale tool reference")
	// ErrInvalidArguments: arguments do not satisfy the parameter schema.
	ErrInvalidArguments = errors.New("invalid tool arguments")
	// ErrNotExpandable: Expand was called on a leaf or unknown name.
	ErrNotExpandable = errors.New("not an expandable tool group")
)

// Result is what a tool execution produces. ForLLM goes back into the
// reasoning loop as the tool result; ForUser, when set and not Silent,
// is emitted to the user directly.
type Result struct {
	ForLLM  string
	ForUser string
	Silent  bool
	Async   bool
	IsError bool
	Err     error
}

func SuccessResult(forLLM string) *Result {
	return &Result{ForLLM: forLLM}
}

func SilentResult(forLLM string) *Result {
	return &Result{ForLLM: forLLM, Silent: true}
}

func UserResult(forLLM, forUser string) *Result {
	return &Result{ForLLM: forLLM, ForUser: forUser}
}

func AsyncResult(forLLM string) *Result {
	return &Result{ForLLM: forLLM, Async: true, Silent: true}
}

func ErrorResult(msg string) *Result {
	return &Result{ForLLM: msg, IsError: true}
}

func (r *Result) WithError(err error) *Result {
	r.Err = err
	r.IsError = true
	return r
}

type executionContext struct {
	userID  string
	channel string
	chatID  string
}

type executionContextKey struct{}

// WithExecutionContext annotates a call context with the identity of the
// user on whose behalf the tool runs and the transport to answer on.
func WithExecutionContext(ctx context.Context, userID, channel, chatID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, executionContextKey{}, executionContext{
		userID:  userID,
		channel: channel,
		chatID:  chatID,
	})
}

// UserFromContext returns the executing user id, or "" outside a router
// dispatch.
func UserFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	execCtx, _ := ctx.Value(executionContextKey{}).(executionContext)
	return execCtx.userID
}

// TransportFromContext returns the channel and chat id of the inbound
// message that triggered this execution.
func TransportFromContext(ctx context.Context) (string, string) {
	if ctx == nil {
		return "", ""
	}
	execCtx, _ := ctx.Value(executionContextKey{}).(executionContext)
	return execCtx.channel, execCtx.chatID
}

// Schema converts a tool into the provider-facing function schema.
func Schema(tool Tool) map[string]interface{} {
	return map[string]interface{}{
		"type": "function",
		"function": map[string]interface{}{
			"name":        tool.Name(),
			"description": tool.Description(),
			"parameters":  tool.Parameters(),
		},
	}
}
