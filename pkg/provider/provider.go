// Package provider wraps the external completion capability: given an
// assembled prompt it returns text plus proposed tool calls. The core
// never depends on a concrete vendor; tests use a scripted fake.
package provider

import "context"

// Message is the provider-agnostic prompt message representation.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

// ToolCall is one tool invocation proposed by the completion capability.
type ToolCall struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// ToolDefinition is the schema shape providers expect for advertising a
// callable tool.
type ToolDefinition struct {
	Type     string                 `json:"type"`
	Function ToolFunctionDefinition `json:"function"`
}

type ToolFunctionDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// UsageInfo reports token accounting when the provider returns it.
type UsageInfo struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is the interpreted completion result.
type Response struct {
	Content      string
	ToolCalls    []ToolCall
	FinishReason string
	Usage        *UsageInfo
}

// Completer is the completion capability boundary.
type Completer interface {
	Complete(ctx context.Context, messages []Message, tools []ToolDefinition, opts Options) (*Response, error)
}

// Options tunes a single completion call.
type Options struct {
	Model       string
	MaxTokens   int
	Temperature float64
}
