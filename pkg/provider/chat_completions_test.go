package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestChatCompletionsClient_ParsesToolCalls(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("unexpected auth header %q", auth)
		}

		var req map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req["tool_choice"] != "auto" {
			t.Errorf("expected tool_choice auto when tools present, got %v", req["tool_choice"])
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"choices": [{
				"message": {
					"content": "",
					"tool_calls": [{
						"id": "call-1",
						"type": "function",
						"function": {"name": "schedule", "arguments": "{\"in_seconds\": 60}"}
					}]
				},
				"finish_reason": "tool_calls"
			}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
		}`))
	}))
	defer server.Close()

	client, err := NewChatCompletionsClient(server.URL, "test-key", "test-model", "")
	if err != nil {
		t.Fatalf("create client: %v", err)
	}

	resp, err := client.Complete(context.Background(), []Message{{Role: "user", Content: "remind me"}}, []ToolDefinition{
		{Type: "function", Function: ToolFunctionDefinition{Name: "schedule", Description: "schedule an alarm"}},
	}, Options{MaxTokens: 100})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	if len(resp.ToolCalls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(resp.ToolCalls))
	}
	tc := resp.ToolCalls[0]
	if tc.Name != "schedule" {
		t.Errorf("expected tool name schedule, got %q", tc.Name)
	}
	if sec, ok := tc.Arguments["in_seconds"].(float64); !ok || sec != 60 {
		t.Errorf("expected in_seconds 60, got %v", tc.Arguments["in_seconds"])
	}
	if resp.Usage == nil || resp.Usage.TotalTokens != 15 {
		t.Errorf("expected usage total 15, got %+v", resp.Usage)
	}
}

func TestChatCompletionsClient_SurfacesAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error": {"message": "rate limited"}}`))
	}))
	defer server.Close()

	client, err := NewChatCompletionsClient(server.URL, "test-key", "test-model", "")
	if err != nil {
		t.Fatalf("create client: %v", err)
	}

	_, err = client.Complete(context.Background(), []Message{{Role: "user", Content: "hi"}}, nil, Options{})
	if err == nil {
		t.Fatal("expected error on 429")
	}
}

func TestChatCompletionsClient_RequiresConfig(t *testing.T) {
	if _, err := NewChatCompletionsClient("", "key", "m", ""); err == nil {
		t.Fatal("expected error for missing api base")
	}
	if _, err := NewChatCompletionsClient("https://example.com", "", "m", ""); err == nil {
		t.Fatal("expected error for missing api key")
	}
}

func TestFlattenMessageContent_StructuredParts(t *testing.T) {
	parts := []interface{}{
		map[string]interface{}{"type": "text", "text": "hello "},
		map[string]interface{}{"type": "text", "text": "world"},
	}
	if got := flattenMessageContent(parts); got != "hello world" {
		t.Errorf("expected flattened text, got %q", got)
	}
}
