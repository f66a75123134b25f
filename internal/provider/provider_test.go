package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/a9lim/shannon/internal/config"
)

func TestParseReActResponse(t *testing.T) {
	text := "Thought: I should check the files.\nAction: shell\nAction Input: {\"command\": \"ls\"}"
	content, calls := parseReActResponse(text)

	if len(calls) != 1 {
		t.Fatalf("tool calls = %d, want 1", len(calls))
	}
	if calls[0].Name != "shell" {
		t.Errorf("tool name = %q, want shell", calls[0].Name)
	}
	if calls[0].Arguments["command"] != "ls" {
		t.Errorf("arguments = %v", calls[0].Arguments)
	}
	if !strings.Contains(content, "Thought") {
		t.Errorf("content should keep the text before the action: %q", content)
	}
}

func TestParseReActResponseNoAction(t *testing.T) {
	content, calls := parseReActResponse("Just a plain answer.")
	if len(calls) != 0 {
		t.Fatalf("tool calls = %d, want 0", len(calls))
	}
	if content != "Just a plain answer." {
		t.Errorf("content = %q", content)
	}
}

func TestParseReActResponseBadJSON(t *testing.T) {
	// Unparseable arguments still produce a call with empty arguments; the
	// tool will report the missing parameter back to the model.
	_, calls := parseReActResponse("Action: shell\nAction Input: {not json}")
	if len(calls) != 1 {
		t.Fatalf("tool calls = %d, want 1", len(calls))
	}
	if len(calls[0].Arguments) != 0 {
		t.Errorf("arguments = %v, want empty", calls[0].Arguments)
	}
}

func TestBuildReActSystem(t *testing.T) {
	system := buildReActSystem("Base prompt.", []ToolDefinition{
		{Name: "shell", Description: "Run a command", Parameters: map[string]any{"type": "object"}},
	})
	for _, want := range []string{"Base prompt.", "## Tools", "Action Input", "### shell", "Run a command"} {
		if !strings.Contains(system, want) {
			t.Errorf("system prompt missing %q", want)
		}
	}
}

func TestFlattenForReAct(t *testing.T) {
	toolMsg := flattenForReAct(Message{Role: "tool", Content: "file1\nfile2", ToolCallID: "abc"})
	if toolMsg.Role != "user" || !strings.HasPrefix(toolMsg.Content, "Observation: ") {
		t.Errorf("tool message flattened to %+v", toolMsg)
	}

	callMsg := flattenForReAct(Message{
		Role:      "assistant",
		ToolCalls: []ToolCall{{ID: "1", Name: "shell", Arguments: map[string]any{"command": "ls"}}},
	})
	if !strings.Contains(callMsg.Content, "Action: shell") {
		t.Errorf("assistant call flattened to %q", callMsg.Content)
	}
}

func TestAnthropicComplete(t *testing.T) {
	var gotReq map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Api-Key") != "test-key" {
			t.Errorf("missing api key header")
		}
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"content": []map[string]any{
				{"type": "text", "text": "Running it."},
				{"type": "tool_use", "id": "tu_1", "name": "shell", "input": map[string]any{"command": "ls"}},
			},
			"stop_reason": "tool_use",
			"usage":       map[string]any{"input_tokens": 10, "output_tokens": 5},
		})
	}))
	defer srv.Close()

	p := NewAnthropicProvider(config.LLMConfig{APIKey: "test-key", Model: "claude-test", MaxTokens: 256})
	p.baseURL = srv.URL

	resp, err := p.Complete(context.Background(), &CompletionRequest{
		Messages: []Message{{Role: "user", Content: "run ls"}},
		System:   "be brief",
		Tools:    []ToolDefinition{{Name: "shell", Description: "d", Parameters: map[string]any{"type": "object"}}},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}

	if resp.Content != "Running it." {
		t.Errorf("content = %q", resp.Content)
	}
	if resp.StopReason != StopToolUse {
		t.Errorf("stop reason = %q", resp.StopReason)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Name != "shell" {
		t.Fatalf("tool calls = %+v", resp.ToolCalls)
	}
	if resp.InputTokens != 10 || resp.OutputTokens != 5 {
		t.Errorf("usage = %d/%d", resp.InputTokens, resp.OutputTokens)
	}

	if gotReq["system"] != "be brief" {
		t.Errorf("system not forwarded: %v", gotReq["system"])
	}
	if _, ok := gotReq["tools"]; !ok {
		t.Error("tools not forwarded")
	}
}

func TestAnthropicToolResultConversion(t *testing.T) {
	msgs := convertAnthropicMessages([]Message{
		{Role: "assistant", Content: "on it", ToolCalls: []ToolCall{{ID: "tu_1", Name: "shell", Arguments: map[string]any{"command": "ls"}}}},
		{Role: "tool", ToolCallID: "tu_1", Content: "file1", IsError: false},
	})

	if len(msgs) != 2 {
		t.Fatalf("messages = %d, want 2", len(msgs))
	}
	blocks := msgs[0]["content"].([]map[string]any)
	if blocks[0]["type"] != "text" || blocks[1]["type"] != "tool_use" {
		t.Errorf("assistant blocks = %+v", blocks)
	}
	result := msgs[1]["content"].([]map[string]any)[0]
	if result["type"] != "tool_result" || result["tool_use_id"] != "tu_1" {
		t.Errorf("tool result block = %+v", result)
	}
	if msgs[1]["role"] != "user" {
		t.Errorf("tool result role = %v, want user", msgs[1]["role"])
	}
}

func TestLocalCompleteReActFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		msgs := req["messages"].([]any)
		system := msgs[0].(map[string]any)
		if system["role"] != "system" || !strings.Contains(system["content"].(string), "## Tools") {
			t.Errorf("ReAct instructions not injected: %v", system)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{
				"message":       map[string]any{"content": "Action: shell\nAction Input: {\"command\": \"ls\"}"},
				"finish_reason": "stop",
			}},
			"usage": map[string]any{"prompt_tokens": 8, "completion_tokens": 4},
		})
	}))
	defer srv.Close()

	p := NewLocalProvider(config.LLMConfig{LocalEndpoint: srv.URL, Model: "local-test"})
	resp, err := p.Complete(context.Background(), &CompletionRequest{
		Messages: []Message{{Role: "user", Content: "run ls"}},
		Tools:    []ToolDefinition{{Name: "shell", Description: "d", Parameters: map[string]any{"type": "object"}}},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}

	if resp.StopReason != StopToolUse {
		t.Errorf("stop reason = %q, want tool_use", resp.StopReason)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Name != "shell" {
		t.Fatalf("tool calls = %+v", resp.ToolCalls)
	}
}

func TestLocalCompleteNativeToolCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{
				"message": map[string]any{
					"content": "",
					"tool_calls": []map[string]any{{
						"id":       "call_1",
						"function": map[string]any{"name": "memory_get", "arguments": `{"key": "color"}`},
					}},
				},
				"finish_reason": "tool_calls",
			}},
		})
	}))
	defer srv.Close()

	p := NewLocalProvider(config.LLMConfig{LocalEndpoint: srv.URL, Model: "local-test"})
	resp, err := p.Complete(context.Background(), &CompletionRequest{
		Messages: []Message{{Role: "user", Content: "what's my color"}},
		Tools:    []ToolDefinition{{Name: "memory_get", Parameters: map[string]any{"type": "object"}}},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}

	if len(resp.ToolCalls) != 1 {
		t.Fatalf("tool calls = %+v", resp.ToolCalls)
	}
	if resp.ToolCalls[0].Arguments["key"] != "color" {
		t.Errorf("string-encoded arguments not decoded: %v", resp.ToolCalls[0].Arguments)
	}
}

func TestFactorySelection(t *testing.T) {
	if _, err := New(config.LLMConfig{Provider: "anthropic", APIKey: "k"}); err != nil {
		t.Errorf("anthropic: %v", err)
	}
	if _, err := New(config.LLMConfig{Provider: "anthropic"}); err == nil {
		t.Error("anthropic without key should fail")
	}
	if _, err := New(config.LLMConfig{Provider: "local", LocalEndpoint: "http://localhost:11434/v1"}); err != nil {
		t.Errorf("local: %v", err)
	}
	if _, err := New(config.LLMConfig{Provider: "local"}); err == nil {
		t.Error("local without endpoint should fail")
	}
	if _, err := New(config.LLMConfig{Provider: "bogus"}); err == nil {
		t.Error("unknown provider should fail")
	}
}
