// Package provider implements the LLM provider abstraction: a native
// tool-use client for the Anthropic API and an OpenAI-compatible local client
// with a ReAct fallback for models without native tool calling.
package provider

import (
	"context"
	"fmt"

	"github.com/a9lim/shannon/internal/config"
)

// Stop reasons surfaced on CompletionResponse.
const (
	StopToolUse = "tool_use"
	StopEndTurn = "end_turn"
)

// Message represents one chat turn. Tool results are carried as role "tool"
// messages referencing the originating call via ToolCallID.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	IsError    bool       `json:"is_error,omitempty"`
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolDefinition describes a tool schema passed to the model.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// CompletionRequest contains the parameters for a completion call.
type CompletionRequest struct {
	Messages    []Message
	System      string
	Tools       []ToolDefinition
	MaxTokens   int
	Temperature float64
}

// CompletionResponse contains the model's reply.
type CompletionResponse struct {
	Content      string
	ToolCalls    []ToolCall
	StopReason   string
	InputTokens  int
	OutputTokens int
}

// LLMProvider is the interface the core consumes.
type LLMProvider interface {
	// Complete sends a completion request and returns the full response.
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)
	// Stream sends a completion request and invokes fn for each text chunk.
	Stream(ctx context.Context, req *CompletionRequest, fn func(chunk string)) error
	// CountTokens estimates the token count of a text.
	CountTokens(text string) int
	// Close releases client resources.
	Close() error
}

// New selects a provider implementation from config.
func New(cfg config.LLMConfig) (LLMProvider, error) {
	switch cfg.Provider {
	case "anthropic", "":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("anthropic provider requires llm.api_key")
		}
		return NewAnthropicProvider(cfg), nil
	case "local":
		if cfg.LocalEndpoint == "" {
			return nil, fmt.Errorf("local provider requires llm.local_endpoint")
		}
		return NewLocalProvider(cfg), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider: %s", cfg.Provider)
	}
}

// approxTokens estimates tokens as chars/4, the rule of thumb used wherever
// no tokenizer is available.
func approxTokens(text string) int {
	return len(text) / 4
}
