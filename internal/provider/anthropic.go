package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/a9lim/shannon/internal/config"
)

const (
	anthropicBaseURL = "https://api.anthropic.com"
	anthropicVersion = "2023-06-01"
)

// AnthropicProvider implements LLMProvider against the Anthropic Messages
// API with native tool use.
type AnthropicProvider struct {
	apiKey      string
	baseURL     string
	model       string
	maxTokens   int
	temperature float64
	httpClient  *http.Client
}

// NewAnthropicProvider creates a provider for the Anthropic API.
func NewAnthropicProvider(cfg config.LLMConfig) *AnthropicProvider {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &AnthropicProvider{
		apiKey:      cfg.APIKey,
		baseURL:     anthropicBaseURL,
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

type anthropicContentBlock struct {
	Type  string         `json:"type"`
	Text  string         `json:"text,omitempty"`
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`
}

type anthropicResponse struct {
	Content    []anthropicContentBlock `json:"content"`
	StopReason string                  `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Complete sends a Messages API request and parses tool-use blocks.
func (p *AnthropicProvider) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	body := p.buildBody(req, false)
	respBody, err := p.postWithRetry(ctx, body)
	if err != nil {
		return nil, err
	}

	var apiResp anthropicResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	out := &CompletionResponse{
		StopReason:   apiResp.StopReason,
		InputTokens:  apiResp.Usage.InputTokens,
		OutputTokens: apiResp.Usage.OutputTokens,
	}
	var text strings.Builder
	for _, block := range apiResp.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			out.ToolCalls = append(out.ToolCalls, ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: block.Input,
			})
		}
	}
	out.Content = text.String()
	return out, nil
}

// Stream sends a streaming request and delivers text deltas to fn.
func (p *AnthropicProvider) Stream(ctx context.Context, req *CompletionRequest, fn func(chunk string)) error {
	body := p.buildBody(req, true)
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := p.newRequest(ctx, jsonBody)
	if err != nil {
		return err
	}
	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(msg))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var event struct {
			Type  string `json:"type"`
			Delta struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"delta"`
		}
		if err := json.Unmarshal([]byte(line[6:]), &event); err != nil {
			continue
		}
		if event.Type == "content_block_delta" && event.Delta.Type == "text_delta" && event.Delta.Text != "" {
			fn(event.Delta.Text)
		}
	}
	return scanner.Err()
}

// CountTokens estimates tokens without a remote call.
func (p *AnthropicProvider) CountTokens(text string) int {
	return approxTokens(text)
}

// Close releases idle connections.
func (p *AnthropicProvider) Close() error {
	p.httpClient.CloseIdleConnections()
	return nil
}

func (p *AnthropicProvider) buildBody(req *CompletionRequest, stream bool) map[string]any {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = p.maxTokens
	}
	temperature := req.Temperature
	if temperature == 0 {
		temperature = p.temperature
	}

	body := map[string]any{
		"model":       p.model,
		"messages":    convertAnthropicMessages(req.Messages),
		"max_tokens":  maxTokens,
		"temperature": temperature,
	}
	if req.System != "" {
		body["system"] = req.System
	}
	if len(req.Tools) > 0 {
		tools := make([]map[string]any, len(req.Tools))
		for i, t := range req.Tools {
			tools[i] = map[string]any{
				"name":         t.Name,
				"description":  t.Description,
				"input_schema": t.Parameters,
			}
		}
		body["tools"] = tools
	}
	if stream {
		body["stream"] = true
	}
	return body
}

// convertAnthropicMessages maps the neutral message shape onto Anthropic
// content blocks. Tool results become user messages carrying tool_result
// blocks; assistant tool calls become tool_use blocks.
func convertAnthropicMessages(messages []Message) []map[string]any {
	out := make([]map[string]any, 0, len(messages))
	for _, msg := range messages {
		switch {
		case msg.Role == "tool":
			out = append(out, map[string]any{
				"role": "user",
				"content": []map[string]any{{
					"type":        "tool_result",
					"tool_use_id": msg.ToolCallID,
					"content":     msg.Content,
					"is_error":    msg.IsError,
				}},
			})
		case len(msg.ToolCalls) > 0:
			blocks := make([]map[string]any, 0, len(msg.ToolCalls)+1)
			if msg.Content != "" {
				blocks = append(blocks, map[string]any{"type": "text", "text": msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				args := tc.Arguments
				if args == nil {
					args = map[string]any{}
				}
				blocks = append(blocks, map[string]any{
					"type":  "tool_use",
					"id":    tc.ID,
					"name":  tc.Name,
					"input": args,
				})
			}
			out = append(out, map[string]any{"role": msg.Role, "content": blocks})
		default:
			out = append(out, map[string]any{"role": msg.Role, "content": msg.Content})
		}
	}
	return out
}

func (p *AnthropicProvider) newRequest(ctx context.Context, jsonBody []byte) (*http.Request, error) {
	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/v1/messages", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Api-Key", p.apiKey)
	httpReq.Header.Set("Anthropic-Version", anthropicVersion)
	return httpReq, nil
}

// postWithRetry retries 429 and 5xx responses with jittered exponential
// backoff, up to three retries.
func (p *AnthropicProvider) postWithRetry(ctx context.Context, body map[string]any) ([]byte, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	const maxRetries = 3
	for attempt := 0; ; attempt++ {
		httpReq, err := p.newRequest(ctx, jsonBody)
		if err != nil {
			return nil, err
		}
		resp, err := p.httpClient.Do(httpReq)
		if err != nil {
			return nil, fmt.Errorf("execute request: %w", err)
		}
		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return nil, fmt.Errorf("read response: %w", readErr)
		}

		if resp.StatusCode == http.StatusOK {
			return respBody, nil
		}
		retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		if !retryable || attempt == maxRetries {
			return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(respBody))
		}

		wait := time.Duration(1<<attempt)*time.Second + time.Duration(rand.Intn(1000))*time.Millisecond
		slog.Warn("Anthropic request retrying", "status", resp.StatusCode, "attempt", attempt, "wait", wait)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
