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

	"github.com/google/uuid"

	"github.com/a9lim/shannon/internal/config"
)

// LocalProvider implements LLMProvider against any OpenAI-compatible endpoint
// (ollama, llama.cpp, vllm). When tools are requested the ReAct protocol is
// embedded in the system prompt; native tool_calls in the response are still
// honored when the backing model supports them.
type LocalProvider struct {
	endpoint    string
	model       string
	maxTokens   int
	temperature float64
	httpClient  *http.Client
}

// NewLocalProvider creates a provider for a local OpenAI-compatible server.
func NewLocalProvider(cfg config.LLMConfig) *LocalProvider {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &LocalProvider{
		endpoint:    strings.TrimSuffix(cfg.LocalEndpoint, "/"),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				ID       string `json:"id"`
				Function struct {
					Name      string          `json:"name"`
					Arguments json.RawMessage `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Complete sends a chat completion request, parsing native tool calls when
// present and falling back to ReAct parsing otherwise.
func (p *LocalProvider) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	body := p.buildBody(req, false)
	respBody, err := p.postWithRetry(ctx, body)
	if err != nil {
		return nil, err
	}

	var apiResp openAIResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if len(apiResp.Choices) == 0 {
		return nil, fmt.Errorf("empty response from %s", p.endpoint)
	}

	choice := apiResp.Choices[0]
	content := choice.Message.Content
	var toolCalls []ToolCall

	if len(choice.Message.ToolCalls) > 0 {
		for _, tc := range choice.Message.ToolCalls {
			args := map[string]any{}
			raw := bytes.TrimSpace(tc.Function.Arguments)
			// Arguments arrive either as an object or as a JSON-encoded string.
			if len(raw) > 0 {
				if raw[0] == '"' {
					var inner string
					if json.Unmarshal(raw, &inner) == nil {
						_ = json.Unmarshal([]byte(inner), &args)
					}
				} else {
					_ = json.Unmarshal(raw, &args)
				}
			}
			id := tc.ID
			if id == "" {
				id = uuid.NewString()[:12]
			}
			toolCalls = append(toolCalls, ToolCall{ID: id, Name: tc.Function.Name, Arguments: args})
		}
	} else if len(req.Tools) > 0 {
		content, toolCalls = parseReActResponse(content)
	}

	stopReason := choice.FinishReason
	if len(toolCalls) > 0 {
		stopReason = StopToolUse
	} else if stopReason == "" || stopReason == "stop" {
		stopReason = StopEndTurn
	}

	return &CompletionResponse{
		Content:      content,
		ToolCalls:    toolCalls,
		StopReason:   stopReason,
		InputTokens:  apiResp.Usage.PromptTokens,
		OutputTokens: apiResp.Usage.CompletionTokens,
	}, nil
}

// Stream sends a streaming request and delivers content deltas to fn.
func (p *LocalProvider) Stream(ctx context.Context, req *CompletionRequest, fn func(chunk string)) error {
	body := p.buildBody(req, true)
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.endpoint+"/chat/completions", bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

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
		payload := strings.TrimSpace(line[6:])
		if payload == "[DONE]" {
			break
		}
		var chunk struct {
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
			} `json:"choices"`
		}
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
			fn(chunk.Choices[0].Delta.Content)
		}
	}
	return scanner.Err()
}

// CountTokens estimates tokens without a tokenizer.
func (p *LocalProvider) CountTokens(text string) int {
	return approxTokens(text)
}

// Close releases idle connections.
func (p *LocalProvider) Close() error {
	p.httpClient.CloseIdleConnections()
	return nil
}

func (p *LocalProvider) buildBody(req *CompletionRequest, stream bool) map[string]any {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = p.maxTokens
	}
	temperature := req.Temperature
	if temperature == 0 {
		temperature = p.temperature
	}

	system := req.System
	if len(req.Tools) > 0 {
		system = buildReActSystem(system, req.Tools)
	}

	apiMessages := make([]map[string]any, 0, len(req.Messages)+1)
	if system != "" {
		apiMessages = append(apiMessages, map[string]any{"role": "system", "content": system})
	}
	for _, msg := range req.Messages {
		flat := flattenForReAct(msg)
		apiMessages = append(apiMessages, map[string]any{"role": flat.Role, "content": flat.Content})
	}

	body := map[string]any{
		"model":       p.model,
		"messages":    apiMessages,
		"max_tokens":  maxTokens,
		"temperature": temperature,
	}
	if stream {
		body["stream"] = true
	}
	return body
}

// postWithRetry retries 5xx responses and connection errors with jittered
// exponential backoff, up to two retries.
func (p *LocalProvider) postWithRetry(ctx context.Context, body map[string]any) ([]byte, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	const maxRetries = 2
	for attempt := 0; ; attempt++ {
		httpReq, err := http.NewRequestWithContext(ctx, "POST", p.endpoint+"/chat/completions", bytes.NewReader(jsonBody))
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := p.httpClient.Do(httpReq)
		if err != nil {
			if attempt == maxRetries || ctx.Err() != nil {
				return nil, fmt.Errorf("execute request: %w", err)
			}
		} else {
			respBody, readErr := io.ReadAll(resp.Body)
			resp.Body.Close()
			if readErr != nil {
				return nil, fmt.Errorf("read response: %w", readErr)
			}
			if resp.StatusCode == http.StatusOK {
				return respBody, nil
			}
			if resp.StatusCode < 500 || attempt == maxRetries {
				return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(respBody))
			}
			slog.Warn("Local LLM request retrying", "status", resp.StatusCode, "attempt", attempt)
		}

		wait := time.Duration(1<<attempt)*time.Second + time.Duration(rand.Intn(1000))*time.Millisecond
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
