// Package agent implements the message-handling core: the tool-use loop, the
// system prompt builder, slash commands, the inbound pipeline, and the
// webhook event subscriber.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/a9lim/shannon/internal/auth"
	"github.com/a9lim/shannon/internal/provider"
	"github.com/a9lim/shannon/internal/tools"
)

// maxToolIterations bounds the LLM↔tool exchange for a single turn.
const maxToolIterations = 10

const iterationLimitNote = "\n\n[Note: tool iteration limit reached; the answer above may be incomplete.]"

// Executor runs the bounded tool-use loop over an LLM provider.
type Executor struct {
	llm      provider.LLMProvider
	registry *tools.Registry
}

// NewExecutor creates an executor over the given provider and registry.
func NewExecutor(llm provider.LLMProvider, registry *tools.Registry) *Executor {
	return &Executor{llm: llm, registry: registry}
}

// Run drives the completion + tool loop and returns the final response text.
// Tool failures are contained: they are rendered into tool results and fed
// back to the model. defs must already be permission-filtered; level is
// re-checked on every call as defense in depth.
func (x *Executor) Run(ctx context.Context, messages []provider.Message, system string, defs []provider.ToolDefinition, level auth.PermissionLevel) (string, error) {
	current := append([]provider.Message(nil), messages...)
	lastContent := ""

	for i := 0; i < maxToolIterations; i++ {
		resp, err := x.llm.Complete(ctx, &provider.CompletionRequest{
			Messages: current,
			System:   system,
			Tools:    defs,
		})
		if err != nil {
			return "", fmt.Errorf("LLM call failed: %w", err)
		}
		lastContent = resp.Content

		if len(resp.ToolCalls) == 0 {
			return resp.Content, nil
		}

		current = append(current, provider.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		results := x.executeCalls(ctx, resp.ToolCalls, level)
		for idx, tc := range resp.ToolCalls {
			result := results[idx]
			content := result.Output
			if !result.Success {
				content = "Error: " + result.Error
			}
			current = append(current, provider.Message{
				Role:       "tool",
				Content:    content,
				ToolCallID: tc.ID,
				IsError:    !result.Success,
			})
		}
	}

	return lastContent + iterationLimitNote, nil
}

// executeCalls runs the calls of one iteration, in parallel when there are
// several — tool calls within an iteration are treated as independent side
// effects. Results come back in call order.
func (x *Executor) executeCalls(ctx context.Context, calls []provider.ToolCall, level auth.PermissionLevel) []*tools.Result {
	results := make([]*tools.Result, len(calls))
	if len(calls) == 1 {
		results[0] = x.executeOne(ctx, calls[0], level)
		return results
	}

	var wg sync.WaitGroup
	for i, tc := range calls {
		wg.Add(1)
		go func(i int, tc provider.ToolCall) {
			defer wg.Done()
			results[i] = x.executeOne(ctx, tc, level)
		}(i, tc)
	}
	wg.Wait()
	return results
}

func (x *Executor) executeOne(ctx context.Context, tc provider.ToolCall, level auth.PermissionLevel) (result *tools.Result) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Tool panicked", "tool", tc.Name, "panic", r)
			result = tools.Fail(fmt.Sprintf("tool %s crashed: %v", tc.Name, r))
		}
	}()

	tool, ok := x.registry.Get(tc.Name)
	if !ok {
		return tools.Fail(fmt.Sprintf("Unknown tool '%s'", tc.Name))
	}
	if level < tool.RequiredPermission() {
		return tools.Fail(fmt.Sprintf("Permission denied. Tool '%s' requires %s level.",
			tc.Name, tool.RequiredPermission()))
	}

	slog.Info("Executing tool", "tool", tc.Name)
	res := tool.Execute(ctx, tc.Arguments)
	if res == nil {
		return tools.Fail(fmt.Sprintf("tool %s returned no result", tc.Name))
	}
	return res
}
