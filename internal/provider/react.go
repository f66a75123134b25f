package provider

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// ReAct is the prompt-only tool protocol used when a model lacks native tool
// calling: the model emits Thought / Action / Action Input lines, the caller
// appends an Observation, and the cycle repeats until a plain answer.

var reactActionRe = regexp.MustCompile(`(?s)Action:\s*(\w+)\s*\nAction Input:\s*(\{.*?\})`)

// buildReActSystem appends tool instructions and schemas to a system prompt.
func buildReActSystem(system string, tools []ToolDefinition) string {
	if len(tools) == 0 {
		return system
	}

	var sb strings.Builder
	if system != "" {
		sb.WriteString(system)
		sb.WriteString("\n")
	}
	sb.WriteString("\n## Tools\nYou have the following tools. To use one, respond with:\n\n")
	sb.WriteString("Thought: <your reasoning>\nAction: <tool_name>\nAction Input: <json arguments>\n\n")
	sb.WriteString("When you have a final answer, respond normally without Action/Action Input.\n")
	for _, tool := range tools {
		schema, _ := json.MarshalIndent(tool.Parameters, "", "  ")
		sb.WriteString(fmt.Sprintf("\n### %s\n%s\nParameters: %s\n", tool.Name, tool.Description, schema))
	}
	return sb.String()
}

// parseReActResponse extracts a tool call from ReAct-formatted text. Content
// is everything before the Action line; text without a valid Action line is
// returned unchanged with no tool calls, which ends the loop.
func parseReActResponse(text string) (string, []ToolCall) {
	m := reactActionRe.FindStringSubmatchIndex(text)
	if m == nil {
		return text, nil
	}

	name := text[m[2]:m[3]]
	var args map[string]any
	if err := json.Unmarshal([]byte(text[m[4]:m[5]]), &args); err != nil {
		args = map[string]any{}
	}
	call := ToolCall{
		ID:        uuid.NewString()[:12],
		Name:      name,
		Arguments: args,
	}
	return strings.TrimSpace(text[:m[0]]), []ToolCall{call}
}

// flattenForReAct renders tool interactions as plain text turns so the
// transcript stays coherent for models that only see role/content pairs.
func flattenForReAct(msg Message) Message {
	switch {
	case msg.Role == "tool":
		return Message{Role: "user", Content: "Observation: " + msg.Content}
	case len(msg.ToolCalls) > 0:
		var sb strings.Builder
		if msg.Content != "" {
			sb.WriteString(msg.Content)
			sb.WriteString("\n")
		}
		for _, tc := range msg.ToolCalls {
			args, _ := json.Marshal(tc.Arguments)
			sb.WriteString(fmt.Sprintf("Action: %s\nAction Input: %s\n", tc.Name, args))
		}
		return Message{Role: msg.Role, Content: strings.TrimSpace(sb.String())}
	default:
		return msg
	}
}
