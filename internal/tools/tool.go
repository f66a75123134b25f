// Package tools provides the tool contract, the permission-aware registry,
// and the built-in memory tools.
//
// Concrete shell, browser, PTY, and delegated-CLI tools live outside the
// core; they implement Tool and register at startup. Tools that block on
// subprocesses or terminals must offload to their own workers — Execute is
// called from the pipeline's goroutine (or, when one tool-use iteration holds
// several calls, from one goroutine per call) and must not stall the bus.
package tools

import (
	"context"
	"sort"

	"github.com/a9lim/shannon/internal/auth"
	"github.com/a9lim/shannon/internal/provider"
)

// Result is the outcome of one tool execution. Failures are data: they are
// fed back to the model, never raised.
type Result struct {
	Success bool   `json:"success"`
	Output  string `json:"output,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Fail builds a failed result.
func Fail(err string) *Result {
	return &Result{Success: false, Error: err}
}

// Ok builds a successful result.
func Ok(output string) *Result {
	return &Result{Success: true, Output: output}
}

// Tool is the interface all agent tools implement.
type Tool interface {
	// Name returns the tool identifier used in tool calls.
	Name() string
	// Description returns a human-readable description for the LLM.
	Description() string
	// Parameters returns the JSON Schema for tool parameters.
	Parameters() map[string]any
	// RequiredPermission returns the minimum level needed to invoke the tool.
	RequiredPermission() auth.PermissionLevel
	// Execute runs the tool. Errors are reported inside the Result.
	Execute(ctx context.Context, params map[string]any) *Result
	// Cleanup releases any resources the tool holds.
	Cleanup() error
}

// Registry manages tool registration and permission-filtered exposure.
type Registry struct {
	tools map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool.
func (r *Registry) Register(tool Tool) {
	r.tools[tool.Name()] = tool
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	tool, ok := r.tools[name]
	return tool, ok
}

// List returns all registered tools sorted by name.
func (r *Registry) List() []Tool {
	out := make([]Tool, 0, len(r.tools))
	for _, tool := range r.tools {
		out = append(out, tool)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Available returns the tools a user of the given level may invoke, sorted
// by name.
func (r *Registry) Available(level auth.PermissionLevel) []Tool {
	var out []Tool
	for _, tool := range r.List() {
		if level >= tool.RequiredPermission() {
			out = append(out, tool)
		}
	}
	return out
}

// Definitions returns provider schemas for the tools available at the given
// level. This is the only tool list the model ever sees.
func (r *Registry) Definitions(level auth.PermissionLevel) []provider.ToolDefinition {
	available := r.Available(level)
	out := make([]provider.ToolDefinition, 0, len(available))
	for _, tool := range available {
		out = append(out, provider.ToolDefinition{
			Name:        tool.Name(),
			Description: tool.Description(),
			Parameters:  tool.Parameters(),
		})
	}
	return out
}

// Cleanup calls Cleanup on every tool, returning the first error.
func (r *Registry) Cleanup() error {
	var firstErr error
	for _, tool := range r.tools {
		if err := tool.Cleanup(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// GetString extracts a string parameter with a default value.
func GetString(params map[string]any, key string, defaultVal string) string {
	if v, ok := params[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return defaultVal
}

// GetInt extracts an int parameter with a default value.
func GetInt(params map[string]any, key string, defaultVal int) int {
	if v, ok := params[key]; ok {
		switch n := v.(type) {
		case int:
			return n
		case float64:
			return int(n)
		}
	}
	return defaultVal
}

// GetBool extracts a bool parameter with a default value.
func GetBool(params map[string]any, key string, defaultVal bool) bool {
	if v, ok := params[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return defaultVal
}
