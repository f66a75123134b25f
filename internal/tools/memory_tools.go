package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/a9lim/shannon/internal/auth"
	"github.com/a9lim/shannon/internal/memory"
)

// MemorySetTool stores a key-value pair in persistent memory.
type MemorySetTool struct {
	store *memory.Store
}

// NewMemorySetTool creates the memory_set tool.
func NewMemorySetTool(store *memory.Store) *MemorySetTool {
	return &MemorySetTool{store: store}
}

func (t *MemorySetTool) Name() string { return "memory_set" }
func (t *MemorySetTool) Description() string {
	return "Store a key-value pair in persistent memory. Survives restarts."
}

func (t *MemorySetTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"key": map[string]any{
				"type":        "string",
				"description": "The key to store the value under",
			},
			"value": map[string]any{
				"type":        "string",
				"description": "The value to store",
			},
			"category": map[string]any{
				"type":        "string",
				"description": "Category for organizing memories",
			},
		},
		"required": []string{"key", "value"},
	}
}

func (t *MemorySetTool) RequiredPermission() auth.PermissionLevel { return auth.LevelTrusted }

func (t *MemorySetTool) Execute(ctx context.Context, params map[string]any) *Result {
	key := GetString(params, "key", "")
	value := GetString(params, "value", "")
	category := GetString(params, "category", "general")

	if key == "" || value == "" {
		return Fail("key and value are required")
	}
	if err := t.store.Set(key, value, category, "llm"); err != nil {
		return Fail(err.Error())
	}
	return Ok(fmt.Sprintf("Stored: %s = %s", key, value))
}

func (t *MemorySetTool) Cleanup() error { return nil }

// MemoryGetTool retrieves a memory by key or searches by query.
type MemoryGetTool struct {
	store *memory.Store
}

// NewMemoryGetTool creates the memory_get tool.
func NewMemoryGetTool(store *memory.Store) *MemoryGetTool {
	return &MemoryGetTool{store: store}
}

func (t *MemoryGetTool) Name() string { return "memory_get" }
func (t *MemoryGetTool) Description() string {
	return "Retrieve a memory by key, or search memories by query."
}

func (t *MemoryGetTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"key": map[string]any{
				"type":        "string",
				"description": "Exact key to look up",
			},
			"query": map[string]any{
				"type":        "string",
				"description": "Search term to find matching memories",
			},
		},
	}
}

func (t *MemoryGetTool) RequiredPermission() auth.PermissionLevel { return auth.LevelTrusted }

func (t *MemoryGetTool) Execute(ctx context.Context, params map[string]any) *Result {
	key := GetString(params, "key", "")
	query := GetString(params, "query", "")

	switch {
	case key != "":
		entry, err := t.store.Get(key)
		if err != nil {
			return Fail(err.Error())
		}
		if entry == nil {
			return Ok(fmt.Sprintf("No memory found for key: %s", key))
		}
		return Ok(fmt.Sprintf("[%s] %s: %s", entry.Category, entry.Key, entry.Value))
	case query != "":
		results, err := t.store.Search(query)
		if err != nil {
			return Fail(err.Error())
		}
		if len(results) == 0 {
			return Ok(fmt.Sprintf("No memories found matching: %s", query))
		}
		var lines []string
		for _, e := range results {
			lines = append(lines, fmt.Sprintf("[%s] %s: %s", e.Category, e.Key, e.Value))
		}
		return Ok(strings.Join(lines, "\n"))
	default:
		return Fail("provide either 'key' or 'query' parameter")
	}
}

func (t *MemoryGetTool) Cleanup() error { return nil }

// MemoryDeleteTool removes a memory entry.
type MemoryDeleteTool struct {
	store *memory.Store
}

// NewMemoryDeleteTool creates the memory_delete tool.
func NewMemoryDeleteTool(store *memory.Store) *MemoryDeleteTool {
	return &MemoryDeleteTool{store: store}
}

func (t *MemoryDeleteTool) Name() string { return "memory_delete" }
func (t *MemoryDeleteTool) Description() string {
	return "Delete a memory entry by key."
}

func (t *MemoryDeleteTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"key": map[string]any{
				"type":        "string",
				"description": "The key of the memory to delete",
			},
		},
		"required": []string{"key"},
	}
}

func (t *MemoryDeleteTool) RequiredPermission() auth.PermissionLevel { return auth.LevelOperator }

func (t *MemoryDeleteTool) Execute(ctx context.Context, params map[string]any) *Result {
	key := GetString(params, "key", "")
	if key == "" {
		return Fail("key is required")
	}
	deleted, err := t.store.Delete(key)
	if err != nil {
		return Fail(err.Error())
	}
	if !deleted {
		return Fail(fmt.Sprintf("No memory found for key: %s", key))
	}
	return Ok(fmt.Sprintf("Deleted memory: %s", key))
}

func (t *MemoryDeleteTool) Cleanup() error { return nil }
