package planner

import (
	"context"
	"fmt"
	"strings"

	"github.com/a9lim/shannon/internal/auth"
	"github.com/a9lim/shannon/internal/tools"
)

// PlanTool exposes the planner to the LLM. It lives here rather than in the
// tools package because the engine must be built from the tool map first —
// the plan tool is appended to the public registry afterwards, so a plan can
// never invoke the planner recursively.
type PlanTool struct {
	engine *Engine
	send   SendFunc
}

// NewPlanTool creates the plan tool.
func NewPlanTool(engine *Engine, send SendFunc) *PlanTool {
	return &PlanTool{engine: engine, send: send}
}

func (t *PlanTool) Name() string { return "plan" }
func (t *PlanTool) Description() string {
	return "Create and execute a multi-step plan for a complex goal. " +
		"Decomposes into steps, executes sequentially, reports progress."
}

func (t *PlanTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"goal": map[string]any{
				"type":        "string",
				"description": "The goal to accomplish",
			},
			"channel": map[string]any{
				"type":        "string",
				"description": "Progress channel as platform:channel",
			},
		},
		"required": []string{"goal"},
	}
}

func (t *PlanTool) RequiredPermission() auth.PermissionLevel { return auth.LevelOperator }

func (t *PlanTool) Execute(ctx context.Context, params map[string]any) *tools.Result {
	goal := tools.GetString(params, "goal", "")
	if goal == "" {
		return tools.Fail("goal is required")
	}
	channel := tools.GetString(params, "channel", "")

	plan, err := t.engine.CreatePlan(ctx, goal, channel, "")
	if err != nil {
		return tools.Fail(err.Error())
	}
	// Execute carries no caller identity, so plan steps run at this tool's
	// own gate (OPERATOR) — never higher, whoever invoked it.
	plan, err = t.engine.ExecutePlan(ctx, plan, auth.LevelOperator, t.send)
	if err != nil {
		return tools.Fail(err.Error())
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Plan: %s [%s]\n", plan.Goal, plan.Status)
	for _, step := range plan.Steps {
		icon := "?"
		switch step.Status {
		case StepDone:
			icon = "+"
		case StepFailed:
			icon = "x"
		case StepSkipped:
			icon = "~"
		}
		fmt.Fprintf(&sb, "  [%s] %s\n", icon, step.Description)
		if step.Result != "" {
			fmt.Fprintf(&sb, "      Result: %s\n", truncate(step.Result, 200))
		}
		if step.Error != "" {
			fmt.Fprintf(&sb, "      Error: %s\n", truncate(step.Error, 200))
		}
	}

	return &tools.Result{
		Success: plan.Status == PlanCompleted,
		Output:  strings.TrimRight(sb.String(), "\n"),
	}
}

func (t *PlanTool) Cleanup() error { return nil }

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
