package planner

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/a9lim/shannon/internal/auth"
	"github.com/a9lim/shannon/internal/provider"
	"github.com/a9lim/shannon/internal/tools"
)

// scriptedLLM returns canned responses in order, repeating the last one.
type scriptedLLM struct {
	responses []string
	calls     int
}

func (f *scriptedLLM) Complete(ctx context.Context, req *provider.CompletionRequest) (*provider.CompletionResponse, error) {
	idx := f.calls
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}
	f.calls++
	return &provider.CompletionResponse{Content: f.responses[idx], StopReason: provider.StopEndTurn}, nil
}

func (f *scriptedLLM) Stream(ctx context.Context, req *provider.CompletionRequest, fn func(string)) error {
	return nil
}
func (f *scriptedLLM) CountTokens(text string) int { return len(text) / 4 }
func (f *scriptedLLM) Close() error                { return nil }

// countingTool fails a configurable number of times before succeeding.
type countingTool struct {
	name      string
	failures  int
	execCount int
}

func (t *countingTool) Name() string                             { return t.name }
func (t *countingTool) Description() string                      { return "test tool" }
func (t *countingTool) Parameters() map[string]any               { return map[string]any{"type": "object"} }
func (t *countingTool) RequiredPermission() auth.PermissionLevel { return auth.LevelTrusted }
func (t *countingTool) Execute(ctx context.Context, params map[string]any) *tools.Result {
	t.execCount++
	if t.execCount <= t.failures {
		return tools.Fail("not found")
	}
	return tools.Ok("done")
}
func (t *countingTool) Cleanup() error { return nil }

func newTestEngine(t *testing.T, llm provider.LLMProvider, toolMap map[string]tools.Tool) *Engine {
	t.Helper()
	e, err := NewEngine(llm, toolMap, filepath.Join(t.TempDir(), "plans.db"))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func TestParseSteps(t *testing.T) {
	content := `{"steps": [
		{"description": "check files", "tool": "shell", "parameters": {"command": "ls"}},
		{"description": "think about it", "tool": null}
	]}`
	steps := parseSteps(content)
	if len(steps) != 2 {
		t.Fatalf("steps = %d, want 2", len(steps))
	}
	if steps[0].Tool != "shell" || steps[0].Parameters["command"] != "ls" {
		t.Errorf("step 1 = %+v", steps[0])
	}
	if steps[1].Tool != "" {
		t.Errorf("step 2 should be a reasoning step: %+v", steps[1])
	}
}

func TestParseStepsCodeFence(t *testing.T) {
	content := "```json\n{\"steps\": [{\"description\": \"x\", \"tool\": null}]}\n```"
	steps := parseSteps(content)
	if len(steps) != 1 || steps[0].Description != "x" {
		t.Fatalf("steps = %+v", steps)
	}
}

func TestParseStepsDemotesToollessParameters(t *testing.T) {
	// A tool without a parameters object must not run with the description
	// as its argument.
	content := `{"steps": [{"description": "rm -rf /", "tool": "shell"}]}`
	steps := parseSteps(content)
	if steps[0].Tool != "" {
		t.Errorf("step not demoted: %+v", steps[0])
	}
}

func TestParseStepsCapsAtMax(t *testing.T) {
	var items []string
	for i := 0; i < 12; i++ {
		items = append(items, fmt.Sprintf(`{"description": "s%d", "tool": null}`, i))
	}
	steps := parseSteps(`{"steps": [` + strings.Join(items, ",") + `]}`)
	if len(steps) != MaxSteps {
		t.Errorf("steps = %d, want %d", len(steps), MaxSteps)
	}
}

func TestParseStepsFallback(t *testing.T) {
	steps := parseSteps("I cannot produce JSON today.")
	if len(steps) != 1 || steps[0].Tool != "" {
		t.Fatalf("fallback steps = %+v", steps)
	}
}

func TestFailedStepSkippedPlanCompletes(t *testing.T) {
	// Scenario: two steps, the first tool fails, the adjudicator says skip.
	llm := &scriptedLLM{responses: []string{
		`{"steps": [
			{"description": "do X", "tool": "shell", "parameters": {"command": "x"}},
			{"description": "do Y", "tool": null}
		]}`,
		`{"action": "skip"}`,
		"Y is done.",
	}}
	shell := &countingTool{name: "shell", failures: 99}
	e := newTestEngine(t, llm, map[string]tools.Tool{"shell": shell})

	plan, err := e.CreatePlan(context.Background(), "do X then Y", "discord:42", "")
	if err != nil {
		t.Fatalf("CreatePlan: %v", err)
	}
	plan, err = e.ExecutePlan(context.Background(), plan, auth.LevelOperator, nil)
	if err != nil {
		t.Fatalf("ExecutePlan: %v", err)
	}

	if plan.Steps[0].Status != StepSkipped {
		t.Errorf("step 1 = %s, want skipped", plan.Steps[0].Status)
	}
	if plan.Steps[1].Status != StepDone {
		t.Errorf("step 2 = %s, want done", plan.Steps[1].Status)
	}
	if plan.Status != PlanCompleted {
		t.Errorf("plan = %s, want completed", plan.Status)
	}
}

func TestAbortFailsPlan(t *testing.T) {
	llm := &scriptedLLM{responses: []string{
		`{"steps": [
			{"description": "a", "tool": "shell", "parameters": {}},
			{"description": "b", "tool": null}
		]}`,
		`{"action": "abort"}`,
	}}
	shell := &countingTool{name: "shell", failures: 99}
	e := newTestEngine(t, llm, map[string]tools.Tool{"shell": shell})

	plan, _ := e.CreatePlan(context.Background(), "g", "", "")
	plan, err := e.ExecutePlan(context.Background(), plan, auth.LevelOperator, nil)
	if err != nil {
		t.Fatalf("ExecutePlan: %v", err)
	}
	if plan.Status != PlanFailed {
		t.Errorf("plan = %s, want failed", plan.Status)
	}
	if plan.Steps[1].Status != StepPending {
		t.Errorf("step after abort = %s, want pending", plan.Steps[1].Status)
	}
}

func TestRetrySucceedsSecondTime(t *testing.T) {
	llm := &scriptedLLM{responses: []string{
		`{"steps": [{"description": "a", "tool": "shell", "parameters": {}}]}`,
		`{"action": "retry"}`,
	}}
	shell := &countingTool{name: "shell", failures: 1}
	e := newTestEngine(t, llm, map[string]tools.Tool{"shell": shell})

	plan, _ := e.CreatePlan(context.Background(), "g", "", "")
	plan, _ = e.ExecutePlan(context.Background(), plan, auth.LevelOperator, nil)

	if plan.Steps[0].Status != StepDone {
		t.Errorf("step = %+v, want done after retry", plan.Steps[0])
	}
	if shell.execCount != 2 {
		t.Errorf("executions = %d, want 2", shell.execCount)
	}
	if plan.Status != PlanCompleted {
		t.Errorf("plan = %s", plan.Status)
	}
}

func TestPermissionDeniedStep(t *testing.T) {
	llm := &scriptedLLM{responses: []string{
		`{"steps": [{"description": "a", "tool": "shell", "parameters": {}}]}`,
		`{"action": "skip"}`,
	}}
	shell := &countingTool{name: "shell"}
	e := newTestEngine(t, llm, map[string]tools.Tool{"shell": shell})

	plan, _ := e.CreatePlan(context.Background(), "g", "", "")
	plan, _ = e.ExecutePlan(context.Background(), plan, auth.LevelPublic, nil)

	if shell.execCount != 0 {
		t.Errorf("tool executed %d times despite permission denial", shell.execCount)
	}
	if plan.Steps[0].Status != StepSkipped {
		t.Errorf("step = %s, want skipped", plan.Steps[0].Status)
	}
}

func TestToolInvocationCap(t *testing.T) {
	// Every execution fails and the adjudicator always retries, so each step
	// burns two invocations until the cap cuts execution off.
	llm := &scriptedLLM{responses: []string{`{"action": "retry"}`}}
	shell := &countingTool{name: "shell", failures: 99}
	e := newTestEngine(t, llm, map[string]tools.Tool{"shell": shell})

	plan := &Plan{ID: "capcheck", Goal: "g", Status: PlanPlanning}
	for i := 1; i <= 10; i++ {
		plan.Steps = append(plan.Steps, &PlanStep{
			ID: i, Description: fmt.Sprintf("s%d", i),
			Tool: "shell", Parameters: map[string]any{}, Status: StepPending,
		})
	}

	plan, err := e.ExecutePlan(context.Background(), plan, auth.LevelOperator, nil)
	if err != nil {
		t.Fatalf("ExecutePlan: %v", err)
	}
	if shell.execCount > MaxToolInvocations {
		t.Errorf("tool invoked %d times, cap is %d", shell.execCount, MaxToolInvocations)
	}
	// The trailing steps never ran: they are skipped with the cap error.
	last := plan.Steps[len(plan.Steps)-1]
	if last.Status != StepSkipped || last.Error != "Tool invocation cap reached" {
		t.Errorf("last step = %+v", last)
	}
}

func TestProgressMessages(t *testing.T) {
	llm := &scriptedLLM{responses: []string{
		`{"steps": [{"description": "a", "tool": "shell", "parameters": {}}]}`,
	}}
	shell := &countingTool{name: "shell"}
	e := newTestEngine(t, llm, map[string]tools.Tool{"shell": shell})

	var sent []string
	send := func(platform, channel, content string) {
		sent = append(sent, platform+"/"+channel+": "+content)
	}

	plan, _ := e.CreatePlan(context.Background(), "g", "discord:42", "")
	_, _ = e.ExecutePlan(context.Background(), plan, auth.LevelOperator, send)

	if len(sent) != 1 {
		t.Fatalf("progress messages = %d, want 1", len(sent))
	}
	if !strings.HasPrefix(sent[0], "discord/42: Step 1/1 done") {
		t.Errorf("progress = %q", sent[0])
	}
}

func TestPlanPersistenceRoundTrip(t *testing.T) {
	llm := &scriptedLLM{responses: []string{
		`{"steps": [{"description": "a", "tool": "shell", "parameters": {"command": "ls"}}]}`,
	}}
	e := newTestEngine(t, llm, map[string]tools.Tool{})

	plan, err := e.CreatePlan(context.Background(), "round trip", "discord:1", "")
	if err != nil {
		t.Fatalf("CreatePlan: %v", err)
	}

	loaded, err := e.LoadPlan(plan.ID)
	if err != nil {
		t.Fatalf("LoadPlan: %v", err)
	}
	if loaded == nil || loaded.Goal != "round trip" || len(loaded.Steps) != 1 {
		t.Fatalf("loaded = %+v", loaded)
	}
	if loaded.Steps[0].Parameters["command"] != "ls" {
		t.Errorf("parameters lost: %+v", loaded.Steps[0])
	}

	if missing, _ := e.LoadPlan("nope"); missing != nil {
		t.Error("missing plan should be nil")
	}
}

func TestPlanTool(t *testing.T) {
	llm := &scriptedLLM{responses: []string{
		`{"steps": [{"description": "think", "tool": null}]}`,
		"All thought through.",
	}}
	e := newTestEngine(t, llm, map[string]tools.Tool{})
	tool := NewPlanTool(e, nil)

	res := tool.Execute(context.Background(), map[string]any{"goal": "organize"})
	if !res.Success {
		t.Fatalf("result = %+v", res)
	}
	if !strings.Contains(res.Output, "Plan: organize [completed]") {
		t.Errorf("output = %q", res.Output)
	}

	if res := tool.Execute(context.Background(), map[string]any{}); res.Success {
		t.Error("missing goal should fail")
	}
}
