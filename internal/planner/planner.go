// Package planner decomposes goals into multi-step plans, executes them with
// tool calls and reasoning turns, and adjudicates failures via the LLM.
package planner

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/a9lim/shannon/internal/auth"
	"github.com/a9lim/shannon/internal/provider"
	"github.com/a9lim/shannon/internal/tools"
)

// Hard caps on plan size and total tool work.
const (
	MaxSteps           = 8
	MaxToolInvocations = 15
)

// Step statuses.
const (
	StepPending = "pending"
	StepRunning = "running"
	StepDone    = "done"
	StepFailed  = "failed"
	StepSkipped = "skipped"
)

// Plan statuses.
const (
	PlanPlanning  = "planning"
	PlanExecuting = "executing"
	PlanCompleted = "completed"
	PlanFailed    = "failed"
)

const planSchema = `
CREATE TABLE IF NOT EXISTS plans (
	id TEXT PRIMARY KEY,
	goal TEXT NOT NULL,
	steps_json TEXT NOT NULL,
	status TEXT NOT NULL,
	channel TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
`

const createPlanPrompt = `Decompose the following goal into 2-%d concrete steps. Each step is a single action.
For steps that use a tool, set "tool" to the tool name and "parameters" to the exact JSON arguments the tool takes.
For reasoning/analysis steps, set "tool" to null and omit "parameters".

Available tools: %s

Respond with ONLY a JSON object:
{"steps": [{"description": "...", "tool": "tool_name_or_null", "parameters": {...}}]}

Goal: %s

Context: %s`

const failurePrompt = `Step %d failed with error: %s

Current plan state:
%s

Should we retry this step, skip it, or abort the plan?
Respond with ONLY a JSON object: {"action": "retry" | "skip" | "abort"}`

// SendFunc delivers a progress message to "platform, channel".
type SendFunc func(platform, channel, content string)

// PlanStep is one unit of a plan.
type PlanStep struct {
	ID          int            `json:"id"`
	Description string         `json:"description"`
	Tool        string         `json:"tool,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	Status      string         `json:"status"`
	Result      string         `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
}

// Plan is a persisted goal decomposition.
type Plan struct {
	ID        string     `json:"id"`
	Goal      string     `json:"goal"`
	Steps     []*PlanStep `json:"steps"`
	Status    string     `json:"status"`
	Channel   string     `json:"channel"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Engine creates, executes, and persists plans. Its tool map deliberately
// excludes the plan tool itself, so plans cannot recurse.
type Engine struct {
	llm     provider.LLMProvider
	toolMap map[string]tools.Tool
	db      *sql.DB
}

// NewEngine opens the plan database.
func NewEngine(llm provider.LLMProvider, toolMap map[string]tools.Tool, dbPath string) (*Engine, error) {
	db, err := sql.Open("sqlite", "file:"+dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open plans db: %w", err)
	}
	if _, err := db.Exec(planSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply plans schema: %w", err)
	}
	return &Engine{llm: llm, toolMap: toolMap, db: db}, nil
}

// Close closes the plan database.
func (e *Engine) Close() error {
	return e.db.Close()
}

// CreatePlan asks the LLM to decompose the goal and persists the result.
func (e *Engine) CreatePlan(ctx context.Context, goal, channel, extra string) (*Plan, error) {
	names := make([]string, 0, len(e.toolMap))
	for name := range e.toolMap {
		names = append(names, name)
	}
	toolList := strings.Join(names, ", ")
	if toolList == "" {
		toolList = "none"
	}
	if extra == "" {
		extra = "No additional context."
	}

	resp, err := e.llm.Complete(ctx, &provider.CompletionRequest{
		Messages: []provider.Message{{
			Role:    "user",
			Content: fmt.Sprintf(createPlanPrompt, MaxSteps, toolList, goal, extra),
		}},
		MaxTokens:   1024,
		Temperature: 0.3,
	})
	if err != nil {
		return nil, fmt.Errorf("plan creation LLM call: %w", err)
	}

	now := time.Now().UTC()
	plan := &Plan{
		ID:        strings.ReplaceAll(uuid.NewString(), "-", "")[:12],
		Goal:      goal,
		Steps:     parseSteps(resp.Content),
		Status:    PlanPlanning,
		Channel:   channel,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.SavePlan(plan); err != nil {
		return nil, err
	}
	return plan, nil
}

// parseSteps decodes the planning response. A step that names a tool but
// carries no parameters object is demoted to a reasoning step — a bare
// description is not a valid tool argument. An unparseable response
// degrades to a single reasoning step.
func parseSteps(content string) []*PlanStep {
	text := strings.TrimSpace(content)
	if idx := strings.Index(text, "```"); idx >= 0 {
		text = text[idx+3:]
		text = strings.TrimPrefix(text, "json")
		if end := strings.Index(text, "```"); end >= 0 {
			text = text[:end]
		}
		text = strings.TrimSpace(text)
	}

	var parsed struct {
		Steps []struct {
			Description string         `json:"description"`
			Tool        *string        `json:"tool"`
			Parameters  map[string]any `json:"parameters"`
		} `json:"steps"`
	}
	if err := json.Unmarshal([]byte(text), &parsed); err != nil || len(parsed.Steps) == 0 {
		slog.Warn("Plan parse failed, using single-step fallback")
		return []*PlanStep{{ID: 1, Description: "Execute the goal directly", Status: StepPending}}
	}

	raw := parsed.Steps
	if len(raw) > MaxSteps {
		raw = raw[:MaxSteps]
	}
	steps := make([]*PlanStep, 0, len(raw))
	for i, r := range raw {
		step := &PlanStep{
			ID:          i + 1,
			Description: r.Description,
			Status:      StepPending,
		}
		if step.Description == "" {
			step.Description = fmt.Sprintf("Step %d", i+1)
		}
		if r.Tool != nil && *r.Tool != "" && *r.Tool != "null" {
			if r.Parameters == nil {
				slog.Warn("Plan step missing parameters, demoting to reasoning", "tool", *r.Tool)
			} else {
				step.Tool = *r.Tool
				step.Parameters = r.Parameters
			}
		}
		steps = append(steps, step)
	}
	return steps
}

// ExecutePlan runs the steps in order, enforcing the tool invocation cap and
// adjudicating failures. Progress is reported on the plan's channel after
// each step.
func (e *Engine) ExecutePlan(ctx context.Context, plan *Plan, userLevel auth.PermissionLevel, send SendFunc) (*Plan, error) {
	plan.Status = PlanExecuting
	toolInvocations := 0

	for _, step := range plan.Steps {
		if step.Tool != "" && toolInvocations >= MaxToolInvocations {
			step.Status = StepSkipped
			step.Error = "Tool invocation cap reached"
			e.progress(plan, step, send)
			continue
		}

		step.Status = StepRunning
		plan.UpdatedAt = time.Now().UTC()
		if err := e.SavePlan(plan); err != nil {
			return plan, err
		}

		if step.Tool != "" {
			e.runToolStep(ctx, plan, step, userLevel, &toolInvocations)
		} else {
			e.runReasoningStep(ctx, plan, step)
		}

		if plan.Status == PlanFailed {
			e.progress(plan, step, send)
			break
		}
		e.progress(plan, step, send)
	}

	if plan.Status != PlanFailed {
		plan.Status = PlanCompleted
	}
	plan.UpdatedAt = time.Now().UTC()
	if err := e.SavePlan(plan); err != nil {
		return plan, err
	}
	return plan, nil
}

func (e *Engine) runToolStep(ctx context.Context, plan *Plan, step *PlanStep, userLevel auth.PermissionLevel, invocations *int) {
	tool, ok := e.toolMap[step.Tool]
	if !ok {
		step.Status = StepFailed
		step.Error = fmt.Sprintf("Unknown tool: %s", step.Tool)
		e.adjudicate(ctx, plan, step, nil, userLevel, invocations)
		return
	}
	if userLevel < tool.RequiredPermission() {
		step.Status = StepFailed
		step.Error = fmt.Sprintf("Permission denied for %s", step.Tool)
		e.adjudicate(ctx, plan, step, nil, userLevel, invocations)
		return
	}

	result := tool.Execute(ctx, step.Parameters)
	*invocations++

	if result.Success {
		step.Status = StepDone
		step.Result = result.Output
		return
	}
	step.Status = StepFailed
	step.Error = result.Error
	e.adjudicate(ctx, plan, step, tool, userLevel, invocations)
}

// adjudicate asks the LLM what to do about a failed step. Retry re-executes
// at most once; a second failure leaves the step failed and the plan moves
// on. The default on an unparseable verdict is skip.
func (e *Engine) adjudicate(ctx context.Context, plan *Plan, step *PlanStep, tool tools.Tool, userLevel auth.PermissionLevel, invocations *int) {
	action := e.failureAction(ctx, plan, step)
	switch action {
	case "abort":
		plan.Status = PlanFailed
	case "retry":
		if tool == nil || *invocations >= MaxToolInvocations {
			step.Status = StepSkipped
			return
		}
		slog.Info("Retrying plan step", "plan", plan.ID, "step", step.ID)
		result := tool.Execute(ctx, step.Parameters)
		*invocations++
		if result.Success {
			step.Status = StepDone
			step.Result = result.Output
			step.Error = ""
		} else {
			step.Status = StepFailed
			step.Error = result.Error
		}
	default: // skip
		step.Status = StepSkipped
	}
}

func (e *Engine) failureAction(ctx context.Context, plan *Plan, step *PlanStep) string {
	var state strings.Builder
	for _, s := range plan.Steps {
		fmt.Fprintf(&state, "  %d. [%s] %s\n", s.ID, s.Status, s.Description)
	}

	resp, err := e.llm.Complete(ctx, &provider.CompletionRequest{
		Messages: []provider.Message{{
			Role:    "user",
			Content: fmt.Sprintf(failurePrompt, step.ID, step.Error, state.String()),
		}},
		MaxTokens:   64,
		Temperature: 0.1,
	})
	if err != nil {
		return "skip"
	}

	var verdict struct {
		Action string `json:"action"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(resp.Content)), &verdict); err != nil {
		return "skip"
	}
	switch verdict.Action {
	case "retry", "skip", "abort":
		return verdict.Action
	default:
		return "skip"
	}
}

func (e *Engine) runReasoningStep(ctx context.Context, plan *Plan, step *PlanStep) {
	prompt := fmt.Sprintf("Plan goal: %s\nCurrent step: %s\nPrevious results: %s",
		plan.Goal, step.Description, summarizeResults(plan))
	resp, err := e.llm.Complete(ctx, &provider.CompletionRequest{
		Messages:    []provider.Message{{Role: "user", Content: prompt}},
		MaxTokens:   512,
		Temperature: 0.5,
	})
	if err != nil {
		step.Status = StepFailed
		step.Error = err.Error()
		return
	}
	step.Status = StepDone
	step.Result = resp.Content
}

func summarizeResults(plan *Plan) string {
	var parts []string
	for _, step := range plan.Steps {
		if step.Status == StepDone && step.Result != "" {
			result := step.Result
			if len(result) > 200 {
				result = result[:200]
			}
			parts = append(parts, fmt.Sprintf("Step %d: %s", step.ID, result))
		}
	}
	if len(parts) == 0 {
		return "No results yet."
	}
	return strings.Join(parts, "\n")
}

func (e *Engine) progress(plan *Plan, step *PlanStep, send SendFunc) {
	if send == nil || plan.Channel == "" {
		return
	}
	platform, channel, ok := strings.Cut(plan.Channel, ":")
	if !ok {
		return
	}
	icon := "~"
	switch step.Status {
	case StepDone:
		icon = "+"
	case StepFailed:
		icon = "x"
	}
	send(platform, channel, fmt.Sprintf("Step %d/%d %s: %s [%s]",
		step.ID, len(plan.Steps), step.Status, step.Description, icon))
}

// SavePlan upserts the plan row with its serialized steps.
func (e *Engine) SavePlan(plan *Plan) error {
	stepsJSON, err := json.Marshal(plan.Steps)
	if err != nil {
		return fmt.Errorf("marshal plan steps: %w", err)
	}
	_, err = e.db.Exec(`
		INSERT INTO plans (id, goal, steps_json, status, channel, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET steps_json = excluded.steps_json,
			status = excluded.status, updated_at = excluded.updated_at`,
		plan.ID, plan.Goal, string(stepsJSON), plan.Status, plan.Channel,
		plan.CreatedAt.Format(time.RFC3339Nano), plan.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save plan %s: %w", plan.ID, err)
	}
	return nil
}

// LoadPlan returns a persisted plan, or nil if none exists.
func (e *Engine) LoadPlan(id string) (*Plan, error) {
	row := e.db.QueryRow(`SELECT id, goal, steps_json, status, channel, created_at, updated_at FROM plans WHERE id = ?`, id)

	var plan Plan
	var stepsJSON, createdAt, updatedAt string
	err := row.Scan(&plan.ID, &plan.Goal, &stepsJSON, &plan.Status, &plan.Channel, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load plan %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(stepsJSON), &plan.Steps); err != nil {
		return nil, fmt.Errorf("decode plan steps: %w", err)
	}
	plan.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	plan.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &plan, nil
}
