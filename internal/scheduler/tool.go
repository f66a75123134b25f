package scheduler

import (
	"context"
	"fmt"
	"strings"

	"github.com/a9lim/shannon/internal/auth"
	"github.com/a9lim/shannon/internal/tools"
)

// ScheduleTool lets the model create, remove, and list cron jobs.
type ScheduleTool struct {
	scheduler *Scheduler
}

// NewScheduleTool creates the schedule tool.
func NewScheduleTool(s *Scheduler) *ScheduleTool {
	return &ScheduleTool{scheduler: s}
}

func (t *ScheduleTool) Name() string { return "schedule" }
func (t *ScheduleTool) Description() string {
	return "Manage scheduled cron jobs: add a recurring task, remove one, or list all jobs."
}

func (t *ScheduleTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"operation": map[string]any{
				"type":        "string",
				"enum":        []string{"add", "remove", "list"},
				"description": "What to do",
			},
			"name": map[string]any{
				"type":        "string",
				"description": "Unique job name (add/remove)",
			},
			"cron": map[string]any{
				"type":        "string",
				"description": "Standard 5-field cron expression (add)",
			},
			"action": map[string]any{
				"type":        "string",
				"description": "The instruction to run when the job fires (add)",
			},
		},
		"required": []string{"operation"},
	}
}

func (t *ScheduleTool) RequiredPermission() auth.PermissionLevel { return auth.LevelOperator }

func (t *ScheduleTool) Execute(ctx context.Context, params map[string]any) *tools.Result {
	switch op := tools.GetString(params, "operation", ""); op {
	case "add":
		name := tools.GetString(params, "name", "")
		cronExpr := tools.GetString(params, "cron", "")
		action := tools.GetString(params, "action", "")
		if name == "" || cronExpr == "" || action == "" {
			return tools.Fail("add requires name, cron, and action")
		}
		job, err := t.scheduler.AddJob(name, cronExpr, action)
		if err != nil {
			return tools.Fail(err.Error())
		}
		return tools.Ok(fmt.Sprintf("Scheduled %s (%s): %s", job.Name, job.CronExpr, job.Action))
	case "remove":
		name := tools.GetString(params, "name", "")
		if name == "" {
			return tools.Fail("remove requires name")
		}
		removed, err := t.scheduler.RemoveJob(name)
		if err != nil {
			return tools.Fail(err.Error())
		}
		if !removed {
			return tools.Fail(fmt.Sprintf("No job named %s", name))
		}
		return tools.Ok(fmt.Sprintf("Removed job %s", name))
	case "list":
		jobs, err := t.scheduler.ListJobs()
		if err != nil {
			return tools.Fail(err.Error())
		}
		if len(jobs) == 0 {
			return tools.Ok("No scheduled jobs.")
		}
		var lines []string
		for _, job := range jobs {
			lines = append(lines, fmt.Sprintf("%s — %s — %s", job.Name, job.CronExpr, job.Action))
		}
		return tools.Ok(strings.Join(lines, "\n"))
	default:
		return tools.Fail(fmt.Sprintf("unknown operation: %s", op))
	}
}

func (t *ScheduleTool) Cleanup() error { return nil }
