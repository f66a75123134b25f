package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/a9lim/shannon/internal/auth"
	"github.com/a9lim/shannon/internal/bus"
	"github.com/a9lim/shannon/internal/history"
	"github.com/a9lim/shannon/internal/memory"
	"github.com/a9lim/shannon/internal/pause"
	"github.com/a9lim/shannon/internal/scheduler"
)

// SendFunc delivers a reply to a channel.
type SendFunc func(platform, channel, content string)

// DrainFunc reprocesses events queued during a pause.
type DrainFunc func(ctx context.Context, events []*bus.Event)

// CommandHandler dispatches slash commands. Denials reply with a short
// explanation and never fall through to the LLM.
type CommandHandler struct {
	history   *history.Store
	scheduler *scheduler.Scheduler
	auth      *auth.Manager
	memory    *memory.Store
	pause     *pause.Manager
	send      SendFunc
	drain     DrainFunc
}

// NewCommandHandler wires the command table's dependencies.
func NewCommandHandler(h *history.Store, s *scheduler.Scheduler, a *auth.Manager, m *memory.Store, p *pause.Manager, send SendFunc) *CommandHandler {
	return &CommandHandler{history: h, scheduler: s, auth: a, memory: m, pause: p, send: send}
}

// SetDrainFunc installs the handler that replays events drained on /resume.
func (c *CommandHandler) SetDrainFunc(fn DrainFunc) {
	c.drain = fn
}

// Handle dispatches one slash command.
func (c *CommandHandler) Handle(ctx context.Context, platform, channel, userID, content string) {
	command, args, _ := strings.Cut(strings.TrimSpace(content), " ")
	command = strings.ToLower(command)
	args = strings.TrimSpace(args)

	switch command {
	case "/help":
		c.send(platform, channel,
			"Commands: /forget, /context, /summarize, /jobs, /sudo, /memory, /pause, /resume, /status, /help")

	case "/context":
		stats, err := c.history.Stats(platform, channel)
		if err != nil {
			c.send(platform, channel, "Could not read context stats.")
			return
		}
		c.send(platform, channel,
			fmt.Sprintf("Context: %d messages, %d chars", stats.MessageCount, stats.TotalChars))

	case "/summarize":
		summary, err := c.history.Summarize(ctx, platform, channel)
		if err != nil {
			c.send(platform, channel, "Summarization failed.")
			return
		}
		if summary == "" {
			c.send(platform, channel, "No context to summarize.")
			return
		}
		c.send(platform, channel, "Summary:\n"+summary)

	case "/forget":
		if !c.auth.CheckPermission(platform, userID, auth.LevelOperator) {
			c.send(platform, channel, "Operator access required.")
			return
		}
		count, err := c.history.Clear(platform, channel)
		if err != nil {
			c.send(platform, channel, "Could not clear context.")
			return
		}
		c.send(platform, channel, fmt.Sprintf("Cleared %d messages from context.", count))

	case "/jobs":
		if !c.auth.CheckPermission(platform, userID, auth.LevelTrusted) {
			c.send(platform, channel, "Trusted access required.")
			return
		}
		jobs, err := c.scheduler.ListJobs()
		if err != nil {
			c.send(platform, channel, "Could not list jobs.")
			return
		}
		if len(jobs) == 0 {
			c.send(platform, channel, "No scheduled jobs.")
			return
		}
		var lines []string
		for _, job := range jobs {
			lines = append(lines, fmt.Sprintf("%s — %s — %s", job.Name, job.CronExpr, job.Action))
		}
		c.send(platform, channel, strings.Join(lines, "\n"))

	case "/sudo":
		c.handleSudo(platform, channel, userID, args)

	case "/memory":
		c.handleMemory(platform, channel, userID, args)

	case "/pause":
		c.handlePause(platform, channel, userID, args)

	case "/resume":
		c.handleResume(ctx, platform, channel, userID)

	case "/status":
		if c.pause.IsPaused() {
			c.send(platform, channel,
				fmt.Sprintf("Status: Paused | %d queued event(s)", c.pause.QueuedCount()))
		} else {
			c.send(platform, channel, "Status: Active")
		}

	default:
		c.send(platform, channel, "Unknown command: "+command)
	}
}

func (c *CommandHandler) handleSudo(platform, channel, userID, args string) {
	verb, _, _ := strings.Cut(args, " ")
	switch {
	case args == "":
		// Bare /sudo lists pending requests (admin only).
		if !c.auth.CheckPermission(platform, userID, auth.LevelAdmin) {
			c.send(platform, channel, "Admin access required to view sudo requests.")
			return
		}
		pending := c.auth.ListPendingSudo()
		if len(pending) == 0 {
			c.send(platform, channel, "No pending sudo requests.")
			return
		}
		var lines []string
		for _, p := range pending {
			lines = append(lines, fmt.Sprintf("%s — %s:%s → %s — %s", p.ID, p.Platform, p.UserID, p.Level, p.Action))
		}
		c.send(platform, channel, "Pending sudo requests:\n"+strings.Join(lines, "\n"))

	case verb == "approve":
		fields := strings.Fields(args)
		if len(fields) < 2 {
			c.send(platform, channel, "Usage: /sudo approve <id>")
			return
		}
		id := fields[1]
		err := c.auth.ApproveSudo(id, platform, userID)
		switch {
		case errors.Is(err, auth.ErrPermissionDenied):
			c.send(platform, channel, "Admin access required to approve sudo.")
		case errors.Is(err, auth.ErrNotFound):
			c.send(platform, channel, fmt.Sprintf("Request %s not found.", id))
		case err != nil:
			c.send(platform, channel, "Failed to approve request.")
		default:
			c.send(platform, channel, fmt.Sprintf("Sudo request %s approved.", id))
		}

	case verb == "deny":
		fields := strings.Fields(args)
		if len(fields) < 2 {
			c.send(platform, channel, "Usage: /sudo deny <id>")
			return
		}
		id := fields[1]
		if err := c.auth.DenySudo(id); err != nil {
			c.send(platform, channel, fmt.Sprintf("Request %s not found.", id))
			return
		}
		c.send(platform, channel, fmt.Sprintf("Sudo request %s denied.", id))

	default:
		level, action := parseSudoRequest(args)
		id := c.auth.RequestSudo(platform, userID, action, level)
		c.send(platform, channel,
			fmt.Sprintf("Sudo requested (%s). An admin must approve with /sudo approve %s.", id, id))
	}
}

// parseSudoRequest reads an optional leading level name; the rest is the
// action description. The default target level is OPERATOR.
func parseSudoRequest(args string) (auth.PermissionLevel, string) {
	first, rest, _ := strings.Cut(args, " ")
	switch strings.ToLower(first) {
	case "trusted":
		return auth.LevelTrusted, strings.TrimSpace(rest)
	case "operator":
		return auth.LevelOperator, strings.TrimSpace(rest)
	case "admin":
		return auth.LevelAdmin, strings.TrimSpace(rest)
	default:
		return auth.LevelOperator, args
	}
}

func (c *CommandHandler) handleMemory(platform, channel, userID, args string) {
	switch {
	case strings.HasPrefix(args, "search "):
		query := strings.TrimSpace(strings.TrimPrefix(args, "search "))
		results, err := c.memory.Search(query)
		if err != nil {
			c.send(platform, channel, "Memory search failed.")
			return
		}
		if len(results) == 0 {
			c.send(platform, channel, fmt.Sprintf("No memories matching '%s'.", query))
			return
		}
		var lines []string
		for i, e := range results {
			if i >= 20 {
				break
			}
			lines = append(lines, fmt.Sprintf("%s: %s (%s)", e.Key, e.Value, e.Category))
		}
		c.send(platform, channel, strings.Join(lines, "\n"))

	case args == "clear":
		if !c.auth.CheckPermission(platform, userID, auth.LevelAdmin) {
			c.send(platform, channel, "Admin access required to clear memory.")
			return
		}
		count, err := c.memory.Clear()
		if err != nil {
			c.send(platform, channel, "Could not clear memory.")
			return
		}
		c.send(platform, channel, fmt.Sprintf("Cleared %d memories.", count))

	default:
		export, err := c.memory.ExportContext(2000)
		if err != nil {
			c.send(platform, channel, "Could not read memory.")
			return
		}
		if export == "" {
			c.send(platform, channel, "No memories stored.")
			return
		}
		c.send(platform, channel, "Memories:\n"+export)
	}
}

func (c *CommandHandler) handlePause(platform, channel, userID, args string) {
	if !c.auth.CheckPermission(platform, userID, auth.LevelOperator) {
		c.send(platform, channel, "Operator access required.")
		return
	}

	if args != "" {
		seconds, ok := pause.ParseDuration(args)
		if !ok {
			c.send(platform, channel, fmt.Sprintf("Could not parse duration '%s'. Use forms like 30m or 1h30m.", args))
			return
		}
		c.pause.Pause(time.Duration(seconds) * time.Second)
		c.send(platform, channel,
			fmt.Sprintf("Paused for %s. I'll still respond if you message me directly.", args))
		return
	}

	c.pause.Pause(0)
	c.send(platform, channel,
		"Paused indefinitely. Use /resume to resume. I'll still respond to direct messages.")
}

func (c *CommandHandler) handleResume(ctx context.Context, platform, channel, userID string) {
	if !c.auth.CheckPermission(platform, userID, auth.LevelOperator) {
		c.send(platform, channel, "Operator access required.")
		return
	}

	count := c.pause.Resume()
	events := c.pause.DrainQueue()
	if count == 0 {
		c.send(platform, channel, "Resumed.")
		return
	}
	c.send(platform, channel, fmt.Sprintf("Resumed. %d queued event(s) were missed.", count))
	if c.drain != nil {
		c.drain(ctx, events)
	}
}
