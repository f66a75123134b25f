package agent

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/a9lim/shannon/internal/auth"
	"github.com/a9lim/shannon/internal/bus"
	"github.com/a9lim/shannon/internal/config"
	"github.com/a9lim/shannon/internal/history"
	"github.com/a9lim/shannon/internal/memory"
	"github.com/a9lim/shannon/internal/provider"
	"github.com/a9lim/shannon/internal/tools"
)

const (
	rateLimitedReply = "You're sending messages too quickly. Please slow down."
	providerApology  = "Sorry, I ran into a problem generating a response. Your message is kept; please try again."
	persistApology   = "Sorry, I couldn't save this conversation turn. Please try again."
)

// MessageHandler orchestrates one inbound message end to end:
// rate limit → command dispatch → auth → context → system prompt →
// tool-use loop → persistence → reply publication.
type MessageHandler struct {
	auth     *auth.Manager
	history  *history.Store
	memory   *memory.Store
	registry *tools.Registry
	executor *Executor
	commands *CommandHandler
	bus      *bus.EventBus
	llm      provider.LLMProvider
	ctxCfg   config.ContextConfig
	llmCfg   config.LLMConfig
	dryRun   bool
}

// NewMessageHandler wires the pipeline.
func NewMessageHandler(
	a *auth.Manager,
	h *history.Store,
	m *memory.Store,
	registry *tools.Registry,
	executor *Executor,
	commands *CommandHandler,
	b *bus.EventBus,
	llm provider.LLMProvider,
	ctxCfg config.ContextConfig,
	llmCfg config.LLMConfig,
	dryRun bool,
) *MessageHandler {
	return &MessageHandler{
		auth:     a,
		history:  h,
		memory:   m,
		registry: registry,
		executor: executor,
		commands: commands,
		bus:      b,
		llm:      llm,
		ctxCfg:   ctxCfg,
		llmCfg:   llmCfg,
		dryRun:   dryRun,
	}
}

// HandleEvent adapts Handle to a bus subscription.
func (h *MessageHandler) HandleEvent(ctx context.Context, e *bus.Event) {
	if e.Incoming == nil {
		return
	}
	h.Handle(ctx, e.Incoming)
}

// Handle processes one inbound message.
func (h *MessageHandler) Handle(ctx context.Context, msg *bus.IncomingMessage) {
	platform, channel, userID := msg.Platform, msg.Channel, msg.UserID
	content := msg.Content

	slog.Info("Message received", "platform", platform, "channel", channel, "user", userID)

	if !h.auth.CheckRateLimit(platform, userID) {
		h.Send(platform, channel, rateLimitedReply)
		return
	}

	if strings.HasPrefix(content, "/") {
		h.commands.Handle(ctx, platform, channel, userID, content)
		return
	}

	level := h.auth.Level(platform, userID)

	h.maybeSummarize(ctx, platform, channel, content)

	if err := h.history.Append(platform, channel, "user", content); err != nil {
		slog.Error("Context write failed", "error", err)
		h.Send(platform, channel, persistApology)
		return
	}

	if h.dryRun {
		preview := content
		if len(preview) > 100 {
			preview = preview[:100]
		}
		h.Send(platform, channel, "[DRY RUN] Would process: "+preview)
		return
	}

	available := h.registry.Available(level)
	defs := h.registry.Definitions(level)

	export, err := h.memory.ExportContext(2000)
	if err != nil {
		slog.Warn("Memory export failed", "error", err)
		export = ""
	}
	system := BuildSystemPrompt(available, export)

	messages, err := h.loadMessages(platform, channel)
	if err != nil {
		slog.Error("Context load failed", "error", err)
		h.Send(platform, channel, persistApology)
		return
	}

	response, err := h.executor.Run(ctx, messages, system, defs, level)
	if err != nil {
		slog.Error("Turn failed", "error", err)
		h.Send(platform, channel, providerApology)
		return
	}
	if response == "" {
		return
	}

	if err := h.history.Append(platform, channel, "assistant", response); err != nil {
		slog.Error("Context write failed", "error", err)
		h.Send(platform, channel, persistApology)
		return
	}

	h.reply(platform, channel, response, msg.MessageID)
}

// maybeSummarize triggers summarization when the projected prompt would
// exceed the configured fraction of the provider's context window. A failed
// summarization is logged; the turn proceeds with the unshortened log.
func (h *MessageHandler) maybeSummarize(ctx context.Context, platform, channel, incoming string) {
	threshold := h.ctxCfg.SummarizeThreshold
	if threshold <= 0 {
		threshold = 0.7
	}
	maxTokens := h.llmCfg.MaxContextTokens
	if maxTokens <= 0 {
		maxTokens = 100000
	}

	stats, err := h.history.Stats(platform, channel)
	if err != nil {
		slog.Warn("Context stats failed", "error", err)
		return
	}
	projected := stats.TotalTokens + h.llm.CountTokens(incoming)
	if float64(projected) < threshold*float64(maxTokens) {
		return
	}

	if _, err := h.history.Summarize(ctx, platform, channel); err != nil {
		slog.Warn("Automatic summarization failed", "error", err)
	}
}

func (h *MessageHandler) loadMessages(platform, channel string) ([]provider.Message, error) {
	rows, err := h.history.Context(platform, channel)
	if err != nil {
		return nil, err
	}
	out := make([]provider.Message, 0, len(rows))
	for _, row := range rows {
		role := row.Role
		// History system rows (summaries) travel as user turns: the system
		// slot is reserved for the assembled prompt.
		if role == "system" {
			role = "user"
		}
		out = append(out, provider.Message{Role: role, Content: row.Content})
	}
	return out, nil
}

// Send publishes an outgoing message on the bus.
func (h *MessageHandler) Send(platform, channel, content string) {
	h.reply(platform, channel, content, "")
}

func (h *MessageHandler) reply(platform, channel, content, replyTo string) {
	e := bus.NewEvent(bus.EventMessageOutgoing)
	e.Outgoing = &bus.OutgoingMessage{
		Platform: platform,
		Channel:  channel,
		Content:  content,
		ReplyTo:  replyTo,
	}
	e.Timestamp = time.Now().UTC()
	h.bus.Publish(e)
}
