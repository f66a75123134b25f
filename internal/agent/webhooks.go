package agent

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/a9lim/shannon/internal/auth"
	"github.com/a9lim/shannon/internal/bus"
	"github.com/a9lim/shannon/internal/pause"
)

const defaultWebhookTemplate = "{source} {event_type}: {summary}"

// WebhookSubscriber converts WebhookReceived events into synthetic user
// turns and injects them into the pipeline with operator permission. While
// paused, events are queued instead and replayed on resume.
type WebhookSubscriber struct {
	pipeline *MessageHandler
	pause    *pause.Manager
}

// NewWebhookSubscriber creates the subscriber.
func NewWebhookSubscriber(pipeline *MessageHandler, p *pause.Manager) *WebhookSubscriber {
	return &WebhookSubscriber{pipeline: pipeline, pause: p}
}

// HandleEvent is the bus subscription entry point.
func (w *WebhookSubscriber) HandleEvent(ctx context.Context, e *bus.Event) {
	if w.pause.IsPaused() {
		slog.Info("Webhook event queued: paused", "id", e.ID)
		w.pause.QueueEvent(e)
		return
	}
	w.process(ctx, e)
}

// Replay reprocesses events drained after a resume.
func (w *WebhookSubscriber) Replay(ctx context.Context, events []*bus.Event) {
	for _, e := range events {
		w.process(ctx, e)
	}
}

func (w *WebhookSubscriber) process(ctx context.Context, e *bus.Event) {
	if e.Data == nil {
		return
	}
	target, _ := e.Data["channel_target"].(string)
	platform, channel, ok := strings.Cut(target, ":")
	if !ok {
		slog.Warn("Webhook event has no channel target", "id", e.ID)
		return
	}

	template, _ := e.Data["prompt_template"].(string)
	if template == "" {
		template = defaultWebhookTemplate
	}
	content := formatTemplate(template, e.Data)

	w.pipeline.Handle(ctx, &bus.IncomingMessage{
		Platform:  platform,
		Channel:   channel,
		UserID:    auth.WebhookUserID,
		UserName:  "webhook",
		Content:   content,
		Timestamp: time.Now().UTC(),
	})
}

// formatTemplate substitutes {source}, {event_type}, and {summary}
// placeholders from the event payload.
func formatTemplate(template string, data map[string]any) string {
	out := template
	for _, key := range []string{"source", "event_type", "summary"} {
		value, _ := data[key].(string)
		out = strings.ReplaceAll(out, "{"+key+"}", value)
	}
	return out
}
