package webhook

import (
	"fmt"
	"strings"
)

// Event is a provider-neutral webhook event.
type Event struct {
	Source        string         `json:"source"`
	EventType     string         `json:"event_type"`
	Summary       string         `json:"summary"`
	Payload       map[string]any `json:"payload"`
	ChannelTarget string         `json:"channel_target"`
}

// NormalizeGitHubEvent builds a human-readable summary for the common
// GitHub event types.
func NormalizeGitHubEvent(eventType string, payload map[string]any, channel string) *Event {
	repo := nestedString(payload, "repository", "full_name")
	if repo == "" {
		repo = "unknown"
	}

	var summary string
	switch eventType {
	case "push":
		commits, _ := payload["commits"].([]any)
		branch := strings.TrimPrefix(stringAt(payload, "ref"), "refs/heads/")
		pusher := nestedString(payload, "pusher", "name")
		if pusher == "" {
			pusher = "unknown"
		}
		summary = fmt.Sprintf("%s pushed %d commit(s) to %s/%s", pusher, len(commits), repo, branch)
	case "pull_request":
		action := stringAt(payload, "action")
		pr, _ := payload["pull_request"].(map[string]any)
		summary = fmt.Sprintf("%s %s PR #%v on %s: %s",
			nestedString(pr, "user", "login"), action, pr["number"], repo, stringAt(pr, "title"))
	case "issues":
		action := stringAt(payload, "action")
		issue, _ := payload["issue"].(map[string]any)
		summary = fmt.Sprintf("%s %s issue #%v on %s: %s",
			nestedString(issue, "user", "login"), action, issue["number"], repo, stringAt(issue, "title"))
	case "workflow_run":
		action := stringAt(payload, "action")
		run, _ := payload["workflow_run"].(map[string]any)
		summary = fmt.Sprintf("Workflow '%s' %s on %s — %s",
			stringAt(run, "name"), action, repo, stringAt(run, "conclusion"))
	default:
		summary = fmt.Sprintf("GitHub %s event on %s", eventType, repo)
	}

	return &Event{
		Source:        "github",
		EventType:     eventType,
		Summary:       summary,
		Payload:       payload,
		ChannelTarget: channel,
	}
}

// NormalizeSentryEvent extracts the alert title and project.
func NormalizeSentryEvent(payload map[string]any, channel string) *Event {
	data, _ := payload["data"].(map[string]any)
	event, ok := data["event"].(map[string]any)
	if !ok {
		event = data
	}

	title := stringAt(event, "title")
	if title == "" {
		title = stringAt(payload, "message")
	}
	if title == "" {
		title = "Sentry alert"
	}
	project := stringAt(payload, "project_name")
	if project == "" {
		project = stringAt(payload, "project")
	}
	if project == "" {
		project = "unknown"
	}
	level := stringAt(event, "level")
	if level == "" {
		level = "error"
	}

	return &Event{
		Source:        "sentry",
		EventType:     "alert",
		Summary:       fmt.Sprintf("[%s] %s: %s", level, project, title),
		Payload:       payload,
		ChannelTarget: channel,
	}
}

// NormalizeGenericEvent uses message or summary fields, falling back to a
// truncated dump of the payload.
func NormalizeGenericEvent(payload map[string]any, channel string) *Event {
	summary := stringAt(payload, "summary")
	if summary == "" {
		summary = stringAt(payload, "message")
	}
	if summary == "" {
		summary = truncatedDump(payload)
	}
	eventType := stringAt(payload, "event_type")
	if eventType == "" {
		eventType = "generic"
	}

	return &Event{
		Source:        "generic",
		EventType:     eventType,
		Summary:       summary,
		Payload:       payload,
		ChannelTarget: channel,
	}
}

func truncatedDump(payload map[string]any) string {
	dump := fmt.Sprintf("%v", payload)
	if len(dump) > 200 {
		dump = dump[:200] + "..."
	}
	if dump == "map[]" {
		return "Webhook received"
	}
	return dump
}

func stringAt(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

func nestedString(m map[string]any, outer, inner string) string {
	nested, _ := m[outer].(map[string]any)
	return stringAt(nested, inner)
}
