// Package pause suspends autonomous behaviors (scheduler firings, webhook
// reactions) while keeping direct messages responsive.
package pause

import (
	"log/slog"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/a9lim/shannon/internal/bus"
)

var durationRe = regexp.MustCompile(`^(?:(\d+)h)?(?:(\d+)m)?(?:(\d+)s)?$`)

// ParseDuration parses strings like "2h", "30m", "1h30m15s" into seconds.
// At least one component must be present; returns false otherwise.
func ParseDuration(text string) (int, bool) {
	if text == "" {
		return 0, false
	}
	m := durationRe.FindStringSubmatch(text)
	if m == nil || (m[1] == "" && m[2] == "" && m[3] == "") {
		return 0, false
	}
	hours, _ := strconv.Atoi(zeroIfEmpty(m[1]))
	minutes, _ := strconv.Atoi(zeroIfEmpty(m[2]))
	seconds, _ := strconv.Atoi(zeroIfEmpty(m[3]))
	return hours*3600 + minutes*60 + seconds, true
}

func zeroIfEmpty(s string) string {
	if s == "" {
		return "0"
	}
	return s
}

// Manager holds the binary paused state, the queue of events deferred while
// paused, and an optional auto-resume timer.
type Manager struct {
	mu          sync.Mutex
	paused      bool
	queue       []*bus.Event
	resumeTimer *time.Timer
	resumeHook  func(events []*bus.Event)
}

// NewManager creates an unpaused manager.
func NewManager() *Manager {
	return &Manager{}
}

// SetResumeHook registers fn to receive the drained queue when a timed pause
// auto-resumes. A manual Resume neither drains the queue nor invokes the
// hook; its caller drains the queue with DrainQueue.
func (m *Manager) SetResumeHook(fn func(events []*bus.Event)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resumeHook = fn
}

// IsPaused reports the paused state.
func (m *Manager) IsPaused() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paused
}

// Pause sets the paused state. A positive duration schedules an automatic
// resume; a second Pause replaces any earlier timer.
func (m *Manager) Pause(duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.paused = true
	if m.resumeTimer != nil {
		m.resumeTimer.Stop()
		m.resumeTimer = nil
	}
	if duration > 0 {
		m.resumeTimer = time.AfterFunc(duration, m.autoResume)
	}
	slog.Info("Paused", "duration", duration)
}

// Resume clears the paused state, cancels any auto-resume timer, and returns
// the number of events queued during the pause.
func (m *Manager) Resume() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.resumeTimer != nil {
		m.resumeTimer.Stop()
		m.resumeTimer = nil
	}
	m.paused = false
	count := len(m.queue)
	slog.Info("Resumed", "queued", count)
	return count
}

// autoResume fires when a timed pause expires. Unlike a manual resume it
// also drains the queue and hands the events to the resume hook, so nothing
// queued during the pause is orphaned.
func (m *Manager) autoResume() {
	count := m.Resume()
	events := m.DrainQueue()
	slog.Info("Auto-resumed after pause timeout", "queued", count)

	m.mu.Lock()
	hook := m.resumeHook
	m.mu.Unlock()
	if hook != nil && len(events) > 0 {
		hook(events)
	}
}

// QueueEvent defers an event until resume.
func (m *Manager) QueueEvent(e *bus.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, e)
}

// QueuedCount returns the number of deferred events.
func (m *Manager) QueuedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// DrainQueue returns the deferred events and clears the queue.
func (m *Manager) DrainQueue() []*bus.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	events := m.queue
	m.queue = nil
	return events
}
