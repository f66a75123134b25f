package pause

import (
	"testing"
	"time"

	"github.com/a9lim/shannon/internal/bus"
)

func TestParseDuration(t *testing.T) {
	cases := []struct {
		in      string
		want    int
		wantOK  bool
	}{
		{"2h", 7200, true},
		{"30m", 1800, true},
		{"45s", 45, true},
		{"1h30m", 5400, true},
		{"1h30m15s", 5415, true},
		{"0m", 0, true},
		{"abc", 0, false},
		{"", 0, false},
		{"90", 0, false},
	}
	for _, tc := range cases {
		got, ok := ParseDuration(tc.in)
		if ok != tc.wantOK || got != tc.want {
			t.Errorf("ParseDuration(%q) = (%d, %v), want (%d, %v)", tc.in, got, ok, tc.want, tc.wantOK)
		}
	}
}

func TestPauseResume(t *testing.T) {
	m := NewManager()
	if m.IsPaused() {
		t.Fatal("new manager should not be paused")
	}

	m.Pause(0)
	if !m.IsPaused() {
		t.Fatal("should be paused")
	}
	// Pause is idempotent.
	m.Pause(0)
	if !m.IsPaused() {
		t.Fatal("should still be paused")
	}

	if count := m.Resume(); count != 0 {
		t.Errorf("queued count = %d, want 0", count)
	}
	if m.IsPaused() {
		t.Fatal("should be resumed")
	}
}

func TestQueueAndDrain(t *testing.T) {
	m := NewManager()
	m.Pause(0)

	m.QueueEvent(bus.NewEvent(bus.EventWebhookReceived))
	m.QueueEvent(bus.NewEvent(bus.EventWebhookReceived))
	if m.QueuedCount() != 2 {
		t.Fatalf("queued = %d, want 2", m.QueuedCount())
	}

	if count := m.Resume(); count != 2 {
		t.Errorf("resume count = %d, want 2", count)
	}

	events := m.DrainQueue()
	if len(events) != 2 {
		t.Fatalf("drained = %d, want 2", len(events))
	}
	// Drain clears: a second drain returns nothing.
	if len(m.DrainQueue()) != 0 {
		t.Error("second drain should be empty")
	}
}

func TestAutoResume(t *testing.T) {
	m := NewManager()
	replayed := make(chan []*bus.Event, 1)
	m.SetResumeHook(func(events []*bus.Event) {
		replayed <- events
	})

	m.Pause(50 * time.Millisecond)
	if !m.IsPaused() {
		t.Fatal("should be paused")
	}
	m.QueueEvent(bus.NewEvent(bus.EventWebhookReceived))

	deadline := time.Now().Add(time.Second)
	for m.IsPaused() {
		if time.Now().After(deadline) {
			t.Fatal("auto-resume did not fire")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// The timed resume drains the queue and hands it to the hook; nothing
	// is left behind for a later manual resume to replay.
	select {
	case events := <-replayed:
		if len(events) != 1 {
			t.Errorf("replayed = %d events, want 1", len(events))
		}
	case <-time.After(time.Second):
		t.Fatal("resume hook not invoked")
	}
	if m.QueuedCount() != 0 {
		t.Errorf("queued after auto-resume = %d, want 0", m.QueuedCount())
	}
}

func TestAutoResumeEmptyQueueSkipsHook(t *testing.T) {
	m := NewManager()
	called := make(chan struct{}, 1)
	m.SetResumeHook(func(events []*bus.Event) {
		called <- struct{}{}
	})

	m.Pause(30 * time.Millisecond)
	deadline := time.Now().Add(time.Second)
	for m.IsPaused() {
		if time.Now().After(deadline) {
			t.Fatal("auto-resume did not fire")
		}
		time.Sleep(10 * time.Millisecond)
	}

	select {
	case <-called:
		t.Fatal("hook invoked with an empty queue")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestResumeCancelsTimer(t *testing.T) {
	m := NewManager()
	m.Pause(50 * time.Millisecond)
	m.Resume()
	m.Pause(0) // indefinite pause; the old timer must not resume it
	time.Sleep(120 * time.Millisecond)
	if !m.IsPaused() {
		t.Fatal("cancelled timer resumed the manager")
	}
}
