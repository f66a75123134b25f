// Package bus provides the typed publish/subscribe event bus that connects
// transports, the pipeline, the scheduler, and the webhook server.
package bus

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType tags the variant carried by an Event.
type EventType string

const (
	EventMessageIncoming  EventType = "message.incoming"
	EventMessageOutgoing  EventType = "message.outgoing"
	EventSchedulerTrigger EventType = "scheduler.trigger"
	EventWebhookReceived  EventType = "webhook.received"
)

// IncomingMessage represents a message from a transport to the pipeline.
type IncomingMessage struct {
	Platform    string    `json:"platform"`
	Channel     string    `json:"channel"`
	UserID      string    `json:"user_id"`
	UserName    string    `json:"user_name,omitempty"`
	MessageID   string    `json:"message_id,omitempty"`
	Content     string    `json:"content"`
	Attachments []string  `json:"attachments,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// OutgoingMessage represents a reply from the pipeline to a transport.
type OutgoingMessage struct {
	Platform string `json:"platform"`
	Channel  string `json:"channel"`
	Content  string `json:"content"`
	ReplyTo  string `json:"reply_to,omitempty"`
}

// Event is the tagged variant published on the bus. Exactly one payload field
// is set, matching Type; Data carries the payloads of scheduler and webhook
// events.
type Event struct {
	Type      EventType
	ID        string
	Timestamp time.Time
	Incoming  *IncomingMessage
	Outgoing  *OutgoingMessage
	Data      map[string]any
}

// NewEvent creates an event with a fresh ID and timestamp.
func NewEvent(t EventType) *Event {
	return &Event{
		Type:      t,
		ID:        uuid.NewString()[:12],
		Timestamp: time.Now().UTC(),
	}
}

// Handler processes one event. Handlers run on their subscriber's worker
// goroutine; slow handlers must spawn their own work asynchronously or their
// queue will overflow and drop events.
type Handler func(ctx context.Context, e *Event)

type subscriber struct {
	handler Handler
	queue   chan *Event
}

// EventBus delivers events to per-type subscribers. Each subscriber owns a
// bounded queue drained by a dedicated worker, so delivery order is preserved
// per subscriber. Delivery is at-most-once: a full queue drops the event with
// a warning.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]*subscriber
	queueSize   int
	running     bool
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// NewEventBus creates a bus with the given per-subscriber queue size.
// A size of 0 selects the default of 256.
func NewEventBus(queueSize int) *EventBus {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &EventBus{
		subscribers: make(map[EventType][]*subscriber),
		queueSize:   queueSize,
	}
}

// Subscribe registers a handler for an event type. Subscriptions made after
// Start only receive events once a restart spawns their worker.
func (b *EventBus) Subscribe(t EventType, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[t] = append(b.subscribers[t], &subscriber{
		handler: h,
		queue:   make(chan *Event, b.queueSize),
	})
}

// Publish enqueues the event into every matching subscriber's queue.
// Never blocks: on a full queue the event is dropped with a warning.
func (b *EventBus) Publish(e *Event) {
	if e.ID == "" {
		e.ID = uuid.NewString()[:12]
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	subs := b.subscribers[e.Type]
	b.mu.RUnlock()

	for _, sub := range subs {
		select {
		case sub.queue <- e:
		default:
			slog.Warn("Event queue full, dropping event", "type", e.Type, "id", e.ID)
		}
	}
}

// Start spawns one worker per subscriber. Workers run until Stop.
func (b *EventBus) Start(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return
	}
	b.running = true

	workerCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel

	count := 0
	for _, subs := range b.subscribers {
		for _, sub := range subs {
			b.wg.Add(1)
			go b.drain(workerCtx, sub)
			count++
		}
	}
	slog.Info("Event bus started", "subscribers", count)
}

func (b *EventBus) drain(ctx context.Context, sub *subscriber) {
	defer b.wg.Done()
	for {
		select {
		case e := <-sub.queue:
			sub.handler(ctx, e)
		case <-ctx.Done():
			// Deliver what is already queued before exiting.
			for {
				select {
				case e := <-sub.queue:
					sub.handler(context.Background(), e)
				default:
					return
				}
			}
		}
	}
}

// Stop cancels the workers and waits for outstanding queue drains up to the
// deadline.
func (b *EventBus) Stop(timeout time.Duration) {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	cancel := b.cancel
	b.mu.Unlock()

	cancel()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		slog.Warn("Event bus stop deadline exceeded")
	}
	slog.Info("Event bus stopped")
}
