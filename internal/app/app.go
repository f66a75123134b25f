// Package app is the composition root: it wires the bus, stores, provider,
// tools, planner, pipeline, scheduler, and webhook server, and owns the
// startup/shutdown order.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/a9lim/shannon/internal/agent"
	"github.com/a9lim/shannon/internal/auth"
	"github.com/a9lim/shannon/internal/bus"
	"github.com/a9lim/shannon/internal/config"
	"github.com/a9lim/shannon/internal/history"
	"github.com/a9lim/shannon/internal/memory"
	"github.com/a9lim/shannon/internal/pause"
	"github.com/a9lim/shannon/internal/planner"
	"github.com/a9lim/shannon/internal/provider"
	"github.com/a9lim/shannon/internal/scheduler"
	"github.com/a9lim/shannon/internal/tools"
	"github.com/a9lim/shannon/internal/webhook"
)

// Transport is the contract the core expects of a chat transport. Transports
// publish MessageIncoming events on receipt and subscribe to MessageOutgoing
// for delivery with platform-appropriate chunking.
type Transport interface {
	Start(ctx context.Context) error
	Stop() error
	SendMessage(channel, content string) error
}

// App owns every core component and their lifecycle.
type App struct {
	cfg *config.Config

	Bus        *bus.EventBus
	Auth       *auth.Manager
	LLM        provider.LLMProvider
	History    *history.Store
	Memory     *memory.Store
	Registry   *tools.Registry
	Pause      *pause.Manager
	Scheduler  *scheduler.Scheduler
	Planner    *planner.Engine
	Pipeline   *agent.MessageHandler
	WebhookSub *agent.WebhookSubscriber

	webhookServer *webhook.Server
	transports    []Transport
}

// New wires all components. dryRun short-circuits LLM turns with a stub
// reply for testing.
func New(cfg *config.Config, dryRun bool) (*App, error) {
	dataDir := cfg.ResolveDataDir()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	llm, err := provider.New(cfg.LLM)
	if err != nil {
		return nil, err
	}

	b := bus.NewEventBus(256)
	authMgr := auth.NewManager(cfg.Auth)
	pauseMgr := pause.NewManager()

	hist, err := history.NewStore(filepath.Join(dataDir, "context.db"), llm)
	if err != nil {
		return nil, err
	}
	mem, err := memory.NewStore(filepath.Join(dataDir, "memory.db"))
	if err != nil {
		return nil, err
	}

	sched, err := scheduler.New(cfg.Scheduler, dataDir, b, pauseMgr)
	if err != nil {
		return nil, err
	}

	registry := tools.NewRegistry()
	registry.Register(tools.NewMemorySetTool(mem))
	registry.Register(tools.NewMemoryGetTool(mem))
	registry.Register(tools.NewMemoryDeleteTool(mem))
	registry.Register(scheduler.NewScheduleTool(sched))

	a := &App{
		cfg:       cfg,
		Bus:       b,
		Auth:      authMgr,
		LLM:       llm,
		History:   hist,
		Memory:    mem,
		Registry:  registry,
		Pause:     pauseMgr,
		Scheduler: sched,
	}

	send := func(platform, channel, content string) {
		e := bus.NewEvent(bus.EventMessageOutgoing)
		e.Outgoing = &bus.OutgoingMessage{Platform: platform, Channel: channel, Content: content}
		b.Publish(e)
	}

	// The planner is built from the tool map before the plan tool exists,
	// then the plan tool is appended to the public registry: plans cannot
	// invoke the planner recursively.
	toolMap := make(map[string]tools.Tool)
	for _, tool := range registry.List() {
		toolMap[tool.Name()] = tool
	}
	plannerEngine, err := planner.NewEngine(llm, toolMap, filepath.Join(dataDir, "plans.db"))
	if err != nil {
		return nil, err
	}
	a.Planner = plannerEngine
	registry.Register(planner.NewPlanTool(plannerEngine, planner.SendFunc(send)))

	commands := agent.NewCommandHandler(hist, sched, authMgr, mem, pauseMgr, send)
	executor := agent.NewExecutor(llm, registry)
	a.Pipeline = agent.NewMessageHandler(authMgr, hist, mem, registry, executor, commands, b, llm,
		cfg.Context, cfg.LLM, dryRun)

	a.WebhookSub = agent.NewWebhookSubscriber(a.Pipeline, pauseMgr)
	commands.SetDrainFunc(a.WebhookSub.Replay)
	// The timed auto-resume replays its drained queue the same way /resume
	// does, so events received during a bounded pause are never orphaned.
	pauseMgr.SetResumeHook(func(events []*bus.Event) {
		a.WebhookSub.Replay(context.Background(), events)
	})

	b.Subscribe(bus.EventMessageIncoming, a.Pipeline.HandleEvent)
	b.Subscribe(bus.EventWebhookReceived, a.WebhookSub.HandleEvent)
	b.Subscribe(bus.EventSchedulerTrigger, a.handleSchedulerTrigger)

	if cfg.Webhooks.Enabled {
		a.webhookServer = webhook.NewServer(cfg.Webhooks, b)
	}
	return a, nil
}

// RegisterTransport attaches a transport before Run.
func (a *App) RegisterTransport(t Transport) {
	a.transports = append(a.transports, t)
}

// handleSchedulerTrigger turns a cron firing into a synthetic operator turn
// on the scheduler's own channel.
func (a *App) handleSchedulerTrigger(ctx context.Context, e *bus.Event) {
	action, _ := e.Data["action"].(string)
	jobName, _ := e.Data["job_name"].(string)
	if action == "" {
		return
	}
	a.Pipeline.Handle(ctx, &bus.IncomingMessage{
		Platform:  "scheduler",
		Channel:   jobName,
		UserID:    auth.WebhookUserID,
		UserName:  "scheduler",
		Content:   action,
		Timestamp: time.Now().UTC(),
	})
}

// Run starts everything and blocks until ctx is cancelled. Cancellation
// reaches the transports' Start loops, the webhook server, and the scheduler
// together, so those stop in no fixed order relative to each other. Once they
// have returned, shutdown stops each transport, drains the bus, and closes
// the tools, stores, and provider.
func (a *App) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.Bus.Start(runCtx)

	g, gctx := errgroup.WithContext(runCtx)

	for _, t := range a.transports {
		transport := t
		g.Go(func() error { return transport.Start(gctx) })
	}
	if a.cfg.Scheduler.Enabled {
		g.Go(func() error {
			err := a.Scheduler.Run(gctx)
			if err == context.Canceled {
				return nil
			}
			return err
		})
	}
	if a.webhookServer != nil {
		g.Go(func() error {
			err := a.webhookServer.Start(gctx)
			if err == context.Canceled {
				return nil
			}
			return err
		})
	}

	slog.Info("Shannon ready", "provider", a.cfg.LLM.Provider, "model", a.cfg.LLM.Model)

	<-gctx.Done()
	cancel()
	err := g.Wait()

	a.shutdown()
	if err != nil && err != context.Canceled {
		return err
	}
	return nil
}

func (a *App) shutdown() {
	slog.Info("Shannon stopping")

	for _, t := range a.transports {
		if err := t.Stop(); err != nil {
			slog.Warn("Transport stop failed", "error", err)
		}
	}
	a.Bus.Stop(10 * time.Second)

	if err := a.Registry.Cleanup(); err != nil {
		slog.Warn("Tool cleanup failed", "error", err)
	}
	if err := a.Memory.Close(); err != nil {
		slog.Warn("Memory close failed", "error", err)
	}
	if err := a.Planner.Close(); err != nil {
		slog.Warn("Planner close failed", "error", err)
	}
	if err := a.History.Close(); err != nil {
		slog.Warn("Context close failed", "error", err)
	}
	if err := a.Scheduler.Close(); err != nil {
		slog.Warn("Scheduler close failed", "error", err)
	}
	if err := a.LLM.Close(); err != nil {
		slog.Warn("LLM close failed", "error", err)
	}
	slog.Info("Shannon stopped")
}
