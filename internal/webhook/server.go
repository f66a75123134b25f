// Package webhook implements the HTTP ingress: signature validation,
// provider-specific normalization, and bus publication.
package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/a9lim/shannon/internal/bus"
	"github.com/a9lim/shannon/internal/config"
)

// Server receives incoming webhooks and publishes WebhookReceived events.
type Server struct {
	cfg        config.WebhooksConfig
	bus        *bus.EventBus
	httpServer *http.Server
}

// NewServer builds the router. Endpoints configured without a secret are
// announced loudly: they reject every request until a secret is set.
func NewServer(cfg config.WebhooksConfig, b *bus.EventBus) *Server {
	s := &Server{cfg: cfg, bus: b}

	r := chi.NewRouter()
	for _, endpoint := range cfg.Endpoints {
		if endpoint.Secret == "" {
			slog.Warn("Webhook endpoint has no secret configured, all requests will be rejected",
				"endpoint", endpoint.Name, "path", endpoint.Path)
		}
		ep := endpoint
		r.Post(normalizePath(ep.Path), func(w http.ResponseWriter, req *http.Request) {
			s.handle(w, req, &ep)
		})
	}

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Bind, cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start runs the HTTP server until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("Webhook server started", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("webhook server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
		slog.Info("Webhook server stopped")
		return ctx.Err()
	}
}

func (s *Server) handle(w http.ResponseWriter, req *http.Request, endpoint *config.WebhookEndpoint) {
	body, err := io.ReadAll(req.Body)
	if err != nil {
		http.Error(w, "read error", http.StatusBadRequest)
		return
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	if !s.validate(endpoint, req, body) {
		http.Error(w, "Invalid signature", http.StatusUnauthorized)
		return
	}

	event := s.normalize(endpoint, req, payload)

	e := bus.NewEvent(bus.EventWebhookReceived)
	e.Data = map[string]any{
		"source":          event.Source,
		"event_type":      event.EventType,
		"summary":         event.Summary,
		"payload":         event.Payload,
		"channel_target":  event.ChannelTarget,
		"prompt_template": endpoint.PromptTemplate,
	}
	s.bus.Publish(e)

	slog.Info("Webhook received", "source", event.Source, "type", event.EventType, "channel", event.ChannelTarget)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// validate picks the provider's signature scheme from the endpoint name.
func (s *Server) validate(endpoint *config.WebhookEndpoint, req *http.Request, body []byte) bool {
	name := strings.ToLower(endpoint.Name)

	if strings.Contains(name, "github") {
		return ValidateGitHubSignature(body, req.Header.Get("X-Hub-Signature-256"), endpoint.Secret)
	}
	if strings.Contains(name, "sentry") {
		return ValidateSentrySignature(body, req.Header.Get("Sentry-Hook-Signature"), endpoint.Secret)
	}

	provided := req.Header.Get("X-Webhook-Secret")
	if provided == "" {
		provided = req.Header.Get("Authorization")
	}
	return ValidateGenericSecret(provided, endpoint.Secret)
}

func (s *Server) normalize(endpoint *config.WebhookEndpoint, req *http.Request, payload map[string]any) *Event {
	name := strings.ToLower(endpoint.Name)

	if strings.Contains(name, "github") {
		eventType := req.Header.Get("X-GitHub-Event")
		if eventType == "" {
			eventType = "unknown"
		}
		return NormalizeGitHubEvent(eventType, payload, endpoint.Channel)
	}
	if strings.Contains(name, "sentry") {
		return NormalizeSentryEvent(payload, endpoint.Channel)
	}
	return NormalizeGenericEvent(payload, endpoint.Channel)
}

func normalizePath(path string) string {
	if strings.HasPrefix(path, "/") {
		return path
	}
	return "/" + path
}
