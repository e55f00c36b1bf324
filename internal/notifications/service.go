// Package notifications publishes request lifecycle events to an external
// webhook. Delivery is best-effort: the pipeline guarantees it attempts to
// send, never that the sink received anything.
package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"listenarr/internal/logging"
)

// Event identifies the lifecycle moment being announced.
type Event string

const (
	EventRequestAvailable Event = "request_available"
	EventRequestFailed    Event = "request_failed"
	EventRequestWarn      Event = "request_warn"
)

// Payload carries the fields a notification template can use.
type Payload struct {
	RequestID int64     `json:"requestId,omitempty"`
	Title     string    `json:"title"`
	Author    string    `json:"author,omitempty"`
	UserName  string    `json:"userName,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher is the capability stage processors use to emit events.
type Publisher interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// Config controls which events are delivered and where.
type Config struct {
	WebhookURL     string
	RequestTimeout time.Duration
	Available      bool
	Failed         bool
	Warn           bool
}

// Service delivers events over a JSON webhook.
type Service struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
}

// NewService builds a webhook publisher. Returns a no-op publisher when no
// webhook is configured so callers never need a nil check.
func NewService(cfg Config, logger *slog.Logger) Publisher {
	if strings.TrimSpace(cfg.WebhookURL) == "" {
		return Noop{}
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Service{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With(logging.String(logging.FieldComponent, "notifications")),
	}
}

func (s *Service) enabled(event Event) bool {
	switch event {
	case EventRequestAvailable:
		return s.cfg.Available
	case EventRequestFailed:
		return s.cfg.Failed
	case EventRequestWarn:
		return s.cfg.Warn
	default:
		return false
	}
}

type webhookBody struct {
	Event   Event   `json:"event"`
	Payload Payload `json:"payload"`
}

// Publish sends one event. Disabled events are dropped silently; delivery
// failures are logged and returned but callers treat them as non-fatal.
func (s *Service) Publish(ctx context.Context, event Event, payload Payload) error {
	if !s.enabled(event) {
		return nil
	}
	if payload.Timestamp.IsZero() {
		payload.Timestamp = time.Now().UTC()
	}

	body, err := json.Marshal(webhookBody{Event: event, Payload: payload})
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.logger.WarnContext(ctx, "notification delivery failed",
			logging.String(logging.FieldEventType, string(event)),
			logging.Error(err))
		return fmt.Errorf("deliver notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		s.logger.WarnContext(ctx, "notification sink rejected event",
			logging.String(logging.FieldEventType, string(event)),
			logging.Int("status", resp.StatusCode))
		return fmt.Errorf("notification sink returned status %d", resp.StatusCode)
	}

	s.logger.DebugContext(ctx, "notification delivered",
		logging.String(logging.FieldEventType, string(event)),
		logging.Int64(logging.FieldRequestID, payload.RequestID))
	return nil
}

// Noop discards all events.
type Noop struct{}

func (Noop) Publish(context.Context, Event, Payload) error { return nil }
