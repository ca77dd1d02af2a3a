package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Notifier delivers operational events such as weather outages.
type Notifier interface {
	Notify(ctx context.Context, eventType, message string, details map[string]any) error
}

type notification struct {
	ID        uuid.UUID      `json:"id"`
	EventType string         `json:"event_type"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// webhookNotifier POSTs each event as JSON to a fixed URL.
type webhookNotifier struct {
	url        string
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time
}

func newWebhookNotifier(url string, httpClient *http.Client, logger *slog.Logger) *webhookNotifier {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &webhookNotifier{url: url, httpClient: httpClient, logger: logger, now: time.Now}
}

func (n *webhookNotifier) Notify(ctx context.Context, eventType, message string, details map[string]any) error {
	body, err := json.Marshal(notification{
		ID:        uuid.New(),
		EventType: eventType,
		Message:   message,
		Details:   details,
		Timestamp: n.now().UTC(),
	})
	if err != nil {
		notificationsTotal.WithLabelValues(eventType, "error").Inc()
		return fmt.Errorf("encode notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		notificationsTotal.WithLabelValues(eventType, "error").Inc()
		return fmt.Errorf("build notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		notificationsTotal.WithLabelValues(eventType, "error").Inc()
		return fmt.Errorf("send notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<10))
		notificationsTotal.WithLabelValues(eventType, "error").Inc()
		return fmt.Errorf("webhook returned %s: %s", resp.Status, strings.TrimSpace(string(snippet)))
	}

	notificationsTotal.WithLabelValues(eventType, "sent").Inc()
	n.logger.Debug("notification sent", "event_type", eventType)
	return nil
}

// logNotifier writes events to the log when no webhook is configured.
type logNotifier struct {
	logger *slog.Logger
}

func newLogNotifier(logger *slog.Logger) *logNotifier {
	return &logNotifier{logger: logger}
}

func (n *logNotifier) Notify(_ context.Context, eventType, message string, details map[string]any) error {
	n.logger.Warn(message, "event_type", eventType, "details", details)
	notificationsTotal.WithLabelValues(eventType, "logged").Inc()
	return nil
}
