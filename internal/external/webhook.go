package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"fleetmaint/internal/config"
	"fleetmaint/internal/types"
)

// EscalationWebhook delivers schedule_escalated events to an
// operator-configured HTTP endpoint. It implements the engine's
// Notifier contract but only acts on escalation events, so it composes
// with the queue publisher in a notifier fan-out.
type EscalationWebhook struct {
	base   *BaseClient
	url    string
	logger *slog.Logger
}

// NewEscalationWebhook creates a webhook client from the webhook
// configuration. Returns nil when no escalation URL is configured;
// callers treat a nil webhook as disabled.
func NewEscalationWebhook(cfg config.WebhookConfig, logger *slog.Logger) *EscalationWebhook {
	if cfg.EscalationURL == "" {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	base := NewBaseClient(
		&http.Client{Timeout: cfg.Timeout},
		"escalation-webhook",
		DefaultRetryPolicy(),
		cfg.UserAgent,
	)
	return &EscalationWebhook{
		base:   base,
		url:    cfg.EscalationURL,
		logger: logger,
	}
}

// Notify POSTs the event JSON to the escalation endpoint. Events other
// than schedule_escalated are ignored.
func (w *EscalationWebhook) Notify(ctx context.Context, event types.NotificationEvent) error {
	if event.Type != types.EventScheduleEscalated {
		return nil
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling escalation event: %w", err)
	}

	if event.TraceID != "" {
		ctx = types.WithTraceID(ctx, event.TraceID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building escalation webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.base.Do(req)
	if err != nil {
		return fmt.Errorf("delivering escalation webhook: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return types.NewAppError(
			types.ErrCodeUpstreamNotifier,
			fmt.Sprintf("escalation webhook returned %d", resp.StatusCode),
			nil,
		)
	}

	w.logger.InfoContext(ctx, "escalation webhook delivered",
		"schedule_id", event.ScheduleID,
		"status_code", resp.StatusCode,
	)

	return nil
}
