package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
	"github.com/custodia-labs/ledgersync/internal/core/ports/driven"
)

// Ensure WebhookNotifier implements Notifier
var _ driven.Notifier = (*WebhookNotifier)(nil)

// WebhookNotifier posts notifications as JSON to an operator endpoint,
// such as a chat incoming-webhook or an email relay.
type WebhookNotifier struct {
	url         string
	minSeverity domain.Severity
	httpClient  *http.Client
	now         func() time.Time
}

// WebhookConfig configures WebhookNotifier.
type WebhookConfig struct {
	URL string

	// MinSeverity drops anything less severe (default: warning)
	MinSeverity domain.Severity

	Timeout    time.Duration // default: 10s
	HTTPClient *http.Client
}

// webhookPayload is the posted body
type webhookPayload struct {
	domain.Notification
	Service string    `json:"service"`
	SentAt  time.Time `json:"sent_at"`
}

// NewWebhookNotifier creates a notifier posting to cfg.URL.
func NewWebhookNotifier(cfg WebhookConfig) (*WebhookNotifier, error) {
	if cfg.URL == "" {
		return nil, errors.New("notification webhook URL is required")
	}
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	minSeverity := cfg.MinSeverity
	if minSeverity == "" {
		minSeverity = domain.SeverityWarning
	}
	return &WebhookNotifier{url: cfg.URL, minSeverity: minSeverity, httpClient: client, now: time.Now}, nil
}

// Notify posts n unless it is below the configured severity.
func (w *WebhookNotifier) Notify(ctx context.Context, n domain.Notification) error {
	if severityRank(n.Severity) < severityRank(w.minSeverity) {
		return nil
	}

	body, err := json.Marshal(webhookPayload{Notification: n, Service: "ledgersync", SentAt: w.now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post notification: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("post notification: status %d", resp.StatusCode)
	}
	return nil
}

func severityRank(s domain.Severity) int {
	switch s {
	case domain.SeverityError:
		return 2
	case domain.SeverityWarning:
		return 1
	default:
		return 0
	}
}
