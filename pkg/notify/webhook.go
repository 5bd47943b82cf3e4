package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// WebhookConfig points decision events at an HTTP endpoint. Headers are
// sent on every request, typically to carry a shared token.
type WebhookConfig struct {
	URL     string            `yaml:"url" toml:"url" json:"url" env:"EXPKIT_WEBHOOK_URL"`
	Headers map[string]string `yaml:"headers" toml:"headers" json:"headers"`
}

// WebhookNotifier forwards the messages of a report session, re-analysis
// prompts included, to an external endpoint as JSON.
type WebhookNotifier struct {
	config WebhookConfig
	http   *http.Client
}

// NewWebhookNotifier returns a notifier with a ten second request timeout.
func NewWebhookNotifier(cfg WebhookConfig) *WebhookNotifier {
	return &WebhookNotifier{
		config: cfg,
		http:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (w *WebhookNotifier) Channel() Channel { return ChannelWebhook }

// Send posts the message. The kind and session also travel as headers, so a
// receiver can route a re-analysis prompt without decoding the body.
func (w *WebhookNotifier) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s message: %w", msg.Kind, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.config.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Expkit-Kind", string(msg.Kind))
	if msg.SessionID != "" {
		req.Header.Set("X-Expkit-Session", msg.SessionID)
	}
	for k, v := range w.config.Headers {
		req.Header.Set(k, v)
	}

	resp, err := w.http.Do(req)
	if err != nil {
		return fmt.Errorf("deliver %s for session %s: %w", msg.Kind, msg.SessionID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook rejected %s for session %s: status %d", msg.Kind, msg.SessionID, resp.StatusCode)
	}
	return nil
}
