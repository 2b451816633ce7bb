package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/mylaniakea/unity/internal/model"
)

const defaultWebhookTimeout = 10 * time.Second

type webhookPayload struct {
	model.AlertEvent
	Text string `json:"text"`
}

// WebhookChannel POSTs events as JSON
type WebhookChannel struct {
	logger     *zap.Logger
	url        string
	headers    map[string]string
	httpClient *http.Client
}

func NewWebhookChannel(logger *zap.Logger, url string, headers map[string]string, timeout time.Duration) *WebhookChannel {
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	return &WebhookChannel{
		logger:  logger.Named("webhook"),
		url:     url,
		headers: headers,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *WebhookChannel) Name() string { return "webhook" }

func (c *WebhookChannel) Send(ctx context.Context, event model.AlertEvent) error {
	body, err := json.Marshal(webhookPayload{AlertEvent: event, Text: FormatMessage(event)})
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status: %d", resp.StatusCode)
	}

	c.logger.Debug("Webhook delivered",
		zap.String("alert_id", event.AlertID),
		zap.Int("status", resp.StatusCode))
	return nil
}
