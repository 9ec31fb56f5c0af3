package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aluiziolira/go-scrape-cars/models"
)

// Webhook posts deals as JSON to an HTTP endpoint (chat bots, automation hooks).
type Webhook struct {
	url    string
	client *http.Client
}

type webhookPayload struct {
	Text    string          `json:"text"`
	Listing *models.Listing `json:"listing"`
}

// NewWebhook targets url. A nil client gets a 10s timeout.
func NewWebhook(url string, client *http.Client) *Webhook {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Webhook{url: url, client: client}
}

func (w *Webhook) Notify(ctx context.Context, l *models.Listing) error {
	body, err := json.Marshal(webhookPayload{Text: FormatMessage(l), Listing: l})
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("webhook: status %d", resp.StatusCode)
	}
	return nil
}

func (w *Webhook) Close() error { return nil }
