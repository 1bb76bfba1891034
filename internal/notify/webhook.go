package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultWebhookTimeout = 10 * time.Second

type webhookPayload struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	Format  string `json:"format"`
	SentAt  string `json:"sent_at"`
}

// Webhook posts reports as JSON to an arbitrary HTTP endpoint.
type Webhook struct {
	url    string
	client *http.Client
}

// NewWebhook creates a generic webhook channel. A nil client gets a 10s timeout client.
func NewWebhook(url string, client *http.Client) *Webhook {
	if client == nil {
		client = &http.Client{Timeout: defaultWebhookTimeout}
	}
	return &Webhook{url: strings.TrimSpace(url), client: client}
}

// Name implements Channel.
func (w *Webhook) Name() string { return "webhook" }

// Deliver implements Channel.
func (w *Webhook) Deliver(ctx context.Context, title, content string) error {
	data, err := json.Marshal(webhookPayload{
		Title:   title,
		Content: content,
		Format:  "markdown",
		SentAt:  time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
