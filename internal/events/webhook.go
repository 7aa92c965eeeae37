package events

import (
	"context"
	"fmt"
	"time"

	"resty.dev/v3"
)

// WebhookPublisher POSTs every event as JSON to a fixed URL.
type WebhookPublisher struct {
	client *resty.Client
	url    string
}

func NewWebhookPublisher(url string, timeout time.Duration) *WebhookPublisher {
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	return &WebhookPublisher{client: client, url: url}
}

func (p *WebhookPublisher) Publish(ctx context.Context, e Event) error {
	res, err := p.client.R().
		SetContext(ctx).
		SetHeader("X-Event-Type", string(e.Type)).
		SetBody(e).
		Post(p.url)
	if err != nil {
		return fmt.Errorf("post %s event for sale %s: %w", e.Type, e.SaleID, err)
	}
	if res.IsError() {
		return fmt.Errorf("webhook returned unexpected status %d for %s event", res.StatusCode(), e.Type)
	}
	return nil
}

func (p *WebhookPublisher) Close() error {
	return p.client.Close()
}
