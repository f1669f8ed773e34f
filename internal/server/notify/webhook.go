package notify

import (
	"context"
	"net/http"
	"time"

	"github.com/dmitrijs2005/vitaltags/internal/netx"
)

// webhookPayload is what a delivery relay receives. The relay owns the
// provider credentials and the actual email or SMS send.
type webhookPayload struct {
	Channel Channel `json:"channel"`
	To      string  `json:"to"`
	ID      string  `json:"id"`
	Kind    string  `json:"kind"`
	Subject string  `json:"subject"`
	Body    string  `json:"body"`
}

// WebhookSender posts each message as JSON to a relay URL.
type WebhookSender struct {
	url     string
	channel Channel
	client  *http.Client
}

func NewWebhookSender(url string, channel Channel, timeout time.Duration) *WebhookSender {
	return &WebhookSender{url: url, channel: channel, client: &http.Client{Timeout: timeout}}
}

func (w *WebhookSender) Send(ctx context.Context, to string, msg Message) error {
	return netx.PostJSON(ctx, w.client, w.url, webhookPayload{
		Channel: w.channel,
		To:      to,
		ID:      msg.ID,
		Kind:    msg.Kind,
		Subject: msg.Subject,
		Body:    msg.Body,
	}, nil)
}
