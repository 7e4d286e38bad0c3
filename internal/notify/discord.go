package notify

import (
	"context"
	"fmt"
	"net/http"
)

// DiscordSender delivers notifications to a Discord webhook.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

// NewDiscordSender creates a DiscordSender for webhookURL.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{webhookURL: webhookURL, client: newHTTPClient()}
}

// Name returns "discord".
func (d *DiscordSender) Name() string { return "discord" }

// Send posts the message with a bold title. Mentions are suppressed.
func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	payload := map[string]any{
		"content":          fmt.Sprintf("**%s**\n%s", title, message),
		"allowed_mentions": map[string]any{"parse": []string{}},
	}
	if err := postJSON(ctx, d.client, d.webhookURL, payload); err != nil {
		return fmt.Errorf("discord: %w", err)
	}
	return nil
}
