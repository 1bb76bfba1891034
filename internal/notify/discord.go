package notify

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/bwmarrin/discordgo"
)

// MaxMessageLength is Discord's per-message content limit.
const MaxMessageLength = 2000

// webhookExecutor is the slice of *discordgo.Session the Discord channel needs.
type webhookExecutor interface {
	WebhookExecute(webhookID, token string, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// DiscordWebhook posts reports through an incoming Discord webhook.
type DiscordWebhook struct {
	id      string
	token   string
	session webhookExecutor
}

// NewDiscordWebhook parses a https://discord.com/api/webhooks/{id}/{token} URL.
func NewDiscordWebhook(rawURL string) (*DiscordWebhook, error) {
	id, token, err := parseWebhookURL(rawURL)
	if err != nil {
		return nil, err
	}
	// Webhook execution is authorised by the token in the path, not a bot token.
	session, err := discordgo.New("")
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	return &DiscordWebhook{id: id, token: token, session: session}, nil
}

func parseWebhookURL(rawURL string) (string, string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", "", fmt.Errorf("invalid webhook URL: %w", err)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := 0; i+2 < len(parts); i++ {
		if parts[i] == "webhooks" && parts[i+1] != "" && parts[i+2] != "" {
			return parts[i+1], parts[i+2], nil
		}
	}
	return "", "", fmt.Errorf("webhook URL %q has no /webhooks/{id}/{token} path", u.Redacted())
}

// Name implements Channel.
func (d *DiscordWebhook) Name() string { return "discord" }

// Deliver implements Channel. Long reports are split across several messages.
func (d *DiscordWebhook) Deliver(ctx context.Context, title, content string) error {
	body := content
	if title != "" {
		body = "**" + title + "**\n" + content
	}
	for i, chunk := range SplitMessage(body, MaxMessageLength) {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, err := d.session.WebhookExecute(d.id, d.token, true, &discordgo.WebhookParams{Content: chunk}, discordgo.WithContext(ctx))
		if err != nil {
			return fmt.Errorf("chunk %d: %w", i+1, err)
		}
	}
	return nil
}

// SplitMessage breaks s into pieces of at most limit runes, preferring line boundaries.
func SplitMessage(s string, limit int) []string {
	if limit <= 0 {
		return []string{s}
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return []string{s}
	}

	var chunks []string
	for len(runes) > limit {
		cut := limit
		for j := limit - 1; j > limit/2; j-- {
			if runes[j] == '\n' {
				cut = j + 1
				break
			}
		}
		chunks = append(chunks, string(runes[:cut]))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		chunks = append(chunks, string(runes))
	}
	return chunks
}
