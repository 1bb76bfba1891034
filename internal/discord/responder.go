package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/aristath/stockbot/internal/notify"
)

// responder answers a single Discord interaction.
type responder struct {
	s session
	i *discordgo.Interaction
}

// Acknowledge sends a deferred response, which shows "thinking" to the user and
// keeps the interaction token valid for follow-ups.
func (r *responder) Acknowledge(ctx context.Context) error {
	err := r.s.InteractionRespond(r.i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to defer interaction %s: %w", r.i.ID, err)
	}
	return nil
}

// FollowUp sends the final message, split into several when it exceeds the limit.
func (r *responder) FollowUp(ctx context.Context, content string) error {
	for i, chunk := range notify.SplitMessage(content, notify.MaxMessageLength) {
		_, err := r.s.FollowupMessageCreate(r.i, true, &discordgo.WebhookParams{Content: chunk}, discordgo.WithContext(ctx))
		if err != nil {
			return fmt.Errorf("failed to send follow-up part %d for interaction %s: %w", i+1, r.i.ID, err)
		}
	}
	return nil
}
