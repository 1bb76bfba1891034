package discord

import (
	"context"

	"github.com/bwmarrin/discordgo"

	"github.com/aristath/stockbot/internal/lifecycle"
)

// presencePublisher pushes the lifecycle presence to the gateway.
type presencePublisher struct {
	s session
}

func (p presencePublisher) PublishPresence(_ context.Context, pr lifecycle.Presence) error {
	return p.s.UpdateStatusComplex(discordgo.UpdateStatusData{
		Status: pr.Status,
		Activities: []*discordgo.Activity{{
			Name: pr.Activity,
			Type: discordgo.ActivityTypeGame,
		}},
	})
}
