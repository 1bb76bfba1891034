package discord

import (
	"github.com/bwmarrin/discordgo"

	"github.com/aristath/stockbot/internal/commands"
)

// applicationCommands converts registry descriptors into slash command definitions.
func applicationCommands(descs []commands.Descriptor) []*discordgo.ApplicationCommand {
	out := make([]*discordgo.ApplicationCommand, 0, len(descs))
	for _, d := range descs {
		cmd := &discordgo.ApplicationCommand{
			Name:        d.Name,
			Description: d.Description,
			Type:        discordgo.ChatApplicationCommand,
		}
		for _, p := range d.Params {
			cmd.Options = append(cmd.Options, &discordgo.ApplicationCommandOption{
				Name:        p.Name,
				Description: p.Description,
				Type:        optionType(p.Type),
				Required:    p.Required,
			})
		}
		out = append(out, cmd)
	}
	return out
}

func optionType(t commands.ParamType) discordgo.ApplicationCommandOptionType {
	if t == commands.TypeBool {
		return discordgo.ApplicationCommandOptionBoolean
	}
	return discordgo.ApplicationCommandOptionString
}

// invocationParams flattens the options of a slash command into raw params.
// Values are passed through untyped; the registry coerces and validates them.
func invocationParams(data discordgo.ApplicationCommandInteractionData) map[string]any {
	params := make(map[string]any, len(data.Options))
	for _, opt := range data.Options {
		params[opt.Name] = opt.Value
	}
	return params
}

// callerID returns the invoking user, whether the command came from a guild or a DM.
func callerID(i *discordgo.Interaction) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}
