package discord

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"

	"github.com/aristath/stockbot/internal/commands"
	"github.com/aristath/stockbot/internal/events"
	"github.com/aristath/stockbot/internal/interaction"
	"github.com/aristath/stockbot/internal/lifecycle"
)

const syncTimeout = 30 * time.Second

// Dispatcher runs the interaction protocol for one command.
type Dispatcher interface {
	Dispatch(ctx context.Context, in *interaction.Interaction, r interaction.Responder)
}

// CommandSource lists the commands to register with Discord.
type CommandSource interface {
	Descriptors() []commands.Descriptor
}

// Lifecycle is the part of the lifecycle machine driven by gateway events.
type Lifecycle interface {
	State() lifecycle.State
	SessionEstablished() error
	CommandsSynced(ctx context.Context) error
	SetPublisher(p lifecycle.PresencePublisher)
	Shutdown()
}

// Config holds the Discord connection settings.
type Config struct {
	Token   string
	GuildID string // Empty registers commands globally
}

// Bot owns the gateway session.
type Bot struct {
	dg         *discordgo.Session
	s          session
	guildID    string
	commands   CommandSource
	lifecycle  Lifecycle
	dispatcher Dispatcher
	events     *events.Manager
	log        zerolog.Logger
	ctx        context.Context
}

// New creates a bot. The gateway connection is opened by Open.
func New(cfg Config, cmds CommandSource, lc Lifecycle, d Dispatcher, em *events.Manager, log zerolog.Logger) (*Bot, error) {
	dg, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	// Handlers run inline on the gateway read loop. None of them waits on a job.
	dg.SyncEvents = true
	dg.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages | discordgo.IntentsMessageContent

	b := newBot(dg, cfg.GuildID, cmds, lc, d, em, log)
	b.dg = dg
	dg.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		b.handleReady(r)
	})
	dg.AddHandler(func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
		b.handleInteraction(i.Interaction)
	})
	return b, nil
}

func newBot(s session, guildID string, cmds CommandSource, lc Lifecycle, d Dispatcher, em *events.Manager, log zerolog.Logger) *Bot {
	b := &Bot{
		s:          s,
		guildID:    guildID,
		commands:   cmds,
		lifecycle:  lc,
		dispatcher: d,
		events:     em,
		log:        log.With().Str("component", "discord").Logger(),
		ctx:        context.Background(),
	}
	lc.SetPublisher(presencePublisher{s: s})
	return b
}

// Open connects to the gateway. ctx bounds every request made from event handlers.
func (b *Bot) Open(ctx context.Context) error {
	b.ctx = ctx
	b.log.Info().Msg("Connecting to Discord gateway")
	if err := b.dg.Open(); err != nil {
		return fmt.Errorf("failed to open discord gateway: %w", err)
	}
	return nil
}

// Close moves the lifecycle to ShuttingDown and disconnects.
func (b *Bot) Close() error {
	b.lifecycle.Shutdown()
	if b.dg == nil {
		return nil
	}
	return b.dg.Close()
}

func (b *Bot) handleReady(r *discordgo.Ready) {
	if r == nil || r.User == nil {
		b.log.Error().Msg("Ready event without user")
		return
	}
	b.log.Info().Str("user", r.User.Username).Str("user_id", r.User.ID).Msg("Discord session established")

	if err := b.lifecycle.SessionEstablished(); err != nil {
		// A previous sync that failed leaves us in SyncingCommands; retry it.
		if b.lifecycle.State() != lifecycle.SyncingCommands {
			b.log.Warn().Err(err).Msg("Ignoring ready event")
			return
		}
	}

	if err := b.syncCommands(r.User.ID); err != nil {
		b.log.Error().Err(err).Msg("Failed to sync slash commands; commands stay unavailable until the next reconnect")
		b.events.EmitError("discord", err, map[string]interface{}{"stage": "sync_commands"})
		return
	}

	if err := b.lifecycle.CommandsSynced(b.ctx); err != nil {
		b.log.Warn().Err(err).Msg("Lifecycle rejected commands synced")
	}
}

func (b *Bot) syncCommands(appID string) error {
	ctx, cancel := context.WithTimeout(b.ctx, syncTimeout)
	defer cancel()

	defs := applicationCommands(b.commands.Descriptors())
	registered, err := b.s.ApplicationCommandBulkOverwrite(appID, b.guildID, defs, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("bulk overwrite application commands: %w", err)
	}

	scope := "global"
	if b.guildID != "" {
		scope = "guild " + b.guildID
	}
	b.log.Info().Int("count", len(registered)).Str("scope", scope).Msg("Slash commands synced")
	return nil
}

func (b *Bot) handleInteraction(i *discordgo.Interaction) {
	if i == nil || i.Type != discordgo.InteractionApplicationCommand {
		return
	}

	data := i.ApplicationCommandData()
	in := interaction.New(i.ID, callerID(i), data.Name, invocationParams(data))
	b.dispatcher.Dispatch(b.ctx, in, &responder{s: b.s, i: i})
}
