package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"

	"quaver/internal/config"
	"quaver/internal/music/acquire"
	"quaver/internal/music/resolve"
	"quaver/internal/music/session"
)

// Bot wires the Discord gateway to the playback engine. Everything beyond
// option parsing and embed rendering lives in the engine.
type Bot struct {
	dg     *discordgo.Session
	cfg    *config.Config
	engine *session.Engine
	log    zerolog.Logger
}

// StartBot runs the bot until ctx is canceled.
func StartBot(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	dg, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	b := &Bot{
		dg:  dg,
		cfg: cfg,
		log: log.With().Str("component", "discord").Logger(),
	}

	b.engine = session.NewEngine(
		resolve.New(log),
		acquire.New(cfg.CacheDir, log),
		&voiceTransport{dg: dg},
		&notifier{dg: dg, log: b.log},
		session.Config{
			QueueBound:        cfg.QueueBound,
			ReconnectDeadline: cfg.ReconnectDeadline,
			FailureCap:        cfg.AcquireFailureCap,
		},
		log,
	)

	b.configureIntents()
	dg.AddHandler(b.onReady)
	dg.AddHandler(b.onInteractionCreate)

	if err := dg.Open(); err != nil {
		return fmt.Errorf("failed to open Discord session: %w", err)
	}
	defer dg.Close()

	<-ctx.Done()
	b.log.Info().Msg("shutdown signal received, tearing down sessions")
	b.engine.Shutdown()
	return nil
}

func (b *Bot) configureIntents() {
	b.dg.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentsGuildMessages
}

func (b *Bot) onReady(s *discordgo.Session, r *discordgo.Ready) {
	b.log.Info().Str("user", r.User.Username).Int("guilds", len(r.Guilds)).Msg("gateway ready")

	_, err := s.ApplicationCommandBulkOverwrite(r.User.ID, "", slashCommands())
	if err != nil {
		b.log.Error().Err(err).Msg("failed to register slash commands")
	}
}

// FindUserVoiceState locates the voice channel a user currently sits in.
func (b *Bot) FindUserVoiceState(guildID, userID string) (string, error) {
	guild, err := b.dg.State.Guild(guildID)
	if err != nil {
		return "", fmt.Errorf("error retrieving guild: %w", err)
	}
	for _, vs := range guild.VoiceStates {
		if vs.UserID == userID {
			return vs.ChannelID, nil
		}
	}
	return "", fmt.Errorf("you are not in a voice channel")
}
