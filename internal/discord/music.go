package discord

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"quaver/internal/music/queue"
	"quaver/internal/music/session"
	"quaver/internal/music/track"
)

func slashCommands() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{
			Name:        "music",
			Description: "Control music playback",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "play",
					Description: "Play a track, playlist or stream",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        "input",
							Description: "Link or search query",
							Required:    true,
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "skip",
					Description: "Skip to the next track",
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "stop",
					Description: "Stop playback and clear the queue",
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "pause",
					Description: "Pause playback",
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "resume",
					Description: "Resume playback",
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "volume",
					Description: "Set playback volume",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionInteger,
							Name:        "percent",
							Description: "0 to 200",
							Required:    true,
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "loop",
					Description: "Toggle loop mode",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionBoolean,
							Name:        "enabled",
							Description: "Re-queue finished tracks at the tail",
							Required:    true,
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "queue",
					Description: "Show the current queue",
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "leave",
					Description: "Disconnect from the voice channel",
				},
			},
		},
	}
}

func (b *Bot) onInteractionCreate(s *discordgo.Session, e *discordgo.InteractionCreate) {
	if e.Type != discordgo.InteractionApplicationCommand {
		return
	}
	data := e.ApplicationCommandData()
	if data.Name != "music" || len(data.Options) == 0 {
		return
	}
	if e.GuildID == "" {
		respondText(s, e, "Music commands only work in a server.")
		return
	}

	sub := data.Options[0]
	switch sub.Name {
	case "play":
		b.runPlay(s, e, sub)
	case "skip":
		b.respondResult(s, e, "⏭ Skipped.", b.engine.Skip(e.GuildID))
	case "stop":
		b.respondResult(s, e, "⏹ Stopped, queue cleared.", b.engine.Stop(e.GuildID))
	case "pause":
		b.respondResult(s, e, "⏸ Paused.", b.engine.Pause(e.GuildID))
	case "resume":
		b.respondResult(s, e, "▶️ Resumed.", b.engine.Resume(e.GuildID))
	case "volume":
		percent := int(sub.Options[0].IntValue())
		b.respondResult(s, e, fmt.Sprintf("🔊 Volume set to %d%%.", percent), b.engine.SetVolume(e.GuildID, percent))
	case "loop":
		enabled := sub.Options[0].BoolValue()
		msg := "🔁 Loop enabled."
		if !enabled {
			msg = "➡️ Loop disabled."
		}
		b.respondResult(s, e, msg, b.engine.SetLoop(e.GuildID, enabled))
	case "queue":
		b.runQueue(s, e)
	case "leave":
		b.respondResult(s, e, "👋 Left the voice channel.", b.engine.Leave(e.GuildID))
	}
}

func (b *Bot) runPlay(s *discordgo.Session, e *discordgo.InteractionCreate, sub *discordgo.ApplicationCommandInteractionDataOption) {
	input := strings.TrimSpace(sub.Options[0].StringValue())
	if input == "" {
		respondText(s, e, "Input is required.")
		return
	}

	// Resolution can take a few seconds; defer so the token stays valid.
	if err := s.InteractionRespond(e.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
	}); err != nil {
		b.log.Warn().Err(err).Msg("failed to defer play response")
		return
	}

	voiceChannelID, err := b.FindUserVoiceState(e.GuildID, e.Member.User.ID)
	if err != nil {
		followupText(s, e, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	res, err := b.engine.Play(ctx, e.GuildID, voiceChannelID, e.ChannelID, e.Member.User.Username, input)
	if err != nil {
		followupText(s, e, playErrorText(err))
		return
	}

	if len(res.Tracks) == 1 {
		followupText(s, e, fmt.Sprintf("🎶 Queued **%s** at position %d.", res.Tracks[0].Title, res.Position))
		return
	}
	followupText(s, e, fmt.Sprintf("🎶 Queued %d tracks starting at position %d.", len(res.Tracks), res.Position))
}

func (b *Bot) runQueue(s *discordgo.Session, e *discordgo.InteractionCreate) {
	snap, err := b.engine.Snapshot(e.GuildID)
	if err != nil {
		respondText(s, e, playErrorText(err))
		return
	}

	var sb strings.Builder
	if snap.Current != nil {
		fmt.Fprintf(&sb, "**Now playing:** %s (%s)\n\n", snap.Current.Title, snap.Current.DurationLabel)
	} else {
		sb.WriteString("Nothing is playing.\n\n")
	}
	for i, t := range snap.Pending {
		fmt.Fprintf(&sb, "%d. %s (%s)\n", i+1, t.Title, t.DurationLabel)
	}
	if rest := snap.TotalPending - len(snap.Pending); rest > 0 {
		fmt.Fprintf(&sb, "… and %d more\n", rest)
	}
	if snap.Loop {
		sb.WriteString("\n🔁 Loop is on")
	}

	respondEmbed(s, e, &discordgo.MessageEmbed{
		Title:       "🎵 Queue",
		Description: sb.String(),
	})
}

func (b *Bot) respondResult(s *discordgo.Session, e *discordgo.InteractionCreate, okText string, err error) {
	if err != nil {
		respondText(s, e, playErrorText(err))
		return
	}
	respondText(s, e, okText)
}

// playErrorText maps engine errors onto user-facing phrasing. Unknown
// errors pass through as-is; the taxonomies are closed, so that case is a
// bug worth seeing verbatim.
func playErrorText(err error) string {
	switch {
	case errors.Is(err, session.ErrNotConnected):
		return "I'm not connected to a voice channel here."
	case errors.Is(err, session.ErrNothingPlaying):
		return "Nothing is playing."
	case errors.Is(err, session.ErrInvalidState):
		return "Can't do that right now."
	case errors.Is(err, session.ErrVolumeRange):
		return "Volume must be between 0 and 200."
	case errors.Is(err, queue.ErrQueueFull):
		return "The queue is full."
	case errors.Is(err, queue.ErrQueueWouldOverflow):
		return "That playlist doesn't fit in the queue, nothing was added."
	case errors.Is(err, track.ErrNoResults):
		return "No results for that query."
	case errors.Is(err, track.ErrInvalidLocator):
		return "That link doesn't look like something I can play."
	case errors.Is(err, track.ErrPlaylistUnavailable):
		return "That playlist is unavailable."
	case errors.Is(err, track.ErrProviderAuth):
		return "The provider refused access to that track."
	case errors.Is(err, track.ErrTransient):
		return "The provider didn't answer in time, try again."
	default:
		return err.Error()
	}
}

func respondText(s *discordgo.Session, e *discordgo.InteractionCreate, text string) {
	respondEmbed(s, e, &discordgo.MessageEmbed{Description: text})
}

func respondEmbed(s *discordgo.Session, e *discordgo.InteractionCreate, embed *discordgo.MessageEmbed) {
	s.InteractionRespond(e.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{embed},
		},
	})
}

func followupText(s *discordgo.Session, e *discordgo.InteractionCreate, text string) {
	s.FollowupMessageCreate(e.Interaction, true, &discordgo.WebhookParams{
		Embeds: []*discordgo.MessageEmbed{{Description: text}},
	})
}
