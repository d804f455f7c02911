package discord

import (
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"

	"quaver/internal/music/track"
)

// notifier posts playback status embeds. The engine calls it from one
// goroutine per session, so messages land in transition order.
type notifier struct {
	dg  *discordgo.Session
	log zerolog.Logger
}

func (n *notifier) NowPlaying(channelID string, t *track.Descriptor) string {
	if channelID == "" {
		return ""
	}
	embed := &discordgo.MessageEmbed{
		Title:       "▶️ Now Playing",
		Description: fmt.Sprintf("**%s**", t.Title),
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Duration", Value: t.DurationLabel, Inline: true},
			{Name: "Requested by", Value: t.RequestedBy, Inline: true},
		},
	}
	if t.ThumbnailURL != "" {
		embed.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: t.ThumbnailURL}
	}
	msg, err := n.dg.ChannelMessageSendEmbed(channelID, embed)
	if err != nil {
		n.log.Warn().Err(err).Str("channel_id", channelID).Msg("failed to post now-playing message")
		return ""
	}
	return msg.ID
}

func (n *notifier) ClearNowPlaying(channelID, messageID string) {
	if channelID == "" || messageID == "" {
		return
	}
	if err := n.dg.ChannelMessageDelete(channelID, messageID); err != nil {
		n.log.Debug().Err(err).Str("message_id", messageID).Msg("failed to delete now-playing message")
	}
}

func (n *notifier) PlaybackError(channelID, text string) {
	if channelID == "" {
		return
	}
	_, err := n.dg.ChannelMessageSendEmbed(channelID, &discordgo.MessageEmbed{
		Title:       "❌ Playback",
		Description: text,
	})
	if err != nil {
		n.log.Warn().Err(err).Str("channel_id", channelID).Msg("failed to post playback error")
	}
}
