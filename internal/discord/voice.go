package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"quaver/internal/music/acquire"
	"quaver/internal/music/session"
	"quaver/internal/music/stream"
)

// voiceTransport adapts discordgo's voice join to the engine's Transport.
type voiceTransport struct {
	dg *discordgo.Session
}

func (t *voiceTransport) Join(ctx context.Context, guildID, channelID string) (session.Conn, error) {
	type result struct {
		vc  *discordgo.VoiceConnection
		err error
	}
	ch := make(chan result, 1)

	go func() {
		vc, err := t.dg.ChannelVoiceJoin(guildID, channelID, false, true)
		ch <- result{vc, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("failed to join voice channel: %w", r.err)
		}
		return &voiceConn{vc: r.vc}, nil
	case <-ctx.Done():
		// The late join result is abandoned; discordgo will drop the
		// connection when the session closes.
		return nil, ctx.Err()
	}
}

// voiceConn is one live discordgo voice connection.
type voiceConn struct {
	vc *discordgo.VoiceConnection
}

func (c *voiceConn) Play(src *acquire.Source, stop <-chan struct{}, gate *stream.Gate, volume func() int) error {
	pcm, cleanup, err := stream.OpenPCM(src)
	if err != nil {
		return err
	}
	// A stop must reach a decoder wedged on a stalled source, not wait
	// for the next successful read.
	release := stream.StopGuard(stop, cleanup)
	defer release()
	return stream.Send(pcm, c.vc, stop, gate, volume)
}

func (c *voiceConn) Alive() bool {
	return c.vc.Ready
}

func (c *voiceConn) Close() {
	c.vc.Disconnect()
}
