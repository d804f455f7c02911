package stream

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/bwmarrin/discordgo"
	"layeh.com/gopus"
)

// Send encodes PCM into opus frames and pushes them to the voice
// connection until the stream ends or stop closes. volume is sampled per
// frame as a 0..200 percentage. A clean end of stream returns nil;
// anything else is a playback error.
func Send(pcm io.Reader, vc *discordgo.VoiceConnection, stop <-chan struct{}, gate *Gate, volume func() int) error {
	encoder, err := gopus.NewEncoder(SampleRate, Channels, gopus.Audio)
	if err != nil {
		return fmt.Errorf("encoder error: %w", err)
	}

	vc.Speaking(true)
	defer vc.Speaking(false)

	pcmBuf := make([]byte, FrameSize*Channels*2)
	intBuf := make([]int16, FrameSize*Channels)

	for {
		select {
		case <-stop:
			return nil
		default:
		}

		gate.Wait()

		select {
		case <-stop:
			return nil
		default:
		}

		_, err := io.ReadFull(pcm, pcmBuf)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}
			// A stop kills the decoder mid-read; that read error is the
			// stop taking effect, not a playback failure.
			select {
			case <-stop:
				return nil
			default:
			}
			return fmt.Errorf("read error: %w", err)
		}

		vol := volume()
		for i := range intBuf {
			s := int32(int16(binary.LittleEndian.Uint16(pcmBuf[i*2 : i*2+2])))
			s = s * int32(vol) / 100
			if s > 32767 {
				s = 32767
			} else if s < -32768 {
				s = -32768
			}
			intBuf[i] = int16(s)
		}

		opus, err := encoder.Encode(intBuf, FrameSize, len(pcmBuf))
		if err != nil {
			return fmt.Errorf("encode error: %w", err)
		}

		select {
		case vc.OpusSend <- opus:
		case <-stop:
			return nil
		}
	}
}
