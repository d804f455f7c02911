// Package stream decodes acquired audio into 48kHz stereo PCM and feeds
// it to the Discord voice connection as opus frames.
package stream

import (
	"fmt"
	"io"
	"os/exec"
	"sync"

	"quaver/internal/music/acquire"
)

const (
	Channels   = 2
	SampleRate = 48000
	FrameSize  = 960 // 20ms at 48kHz
)

// OpenPCM starts an ffmpeg decode of the source: a materialized file is
// read by path, a live stream is piped through stdin. The returned cleanup
// kills the decoder and must be called on every exit path.
func OpenPCM(src *acquire.Source) (io.ReadCloser, func(), error) {
	switch {
	case src.Path != "":
		return openFromPath(src.Path)
	case src.Reader != nil:
		return openFromReader(src.Reader)
	default:
		return nil, nil, fmt.Errorf("audio source has neither path nor reader")
	}
}

func openFromPath(path string) (io.ReadCloser, func(), error) {
	cmd := exec.Command("ffmpeg",
		"-i", path,
		"-f", "s16le",
		"-ar", fmt.Sprintf("%d", SampleRate),
		"-ac", fmt.Sprintf("%d", Channels),
		"-loglevel", "warning",
		"pipe:1",
	)

	reader, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("stdout pipe error: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("ffmpeg start error: %w", err)
	}

	cleanup := func() {
		cmd.Process.Kill()
		cmd.Wait()
	}
	return reader, cleanup, nil
}

func openFromReader(in io.ReadCloser) (io.ReadCloser, func(), error) {
	cmd := exec.Command("ffmpeg",
		"-i", "pipe:0",
		"-f", "s16le",
		"-ar", fmt.Sprintf("%d", SampleRate),
		"-ac", fmt.Sprintf("%d", Channels),
		"-analyzeduration", "0",
		"-loglevel", "warning",
		"pipe:1",
	)
	cmd.Stdin = in

	reader, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("stdout pipe error: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("ffmpeg start error: %w", err)
	}

	cleanup := func() {
		cmd.Process.Kill()
		in.Close()
		cmd.Wait()
	}
	return reader, cleanup, nil
}

// StopGuard runs cleanup as soon as stop closes, so a decoder wedged on a
// stalled source cannot block the stop past the current read. The returned
// release ends the watch and runs cleanup if stop never fired; cleanup
// runs exactly once either way.
func StopGuard(stop <-chan struct{}, cleanup func()) (release func()) {
	var cleanupOnce, releaseOnce sync.Once
	done := make(chan struct{})

	go func() {
		select {
		case <-stop:
		case <-done:
		}
		cleanupOnce.Do(cleanup)
	}()

	return func() {
		releaseOnce.Do(func() {
			close(done)
			cleanupOnce.Do(cleanup)
		})
	}
}
