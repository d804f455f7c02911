// Package session holds the per-guild playback state machines and the
// process-wide registry that owns them. The registry is the only shared
// mutable structure; everything else belongs to exactly one session.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"quaver/internal/music/acquire"
	"quaver/internal/music/queue"
	"quaver/internal/music/stream"
	"quaver/internal/music/track"
)

var (
	ErrNotConnected   = errors.New("not connected to a voice channel")
	ErrNothingPlaying = errors.New("nothing is playing")
	ErrInvalidState   = errors.New("operation not valid in the current state")
	ErrVolumeRange    = errors.New("volume must be between 0 and 200")
)

// Resolver turns user input into track descriptors.
type Resolver interface {
	Resolve(ctx context.Context, query, requestedBy string) ([]*track.Descriptor, error)
}

// Acquirer turns a descriptor into a playable audio source.
type Acquirer interface {
	Acquire(ctx context.Context, d *track.Descriptor) (*acquire.Source, error)
}

// Conn is one live voice connection. Play blocks until the track ends,
// stop closes, or the transport fails.
type Conn interface {
	Play(src *acquire.Source, stop <-chan struct{}, gate *stream.Gate, volume func() int) error
	Alive() bool
	Close()
}

// Transport joins guild voice channels. The platform connection itself is
// borrowed: sessions release it on teardown, they never own its internals.
type Transport interface {
	Join(ctx context.Context, guildID, channelID string) (Conn, error)
}

// Notifier posts user-visible playback status. Implementations must keep
// per-channel ordering; the engine only calls it from one goroutine per
// session.
type Notifier interface {
	NowPlaying(channelID string, t *track.Descriptor) string
	ClearNowPlaying(channelID, messageID string)
	PlaybackError(channelID, text string)
}

type Config struct {
	QueueBound        int
	ReconnectDeadline time.Duration
	FailureCap        int
	// WatchInterval is how often the transport watchdog samples the
	// connection.
	WatchInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.QueueBound <= 0 {
		c.QueueBound = queue.DefaultBound
	}
	if c.ReconnectDeadline <= 0 {
		c.ReconnectDeadline = 20 * time.Second
	}
	if c.FailureCap <= 0 {
		c.FailureCap = 3
	}
	if c.WatchInterval <= 0 {
		c.WatchInterval = time.Second
	}
	return c
}

// Engine is the registry plus the operation surface the command layer
// calls. Session creation and removal are atomic per guild id.
type Engine struct {
	resolver  Resolver
	acquirer  Acquirer
	transport Transport
	notify    Notifier
	cfg       Config
	log       zerolog.Logger

	reg *registry
}

func NewEngine(resolver Resolver, acquirer Acquirer, transport Transport, notify Notifier, cfg Config, log zerolog.Logger) *Engine {
	return &Engine{
		resolver:  resolver,
		acquirer:  acquirer,
		transport: transport,
		notify:    notify,
		cfg:       cfg.withDefaults(),
		log:       log.With().Str("component", "engine").Logger(),
		reg:       newRegistry(),
	}
}

// EnqueueResult reports where a play request landed.
type EnqueueResult struct {
	Tracks   []*track.Descriptor
	Position int // 1-based position of the first new track, counting the current one
}

// Play resolves the query and enqueues the result on the guild's session,
// creating (and joining) the session when none exists. A playlist is
// enqueued atomically: it either fits entirely or nothing is added.
func (e *Engine) Play(ctx context.Context, guildID, voiceChannelID, textChannelID, requestedBy, query string) (*EnqueueResult, error) {
	s, created := e.reg.getOrCreate(guildID, func() *Session {
		return e.newSession(guildID)
	})
	if created {
		e.log.Info().Str("guild_id", guildID).Msg("session created")
	}
	s.setTextChannel(textChannelID)

	if err := s.ensureJoined(ctx, voiceChannelID); err != nil {
		s.teardown()
		return nil, err
	}

	tracks, err := e.resolver.Resolve(ctx, query, requestedBy)
	if err != nil {
		return nil, err
	}

	res, err := s.enqueue(tracks)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Skip ends the current track as if it had finished on its own.
func (e *Engine) Skip(guildID string) error {
	s := e.reg.get(guildID)
	if s == nil {
		return ErrNotConnected
	}
	return s.skip()
}

// Stop forces the session to Idle: current playback ends, the queue is
// flushed, any in-flight acquisition result is dropped on arrival. The
// session stays connected.
func (e *Engine) Stop(guildID string) error {
	s := e.reg.get(guildID)
	if s == nil {
		return ErrNotConnected
	}
	s.stop()
	return nil
}

func (e *Engine) Pause(guildID string) error {
	s := e.reg.get(guildID)
	if s == nil {
		return ErrNotConnected
	}
	return s.pause()
}

func (e *Engine) Resume(guildID string) error {
	s := e.reg.get(guildID)
	if s == nil {
		return ErrNotConnected
	}
	return s.resume()
}

// SetVolume adjusts playback gain, percent in 0..200.
func (e *Engine) SetVolume(guildID string, percent int) error {
	if percent < 0 || percent > 200 {
		return ErrVolumeRange
	}
	s := e.reg.get(guildID)
	if s == nil {
		return ErrNotConnected
	}
	s.setVolume(percent)
	return nil
}

// SetLoop toggles loop mode on the guild's queue.
func (e *Engine) SetLoop(guildID string, on bool) error {
	s := e.reg.get(guildID)
	if s == nil {
		return ErrNotConnected
	}
	s.queue.SetLoop(on)
	return nil
}

// Leave tears the session down entirely and releases the voice connection.
func (e *Engine) Leave(guildID string) error {
	s := e.reg.get(guildID)
	if s == nil {
		return ErrNotConnected
	}
	s.teardown()
	return nil
}

// Snapshot is the read-only queue view for status reporting.
type Snapshot struct {
	State        State
	Current      *track.Descriptor
	Pending      []*track.Descriptor
	TotalPending int
	Loop         bool
	Volume       int
}

func (e *Engine) Snapshot(guildID string) (*Snapshot, error) {
	s := e.reg.get(guildID)
	if s == nil {
		return nil, ErrNotConnected
	}
	return &Snapshot{
		State:        s.currentState(),
		Current:      s.queue.Current(),
		Pending:      s.queue.Peek(10),
		TotalPending: s.queue.Len(),
		Loop:         s.queue.Loop(),
		Volume:       s.getVolume(),
	}, nil
}

// Shutdown tears down every active session, releasing all artifacts and
// voice connections.
func (e *Engine) Shutdown() {
	for _, s := range e.reg.all() {
		s.teardown()
	}
}
