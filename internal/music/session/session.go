package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"quaver/internal/music/queue"
	"quaver/internal/music/stream"
	"quaver/internal/music/track"
)

// Session drives one guild's playback. A single scheduler goroutine
// applies every state transition, so transitions for the same guild never
// interleave; commands only signal it.
type Session struct {
	guildID string
	engine  *Engine
	queue   *queue.Queue
	gate    *stream.Gate
	log     zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wake   chan struct{}
	done   chan struct{}

	joinOnce     sync.Once
	joined       chan struct{}
	teardownOnce sync.Once

	mu             sync.Mutex
	state          State
	gen            uint64
	stopCur        chan struct{}
	stopOnce       *sync.Once
	conn           Conn
	joinErr        error
	voiceChannelID string
	textChannelID  string
	volume         int
	failStreak     int
	recentFails    []string
	parked         bool
}

func (e *Engine) newSession(guildID string) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		guildID: guildID,
		engine:  e,
		queue:   queue.New(e.cfg.QueueBound),
		gate:    stream.NewGate(),
		log:     e.log.With().Str("guild_id", guildID).Logger(),
		ctx:     ctx,
		cancel:  cancel,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		joined:  make(chan struct{}),
		volume:  100,
	}
	go s.run()
	go s.watchTransport()
	return s
}

// ensureJoined connects the session to the voice transport. The first
// caller starts the join; concurrent callers wait on the same attempt.
func (s *Session) ensureJoined(ctx context.Context, channelID string) error {
	s.joinOnce.Do(func() {
		s.mu.Lock()
		s.voiceChannelID = channelID
		s.mu.Unlock()
		go func() {
			jctx, cancel := context.WithTimeout(s.ctx, s.engine.cfg.ReconnectDeadline)
			defer cancel()
			conn, err := s.engine.transport.Join(jctx, s.guildID, channelID)
			s.mu.Lock()
			s.conn, s.joinErr = conn, err
			s.mu.Unlock()
			close(s.joined)
		}()
	})

	select {
	case <-s.joined:
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.joinErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// enqueue adds resolved tracks and wakes the scheduler. A batch larger
// than one is a playlist expansion and must fit atomically.
func (s *Session) enqueue(tracks []*track.Descriptor) (*EnqueueResult, error) {
	s.mu.Lock()
	if s.state == StateStopping {
		s.mu.Unlock()
		return nil, ErrNotConnected
	}
	s.parked = false
	s.failStreak = 0
	s.recentFails = nil
	s.mu.Unlock()

	ahead := s.queue.Len()
	if s.queue.Current() != nil {
		ahead++
	}

	var err error
	if len(tracks) == 1 {
		err = s.queue.Enqueue(tracks[0])
	} else {
		err = s.queue.EnqueueMany(tracks)
	}
	if err != nil {
		return nil, err
	}

	s.log.Info().Int("tracks", len(tracks)).Int("pending", s.queue.Len()).Msg("enqueued")
	s.wakeScheduler()
	return &EnqueueResult{Tracks: tracks, Position: ahead + 1}, nil
}

func (s *Session) wakeScheduler() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Session) run() {
	defer close(s.done)
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.wake:
		}
		s.advance()
	}
}

// advance drains the queue until it is empty, the session is parked, or
// teardown started.
func (s *Session) advance() {
	for {
		if s.ctx.Err() != nil || s.isParked() {
			return
		}
		t, err := s.queue.DequeueNext()
		if errors.Is(err, queue.ErrEmpty) {
			s.setState(StateIdle)
			return
		}
		s.playTrack(t)
	}
}

// playTrack runs one track's full lifecycle:
// Resolving -> (Playing|failure) -> Idle, with cleanup on every exit.
func (s *Session) playTrack(t *track.Descriptor) {
	s.setState(StateResolving)
	gen := s.currentGen()

	src, err := s.engine.acquirer.Acquire(s.ctx, t)

	if s.stale(gen) {
		// A stop or teardown raced the acquisition. The late result is
		// dropped, never played, and leaves no file behind.
		if src != nil {
			src.Close()
		}
		t.Artifact.Release()
		s.queue.FinishCurrent(false)
		s.idleUnlessStopping()
		return
	}

	if err != nil {
		s.queue.FinishCurrent(false)
		t.Artifact.Release()
		s.noteFailure(t, err)
		s.idleUnlessStopping()
		return
	}

	conn := s.getConn()
	if conn == nil || !conn.Alive() {
		conn, err = s.rejoin()
		if err != nil {
			src.Close()
			t.Artifact.Release()
			s.queue.FinishCurrent(false)
			s.engine.notify.PlaybackError(s.getTextChannel(), "Lost the voice connection, leaving.")
			s.teardown()
			return
		}
	}

	stop := s.armStop()
	s.gate.Resume()
	s.setState(StatePlaying)
	s.log.Info().Str("title", t.Title).Str("source", t.SourceName).Msg("now playing")
	msgID := s.engine.notify.NowPlaying(s.getTextChannel(), t)

	err = conn.Play(src, stop, s.gate, s.getVolume)
	src.Close()

	s.engine.notify.ClearNowPlaying(s.getTextChannel(), msgID)
	s.disarmStop()

	completed := err == nil && !s.stale(gen)
	_, loopDropped := s.queue.FinishCurrent(completed)
	if loopDropped {
		s.log.Warn().Str("title", t.Title).Msg("loop re-enqueue dropped, queue is full")
	}
	t.Artifact.Release()

	if err != nil && !s.stale(gen) {
		s.noteFailure(t, fmt.Errorf("playback: %w", err))
	} else {
		s.resetFailures()
	}
	s.idleUnlessStopping()
}

// watchTransport runs for the session's whole life and tears it down when
// the voice connection stays dead past the reconnect deadline, playing or
// idle. Short drops are left to the platform to repair.
func (s *Session) watchTransport() {
	ticker := time.NewTicker(s.engine.cfg.WatchInterval)
	defer ticker.Stop()

	var downSince time.Time
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			// No conn yet means the join is still in flight; it has its
			// own deadline.
			conn := s.getConn()
			if conn == nil || conn.Alive() {
				downSince = time.Time{}
				continue
			}
			if downSince.IsZero() {
				downSince = time.Now()
				s.log.Warn().Msg("voice connection lost, waiting for recovery")
				continue
			}
			if time.Since(downSince) > s.engine.cfg.ReconnectDeadline {
				s.log.Error().Dur("deadline", s.engine.cfg.ReconnectDeadline).Msg("voice connection did not recover")
				s.engine.notify.PlaybackError(s.getTextChannel(), "Voice connection lost and could not be restored.")
				s.teardown()
				return
			}
		}
	}
}

// rejoin makes one bounded reconnect attempt to the last known channel.
func (s *Session) rejoin() (Conn, error) {
	s.mu.Lock()
	channelID := s.voiceChannelID
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(s.ctx, s.engine.cfg.ReconnectDeadline)
	defer cancel()

	conn, err := s.engine.transport.Join(ctx, s.guildID, channelID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	return conn, nil
}

// noteFailure records a skipped track. Once the streak hits the cap with
// tracks still queued, one aggregated notice goes out and auto-advance
// parks until the next play request.
func (s *Session) noteFailure(t *track.Descriptor, err error) {
	s.mu.Lock()
	s.failStreak++
	s.recentFails = append(s.recentFails, fmt.Sprintf("%s: %v", t.Title, err))
	streak := s.failStreak
	fails := s.recentFails
	park := streak >= s.engine.cfg.FailureCap && s.queue.Len() > 0
	if park {
		s.parked = true
	}
	s.mu.Unlock()

	s.log.Warn().Err(err).Str("title", t.Title).Int("streak", streak).Msg("track skipped")

	if park {
		s.engine.notify.PlaybackError(s.getTextChannel(),
			fmt.Sprintf("Skipped %d tracks in a row, pausing the queue:\n%s", streak, strings.Join(fails, "\n")))
		return
	}
	s.engine.notify.PlaybackError(s.getTextChannel(), fmt.Sprintf("Skipping **%s**: %v", t.Title, err))
}

func (s *Session) resetFailures() {
	s.mu.Lock()
	s.failStreak = 0
	s.recentFails = nil
	s.mu.Unlock()
}

// skip ends the current track as an externally-triggered "finished".
func (s *Session) skip() error {
	s.mu.Lock()
	if s.state != StatePlaying && s.state != StatePaused {
		s.mu.Unlock()
		return ErrNothingPlaying
	}
	s.mu.Unlock()
	s.gate.Release()
	s.signalStop()
	return nil
}

// stop forces the session back to Idle, flushing the queue and discarding
// whatever acquisition is in flight.
func (s *Session) stop() {
	s.mu.Lock()
	s.gen++
	s.failStreak = 0
	s.recentFails = nil
	s.parked = false
	s.mu.Unlock()

	for _, t := range s.queue.Drain() {
		t.Artifact.Release()
	}
	s.gate.Release()
	s.signalStop()
}

func (s *Session) pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StatePlaying {
		return ErrInvalidState
	}
	s.state = StatePaused
	s.gate.Pause()
	return nil
}

func (s *Session) resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StatePaused {
		return ErrInvalidState
	}
	s.state = StatePlaying
	s.gate.Resume()
	return nil
}

// teardown is the Stopping transition: flush everything, release the
// borrowed connection, delete the registry entry. Safe to trigger from any
// goroutine, any number of times.
func (s *Session) teardown() {
	s.teardownOnce.Do(func() {
		s.setState(StateStopping)
		s.mu.Lock()
		s.gen++
		s.mu.Unlock()

		s.signalStop()
		s.gate.Release()
		for _, t := range s.queue.Drain() {
			t.Artifact.Release()
		}
		s.cancel()

		s.mu.Lock()
		conn := s.conn
		s.conn = nil
		s.mu.Unlock()
		if conn != nil {
			conn.Close()
		}

		s.engine.reg.remove(s.guildID)
		s.log.Info().Msg("session torn down")
	})
}

// armStop installs a fresh stop channel for the track about to play.
func (s *Session) armStop() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopCur = make(chan struct{})
	s.stopOnce = &sync.Once{}
	return s.stopCur
}

func (s *Session) disarmStop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopCur = nil
	s.stopOnce = nil
}

func (s *Session) signalStop() {
	s.mu.Lock()
	ch, once := s.stopCur, s.stopOnce
	s.mu.Unlock()
	if ch != nil && once != nil {
		once.Do(func() { close(ch) })
	}
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Session) idleUnlessStopping() {
	s.mu.Lock()
	if s.state != StateStopping {
		s.state = StateIdle
	}
	s.mu.Unlock()
}

func (s *Session) currentState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) currentGen() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

func (s *Session) stale(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen != gen || s.state == StateStopping
}

func (s *Session) isParked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.parked
}

func (s *Session) getConn() Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

func (s *Session) setTextChannel(id string) {
	s.mu.Lock()
	s.textChannelID = id
	s.mu.Unlock()
}

func (s *Session) getTextChannel() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.textChannelID
}

func (s *Session) setVolume(percent int) {
	s.mu.Lock()
	s.volume = percent
	s.mu.Unlock()
}

func (s *Session) getVolume() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.volume
}
