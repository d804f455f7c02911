package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"quaver/internal/music/acquire"
	"quaver/internal/music/janitor"
	"quaver/internal/music/stream"
	"quaver/internal/music/track"
)

// fakeResolver builds one descriptor per query. A "playlist:<n>" query
// expands into n tracks the way a platform playlist would.
type fakeResolver struct{}

func (fakeResolver) Resolve(_ context.Context, query, requestedBy string) ([]*track.Descriptor, error) {
	n := 1
	if rest, ok := strings.CutPrefix(query, "playlist:"); ok {
		fmt.Sscanf(rest, "%d", &n)
	}
	out := make([]*track.Descriptor, n)
	for i := range out {
		id := fmt.Sprintf("%s-%d", query, i)
		out[i] = &track.Descriptor{
			Title:       id,
			SourceURL:   "https://tube.example/" + id,
			ContentID:   id,
			Kind:        track.KindDownloadRequired,
			RequestedBy: requestedBy,
		}
	}
	return out, nil
}

// fakeAcquirer writes a real temp file per acquisition so artifact cleanup
// is observable on disk. A non-nil block channel suspends every call until
// the channel is closed.
type fakeAcquirer struct {
	dir string

	mu      sync.Mutex
	block   chan struct{}
	fail    error
	failFor map[string]error
	calls   int
}

func (a *fakeAcquirer) Acquire(_ context.Context, d *track.Descriptor) (*acquire.Source, error) {
	a.mu.Lock()
	a.calls++
	block, fail := a.block, a.fail
	if fail == nil {
		fail = a.failFor[d.ContentID]
	}
	a.mu.Unlock()

	if block != nil {
		<-block
	}
	if fail != nil {
		return nil, fail
	}

	path := filepath.Join(a.dir, janitor.ArtifactPrefix+d.ContentID+".audio")
	if err := os.WriteFile(path, []byte("pcm"), 0o644); err != nil {
		return nil, err
	}
	d.Artifact = janitor.NewArtifact(path)
	return &acquire.Source{Path: path}, nil
}

func (a *fakeAcquirer) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

// fakeConn plays instantly unless hold is set, in which case Play blocks
// until the stop channel closes or hold is closed.
type fakeConn struct {
	mu      sync.Mutex
	plays   int
	closed  bool
	dead    bool
	hold    chan struct{}
	started chan struct{}
}

func (c *fakeConn) Play(_ *acquire.Source, stop <-chan struct{}, _ *stream.Gate, _ func() int) error {
	c.mu.Lock()
	c.plays++
	hold, started := c.hold, c.started
	c.mu.Unlock()

	if started != nil {
		select {
		case started <- struct{}{}:
		default:
		}
	}
	if hold == nil {
		return nil
	}
	select {
	case <-stop:
	case <-hold:
	}
	return nil
}

func (c *fakeConn) Alive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.dead
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *fakeConn) playCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.plays
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type fakeTransport struct {
	mu    sync.Mutex
	conn  *fakeConn
	err   error
	joins int
}

func (t *fakeTransport) Join(_ context.Context, _, _ string) (Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.joins++
	if t.err != nil {
		return nil, t.err
	}
	return t.conn, nil
}

func (t *fakeTransport) joinCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.joins
}

type fakeNotifier struct {
	mu         sync.Mutex
	nowPlaying []string
	cleared    int
	errors     []string
}

func (n *fakeNotifier) NowPlaying(_ string, t *track.Descriptor) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nowPlaying = append(n.nowPlaying, t.Title)
	return fmt.Sprintf("msg-%d", len(n.nowPlaying))
}

func (n *fakeNotifier) ClearNowPlaying(_, _ string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cleared++
}

func (n *fakeNotifier) PlaybackError(_ string, text string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.errors = append(n.errors, text)
}

func (n *fakeNotifier) lastError() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.errors) == 0 {
		return ""
	}
	return n.errors[len(n.errors)-1]
}

type harness struct {
	engine    *Engine
	acquirer  *fakeAcquirer
	transport *fakeTransport
	conn      *fakeConn
	notify    *fakeNotifier
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		acquirer: &fakeAcquirer{dir: t.TempDir()},
		conn:     &fakeConn{},
		notify:   &fakeNotifier{},
	}
	h.transport = &fakeTransport{conn: h.conn}
	h.engine = NewEngine(fakeResolver{}, h.acquirer, h.transport, h.notify, cfg, zerolog.Nop())
	t.Cleanup(h.engine.Shutdown)
	return h
}

func (h *harness) play(t *testing.T, guildID, query string) *EnqueueResult {
	t.Helper()
	res, err := h.engine.Play(context.Background(), guildID, "vc-1", "tc-1", "tester", query)
	if err != nil {
		t.Fatalf("Play(%q) returned error: %v", query, err)
	}
	return res
}

func waitFor(t *testing.T, msg string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestPlayRunsTrackToCompletion(t *testing.T) {
	h := newHarness(t, Config{})

	res := h.play(t, "g1", "song")
	if res.Position != 1 {
		t.Errorf("Position = %d, want 1", res.Position)
	}

	waitFor(t, "track never played", func() bool { return h.conn.playCount() == 1 })
	waitFor(t, "session never returned to idle", func() bool {
		snap, err := h.engine.Snapshot("g1")
		return err == nil && snap.State == StateIdle && snap.Current == nil
	})

	// The finished track's artifact must be gone from disk.
	waitFor(t, "artifact not released after playback", func() bool {
		entries, _ := os.ReadDir(h.acquirer.dir)
		return len(entries) == 0
	})
}

func TestPlayReportsQueuePosition(t *testing.T) {
	h := newHarness(t, Config{})
	h.conn.hold = make(chan struct{})
	defer close(h.conn.hold)
	h.conn.started = make(chan struct{}, 1)

	h.play(t, "g1", "first")
	<-h.conn.started

	res := h.play(t, "g1", "second")
	if res.Position != 2 {
		t.Errorf("Position with one track playing = %d, want 2", res.Position)
	}
}

func TestConcurrentPlaysShareOneSession(t *testing.T) {
	h := newHarness(t, Config{})

	errs := make(chan error, 4)
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := h.engine.Play(context.Background(), "g1", "vc-1", "tc-1", "tester", fmt.Sprintf("song-%d", i))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("concurrent Play returned error: %v", err)
		}
	}

	if got := h.transport.joinCount(); got != 1 {
		t.Errorf("transport joined %d times, want 1", got)
	}
}

func TestPlayJoinFailureTearsDown(t *testing.T) {
	h := newHarness(t, Config{})
	h.transport.err = errors.New("gateway refused")

	_, err := h.engine.Play(context.Background(), "g1", "vc-1", "tc-1", "tester", "song")
	if err == nil {
		t.Fatal("Play() = nil error, want join failure")
	}

	// The half-built session must not linger in the registry.
	waitFor(t, "session survived a failed join", func() bool {
		_, serr := h.engine.Snapshot("g1")
		return errors.Is(serr, ErrNotConnected)
	})
}

func TestStopFlushesQueueAndDropsLateAcquire(t *testing.T) {
	h := newHarness(t, Config{})
	gate := make(chan struct{})
	h.acquirer.block = gate

	h.play(t, "g1", "playlist:3")
	waitFor(t, "acquisition never started", func() bool { return h.acquirer.callCount() == 1 })

	if err := h.engine.Stop("g1"); err != nil {
		t.Fatalf("Stop() returned error: %v", err)
	}
	close(gate) // the in-flight acquisition now lands, late

	waitFor(t, "session never idled after stop", func() bool {
		snap, err := h.engine.Snapshot("g1")
		return err == nil && snap.State == StateIdle
	})

	if got := h.conn.playCount(); got != 0 {
		t.Errorf("late acquisition was played %d times, want 0", got)
	}
	snap, _ := h.engine.Snapshot("g1")
	if snap.TotalPending != 0 {
		t.Errorf("TotalPending after stop = %d, want 0", snap.TotalPending)
	}
	waitFor(t, "late acquisition left a file behind", func() bool {
		entries, _ := os.ReadDir(h.acquirer.dir)
		return len(entries) == 0
	})
}

func TestSkipAdvancesQueue(t *testing.T) {
	h := newHarness(t, Config{})
	h.conn.hold = make(chan struct{})
	defer func() {
		h.conn.mu.Lock()
		hold := h.conn.hold
		h.conn.hold = nil
		h.conn.mu.Unlock()
		if hold != nil {
			close(hold)
		}
	}()
	h.conn.started = make(chan struct{}, 4)

	h.play(t, "g1", "playlist:2")
	<-h.conn.started

	if err := h.engine.Skip("g1"); err != nil {
		t.Fatalf("Skip() returned error: %v", err)
	}
	<-h.conn.started

	if got := h.conn.playCount(); got != 2 {
		t.Errorf("plays after skip = %d, want 2", got)
	}
}

func TestSkipWithNothingPlaying(t *testing.T) {
	h := newHarness(t, Config{})
	h.play(t, "g1", "song")
	waitFor(t, "track never finished", func() bool {
		snap, err := h.engine.Snapshot("g1")
		return err == nil && snap.State == StateIdle
	})

	if err := h.engine.Skip("g1"); !errors.Is(err, ErrNothingPlaying) {
		t.Errorf("Skip() on idle session = %v, want ErrNothingPlaying", err)
	}
}

func TestOpsWithoutSession(t *testing.T) {
	h := newHarness(t, Config{})
	cases := []struct {
		name string
		op   func() error
	}{
		{"skip", func() error { return h.engine.Skip("none") }},
		{"stop", func() error { return h.engine.Stop("none") }},
		{"pause", func() error { return h.engine.Pause("none") }},
		{"resume", func() error { return h.engine.Resume("none") }},
		{"volume", func() error { return h.engine.SetVolume("none", 50) }},
		{"loop", func() error { return h.engine.SetLoop("none", true) }},
		{"leave", func() error { return h.engine.Leave("none") }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.op(); !errors.Is(err, ErrNotConnected) {
				t.Errorf("%s = %v, want ErrNotConnected", tc.name, err)
			}
		})
	}
}

func TestPauseResume(t *testing.T) {
	h := newHarness(t, Config{})
	h.conn.hold = make(chan struct{})
	defer close(h.conn.hold)
	h.conn.started = make(chan struct{}, 1)

	h.play(t, "g1", "song")
	<-h.conn.started

	if err := h.engine.Resume("g1"); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Resume() while playing = %v, want ErrInvalidState", err)
	}
	if err := h.engine.Pause("g1"); err != nil {
		t.Fatalf("Pause() returned error: %v", err)
	}
	snap, _ := h.engine.Snapshot("g1")
	if snap.State != StatePaused {
		t.Errorf("State after pause = %v, want Paused", snap.State)
	}
	if err := h.engine.Pause("g1"); !errors.Is(err, ErrInvalidState) {
		t.Errorf("second Pause() = %v, want ErrInvalidState", err)
	}
	if err := h.engine.Resume("g1"); err != nil {
		t.Fatalf("Resume() returned error: %v", err)
	}
	snap, _ = h.engine.Snapshot("g1")
	if snap.State != StatePlaying {
		t.Errorf("State after resume = %v, want Playing", snap.State)
	}
}

func TestSetVolume(t *testing.T) {
	h := newHarness(t, Config{})

	if err := h.engine.SetVolume("g1", 250); !errors.Is(err, ErrVolumeRange) {
		t.Errorf("SetVolume(250) = %v, want ErrVolumeRange", err)
	}
	if err := h.engine.SetVolume("g1", -1); !errors.Is(err, ErrVolumeRange) {
		t.Errorf("SetVolume(-1) = %v, want ErrVolumeRange", err)
	}

	h.play(t, "g1", "song")
	if err := h.engine.SetVolume("g1", 150); err != nil {
		t.Fatalf("SetVolume(150) returned error: %v", err)
	}
	snap, _ := h.engine.Snapshot("g1")
	if snap.Volume != 150 {
		t.Errorf("Volume = %d, want 150", snap.Volume)
	}
}

func TestFailureCapParksQueue(t *testing.T) {
	h := newHarness(t, Config{FailureCap: 3})
	h.acquirer.fail = fmt.Errorf("always: %w", track.ErrDownloadFailed)

	h.play(t, "g1", "playlist:5")

	waitFor(t, "queue never parked", func() bool {
		snap, err := h.engine.Snapshot("g1")
		return err == nil && snap.State == StateIdle && h.acquirer.callCount() == 3
	})

	snap, _ := h.engine.Snapshot("g1")
	if snap.TotalPending != 2 {
		t.Errorf("TotalPending after parking = %d, want 2", snap.TotalPending)
	}
	if got := h.conn.playCount(); got != 0 {
		t.Errorf("plays = %d, want 0", got)
	}
	if last := h.notify.lastError(); !strings.Contains(last, "Skipped 3 tracks") {
		t.Errorf("last notice = %q, want the aggregated skip notice", last)
	}
}

func TestBrokenTrackSkippedWithOneNotice(t *testing.T) {
	h := newHarness(t, Config{})
	h.acquirer.failFor = map[string]error{
		"broken-0": fmt.Errorf("expired: %w", track.ErrLocatorInvalidated),
	}

	h.play(t, "g1", "good")
	h.play(t, "g1", "broken")

	waitFor(t, "queue never drained", func() bool {
		snap, err := h.engine.Snapshot("g1")
		return err == nil && snap.State == StateIdle && snap.TotalPending == 0 &&
			h.acquirer.callCount() == 2
	})

	if got := h.conn.playCount(); got != 1 {
		t.Errorf("plays = %d, want 1 (only the good track)", got)
	}
	h.notify.mu.Lock()
	notices := len(h.notify.errors)
	h.notify.mu.Unlock()
	if notices != 1 {
		t.Errorf("skip notices = %d, want exactly 1", notices)
	}
	if got := h.acquirer.callCount(); got != 2 {
		t.Errorf("acquisitions = %d, want 2 (no retry of the broken track)", got)
	}
}

func TestPlayUnparksQueue(t *testing.T) {
	h := newHarness(t, Config{FailureCap: 3})
	h.acquirer.fail = fmt.Errorf("always: %w", track.ErrDownloadFailed)

	h.play(t, "g1", "playlist:5")
	waitFor(t, "queue never parked", func() bool {
		snap, err := h.engine.Snapshot("g1")
		return err == nil && snap.State == StateIdle && snap.TotalPending == 2 && h.acquirer.callCount() == 3
	})

	h.acquirer.mu.Lock()
	h.acquirer.fail = nil
	h.acquirer.mu.Unlock()

	h.play(t, "g1", "fresh")
	waitFor(t, "queue never drained after unpark", func() bool {
		snap, err := h.engine.Snapshot("g1")
		return err == nil && snap.TotalPending == 0 && snap.State == StateIdle
	})
	if got := h.conn.playCount(); got != 3 {
		t.Errorf("plays after unpark = %d, want 3", got)
	}
}

func TestLeaveReleasesEverything(t *testing.T) {
	h := newHarness(t, Config{})
	gate := make(chan struct{})
	h.acquirer.block = gate

	h.play(t, "g1", "playlist:3")
	waitFor(t, "acquisition never started", func() bool { return h.acquirer.callCount() == 1 })

	if err := h.engine.Leave("g1"); err != nil {
		t.Fatalf("Leave() returned error: %v", err)
	}
	close(gate)

	waitFor(t, "connection not closed", h.conn.isClosed)
	if _, err := h.engine.Snapshot("g1"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Snapshot after leave = %v, want ErrNotConnected", err)
	}
	// A second leave must be a clean miss, not a double teardown.
	if err := h.engine.Leave("g1"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("second Leave = %v, want ErrNotConnected", err)
	}
	waitFor(t, "artifacts survived leave", func() bool {
		entries, _ := os.ReadDir(h.acquirer.dir)
		return len(entries) == 0
	})
}

func TestLoopReplaysFinishedTrack(t *testing.T) {
	h := newHarness(t, Config{})
	h.conn.hold = make(chan struct{})
	h.conn.started = make(chan struct{}, 4)

	h.play(t, "g1", "song")
	<-h.conn.started
	if err := h.engine.SetLoop("g1", true); err != nil {
		t.Fatalf("SetLoop() returned error: %v", err)
	}
	if err := h.engine.Skip("g1"); err != nil {
		t.Fatalf("Skip() returned error: %v", err)
	}

	// The skipped track counts as finished, so loop mode replays it.
	<-h.conn.started
	if got := h.conn.playCount(); got != 2 {
		t.Errorf("plays = %d, want 2", got)
	}
	if err := h.engine.SetLoop("g1", false); err != nil {
		t.Fatal(err)
	}
	close(h.conn.hold)
}

func TestSessionsAreIsolated(t *testing.T) {
	h := newHarness(t, Config{})
	h.play(t, "g1", "song-a")
	h.play(t, "g2", "song-b")

	waitFor(t, "both guilds never idled", func() bool {
		a, erra := h.engine.Snapshot("g1")
		b, errb := h.engine.Snapshot("g2")
		return erra == nil && errb == nil && a.State == StateIdle && b.State == StateIdle
	})

	if err := h.engine.SetLoop("g1", true); err != nil {
		t.Fatal(err)
	}
	b, _ := h.engine.Snapshot("g2")
	if b.Loop {
		t.Error("loop toggled on g1 leaked into g2")
	}
}

func TestIdleTransportDeathTearsDown(t *testing.T) {
	h := newHarness(t, Config{
		ReconnectDeadline: 40 * time.Millisecond,
		WatchInterval:     10 * time.Millisecond,
	})

	h.play(t, "g1", "song")
	waitFor(t, "track never finished", func() bool {
		snap, err := h.engine.Snapshot("g1")
		return err == nil && snap.State == StateIdle
	})

	// The connection dies while nothing is playing.
	h.conn.mu.Lock()
	h.conn.dead = true
	h.conn.mu.Unlock()

	waitFor(t, "idle session with a dead transport was not torn down", func() bool {
		_, err := h.engine.Snapshot("g1")
		return errors.Is(err, ErrNotConnected)
	})
	waitFor(t, "dead connection was not released", h.conn.isClosed)
}

func TestShutdownTearsDownAllSessions(t *testing.T) {
	h := newHarness(t, Config{})
	h.play(t, "g1", "song-a")
	h.play(t, "g2", "song-b")

	h.engine.Shutdown()

	for _, g := range []string{"g1", "g2"} {
		if _, err := h.engine.Snapshot(g); !errors.Is(err, ErrNotConnected) {
			t.Errorf("Snapshot(%s) after shutdown = %v, want ErrNotConnected", g, err)
		}
	}
}
