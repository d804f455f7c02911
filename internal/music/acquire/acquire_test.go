package acquire

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"quaver/internal/music/janitor"
	"quaver/internal/music/track"
)

func newTestAcquirer(t *testing.T, download downloadFunc) *Acquirer {
	t.Helper()
	a := New(t.TempDir(), zerolog.Nop())
	if download != nil {
		a.download = download
	}
	return a
}

func downloadDescriptor(id string) *track.Descriptor {
	return &track.Descriptor{
		Title:     "song " + id,
		SourceURL: "https://tube.example/watch?v=" + id,
		ContentID: id,
		Kind:      track.KindDownloadRequired,
	}
}

func TestAcquireDownload(t *testing.T) {
	a := newTestAcquirer(t, func(_ context.Context, _, dest string) error {
		return os.WriteFile(dest, []byte("audio bytes"), 0o644)
	})
	d := downloadDescriptor("abc123")

	src, err := a.Acquire(context.Background(), d)
	if err != nil {
		t.Fatalf("Acquire() returned error: %v", err)
	}
	if src.Path == "" || src.Reader != nil {
		t.Errorf("Acquire() = %+v, want a path-backed source", src)
	}
	if d.Artifact == nil {
		t.Fatal("descriptor has no artifact after download")
	}
	if got, want := d.Artifact.Path(), filepath.Join(a.cacheDir, janitor.ArtifactPrefix+"abc123.audio"); got != want {
		t.Errorf("artifact path = %q, want %q", got, want)
	}

	d.Artifact.Release()
	if _, err := os.Stat(src.Path); !os.IsNotExist(err) {
		t.Errorf("Stat after Release = %v, want not-exist", err)
	}
}

func TestAcquireReusesCachedFile(t *testing.T) {
	downloads := 0
	a := newTestAcquirer(t, func(_ context.Context, _, dest string) error {
		downloads++
		return os.WriteFile(dest, []byte("audio bytes"), 0o644)
	})

	first := downloadDescriptor("cached")
	if _, err := a.Acquire(context.Background(), first); err != nil {
		t.Fatalf("first Acquire() returned error: %v", err)
	}

	second := downloadDescriptor("cached")
	src, err := a.Acquire(context.Background(), second)
	if err != nil {
		t.Fatalf("second Acquire() returned error: %v", err)
	}
	if downloads != 1 {
		t.Errorf("download ran %d times, want 1", downloads)
	}
	if second.Artifact == nil || src.Path != first.Artifact.Path() {
		t.Errorf("cached acquire did not reuse the finished file")
	}
}

func TestAcquireSharedContentSurvivesFirstRelease(t *testing.T) {
	a := newTestAcquirer(t, func(_ context.Context, _, dest string) error {
		return os.WriteFile(dest, []byte("audio bytes"), 0o644)
	})

	// Two guilds playing the same track end up on the same cached file.
	first := downloadDescriptor("same-id")
	second := downloadDescriptor("same-id")
	if _, err := a.Acquire(context.Background(), first); err != nil {
		t.Fatalf("first Acquire() returned error: %v", err)
	}
	src, err := a.Acquire(context.Background(), second)
	if err != nil {
		t.Fatalf("second Acquire() returned error: %v", err)
	}

	first.Artifact.Release()
	if _, err := os.Stat(src.Path); err != nil {
		t.Fatalf("second guild's audio file was deleted by the first guild's release: %v", err)
	}

	second.Artifact.Release()
	if _, err := os.Stat(src.Path); !os.IsNotExist(err) {
		t.Errorf("Stat after last release = %v, want not-exist", err)
	}
}

func TestAcquireConcurrentSameTrack(t *testing.T) {
	var mu sync.Mutex
	downloads := 0
	a := newTestAcquirer(t, func(_ context.Context, _, dest string) error {
		mu.Lock()
		downloads++
		mu.Unlock()
		time.Sleep(20 * time.Millisecond)
		return os.WriteFile(dest, []byte("audio bytes"), 0o644)
	})

	descs := []*track.Descriptor{downloadDescriptor("racer"), downloadDescriptor("racer")}
	errs := make(chan error, len(descs))
	var wg sync.WaitGroup
	for _, d := range descs {
		wg.Add(1)
		go func(d *track.Descriptor) {
			defer wg.Done()
			_, err := a.Acquire(context.Background(), d)
			errs <- err
		}(d)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("concurrent Acquire returned error: %v", err)
		}
	}

	mu.Lock()
	got := downloads
	mu.Unlock()
	if got != 1 {
		t.Errorf("download ran %d times for one destination, want 1", got)
	}
	for i, d := range descs {
		if d.Artifact == nil {
			t.Errorf("descriptor %d has no artifact", i)
		}
	}
}

func TestAcquireFailureRemovesPartial(t *testing.T) {
	a := newTestAcquirer(t, func(_ context.Context, _, dest string) error {
		if err := os.WriteFile(dest+".part", []byte("half"), 0o644); err != nil {
			return err
		}
		return fmt.Errorf("network died: %w", track.ErrDownloadFailed)
	})
	d := downloadDescriptor("broken")

	_, err := a.Acquire(context.Background(), d)
	if !errors.Is(err, track.ErrDownloadFailed) {
		t.Fatalf("Acquire() = %v, want ErrDownloadFailed", err)
	}
	if d.Artifact != nil {
		t.Error("failed acquire attached an artifact")
	}

	entries, readErr := os.ReadDir(a.cacheDir)
	if readErr != nil {
		t.Fatal(readErr)
	}
	if len(entries) != 0 {
		t.Errorf("cache dir holds %d files after failed download, want 0", len(entries))
	}
}

func TestAcquireEmptyDownload(t *testing.T) {
	a := newTestAcquirer(t, func(_ context.Context, _, dest string) error {
		return os.WriteFile(dest, nil, 0o644)
	})
	d := downloadDescriptor("empty")

	_, err := a.Acquire(context.Background(), d)
	if !errors.Is(err, track.ErrDownloadFailed) {
		t.Errorf("Acquire() = %v, want ErrDownloadFailed", err)
	}
	if _, err := os.Stat(filepath.Join(a.cacheDir, janitor.ArtifactPrefix+"empty.audio")); !os.IsNotExist(err) {
		t.Error("empty download file was not removed")
	}
}

func TestAcquireDirectStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/mpeg")
		io.WriteString(w, "mp3 frames")
	}))
	defer srv.Close()

	a := newTestAcquirer(t, nil)
	d := &track.Descriptor{
		Title:     "radio",
		SourceURL: srv.URL,
		ContentID: "radio1",
		Kind:      track.KindDirectStream,
	}

	src, err := a.Acquire(context.Background(), d)
	if err != nil {
		t.Fatalf("Acquire() returned error: %v", err)
	}
	defer src.Close()

	if src.Reader == nil || src.Path != "" {
		t.Fatalf("Acquire() = %+v, want a reader-backed source", src)
	}
	body, _ := io.ReadAll(src.Reader)
	if string(body) != "mp3 frames" {
		t.Errorf("stream body = %q, want %q", body, "mp3 frames")
	}
	if d.Artifact != nil {
		t.Error("direct stream attached an artifact, want none")
	}
}

func TestAcquireGoneStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
	}))
	defer srv.Close()

	a := newTestAcquirer(t, nil)
	d := &track.Descriptor{
		SourceURL: srv.URL,
		ContentID: "gone",
		Kind:      track.KindDirectStream,
	}

	_, err := a.Acquire(context.Background(), d)
	if !errors.Is(err, track.ErrLocatorInvalidated) {
		t.Errorf("Acquire() = %v, want ErrLocatorInvalidated", err)
	}
}

func TestRevalidateRejectsBadLocator(t *testing.T) {
	a := newTestAcquirer(t, nil)
	cases := []struct {
		name string
		d    *track.Descriptor
	}{
		{"relative url", &track.Descriptor{SourceURL: "not-a-url", ContentID: "x", Kind: track.KindDownloadRequired}},
		{"missing content id", &track.Descriptor{SourceURL: "https://tube.example/v", Kind: track.KindDownloadRequired}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := a.Acquire(context.Background(), tc.d)
			if !errors.Is(err, track.ErrLocatorInvalidated) {
				t.Errorf("Acquire() = %v, want ErrLocatorInvalidated", err)
			}
		})
	}
}
