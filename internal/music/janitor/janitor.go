// Package janitor owns the lifetime of temporary audio artifacts. Every
// file the acquisition layer writes is wrapped in an Artifact handle, and
// every exit path of a track (finish, skip, error, teardown) funnels into
// Artifact.Release. The file behind a handle is deleted exactly once, by
// whichever holder releases it last.
package janitor

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// ArtifactPrefix names every temp file the acquirer creates. The startup
// sweep relies on it to recognize orphans left by a crashed process.
const ArtifactPrefix = "trk-"

// Live handle counts per path. A cached download can be acquired by
// several guilds at once; each gets its own handle and the file is only
// unlinked when the last of them releases.
var (
	refMu sync.Mutex
	refs  = make(map[string]int)
)

// Artifact is a scoped handle on one temporary file.
type Artifact struct {
	path string
	once sync.Once
}

func NewArtifact(path string) *Artifact {
	refMu.Lock()
	refs[path]++
	refMu.Unlock()
	return &Artifact{path: path}
}

func (a *Artifact) Path() string {
	return a.path
}

// Release drops this handle's claim on the file. Safe to call from any
// exit path any number of times; only the first call counts, and the file
// is deleted once no handle on its path is left.
func (a *Artifact) Release() {
	if a == nil {
		return
	}
	a.once.Do(func() {
		refMu.Lock()
		refs[a.path]--
		last := refs[a.path] <= 0
		if last {
			delete(refs, a.path)
		}
		refMu.Unlock()
		if last {
			// Best effort: a vanished file is as released as a deleted one.
			_ = os.Remove(a.path)
		}
	})
}

// Sweep removes everything in dir a previous process run could have left
// behind: finished artifacts and half-written .part files. It returns the
// number of files removed.
func Sweep(dir string, log zerolog.Logger) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasPrefix(name, ArtifactPrefix) && !strings.HasSuffix(name, ".part") {
			continue
		}
		full := filepath.Join(dir, name)
		if err := os.Remove(full); err != nil {
			log.Warn().Err(err).Str("file", full).Msg("failed to sweep orphaned artifact")
			continue
		}
		removed++
	}
	if removed > 0 {
		log.Info().Int("count", removed).Str("dir", dir).Msg("swept orphaned audio artifacts")
	}
	return removed, nil
}
