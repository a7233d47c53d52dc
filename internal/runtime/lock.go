package runtime

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// fileLock serializes installation for one cache key across processes and
// goroutines: at most one installer runs per key at a time, per spec.md
// §4.2. Acquisition is an O_EXCL create; release is a remove. Waiters watch
// the lock directory with fsnotify instead of polling, so release wakes
// them immediately.
type fileLock struct {
	path string
}

func newFileLock(cacheDir, cacheKey string) *fileLock {
	return &fileLock{path: filepath.Join(cacheDir, "locks", cacheKey+".lock")}
}

// acquire blocks until the lock is held or ctx is done.
func (l *fileLock) acquire(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create lock watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(l.path)); err != nil {
		return fmt.Errorf("watch lock dir: %w", err)
	}

	for {
		f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			fmt.Fprintf(f, "%d\n", os.Getpid())
			return f.Close()
		}
		if !errors.Is(err, os.ErrExist) {
			return fmt.Errorf("create lockfile: %w", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-watcher.Events:
			// Lock dir changed (likely a release); loop and retry immediately.
		case <-watcher.Errors:
			// Watcher hiccup: fall back to a short poll interval rather than
			// spinning the retry loop.
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(50 * time.Millisecond):
			}
		case <-time.After(time.Second):
			// Backstop in case the release event was missed between the
			// failed open above and watcher.Add registering it.
		}
	}
}

func (l *fileLock) release() error {
	err := os.Remove(l.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("release lockfile: %w", err)
	}
	return nil
}
