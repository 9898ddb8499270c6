package relay

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher is the local alternative to the single-event webhook: it
// watches a recording directory and treats a file that has gone quiet
// for one settle interval as finished writing.
type Watcher struct {
	dir    string
	settle time.Duration
	handle func(path string)
	log    zerolog.Logger

	mu      sync.Mutex
	pending map[string]time.Time
}

// NewWatcher creates a watcher over dir. handle is invoked once per
// settled file with its absolute path.
func NewWatcher(dir string, settle time.Duration, handle func(path string), log zerolog.Logger) (*Watcher, error) {
	if dir == "" {
		return nil, fmt.Errorf("watch dir is required")
	}
	if settle <= 0 {
		settle = 5 * time.Second
	}
	return &Watcher{
		dir:     dir,
		settle:  settle,
		handle:  handle,
		log:     log,
		pending: make(map[string]time.Time),
	}, nil
}

// Run blocks until ctx is cancelled. Filesystem errors are logged and
// watching continues.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer func() { _ = fw.Close() }()

	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	w.log.Info().Str("dir", w.dir).Dur("settle", w.settle).Msg("watching recordings")

	tick := w.settle
	if tick > time.Second {
		tick = time.Second
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			w.mu.Lock()
			w.pending[event.Name] = time.Now()
			w.mu.Unlock()

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Error().Err(err).Msg("watcher error")

		case <-ticker.C:
			for _, path := range w.settled() {
				w.log.Info().Str("path", path).Msg("recording settled")
				w.handle(filepath.Clean(path))
			}
		}
	}
}

// settled removes and returns pending paths untouched for at least the
// settle interval.
func (w *Watcher) settled() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	var done []string
	now := time.Now()
	for path, last := range w.pending {
		if now.Sub(last) >= w.settle {
			done = append(done, path)
			delete(w.pending, path)
		}
	}
	return done
}
