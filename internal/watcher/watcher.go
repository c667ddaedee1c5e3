// Package watcher implements the Config Watcher (spec §4.J): a debounced
// file-change event source over the single configuration path, coalescing
// bursts of events (including the startup write itself) into one rebuild
// request.
package watcher

import (
	"context"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounce is spec §4.J's stated debounce window.
const DefaultDebounce = 500 * time.Millisecond

// Watcher debounces fsnotify events on one path into a channel of
// rebuild requests.
type Watcher struct {
	path     string
	debounce time.Duration
	log      *zap.Logger

	Rebuilds chan []byte
}

// New builds a Watcher for path. Call Run to start watching; it blocks
// until ctx is cancelled.
func New(path string, debounce time.Duration, log *zap.Logger) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Watcher{path: path, debounce: debounce, log: log, Rebuilds: make(chan []byte, 1)}
}

// Run watches the configured path until ctx is done. Watcher errors are
// logged and never crash the process (spec §4.J).
func (w *Watcher) Run(ctx context.Context) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.log.Error("config watcher failed to start", zap.Error(err))
		return
	}
	defer fsw.Close()

	if err := fsw.Add(w.path); err != nil {
		w.log.Error("config watcher failed to add path", zap.String("path", w.path), zap.Error(err))
		return
	}

	var debounceTimer *time.Timer
	var debounceC <-chan time.Time

	resetDebounce := func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
		debounceTimer = time.NewTimer(w.debounce)
		debounceC = debounceTimer.C
	}

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				resetDebounce()
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("config watcher error", zap.Error(err))

		case <-debounceC:
			debounceC = nil
			data, err := os.ReadFile(w.path)
			if err != nil {
				w.log.Warn("config watcher failed to read path after change", zap.String("path", w.path), zap.Error(err))
				continue
			}
			select {
			case w.Rebuilds <- data:
			default:
				// a rebuild is already queued; coalesce by replacing it.
				select {
				case <-w.Rebuilds:
				default:
				}
				w.Rebuilds <- data
			}
		}
	}
}
