// Package reload re-applies configuration to running modules when the
// config file changes on disk or the process receives SIGHUP.
package reload

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 250 * time.Millisecond

// WatcherConfig configures the file watcher.
type WatcherConfig struct {
	ConfigPath string
	// Debounce coalesces bursts of writes (editors often write a file in
	// several steps). Defaults to 250ms.
	Debounce time.Duration
	Logger   *slog.Logger
}

// Event reports that the watched config file settled after a change.
type Event struct {
	ConfigPath string
	Op         fsnotify.Op
}

// Watcher watches the directory holding the config file, so the file can
// be replaced by rename as well as written in place.
type Watcher struct {
	path     string
	debounce time.Duration
	logger   *slog.Logger
	fsw      *fsnotify.Watcher

	events  chan Event
	stop    chan struct{}
	stopped chan struct{}

	started  atomic.Bool
	stopOnce sync.Once
}

// NewWatcher starts watching the config file's directory. Call Start to
// begin delivering events and Stop to release the watch.
func NewWatcher(cfg WatcherConfig) (*Watcher, error) {
	path, err := filepath.Abs(cfg.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("reload: resolving %s: %w", cfg.ConfigPath, err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("reload: creating watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("reload: watching %s: %w", filepath.Dir(path), err)
	}

	w := &Watcher{
		path:     path,
		debounce: cfg.Debounce,
		logger:   cfg.Logger,
		fsw:      fsw,
		events:   make(chan Event, 1),
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	if w.debounce <= 0 {
		w.debounce = defaultDebounce
	}
	if w.logger == nil {
		w.logger = slog.Default()
	}
	return w, nil
}

// Start delivers events until ctx is done or Stop is called. Only the
// first call has an effect.
func (w *Watcher) Start(ctx context.Context) {
	if w.started.CompareAndSwap(false, true) {
		go w.run(ctx)
	}
}

// Events returns the channel of settled change events. At most one event
// is buffered; later changes collapse into it.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Stop ends the watch. Safe to call more than once and before Start.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
		if w.started.Load() {
			<-w.stopped
		}
		_ = w.fsw.Close()
	})
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.stopped)

	var (
		timer *time.Timer
		fire  <-chan time.Time
		last  fsnotify.Op
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case e, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(e.Name) != w.path || !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
				continue
			}
			last = e.Op
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", "path", w.path, "error", err)
		case <-fire:
			fire = nil
			select {
			case w.events <- Event{ConfigPath: w.path, Op: last}:
			default:
			}
		}
	}
}
