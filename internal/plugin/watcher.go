package plugin

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// DefaultDebounce is how long a unit file must stay quiet before the
// watcher acts on it.
const DefaultDebounce = 100 * time.Millisecond

// ErrWatcherClosed is returned when starting a closed watcher.
var ErrWatcherClosed = errors.New("plugin watcher is closed")

// Watcher keeps a Manager in step with its plugin directory: a unit that
// appears is loaded, a unit that changes is reloaded and a unit that
// disappears is deactivated.
type Watcher struct {
	mu sync.Mutex

	manager  *Manager
	source   *LuaSource
	watcher  *fsnotify.Watcher
	debounce time.Duration
	log      logrus.FieldLogger

	// Pending debounced updates by plugin name
	timers map[string]*time.Timer

	// Lifecycle
	started  bool
	closed   bool
	closeCh  chan struct{}
	closedWg sync.WaitGroup
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce sets the quiet period before a change is applied.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		w.debounce = d
	}
}

// NewWatcher creates a watcher over the manager's plugin directory.
func NewWatcher(m *Manager, opts ...WatcherOption) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		manager:  m,
		source:   m.lua,
		watcher:  fsw,
		debounce: DefaultDebounce,
		log:      m.log.WithField("op", "watch"),
		timers:   make(map[string]*time.Timer),
		closeCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Start begins watching. Changes are applied with ctx until Close.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWatcherClosed
	}
	if w.started {
		return nil
	}

	dir, err := filepath.Abs(w.source.Dir())
	if err != nil {
		return err
	}
	if err := w.watcher.Add(dir); err != nil {
		return err
	}
	w.started = true

	w.closedWg.Add(1)
	go w.processLoop(ctx)

	w.log.WithField("dir", dir).Info("watching plugin directory")
	return nil
}

// Close stops the watcher. Pending changes are dropped; a change already
// being applied finishes before Close returns.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.closeCh)
	for name, t := range w.timers {
		t.Stop()
		delete(w.timers, name)
	}
	w.mu.Unlock()

	err := w.watcher.Close()
	w.closedWg.Wait()
	return err
}

// processLoop handles incoming fsnotify events.
func (w *Watcher) processLoop(ctx context.Context) {
	defer w.closedWg.Done()

	for {
		select {
		case <-w.closeCh:
			return

		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleFSEvent(ctx, event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.WithError(err).Warn("plugin watcher error")
		}
	}
}

func (w *Watcher) handleFSEvent(ctx context.Context, event fsnotify.Event) {
	if !event.Has(fsnotify.Create | fsnotify.Write | fsnotify.Remove | fsnotify.Rename) {
		return
	}
	name, ok := w.source.NameOf(event.Name)
	if !ok {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}
	if t, exists := w.timers[name]; exists {
		t.Stop()
	}
	w.timers[name] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.timers, name)
		if w.closed {
			w.mu.Unlock()
			return
		}
		// Registered under mu before Close can mark the watcher closed,
		// so Close waits for this sync.
		w.closedWg.Add(1)
		w.mu.Unlock()

		defer w.closedWg.Done()
		w.sync(ctx, name)
	})
}

// sync brings one plugin in line with its unit file.
func (w *Watcher) sync(ctx context.Context, name string) {
	_, statErr := os.Stat(w.source.Path(name))
	exists := statErr == nil
	active := w.manager.registry.Has(name)

	var err error
	switch {
	case exists && active:
		err = w.manager.Reload(ctx, name)
	case exists:
		_, err = w.manager.LoadPlugin(ctx, name)
	case active:
		err = w.manager.Deactivate(ctx, name)
	default:
		return
	}

	if err != nil {
		w.log.WithField("plugin", name).WithError(err).Warn("plugin update failed")
	}
}
