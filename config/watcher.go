package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultSettleDelay is how long the watcher waits after the last write
// before reloading.
const DefaultSettleDelay = 300 * time.Millisecond

// Change describes a successful reload.
type Change struct {
	Old *Config
	New *Config
}

// LogLevelChanged reports whether the reload changed the log level.
func (c Change) LogLevelChanged() bool {
	return c.Old.Log.Level != c.New.Log.Level
}

// ChangeHandler receives reloads in the order they happened.
type ChangeHandler func(Change)

// Watcher keeps the configuration of one file current.
//
// The parent directory is watched rather than the file, so editors that
// save by rename keep being followed. Handlers run on the watch goroutine;
// a slow handler delays later reloads but never reorders them.
type Watcher struct {
	path   string
	loader *Loader
	logger *slog.Logger
	settle time.Duration

	mu       sync.RWMutex
	current  *Config
	handlers []ChangeHandler

	fs      *fsnotify.Watcher
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithSettleDelay sets the quiet period before a reload.
func WithSettleDelay(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.settle = d
		}
	}
}

// NewWatcher loads path through loader and prepares to follow it. A file
// that fails validation is rejected here.
func NewWatcher(path string, loader *Loader, logger *slog.Logger, opts ...WatcherOption) (*Watcher, error) {
	if _, err := formatOf(path); err != nil {
		return nil, err
	}
	if loader == nil {
		loader = NewLoader()
	}
	if logger == nil {
		logger = slog.Default()
	}

	path = filepath.Clean(path)
	cfg, err := loader.LoadFromFile(path)
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		path:    path,
		loader:  loader,
		logger:  logger.With("component", "config", "file", path),
		settle:  DefaultSettleDelay,
		current: cfg,
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Current returns the last configuration that loaded successfully.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// OnChange registers fn for every later successful reload.
func (w *Watcher) OnChange(fn ChangeHandler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers = append(w.handlers, fn)
}

// Start begins following the file.
func (w *Watcher) Start() error {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConfigWatchError, err)
	}
	if err := fs.Add(filepath.Dir(w.path)); err != nil {
		fs.Close()
		return fmt.Errorf("%w: %w", ErrConfigWatchError, err)
	}
	w.fs = fs
	go w.loop()
	return nil
}

// Stop ends the watch. It is safe to call more than once, and before Start.
func (w *Watcher) Stop() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		if w.fs == nil {
			return
		}
		err = w.fs.Close()
		<-w.stopped
	})
	return err
}

// Reload reads the file now. On failure the current configuration is kept.
func (w *Watcher) Reload() error {
	cfg, err := w.loader.LoadFromFile(w.path)
	if err != nil {
		return err
	}

	w.mu.Lock()
	change := Change{Old: w.current, New: cfg}
	w.current = cfg
	handlers := append([]ChangeHandler(nil), w.handlers...)
	w.mu.Unlock()

	w.logger.Info("configuration reloaded")
	for _, fn := range handlers {
		w.dispatch(fn, change)
	}
	return nil
}

func (w *Watcher) dispatch(fn ChangeHandler, change Change) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("config change handler panicked", "panic", r)
		}
	}()
	fn(change)
}

// loop coalesces bursts of writes into a single reload.
func (w *Watcher) loop() {
	defer close(w.stopped)

	settle := time.NewTimer(w.settle)
	settle.Stop()
	defer settle.Stop()

	for {
		select {
		case <-w.done:
			return

		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				settle.Reset(w.settle)
			}

		case <-settle.C:
			if err := w.Reload(); err != nil {
				w.logger.Warn("config reload failed, keeping previous", "error", err)
			}

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watch error", "error", err)
		}
	}
}
