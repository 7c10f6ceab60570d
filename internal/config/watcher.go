package config

import (
	"bytes"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/spf13/afero"
)

// DefaultWatchInterval is how often a [Watcher] polls the file.
const DefaultWatchInterval = 5 * time.Second

// Watcher polls a config file and hands changes to the running device.
//
// Only reloads whose [Diff] is non-empty reach the apply callback; edits to
// comments or formatting are absorbed. A file that fails to parse or validate
// leaves the running config in place and is reported by [Watcher.Err] until
// a valid version is written.
type Watcher struct {
	fs       afero.Fs
	path     string
	interval time.Duration

	mu      sync.Mutex
	apply   func(old, next *Config)
	current *Config
	raw     []byte
	modTime time.Time
	size    int64
	err     error
	reloads int

	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
	stopped   chan struct{}
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval overrides [DefaultWatchInterval].
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithFs sets the filesystem the file is read from. Defaults to the OS.
func WithFs(fs afero.Fs) WatcherOption {
	return func(w *Watcher) {
		if fs != nil {
			w.fs = fs
		}
	}
}

// NewWatcher loads path once. Polling begins with [Watcher.Start].
func NewWatcher(path string, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		fs:       afero.NewOsFs(),
		path:     path,
		interval: DefaultWatchInterval,
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	info, err := w.fs.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	raw, err := afero.ReadFile(w.fs, path)
	if err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	cfg, err := LoadFromReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	w.current, w.raw, w.modTime, w.size = cfg, raw, info.ModTime(), info.Size()
	return w, nil
}

// Start begins polling and routes effective changes to apply. Later calls do
// nothing.
func (w *Watcher) Start(apply func(old, next *Config)) {
	w.startOnce.Do(func() {
		w.mu.Lock()
		w.apply = apply
		w.mu.Unlock()
		go w.poll()
	})
}

// Stop ends polling. It is safe to call more than once and without Start.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
	w.startOnce.Do(func() { close(w.stopped) })
	<-w.stopped
}

// Current returns the config in effect.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Err returns why the file on disk is not in effect, or nil when it is.
func (w *Watcher) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Reloads counts the valid changed versions loaded since NewWatcher.
func (w *Watcher) Reloads() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reloads
}

func (w *Watcher) poll() {
	defer close(w.stopped)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.Check()
		}
	}
}

// Check polls the file once. The apply callback runs on the caller's
// goroutine.
func (w *Watcher) Check() {
	info, err := w.fs.Stat(w.path)
	if err != nil {
		w.fail(err)
		return
	}

	w.mu.Lock()
	unchanged := info.ModTime().Equal(w.modTime) && info.Size() == w.size
	w.mu.Unlock()
	if unchanged {
		return
	}

	raw, err := afero.ReadFile(w.fs, w.path)
	if err != nil {
		w.fail(err)
		return
	}

	w.mu.Lock()
	w.modTime, w.size = info.ModTime(), info.Size()
	if bytes.Equal(raw, w.raw) {
		w.mu.Unlock()
		return
	}
	w.raw = raw
	w.mu.Unlock()

	cfg, err := LoadFromReader(bytes.NewReader(raw))
	if err != nil {
		w.fail(err)
		return
	}

	w.mu.Lock()
	old := w.current
	w.current = cfg
	w.err = nil
	w.reloads++
	apply := w.apply
	w.mu.Unlock()

	d := Diff(old, cfg)
	if d.Empty() {
		slog.Debug("config file changed without effect", "path", w.path)
		return
	}
	slog.Info("configuration reloaded",
		"path", w.path,
		"log_level_changed", d.LogLevelChanged,
		"guard_delay_changed", d.GuardDelayChanged,
		"restart_required", d.RestartRequired,
	)
	if apply != nil {
		apply(old, cfg)
	}
}

func (w *Watcher) fail(err error) {
	err = fmt.Errorf("config: reload %s: %w", w.path, err)
	w.mu.Lock()
	changed := w.err == nil || w.err.Error() != err.Error()
	w.err = err
	w.mu.Unlock()
	if changed {
		slog.Warn("config file not applied, keeping the running config", "err", err)
	}
}
