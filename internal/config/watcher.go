package config

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Watcher polls a config file and the content files it names (the hint
// catalog and the discover scenario). When any of them changes and the
// result still validates, the callback receives the previous and the new
// config. Invalid edits are logged and skipped.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)

	mu      sync.Mutex
	current *Config
	last    snapshot

	done     chan struct{}
	stopOnce sync.Once
}

// snapshot fingerprints the config file together with its content files.
type snapshot struct {
	mtime time.Time // newest mtime of all files
	sum   [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. The default is 5 seconds.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads path and starts polling it. The initial load must
// succeed.
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: 5 * time.Second,
		onChange: onChange,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, snap, err := w.load()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current, w.last = cfg, snap

	go w.run()
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop ends polling. It is safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
}

func (w *Watcher) run() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.check()
		}
	}
}

func (w *Watcher) check() {
	w.mu.Lock()
	files := watchedFiles(w.path, w.current)
	lastMtime := w.last.mtime
	w.mu.Unlock()

	// Only hash when some file was touched.
	newest, err := newestMtime(files)
	if err != nil {
		slog.Warn("config watcher: cannot stat file", "err", err)
		return
	}
	if newest.Equal(lastMtime) {
		return
	}

	cfg, snap, err := w.load()
	if err != nil {
		slog.Warn("config watcher: keeping previous config", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	if snap.sum == w.last.sum {
		w.last = snap
		w.mu.Unlock()
		return
	}
	old := w.current
	w.current, w.last = cfg, snap
	w.mu.Unlock()

	slog.Info("config watcher: configuration reloaded", "path", w.path)
	if w.onChange != nil {
		w.onChange(old, cfg)
	}
}

// load parses and validates the config file, then fingerprints it with the
// content files the parsed config names.
func (w *Watcher) load() (*Config, snapshot, error) {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, snapshot{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, snapshot{}, err
	}

	files := watchedFiles(w.path, cfg)
	mtime, err := newestMtime(files)
	if err != nil {
		return nil, snapshot{}, err
	}

	h := sha256.New()
	h.Write(data)
	for _, f := range files[1:] {
		content, err := os.ReadFile(f)
		if err != nil {
			return nil, snapshot{}, fmt.Errorf("read %s: %w", f, err)
		}
		h.Write(content)
	}

	snap := snapshot{mtime: mtime}
	copy(snap.sum[:], h.Sum(nil))
	return cfg, snap, nil
}

// watchedFiles lists the config file first, then the content files of cfg.
func watchedFiles(path string, cfg *Config) []string {
	files := []string{path}
	if cfg.Hint.CatalogFile != "" {
		files = append(files, cfg.Hint.CatalogFile)
	}
	if cfg.Discover.ScenarioFile != "" {
		files = append(files, cfg.Discover.ScenarioFile)
	}
	return files
}

func newestMtime(files []string) (time.Time, error) {
	var newest time.Time
	for _, f := range files {
		info, err := os.Stat(f)
		if err != nil {
			return time.Time{}, err
		}
		if info.ModTime().After(newest) {
			newest = info.ModTime()
		}
	}
	return newest, nil
}
