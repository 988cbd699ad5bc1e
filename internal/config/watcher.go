package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

const defaultWatchInterval = 5 * time.Second

// ReloadFunc receives every accepted config change together with its diff.
type ReloadFunc func(old, new *Config, d ConfigDiff)

// fingerprint identifies one revision of the config file. The stat fields
// let most polls skip the read; the digest catches touch-only updates.
type fingerprint struct {
	modTime time.Time
	size    int64
	digest  [sha256.Size]byte
}

func (f fingerprint) sameStat(fi os.FileInfo) bool {
	return f.modTime.Equal(fi.ModTime()) && f.size == fi.Size()
}

// Watcher re-reads the config file while the server runs. A revision that
// fails to parse or validate is logged and the last good config stays in
// effect. Edits that do not change any setting (comments, reordering) never
// reach the callback.
type Watcher struct {
	path     string
	interval time.Duration
	lookup   LookupFunc
	onReload ReloadFunc

	mu      sync.Mutex
	current *Config
	last    fingerprint
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets how often [Watcher.Run] checks the file.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithLookupEnv replaces [os.LookupEnv] as the source of VOCALIS_*
// overrides. nil disables overrides.
func WithLookupEnv(fn LookupFunc) WatcherOption {
	return func(w *Watcher) { w.lookup = fn }
}

// NewWatcher loads path once so a broken file is reported at startup.
// Polling starts with [Watcher.Run].
func NewWatcher(path string, onReload ReloadFunc, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: defaultWatchInterval,
		lookup:   os.LookupEnv,
		onReload: onReload,
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, fp, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	w.current, w.last = cfg, fp
	return w, nil
}

// Current returns the last config that loaded successfully.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Run polls until ctx is done.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.Check(); err != nil {
				slog.Warn("config: reload rejected, keeping previous config", "path", w.path, "err", err)
			}
		}
	}
}

// Check looks at the file once and reports whether a changed config was
// accepted. A non-nil error means the file changed but could not be used.
func (w *Watcher) Check() (bool, error) {
	fi, err := os.Stat(w.path)
	if err != nil {
		return false, err
	}

	w.mu.Lock()
	unchanged := w.last.sameStat(fi)
	w.mu.Unlock()
	if unchanged {
		return false, nil
	}

	cfg, fp, err := w.read()
	if err != nil {
		return false, err
	}

	w.mu.Lock()
	if fp.digest == w.last.digest {
		w.last = fp
		w.mu.Unlock()
		return false, nil
	}
	old := w.current
	w.last = fp
	d := Diff(old, cfg)
	if !d.Changed() {
		w.mu.Unlock()
		return false, nil
	}
	w.current = cfg
	w.mu.Unlock()

	slog.Info("config: reloaded", "path", w.path, "restart_required", d.RestartRequired)
	if w.onReload != nil {
		w.onReload(old, cfg, d)
	}
	return true, nil
}

func (w *Watcher) read() (*Config, fingerprint, error) {
	fi, err := os.Stat(w.path)
	if err != nil {
		return nil, fingerprint{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, fingerprint{}, err
	}
	cfg, err := load(bytes.NewReader(data), w.lookup)
	if err != nil {
		return nil, fingerprint{}, err
	}
	return cfg, fingerprint{
		modTime: fi.ModTime(),
		size:    fi.Size(),
		digest:  sha256.Sum256(data),
	}, nil
}
