package config

import (
	"log/slog"
	"os"
	"sync"
	"time"
)

// Watcher polls a config file and hands a freshly loaded, validated Config
// to onChange whenever its modification time moves forward. Files that fail
// to load are reported and skipped; the previous config stays in effect.
type Watcher struct {
	path     string
	interval time.Duration
	logger   *slog.Logger
	onChange func(*Config)
	stop     chan struct{}
	done     chan struct{}
	once     sync.Once
	lastMod  time.Time
}

// NewWatcher creates a config file watcher that polls for changes.
func NewWatcher(path string, interval time.Duration, logger *slog.Logger, onChange func(*Config)) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Watcher{
		path:     path,
		interval: interval,
		logger:   logger.With("component", "config-watcher"),
		onChange: onChange,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start begins polling for file changes in a goroutine.
func (w *Watcher) Start() {
	if info, err := os.Stat(w.path); err == nil {
		w.lastMod = info.ModTime()
	}

	go w.poll()
	w.logger.Info("config watcher started", "path", w.path, "interval", w.interval)
}

// Stop stops the watcher and waits for the polling goroutine to exit.
func (w *Watcher) Stop() {
	w.once.Do(func() {
		close(w.stop)
		<-w.done
		w.logger.Info("config watcher stopped")
	})
}

func (w *Watcher) poll() {
	defer close(w.done)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			w.check()
		}
	}
}

func (w *Watcher) check() {
	info, err := os.Stat(w.path)
	if err != nil {
		w.logger.Warn("cannot stat config file", "path", w.path, "error", err)
		return
	}

	modTime := info.ModTime()
	if !modTime.After(w.lastMod) {
		return
	}
	w.lastMod = modTime

	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Warn("changed config rejected", "path", w.path, "error", err)
		return
	}
	w.logger.Info("config file changed", "path", w.path, "modTime", modTime)
	if w.onChange != nil {
		w.onChange(cfg)
	}
}
