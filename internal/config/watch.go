package config

import (
	"context"
	"time"

	"github.com/banshee-data/motion.report/internal/fsutil"
	"github.com/banshee-data/motion.report/internal/monitoring"
	"github.com/banshee-data/motion.report/internal/timeutil"
)

// DefaultWatchInterval is how often the watcher polls the config file for
// changes.
const DefaultWatchInterval = 3 * time.Second

// Watcher polls a config file's modification time and delivers freshly
// parsed configs on Updates. Parse or read failures are logged and skipped;
// the previous config stays in effect and polling continues.
type Watcher struct {
	path     string
	interval time.Duration
	fs       fsutil.FileSystem
	clock    timeutil.Clock
	updates  chan *ProcessingConfig
	lastMod  time.Time
}

// NewWatcher creates a watcher for the given config file. An interval of 0
// selects DefaultWatchInterval.
func NewWatcher(path string, interval time.Duration) *Watcher {
	return newWatcher(path, interval, fsutil.OSFileSystem{}, timeutil.RealClock{})
}

func newWatcher(path string, interval time.Duration, fs fsutil.FileSystem, clock timeutil.Clock) *Watcher {
	if interval <= 0 {
		interval = DefaultWatchInterval
	}
	return &Watcher{
		path:     path,
		interval: interval,
		fs:       fs,
		clock:    clock,
		updates:  make(chan *ProcessingConfig, 1),
	}
}

// Updates returns the channel on which reloaded configs are delivered.
func (w *Watcher) Updates() <-chan *ProcessingConfig {
	return w.updates
}

// Run polls until ctx is cancelled. The config present at startup is not
// delivered; callers load it themselves before starting the watcher.
func (w *Watcher) Run(ctx context.Context) {
	if info, err := w.fs.Stat(w.path); err == nil {
		w.lastMod = info.ModTime()
	}

	ticker := w.clock.NewTicker(w.interval)
	defer ticker.Stop()

	monitoring.Logf("config watcher: polling %s every %s", w.path, w.interval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			w.poll(ctx)
		}
	}
}

func (w *Watcher) poll(ctx context.Context) {
	info, err := w.fs.Stat(w.path)
	if err != nil {
		// Transient or the file was removed; keep the old config.
		return
	}
	if !info.ModTime().After(w.lastMod) {
		return
	}
	w.lastMod = info.ModTime()

	data, err := w.fs.ReadFile(w.path)
	if err != nil {
		monitoring.Logf("config watcher: read %s failed: %v", w.path, err)
		return
	}
	cfg, err := ParseProcessingConfig(data)
	if err != nil {
		monitoring.Logf("config watcher: ignoring %s: %v", w.path, err)
		return
	}

	monitoring.Logf("config watcher: reloading %s", w.path)
	select {
	case w.updates <- cfg:
	case <-ctx.Done():
	}
}
