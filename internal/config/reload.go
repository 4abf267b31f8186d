package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"sync"
	"time"
)

// ReloadResult describes what changed during a config reload.
type ReloadResult struct {
	Changed []string // fields that differ from the running config
	Applied []string // applied in place
	Skipped []string // require a restart
}

// Reload re-reads the config file, diffs it against the running config, and
// applies the hot-reloadable sections in place. Listener addresses and
// durable-store settings only take effect on restart and are reported as
// skipped. Callers push the applied sections into the components that
// consume them.
func (c *Config) Reload(path string) (*ReloadResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config for reload: %w", err)
	}

	next := DefaultConfig()
	if err := json.Unmarshal(data, next); err != nil {
		return nil, fmt.Errorf("parse config for reload: %w", err)
	}
	if err := next.Validate(); err != nil {
		return nil, err
	}
	next.resolvePaths()

	result := &ReloadResult{}

	if c.Logging.Level != next.Logging.Level {
		result.Changed = append(result.Changed, "Logging.Level")
		c.Logging.Level = next.Logging.Level
		result.Applied = append(result.Applied, "Logging.Level")
	}

	if !reflect.DeepEqual(c.Notifications, next.Notifications) {
		result.Changed = append(result.Changed, "Notifications")
		c.Notifications = next.Notifications
		result.Applied = append(result.Applied, "Notifications")
	}

	// Everything else is bound at startup.
	restartOnly := []struct {
		name string
		old  any
		new  any
	}{
		{"DataDir", c.DataDir, next.DataDir},
		{"Proxy", c.Proxy, next.Proxy},
		{"Control", c.Control, next.Control},
		{"Cache", c.Cache, next.Cache},
		{"Queue", c.Queue, next.Queue},
		{"Sync", c.Sync, next.Sync},
		{"Push", c.Push, next.Push},
		{"RulesPath", c.RulesPath, next.RulesPath},
	}
	for _, f := range restartOnly {
		if !reflect.DeepEqual(f.old, f.new) {
			result.Changed = append(result.Changed, f.name)
			result.Skipped = append(result.Skipped, f.name+" (requires restart)")
		}
	}

	return result, nil
}

// Watcher polls a config file's modification time and invokes a callback
// when it changes.
type Watcher struct {
	path     string
	every    time.Duration
	logger   *slog.Logger
	onChange func()

	stop    chan struct{}
	once    sync.Once
	lastMod time.Time
}

// NewWatcher creates a config file watcher that polls for changes.
func NewWatcher(path string, every time.Duration, logger *slog.Logger, onChange func()) *Watcher {
	return &Watcher{
		path:     path,
		every:    every,
		logger:   logger,
		onChange: onChange,
		stop:     make(chan struct{}),
	}
}

// Start begins polling in a goroutine.
func (w *Watcher) Start() {
	if info, err := os.Stat(w.path); err == nil {
		w.lastMod = info.ModTime()
	}

	go w.loop()
	w.logger.Info("config watcher started", "path", w.path, "interval", w.every)
}

// Stop stops the watcher.
func (w *Watcher) Stop() {
	w.once.Do(func() { close(w.stop) })
}

func (w *Watcher) loop() {
	ticker := time.NewTicker(w.every)
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
		w.logger.Warn("config watcher: cannot stat file", "path", w.path, "error", err)
		return
	}

	if mod := info.ModTime(); mod.After(w.lastMod) {
		w.lastMod = mod
		w.logger.Info("config file changed", "path", w.path)
		if w.onChange != nil {
			w.onChange()
		}
	}
}
