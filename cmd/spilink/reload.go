package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync/atomic"

	"github.com/FerroO2000/spilink/internal"
	"github.com/FerroO2000/spilink/processor"
	"github.com/fsnotify/fsnotify"
)

// ErrRestartRequired is returned when a reloaded configuration
// changes settings that are applied only at startup.
var ErrRestartRequired = errors.New("configuration change requires a restart")

// reloader watches the configuration file and applies the settings
// that can change while the pipeline runs: the log level and
// the filter prefixes.
type reloader struct {
	tel *internal.Telemetry

	path    string
	current atomic.Pointer[Config]

	filter *processor.TopicFilter

	watcher *fsnotify.Watcher

	reloading atomic.Bool
}

func newReloader(path string, cfg *Config, filter *processor.TopicFilter) (*reloader, error) {
	path, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	// Editors often replace the file, so the directory is watched.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch config directory: %w", err)
	}

	r := &reloader{
		tel: internal.NewTelemetry("cmd", "reloader"),

		path:   path,
		filter: filter,

		watcher: watcher,
	}
	r.current.Store(cfg)

	return r, nil
}

// reload loads the configuration file and applies the live settings.
// The new configuration is applied even if a restart is required,
// in which case [ErrRestartRequired] is returned as well.
func (r *reloader) reload() error {
	if !r.reloading.CompareAndSwap(false, true) {
		return errors.New("reload already in progress")
	}
	defer r.reloading.Store(false)

	next, err := LoadConfig(r.path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	prev := r.current.Swap(next)

	level, _ := next.logLevel()
	if level != internal.GetLogLevel() {
		internal.SetLogLevel(level)
		r.tel.LogInfo("log level changed", "level", level)
	}

	r.filter.SetPrefixes(next.Filter.Prefixes)
	r.tel.LogInfo("filter prefixes reloaded", "prefixes", next.Filter.Prefixes)

	if prev.restartRequired(next) {
		return ErrRestartRequired
	}

	return nil
}

func (r *reloader) handle(event fsnotify.Event) {
	if filepath.Clean(event.Name) != r.path {
		return
	}

	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return
	}

	err := r.reload()
	switch {
	case err == nil:
	case errors.Is(err, ErrRestartRequired):
		r.tel.LogWarn("configuration reloaded, some changes are applied only after a restart")
	default:
		r.tel.LogError("failed to reload configuration", err)
	}
}

// run watches the file until the context is done.
func (r *reloader) run(ctx context.Context) error {
	defer r.watcher.Close()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-r.watcher.Events:
			if !ok {
				return nil
			}
			r.handle(event)

		case err, ok := <-r.watcher.Errors:
			if !ok {
				return nil
			}
			r.tel.LogError("config watcher error", err)
		}
	}
}
