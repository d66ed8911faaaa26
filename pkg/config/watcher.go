package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const debounceDuration = 500 * time.Millisecond

// WatchFiles watches the given files and emits on the returned channel once
// per debounced burst of changes. Parent directories are watched so editors
// that save by rename keep triggering. The channel closes when ctx ends.
func WatchFiles(ctx context.Context, files ...string) <-chan string {
	reloadCh := make(chan string, 1)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Error("Failed to create fsnotify watcher", "error", err)
		close(reloadCh)
		return reloadCh
	}

	targets := make(map[string]bool)
	dirs := make(map[string]bool)
	for _, file := range files {
		absPath, err := filepath.Abs(file)
		if err != nil {
			slog.Warn("Could not resolve absolute path for watch file", "file", file)
			continue
		}
		targets[absPath] = true
		dirs[filepath.Dir(absPath)] = true
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			slog.Warn("Could not watch directory", "dir", dir, "error", err)
		}
	}

	go func() {
		defer watcher.Close()

		var timer *time.Timer
		for {
			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !targets[filepath.Clean(event.Name)] {
					continue
				}
				if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) {
					continue
				}
				if timer != nil {
					timer.Stop()
				}
				name := event.Name
				timer = time.AfterFunc(debounceDuration, func() {
					slog.Info("Configuration change detected", "file", name)
					select {
					case reloadCh <- name:
					default:
					}
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Error("Watcher encountered an error", "error", err)
			}
		}
	}()

	return reloadCh
}

// WatchInstructions re-reads the instructions file on every change and hands
// the new prompt to apply. It blocks until ctx ends.
func WatchInstructions(ctx context.Context, cfg *Config, apply func(string)) {
	if cfg.InstructionsFile == "" {
		return
	}
	changes := WatchFiles(ctx, cfg.InstructionsFile)
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-changes:
			if !ok {
				return
			}
			text, err := cfg.ResolveInstructions()
			if err != nil {
				slog.Error("Failed to reload instructions", "error", err)
				continue
			}
			if text == "" {
				slog.Warn("Ignoring empty instructions file", "file", cfg.InstructionsFile)
				continue
			}
			apply(text)
			slog.Info("Instructions reloaded", "bytes", len(text))
		}
	}
}
