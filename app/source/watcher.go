package source

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const DefaultWatchDebounce = 2 * time.Second

// Watch reloads source configs when files in the sources directory change.
// onChange receives the reloaded config, or nil when the file was removed.
// Editors write files in bursts, so events are debounced per file. Watch
// blocks until ctx is cancelled.
func (cc *ConfigCache) Watch(ctx context.Context, debounce time.Duration, onChange func(name string, config *Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(cc.sourcesDir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", cc.sourcesDir, err)
	}

	var (
		mu     sync.Mutex
		timers = make(map[string]*time.Timer)
	)
	defer func() {
		mu.Lock()
		for _, timer := range timers {
			timer.Stop()
		}
		mu.Unlock()
	}()

	reload := func(name string) {
		if ctx.Err() != nil {
			return
		}

		config, err := cc.LoadConfig(name)
		if err != nil {
			if !fileExists(filepath.Join(cc.sourcesDir, name+".yml")) {
				cc.RemoveConfig(name)
				slog.Info("Source configuration removed", "source", name)
				onChange(name, nil)
				return
			}
			slog.Warn("Failed to reload source configuration", "source", name, "error", err)
			return
		}

		slog.Info("Source configuration reloaded", "source", name)
		onChange(name, config)
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !strings.HasSuffix(ev.Name, ".yml") || ev.Op == fsnotify.Chmod {
				continue
			}

			name := strings.TrimSuffix(filepath.Base(ev.Name), ".yml")
			mu.Lock()
			if timer, ok := timers[name]; ok {
				timer.Stop()
			}
			timers[name] = time.AfterFunc(debounce, func() { reload(name) })
			mu.Unlock()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("Source configuration watcher error", "error", err)
		}
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
