package store

import (
	"context"
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/portalkeep/portalkeep/internal/config"
)

// ChangeEvent describes the result of reacting to an external config change.
// Config is the freshly loaded snapshot, or nil when the file could not be
// parsed (Err carries the reason and the previous snapshot stays active).
type ChangeEvent struct {
	Config *config.Config
	Err    error
}

// Watch observes the configuration file for external modification and emits
// a ChangeEvent per detected change. A filesystem watcher provides prompt
// notification; a polling ticker backs it up for editors and filesystems
// that defeat inotify (and takes over entirely when the watcher cannot be
// created). Every candidate change funnels through Poll, which guarantees
// at most one event per actual modification.
//
// The watcher runs until ctx is cancelled; the channel is closed on exit.
func (s *Store) Watch(ctx context.Context, interval time.Duration) <-chan ChangeEvent {
	if interval <= 0 {
		interval = 2 * time.Second
	}

	out := make(chan ChangeEvent, 1)

	// Watch the directory, not the file: editors typically replace the file
	// by rename, which drops a direct file watch.
	var fsEvents chan fsnotify.Event
	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		if err := watcher.Add(filepath.Dir(s.path)); err != nil {
			watcher.Close()
			watcher = nil
		}
	} else {
		watcher = nil
	}
	if watcher != nil {
		fsEvents = make(chan fsnotify.Event)
		go func() {
			defer close(fsEvents)
			for {
				select {
				case <-ctx.Done():
					return
				case ev, ok := <-watcher.Events:
					if !ok {
						return
					}
					if filepath.Clean(ev.Name) != filepath.Clean(s.path) {
						continue
					}
					select {
					case fsEvents <- ev:
					case <-ctx.Done():
						return
					}
				case err, ok := <-watcher.Errors:
					if !ok {
						return
					}
					log.Printf("[Config] watcher error: %v", err)
				}
			}
		}()
	}

	go func() {
		defer close(out)
		if watcher != nil {
			defer watcher.Close()
		}

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		emit := func() {
			if !s.Poll() {
				return
			}
			cfg, err := s.Reload()
			select {
			case out <- ChangeEvent{Config: cfg, Err: err}:
			case <-ctx.Done():
			}
		}

		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-fsEvents:
				if !ok {
					fsEvents = nil
					continue
				}
				// Let the writer finish; an editor save is often a
				// truncate+write or temp+rename sequence.
				time.Sleep(50 * time.Millisecond)
				emit()
			case <-ticker.C:
				emit()
			}
		}
	}()

	return out
}
