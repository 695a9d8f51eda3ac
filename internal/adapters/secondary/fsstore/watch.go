package fsstore

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// Watcher notifies when the store's published version may have
// changed. It watches the store directory for the atomic replacement
// of the CURRENT pointer and additionally ticks on a poll interval, so
// a missed or unavailable filesystem notification only delays a reload
// until the next tick.
type Watcher struct {
	dir  string
	poll time.Duration
}

func NewWatcher(store *Store, poll time.Duration) *Watcher {
	return &Watcher{dir: store.Dir(), poll: poll}
}

// Watch blocks until ctx is done, calling onChange after every
// observed pointer change and on every poll tick. onChange must be
// cheap; callers typically compare versions and skip no-op reloads.
func (w *Watcher) Watch(ctx context.Context, onChange func()) error {
	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()

	var events chan fsnotify.Event
	var watchErrs chan error

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		log.WithError(err).Warn("filesystem watch unavailable, relying on polling")
	} else {
		defer fsw.Close()
		if err := fsw.Add(w.dir); err != nil {
			log.WithError(err).Warn("cannot watch artifact dir, relying on polling")
		} else {
			events = fsw.Events
			watchErrs = fsw.Errors
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Base(event.Name) != currentFile {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			onChange()
		case err, ok := <-watchErrs:
			if !ok {
				watchErrs = nil
				continue
			}
			log.WithError(err).Warn("filesystem watch error")
		case <-ticker.C:
			onChange()
		}
	}
}
