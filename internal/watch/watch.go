// Package watch follows the storage directory with fsnotify so that operator
// edits to the fixed-listing file take effect without a restart.
package watch

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/relister/internal/storage"
)

// Kinds passed to Callback.
const (
	KindFixedReloaded  = "fixed.reloaded"
	KindSessionSaved   = "session.saved"
	KindSessionRemoved = "session.removed"
)

// Callback is invoked after the watcher reacts to a change.
type Callback func(kind string)

// Reloader is satisfied by *storage.FixedListings.
type Reloader interface {
	Reload() error
	Len() int
}

const debounce = 150 * time.Millisecond

// Run watches dir until ctx is cancelled. Writes to the fixed-listing file
// are coalesced and trigger fixed.Reload. Session file changes are only
// reported: the client reads the artifact on every call.
func Run(ctx context.Context, dir string, fixed Reloader, logger *slog.Logger, cb Callback) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Add(dir); err != nil {
		return err
	}
	logger.Info("watcher: started", slog.String("dir", dir))

	var reloadTimer *time.Timer
	var reloadCh <-chan time.Time
	scheduleReload := func() {
		if reloadTimer == nil {
			reloadTimer = time.NewTimer(debounce)
			reloadCh = reloadTimer.C
		} else {
			reloadTimer.Reset(debounce)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-reloadCh:
			if err := fixed.Reload(); err != nil {
				// Keep serving the previous list until the file parses again.
				logger.Warn("watcher: fixed listings reload failed", slog.String("error", err.Error()))
				continue
			}
			logger.Info("watcher: fixed listings reloaded", slog.Int("entries", fixed.Len()))
			if cb != nil {
				cb(KindFixedReloaded)
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			switch filepath.Base(ev.Name) {
			case storage.FixedFile:
				if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
					scheduleReload()
				}
			case storage.SessionFile:
				switch {
				case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
					logger.Debug("watcher: session saved")
					if cb != nil {
						cb(KindSessionSaved)
					}
				case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
					logger.Info("watcher: session removed")
					if cb != nil {
						cb(KindSessionRemoved)
					}
				}
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}
