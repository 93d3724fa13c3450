package listsync

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/jrsteele09/safe-zone-client/freshness"
	"github.com/rs/zerolog/log"
)

const (
	markerDirPerm  = 0o700
	markerFilePerm = 0o600
)

// TouchMarker records a change to the list for processes watching path.
func TouchMarker(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), markerDirPerm); err != nil {
		return fmt.Errorf("creating marker directory: %w", err)
	}
	stamp := time.Now().UTC().Format(time.RFC3339Nano)
	if err := os.WriteFile(path, []byte(stamp), markerFilePerm); err != nil {
		return fmt.Errorf("writing change marker: %w", err)
	}
	return nil
}

// WatchMarker marks flag stale whenever path is touched, typically by an
// Editor in another process. It blocks until ctx is done. The parent
// directory is watched so a marker created after the watch starts is seen.
func WatchMarker(ctx context.Context, path string, flag *freshness.Flag) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolving change marker: %w", err)
	}
	dir := filepath.Dir(absPath)
	if err := os.MkdirAll(dir, markerDirPerm); err != nil {
		return fmt.Errorf("creating marker directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != absPath {
				continue
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
				log.Debug().Str("path", absPath).Msg("Message list changed elsewhere")
				flag.MarkStale()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Err(err).Msg("Change marker watcher error")
		}
	}
}
