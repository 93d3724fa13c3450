package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	apperrors "github.com/jrsteele09/safe-zone-client/internal/errors"
	"github.com/rs/zerolog/log"
)

// ReadTargetFile returns the trimmed host stored in path.
func ReadTargetFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// WatchTarget applies the developer target-override file to cfg whenever it
// changes and calls onChange with the new host. It blocks until ctx is done.
// The parent directory is watched so editors that replace the file by rename
// are picked up.
func WatchTarget(ctx context.Context, cfg TargetConfig, onChange func(host string)) error {
	if cfg.IsProduction() {
		return apperrors.ErrOverrideDisabled
	}
	path := cfg.GetTargetFile()
	if path == "" {
		return fmt.Errorf("no target file configured")
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolving target file: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		return fmt.Errorf("watching %s: %w", filepath.Dir(absPath), err)
	}

	apply := func() {
		host, err := ReadTargetFile(absPath)
		if err != nil || host == "" || host == cfg.GetTargetServer() {
			return
		}
		if err := cfg.SetTargetServer(host); err != nil {
			log.Err(err).Str("host", host).Msg("Failed to apply target override")
			return
		}
		log.Info().Str("host", host).Msg("Target server changed")
		onChange(host)
	}

	// Pick up a file written before the watcher started.
	apply()

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
				apply()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Err(err).Msg("Target watcher error")
		}
	}
}
