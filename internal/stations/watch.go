/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package stations

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// reloadDelay coalesces the burst of events editors produce on save.
const reloadDelay = 250 * time.Millisecond

// Watch reloads the directory from path whenever the file changes, until
// ctx is cancelled. The parent directory is watched so that atomic
// rename-on-save is picked up. onReload, if set, runs after each
// successful reload.
func (d *Directory) Watch(ctx context.Context, path string, logger zerolog.Logger, onReload func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve stations file: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch stations dir: %w", err)
	}

	logger = logger.With().Str("component", "stations").Str("file", abs).Logger()
	logger.Info().Msg("watching stations file")

	timer := time.NewTimer(reloadDelay)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
				timer.Reset(reloadDelay)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn().Err(err).Msg("stations watcher error")
		case <-timer.C:
			if err := d.Reload(abs); err != nil {
				logger.Warn().Err(err).Msg("stations reload failed, keeping previous list")
				continue
			}
			logger.Info().Int("stations", len(d.List())).Msg("stations reloaded")
			if onReload != nil {
				onReload()
			}
		}
	}
}
