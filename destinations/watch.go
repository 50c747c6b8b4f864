package destinations

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

/* Watch reloads the loaded file whenever it changes on disk, until ctx is done
 * The parent directory is watched so editors that replace the file are picked up
 * A reload that fails validation is logged and the previous configuration is kept
 */
func (l *Loader) Watch(ctx context.Context, logger zerolog.Logger, onReload func()) error {
	path := l.Path()
	if path == "" {
		return fmt.Errorf("watching destinations: nothing loaded yet")
	}
	target, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolving destinations path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watching %s: %w", filepath.Dir(target), err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				name, _ := filepath.Abs(ev.Name)
				if name != target || !ev.Has(fsnotify.Write|fsnotify.Create) {
					continue
				}
				if err := l.Load(path); err != nil {
					logger.Error().Err(err).Str("path", path).Msg("reloading destinations")
					continue
				}
				logger.Info().Str("path", path).Msg("destinations reloaded")
				if onReload != nil {
					onReload()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn().Err(err).Msg("destinations watcher")
			}
		}
	}()
	return nil
}
