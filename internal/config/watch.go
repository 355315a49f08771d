package config

import (
	"context"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watch monitors path for changes and calls onChange with the newly loaded
// Config each time the file is rewritten. It blocks until ctx is cancelled.
//
// A failed reload (invalid YAML, validation error) is logged and the
// previous configuration stays active; onChange is not called.
func Watch(ctx context.Context, log zerolog.Logger, path string, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return err
	}

	log = log.With().Str("component", "config-watch").Logger()
	log.Info().Str("path", path).Msg("watching config for changes")

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			// Editors often save atomically via rename, which shows up as a
			// create event on the watched path.
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			cfg, err := Load(path)
			if err != nil {
				log.Error().Err(err).Str("path", path).Msg("config reload failed, keeping previous config")
				continue
			}

			log.Info().Str("path", path).Int("services", len(cfg.Services)).Msg("config reloaded")
			onChange(cfg)

			// An atomic save replaces the inode; re-add the path.
			_ = watcher.Add(path)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Error().Err(err).Msg("config watcher error")
		}
	}
}
