package tuning

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/danielbara00/f24ai-blue-buggy-raspi/internal/cone"
)

// Watch reloads the profile at path whenever it is written, created or
// renamed, and passes every new valid tuning to onChange. The directory is
// watched rather than the file so editors that replace the file on save
// keep working. A profile that fails to load is logged and skipped; the
// previously delivered tuning stays in effect.
//
// Watch blocks until ctx is done.
func Watch(ctx context.Context, path string, logger *zap.SugaredLogger, onChange func(cone.Config)) error {
	target, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve profile path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create profile watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(target), err)
	}
	logger.Infow("watching tuning profile", "path", target)

	var last cone.Config
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			cfg, err := Load(target)
			if err != nil {
				logger.Warnw("ignoring tuning profile change", "path", target, "error", err)
				continue
			}
			// Editors often emit several events per save.
			if cfg == last {
				continue
			}
			last = cfg
			logger.Infow("tuning profile reloaded", "path", target)
			onChange(cfg)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warnw("profile watcher error", "error", err)
		}
	}
}
