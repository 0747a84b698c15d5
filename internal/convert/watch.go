package convert

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatchDebounce is the quiet period after the last change before a
// reconversion starts.
const WatchDebounce = 500 * time.Millisecond

// Watch converts opts.Input once, then again whenever the file is written
// or recreated, until ctx is done. Each outcome is passed to onResult.
// Reconversions replace the output, so Overwrite is implied.
//
// The parent directory is watched so that editors and tools that replace
// the file by rename are picked up.
func Watch(ctx context.Context, opts Options, onResult func(*Result, error)) error {
	opts, err := opts.withDefaults()
	if err != nil {
		return err
	}
	log := opts.Logger

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	input := filepath.Clean(opts.Input)
	if err := watcher.Add(filepath.Dir(input)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", input, err)
	}

	convert := func() {
		res, err := Convert(ctx, opts)
		if err != nil && ctx.Err() != nil {
			return
		}
		onResult(res, err)
		// Later runs replace the first output.
		opts.Overwrite = true
	}
	convert()

	trigger := make(chan struct{}, 1)
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != input || !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(WatchDebounce, func() {
				select {
				case trigger <- struct{}{}:
				default:
				}
			})

		case <-trigger:
			log.Info("input changed, reconverting", "path", input)
			convert()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Error("watcher error", "error", err)
		}
	}
}
