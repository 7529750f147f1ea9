package config

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultWatchDebounce = 250 * time.Millisecond

// Watcher reloads level files when they change on disk. Change storms
// (editors write-then-rename, multiple levels saved together) are
// debounced into one callback. Reload failures are logged and the
// previous view stays active; a watcher never takes the server down.
type Watcher struct {
	watcher  *fsnotify.Watcher
	onChange func(path string)
	debounce time.Duration
	logger   *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// WatchFiles watches the given files and invokes onChange with the
// changed path after the debounce window. Paths that do not exist yet
// are skipped; watching their directory is the caller's concern.
func WatchFiles(paths []string, debounce time.Duration, onChange func(path string), logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if debounce <= 0 {
		debounce = defaultWatchDebounce
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	for _, path := range paths {
		if err := fsw.Add(path); err != nil {
			logger.Debug("config watch skipped", "path", path, "error", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		watcher:  fsw,
		onChange: onChange,
		debounce: debounce,
		logger:   logger.With("component", "config_watcher"),
		cancel:   cancel,
	}
	w.wg.Add(1)
	go w.loop(ctx)
	return w, nil
}

// Close stops the watcher and waits for its loop to exit.
func (w *Watcher) Close() error {
	w.cancel()
	err := w.watcher.Close()
	w.wg.Wait()
	return err
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()

	var mu sync.Mutex
	timers := make(map[string]*time.Timer)
	schedule := func(path string) {
		mu.Lock()
		defer mu.Unlock()
		if t, ok := timers[path]; ok {
			t.Stop()
		}
		timers[path] = time.AfterFunc(w.debounce, func() {
			w.onChange(path)
		})
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				// Atomic saves replace the file; re-add so the next
				// change is still observed.
				if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
					if err := w.watcher.Add(event.Name); err != nil {
						w.logger.Debug("config rewatch failed", "path", event.Name, "error", err)
					}
				}
				schedule(event.Name)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watch error", "error", err)
		}
	}
}
