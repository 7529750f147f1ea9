package gateway

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/coday-ai/coday/pkg/events"
)

// watchWorkspace streams changes under the project root to the session
// as file events. The watch is non-recursive and hidden entries are
// skipped, which keeps the session's own .coday state out of the
// stream. The returned stop function ends the watch and waits for the
// loop to drain.
func watchWorkspace(root string, emit func(events.Event), logger *slog.Logger) (func(), error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(root); err != nil {
		fsw.Close()
		return nil, err
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case ev, ok := <-fsw.Events:
				if !ok {
					return
				}
				op, relevant := fileOperation(ev.Op)
				if !relevant {
					continue
				}
				name := filepath.Base(ev.Name)
				if strings.HasPrefix(name, ".") {
					continue
				}
				var size int64
				if op != events.FileDeleted {
					if fi, err := os.Stat(ev.Name); err == nil && fi.Mode().IsRegular() {
						size = fi.Size()
					}
				}
				emit(events.NewFileEvent(op, name, size))
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				logger.Debug("workspace watch error", "error", err)
			}
		}
	}()

	return func() {
		fsw.Close()
		wg.Wait()
	}, nil
}

// fileOperation maps a notify op onto the event vocabulary. A rename is
// a deletion under the old name; the new name arrives as its own create.
func fileOperation(op fsnotify.Op) (events.FileOperation, bool) {
	switch {
	case op&fsnotify.Create != 0:
		return events.FileCreated, true
	case op&fsnotify.Write != 0:
		return events.FileUpdated, true
	case op&(fsnotify.Remove|fsnotify.Rename) != 0:
		return events.FileDeleted, true
	}
	return "", false
}
