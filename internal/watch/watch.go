// Package watch reports CSV and XLSX files dropped into a directory.
package watch

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dvloznov/accountbook/internal/logger"
	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long a file must stay quiet before it is reported.
// Spreadsheet exports are often written in several steps.
const DefaultDebounce = 500 * time.Millisecond

// Handler is called once per settled file.
type Handler func(ctx context.Context, path string)

// Watcher reports import files written to a single directory.
type Watcher struct {
	dir      string
	debounce time.Duration
	handler  Handler

	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool
	wg     sync.WaitGroup
}

// New creates a watcher for dir. A debounce of zero uses DefaultDebounce.
func New(dir string, debounce time.Duration, handler Handler) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		dir:      dir,
		debounce: debounce,
		handler:  handler,
		timers:   make(map[string]*time.Timer),
	}
}

// IsImportFile reports whether name has a CSV or XLSX extension.
func IsImportFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv", ".xlsx":
		return true
	}
	return false
}

// Run watches the directory until ctx is done. Pending files are dropped on
// exit and in-flight handlers are waited for.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("Watcher.Run: create watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("Watcher.Run: watch %s: %w", w.dir, err)
	}

	log := logger.FromContext(ctx)
	log.Info().Str("dir", w.dir).Msg("Watching for import files")

	defer func() {
		w.mu.Lock()
		w.closed = true
		for path, t := range w.timers {
			t.Stop()
			delete(w.timers, path)
		}
		w.mu.Unlock()
		w.wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 || !IsImportFile(event.Name) {
				continue
			}
			w.schedule(ctx, event.Name)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("File watcher error")
		}
	}
}

// schedule resets the quiet period for path.
func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.timers[path]; ok {
		t.Stop()
	}
	var t *time.Timer
	t = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		// A newer event may have replaced this timer after it fired.
		if w.timers[path] != t || w.closed || ctx.Err() != nil {
			w.mu.Unlock()
			return
		}
		delete(w.timers, path)
		w.wg.Add(1)
		w.mu.Unlock()

		defer w.wg.Done()
		w.handler(ctx, path)
	})
	w.timers[path] = t
}
