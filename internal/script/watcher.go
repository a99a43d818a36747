package script

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	"github.com/framestep/tasbridge/internal/input"
)

// Watcher flags a timeline as stale when one of its files changes on disk.
type Watcher struct {
	w      *fsnotify.Watcher
	logger *slog.Logger
	dirty  atomic.Bool

	mu    sync.Mutex
	dirs  map[string]struct{}
	files map[string]struct{}
}

// NewWatcher creates a watcher on the OS filesystem.
func NewWatcher(logger *slog.Logger) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		w:      w,
		logger: logger,
		dirs:   make(map[string]struct{}),
		files:  make(map[string]struct{}),
	}, nil
}

// Watch replaces the watched file set with the files of tl. Directories are
// watched so that editors replacing files by rename are noticed too.
func (w *Watcher) Watch(tl *input.Timeline) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	files := make(map[string]struct{}, len(tl.Checksums))
	dirs := make(map[string]struct{})
	for path := range tl.Checksums {
		abs := absPath(path)
		files[abs] = struct{}{}
		dirs[filepath.Dir(abs)] = struct{}{}
	}

	// Add before removing so a failed Add leaves the previous set intact.
	var added []string
	for dir := range dirs {
		if _, ok := w.dirs[dir]; ok {
			continue
		}
		if err := w.w.Add(dir); err != nil {
			for _, d := range added {
				_ = w.w.Remove(d)
			}
			return err
		}
		added = append(added, dir)
	}
	for dir := range w.dirs {
		if _, keep := dirs[dir]; !keep {
			_ = w.w.Remove(dir)
		}
	}

	w.dirs = dirs
	w.files = files
	w.dirty.Store(false)
	return nil
}

// Run processes filesystem events until ctx is done.
func (w *Watcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.w.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) && !ev.Has(fsnotify.Remove) {
				continue
			}
			w.mu.Lock()
			_, watched := w.files[absPath(ev.Name)]
			w.mu.Unlock()
			if watched {
				w.logger.Debug("Script file changed", "file", ev.Name, "op", ev.Op.String())
				w.dirty.Store(true)
			}
		case err, ok := <-w.w.Errors:
			if !ok {
				return
			}
			w.logger.Warn("File watcher error", "error", err)
		}
	}
}

// Dirty reports whether a watched file changed since the last Watch or Reset.
func (w *Watcher) Dirty() bool {
	return w.dirty.Load()
}

// Reset clears the dirty flag.
func (w *Watcher) Reset() {
	w.dirty.Store(false)
}

// Close stops watching.
func (w *Watcher) Close() error {
	return w.w.Close()
}
