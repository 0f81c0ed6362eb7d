// Package watch follows a snapshot file and reports its contents each time
// the tracker rewrites it.
package watch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/willibrandon/dyno/pkg/heapfile"
	"github.com/willibrandon/dyno/pkg/registry"
)

// DefaultDebounce is how long the watcher waits after the last change before
// reading the file. A rewrite is a truncate followed by a write, and reading
// between the two would see an empty snapshot.
const DefaultDebounce = 20 * time.Millisecond

// Update is one observed state of the snapshot file.
type Update struct {
	Records []registry.Record
	Err     error
	Time    time.Time
}

// Watcher follows one snapshot file.
type Watcher struct {
	path     string
	debounce time.Duration
	w        *fsnotify.Watcher
	updates  chan Update
}

// New watches the directory holding path. The file need not exist yet.
func New(path string, debounce time.Duration) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("watch: resolve %s: %w", path, err)
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: %w", err)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch: add %s: %w", filepath.Dir(abs), err)
	}

	return &Watcher{
		path:     abs,
		debounce: debounce,
		w:        w,
		updates:  make(chan Update, 16),
	}, nil
}

// Path returns the absolute path being watched.
func (w *Watcher) Path() string { return w.path }

// Updates delivers the file's state. The first update is the state at the
// time Run starts, if the file exists. The channel is closed when Run returns.
func (w *Watcher) Updates() <-chan Update { return w.updates }

// Run follows the file until ctx ends, then closes the watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer close(w.updates)
	defer w.w.Close()

	if _, err := os.Stat(w.path); err == nil {
		if !w.send(ctx, w.read()) {
			return nil
		}
	}

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	pending := false

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.w.Events:
			if !ok {
				return nil
			}
			if !relevant(ev, w.path) {
				continue
			}
			if pending && !timer.Stop() {
				<-timer.C
			}
			timer.Reset(w.debounce)
			pending = true
		case err, ok := <-w.w.Errors:
			if !ok {
				return nil
			}
			if !w.send(ctx, Update{Err: err, Time: time.Now()}) {
				return nil
			}
		case <-timer.C:
			pending = false
			if !w.send(ctx, w.read()) {
				return nil
			}
		}
	}
}

func (w *Watcher) read() Update {
	recs, err := heapfile.ReadFile(w.path)
	if errors.Is(err, os.ErrNotExist) {
		recs, err = []registry.Record{}, nil
	}
	return Update{Records: recs, Err: err, Time: time.Now()}
}

func (w *Watcher) send(ctx context.Context, u Update) bool {
	select {
	case w.updates <- u:
		return true
	case <-ctx.Done():
		return false
	}
}

// relevant reports whether ev changes the contents at path.
func relevant(ev fsnotify.Event, path string) bool {
	if filepath.Clean(ev.Name) != path {
		return false
	}
	return ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0
}
