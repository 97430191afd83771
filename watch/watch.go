// Package watch monitors a database's files on disk and reports when
// something other than this process touches them. It feeds the connection
// core's external-change detection; the data-version check decides whether
// a change was actually foreign.
package watch

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const debounce = 100 * time.Millisecond

// Watcher watches the database file plus its -wal and -shm companions and
// invokes the callback, debounced, when any of them changes.
type Watcher struct {
	log    *zap.Logger
	fsw    *fsnotify.Watcher
	onPing func()

	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
	done    chan struct{}
}

// New starts watching the files of the database at path. onPing is called
// from the watcher's goroutine; it must be safe for concurrent use.
func New(path string, log *zap.Logger, onPing func()) (*Watcher, error) {
	if log == nil {
		log = zap.NewNop()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Watch the directory rather than the files: -wal and -shm appear and
	// disappear as other connections open and close.
	dir := filepath.Dir(path)
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{
		log:    log,
		fsw:    fsw,
		onPing: onPing,
		done:   make(chan struct{}),
	}

	base := filepath.Base(path)
	names := map[string]bool{
		base:          true,
		base + "-wal": true,
		base + "-shm": true,
	}
	go w.run(names)
	return w, nil
}

func (w *Watcher) run(names map[string]bool) {
	defer close(w.done)
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !names[filepath.Base(ev.Name)] {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			w.ping()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("file watcher error", zap.Error(err))
		}
	}
}

// ping coalesces bursts of events into one callback.
func (w *Watcher) ping() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(debounce, w.onPing)
}

// Close stops watching. Pending debounced callbacks are cancelled.
func (w *Watcher) Close() error {
	w.mu.Lock()
	w.stopped = true
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()

	err := w.fsw.Close()
	<-w.done
	return err
}
