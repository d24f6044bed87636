// Package watcher reloads definition files when they change on disk.
//
// The directories containing the files are watched rather than the files
// themselves, so editors that save by writing a new file and renaming it
// over the old one are still noticed. Bursts of events are coalesced and
// the reload callback receives every file that changed in the burst.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/dshills/modelocal/internal/logging"
)

// DefaultDebounce is the quiet period before a reload.
const DefaultDebounce = 100 * time.Millisecond

// ErrClosed is returned by Run after Close.
var ErrClosed = errors.New("watcher closed")

// ReloadFunc is called with the changed files, sorted.
type ReloadFunc func(paths []string) error

// Watcher watches a fixed set of files.
type Watcher struct {
	fsw      *fsnotify.Watcher
	files    map[string]bool
	reload   ReloadFunc
	debounce time.Duration
	log      *logging.Logger

	closeOnce sync.Once
	closeCh   chan struct{}
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets the quiet period before a reload.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithLogger sets the logger for reload results and watch errors.
func WithLogger(l *logging.Logger) Option {
	return func(w *Watcher) {
		if l != nil {
			w.log = l
		}
	}
}

// New watches paths and calls reload when any of them change.
func New(paths []string, reload ReloadFunc, opts ...Option) (*Watcher, error) {
	if len(paths) == 0 {
		return nil, errors.New("watcher: no files to watch")
	}

	w := &Watcher{
		files:    make(map[string]bool, len(paths)),
		reload:   reload,
		debounce: DefaultDebounce,
		log:      logging.Null(),
		closeCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.log = w.log.WithComponent("watcher")

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watcher: %w", err)
	}
	w.fsw = fsw

	dirs := make(map[string]bool)
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			_ = fsw.Close()
			return nil, fmt.Errorf("watcher: %w", err)
		}
		w.files[abs] = true
		dirs[filepath.Dir(abs)] = true
	}
	for dir := range dirs {
		if err := fsw.Add(dir); err != nil {
			_ = fsw.Close()
			return nil, fmt.Errorf("watcher: watching %s: %w", dir, err)
		}
	}
	return w, nil
}

// Files returns the watched files, sorted.
func (w *Watcher) Files() []string {
	files := make([]string, 0, len(w.files))
	for f := range w.files {
		files = append(files, f)
	}
	sort.Strings(files)
	return files
}

// Run processes events until ctx is cancelled or Close is called.
// It returns ctx.Err() or ErrClosed.
func (w *Watcher) Run(ctx context.Context) error {
	pending := make(map[string]bool)
	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-w.closeCh:
			return ErrClosed

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return ErrClosed
			}
			if !w.relevant(ev) {
				continue
			}
			w.log.Debug("%s %s", ev.Op, ev.Name)
			pending[filepath.Clean(ev.Name)] = true
			timer.Reset(w.debounce)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return ErrClosed
			}
			w.log.Error("watch error: %v", err)

		case <-timer.C:
			if len(pending) == 0 {
				continue
			}
			changed := make([]string, 0, len(pending))
			for p := range pending {
				changed = append(changed, p)
			}
			sort.Strings(changed)
			clear(pending)

			if err := w.reload(changed); err != nil {
				w.log.Error("reload failed: %v", err)
			} else {
				w.log.Info("reloaded %d file(s)", len(changed))
			}
		}
	}
}

func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if !w.files[filepath.Clean(ev.Name)] {
		return false
	}
	return ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename)
}

// Close stops the watcher. It is safe to call Close multiple times.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.closeCh)
		err = w.fsw.Close()
	})
	return err
}
