// Package watcher watches an inbox directory and reports video files once
// they have finished being written.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

type Watcher interface {
	Watch(ctx context.Context, path string) error
	Stop() error
	OnChange(callback func(path string, event EventType))
}

type EventType int

const (
	EventCreate EventType = iota
	EventDelete
)

func (e EventType) String() string {
	if e == EventDelete {
		return "delete"
	}
	return "create"
}

// DefaultSettle is how long a file must stay unchanged before it is reported.
const DefaultSettle = 2 * time.Second

// FSWatcher reports a file once no writes have touched it for the settle
// period. Hidden files and files rejected by the filter are ignored. A path
// is reported once until it is removed or renamed away.
type FSWatcher struct {
	logger *slog.Logger
	settle time.Duration
	filter func(name string) bool

	mu       sync.Mutex
	callback func(path string, event EventType)
	pending  map[string]*time.Timer
	reported map[string]bool
	fw       *fsnotify.Watcher
	done     chan struct{}
}

func NewFSWatcher(settle time.Duration, filter func(name string) bool, logger *slog.Logger) *FSWatcher {
	if settle <= 0 {
		settle = DefaultSettle
	}
	if filter == nil {
		filter = func(string) bool { return true }
	}
	return &FSWatcher{
		logger:   logger,
		settle:   settle,
		filter:   filter,
		pending:  make(map[string]*time.Timer),
		reported: make(map[string]bool),
	}
}

func (w *FSWatcher) OnChange(callback func(path string, event EventType)) {
	w.mu.Lock()
	w.callback = callback
	w.mu.Unlock()
}

// Watch starts watching dir, creating it if needed. Events are delivered
// until ctx is done or Stop is called.
func (w *FSWatcher) Watch(ctx context.Context, dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create inbox dir: %w", err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	w.mu.Lock()
	if w.fw != nil {
		w.mu.Unlock()
		fw.Close()
		return fmt.Errorf("watcher already running")
	}
	w.fw = fw
	w.done = make(chan struct{})
	done := w.done
	w.mu.Unlock()

	w.logger.Info("watching inbox", "path", dir, "settle", w.settle)
	go w.loop(ctx, fw, done)
	return nil
}

func (w *FSWatcher) loop(ctx context.Context, fw *fsnotify.Watcher, done chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-done:
			return
		case ev, ok := <-fw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", "error", err)
		}
	}
}

func (w *FSWatcher) handle(ev fsnotify.Event) {
	name := filepath.Base(ev.Name)
	if strings.HasPrefix(name, ".") || !w.filter(name) {
		return
	}

	switch {
	case ev.Has(fsnotify.Create), ev.Has(fsnotify.Write):
		w.schedule(ev.Name)
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		w.mu.Lock()
		t, waiting := w.pending[ev.Name]
		if waiting {
			t.Stop()
			delete(w.pending, ev.Name)
		}
		delete(w.reported, ev.Name)
		w.mu.Unlock()
		if !waiting {
			w.emit(ev.Name, EventDelete)
		}
	}
}

func (w *FSWatcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.reported[path] {
		return
	}
	if t, ok := w.pending[path]; ok {
		t.Reset(w.settle)
		return
	}
	w.pending[path] = time.AfterFunc(w.settle, func() { w.settled(path) })
}

func (w *FSWatcher) settled(path string) {
	info, err := os.Stat(path)

	w.mu.Lock()
	delete(w.pending, path)
	ok := err == nil && info.Mode().IsRegular() && !w.reported[path]
	if ok {
		w.reported[path] = true
	}
	w.mu.Unlock()

	if ok {
		w.emit(path, EventCreate)
	}
}

func (w *FSWatcher) emit(path string, event EventType) {
	w.mu.Lock()
	cb := w.callback
	w.mu.Unlock()

	w.logger.Debug("inbox change", "path", path, "event", event)
	if cb != nil {
		cb(path, event)
	}
}

// Stop releases the underlying watcher. Files still settling are dropped.
func (w *FSWatcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fw == nil {
		return nil
	}
	for p, t := range w.pending {
		t.Stop()
		delete(w.pending, p)
	}
	close(w.done)
	err := w.fw.Close()
	w.fw = nil
	return err
}
