// Package watcher tracks configuration files on disk (the services
// manifest, primarily) and reports debounced change batches.
package watcher

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"

	"github.com/aservis/maestro/internal/logger"
)

var log = logger.ForComponent("watcher")

// Watcher watches the parent directories of registered files. Watching the
// directory instead of the file survives atomic saves (write to temp +
// rename), which replace the inode fsnotify would otherwise track.
type Watcher struct {
	config    WatcherConfig
	fs        *fsnotify.Watcher
	fsMu      sync.Mutex
	debouncer *Debouncer

	mu      sync.RWMutex
	files   map[string]struct{}
	dirs    map[string]struct{}
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func New(config WatcherConfig, onChange func([]FileEvent)) (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	w := &Watcher{
		config: config,
		fs:     fs,
		files:  make(map[string]struct{}),
		dirs:   make(map[string]struct{}),
	}
	w.debouncer = NewDebouncer(config.DebounceWindow, config.MaxBatchSize, onChange)

	return w, nil
}

// Watch registers a file of interest. Events for anything else in the same
// directory are filtered out.
func (w *Watcher) Watch(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	dir := filepath.Dir(abs)

	w.mu.Lock()
	w.files[abs] = struct{}{}
	_, watched := w.dirs[dir]
	if !watched {
		w.dirs[dir] = struct{}{}
	}
	w.mu.Unlock()

	if watched {
		return nil
	}

	w.fsMu.Lock()
	defer w.fsMu.Unlock()
	if err := w.fs.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	log.Debug("watching directory", "path", dir)
	return nil
}

func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("watcher already running")
	}
	ctx, w.cancel = context.WithCancel(ctx)
	w.running = true
	w.mu.Unlock()

	w.wg.Add(1)
	go w.loop(ctx)
	return nil
}

func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	cancel := w.cancel
	w.mu.Unlock()

	cancel()
	w.fs.Close()
	w.wg.Wait()
	w.debouncer.Stop()
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			log.Warn("watch error", "error", err)
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	path := filepath.Clean(event.Name)

	if w.shouldIgnore(path) {
		return
	}

	w.mu.RLock()
	_, interested := w.files[path]
	w.mu.RUnlock()
	if !interested {
		return
	}

	var typ EventType
	switch {
	case event.Op.Has(fsnotify.Create):
		typ = EventCreate
	case event.Op.Has(fsnotify.Write):
		typ = EventModify
	case event.Op.Has(fsnotify.Remove):
		typ = EventDelete
	case event.Op.Has(fsnotify.Rename):
		typ = EventRename
	default:
		return
	}

	log.Debug("file event", "path", path, "type", typ.String())
	w.debouncer.Add(FileEvent{Path: path, Type: typ, Timestamp: time.Now()})
}

func (w *Watcher) shouldIgnore(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return true
	}
	slashed := filepath.ToSlash(path)
	for _, pattern := range w.config.IgnorePatterns {
		if ok, _ := doublestar.Match(pattern, slashed); ok {
			return true
		}
	}
	return false
}
