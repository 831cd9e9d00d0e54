// Package watcher triggers pipeline runs when input files change.
package watcher

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Event represents a file system event.
type Event struct {
	Path      string
	Operation Operation
}

// Operation represents the type of file operation.
type Operation int

// File operation types.
const (
	OpCreate Operation = iota
	OpModify
	OpDelete
)

// String returns the string representation of the operation.
func (o Operation) String() string {
	switch o {
	case OpCreate:
		return "create"
	case OpModify:
		return "modify"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Handler is called once per settled batch of events. Calls never overlap.
type Handler func(ctx context.Context, events []Event) error

// pendingEvent holds a debounced event with its operation.
type pendingEvent struct {
	timestamp time.Time
	op        Operation
}

// Watcher watches input files and directories and reports settled changes in batches.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	handler   Handler
	logger    *slog.Logger
	paths     []string
	match     func(path string) bool
	debounce  time.Duration

	mu      sync.Mutex
	pending map[string]*pendingEvent
	files   map[string]bool // watched single files; empty means whole directories
	ignore  map[string]bool

	handlerMu sync.Mutex
}

// Config holds watcher configuration.
type Config struct {
	Paths    []string               // Files or directories to watch
	Ignore   []string               // Files whose events are dropped, e.g. pipeline outputs
	Match    func(path string) bool // Filter for files inside watched directories
	Debounce time.Duration
}

// New creates a new file watcher.
func New(cfg Config, handler Handler, logger *slog.Logger) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if cfg.Debounce == 0 {
		cfg.Debounce = 500 * time.Millisecond
	}
	if cfg.Match == nil {
		cfg.Match = func(string) bool { return true }
	}

	w := &Watcher{
		fsWatcher: fsWatcher,
		handler:   handler,
		logger:    logger,
		paths:     cfg.Paths,
		match:     cfg.Match,
		debounce:  cfg.Debounce,
		pending:   make(map[string]*pendingEvent),
		files:     make(map[string]bool),
		ignore:    make(map[string]bool),
	}
	for _, p := range cfg.Ignore {
		if abs, err := filepath.Abs(p); err == nil {
			w.ignore[abs] = true
		}
	}
	return w, nil
}

// Start starts watching the configured paths.
func (w *Watcher) Start(ctx context.Context) error {
	for _, path := range w.paths {
		if err := w.AddPath(path); err != nil {
			w.logger.Warn("failed to watch path", "path", path, "error", err)
		}
	}

	// Start event loop
	go w.eventLoop(ctx)

	// Start debounce processor
	go w.debounceLoop(ctx)

	return nil
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	return w.fsWatcher.Close()
}

// AddPath watches a directory, or the directory of a single file.
// Files are watched through their directory so atomic replacements are seen.
func (w *Watcher) AddPath(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	dir := absPath
	if info, err := os.Stat(absPath); err == nil && !info.IsDir() {
		dir = filepath.Dir(absPath)
		w.mu.Lock()
		w.files[absPath] = true
		w.mu.Unlock()
	}

	if err := w.fsWatcher.Add(dir); err != nil {
		return err
	}

	w.logger.Info("watching", "path", absPath)
	return nil
}

// eventLoop processes fsnotify events.
func (w *Watcher) eventLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.handleFsEvent(event)

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("watcher error", "error", err)
		}
	}
}

// handleFsEvent processes a single fsnotify event.
func (w *Watcher) handleFsEvent(event fsnotify.Event) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.relevant(event.Name) {
		return
	}

	w.logger.Debug("file event", "path", event.Name, "op", event.Op.String())

	op := fsnotifyOpToOperation(event.Op)

	existing, exists := w.pending[event.Name]
	if !exists {
		w.pending[event.Name] = &pendingEvent{
			timestamp: time.Now(),
			op:        op,
		}
		return
	}

	updatePendingEvent(existing, op)
}

// relevant reports whether an event path should be queued. Callers hold mu.
func (w *Watcher) relevant(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil || w.ignore[abs] {
		return false
	}
	if len(w.files) > 0 {
		if w.files[abs] {
			return true
		}
		// Shapefile members change together with the watched .shp.
		return w.files[siblingShp(abs)] && w.match(abs)
	}
	return w.match(abs)
}

func siblingShp(path string) string {
	return path[:len(path)-len(filepath.Ext(path))] + ".shp"
}

// updatePendingEvent updates an existing pending event based on the new operation.
func updatePendingEvent(existing *pendingEvent, newOp Operation) {
	existing.timestamp = time.Now()

	switch {
	case existing.op == OpDelete && newOp == OpCreate:
		// File was deleted then recreated - use create operation
		existing.op = OpCreate
	case newOp == OpDelete:
		existing.op = OpDelete
	}
}

// debounceLoop processes debounced events.
func (w *Watcher) debounceLoop(ctx context.Context) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			if batch := w.takeSettled(time.Now()); len(batch) > 0 {
				go w.dispatch(ctx, batch)
			}
		}
	}
}

// takeSettled removes and returns events that have been quiet for the debounce period.
// Nothing is returned while any event is still settling, so one edit session yields one batch.
func (w *Watcher) takeSettled(now time.Time) []Event {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, p := range w.pending {
		if now.Sub(p.timestamp) < w.debounce {
			return nil
		}
	}

	batch := make([]Event, 0, len(w.pending))
	for path, p := range w.pending {
		batch = append(batch, Event{Path: path, Operation: p.op})
		delete(w.pending, path)
	}
	sort.Slice(batch, func(i, j int) bool { return batch[i].Path < batch[j].Path })
	return batch
}

func (w *Watcher) dispatch(ctx context.Context, batch []Event) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()

	w.logger.Info("processing file events", "count", len(batch), "first", batch[0].Path)

	if err := w.handler(ctx, batch); err != nil {
		w.logger.Error("handler error", "count", len(batch), "error", err)
	}
}

// fsnotifyOpToOperation converts fsnotify.Op to our Operation type.
func fsnotifyOpToOperation(op fsnotify.Op) Operation {
	switch {
	case op.Has(fsnotify.Remove):
		return OpDelete
	case op.Has(fsnotify.Rename):
		// Rename is treated as delete (the file is gone from original location)
		return OpDelete
	case op.Has(fsnotify.Create):
		return OpCreate
	default:
		// Write, Chmod, etc. are treated as modify
		return OpModify
	}
}
