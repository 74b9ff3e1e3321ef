// Package watcher watches directory sources with fsnotify and triggers a
// refresh of the owning client when files change. Changes are debounced per
// root: a burst of file events collapses into one reconciliation pass, which
// handles adds, updates, and removals uniformly.
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const defaultDebounce = 500 * time.Millisecond

// Watcher maps watched roots to client ids and invokes onRefresh(clientID)
// after the debounce window closes.
type Watcher struct {
	extensions []string
	recursive  bool
	onRefresh  func(clientID string)
	debounce   time.Duration

	watcher *fsnotify.Watcher

	mu       sync.Mutex
	roots    map[string]string // root dir -> client id
	timers   map[string]*time.Timer
	started  bool
	done     chan struct{}
	stopOnce sync.Once

	logger *zap.Logger
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// WithDebounce overrides the debounce window.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// New creates a watcher. onRefresh is called with the client id owning the
// changed root; extensions filter which files count as changes (empty = all).
func New(extensions []string, recursive bool, onRefresh func(clientID string), opts ...Option) *Watcher {
	w := &Watcher{
		extensions: extensions,
		recursive:  recursive,
		onRefresh:  onRefresh,
		debounce:   defaultDebounce,
		roots:      make(map[string]string),
		timers:     make(map[string]*time.Timer),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start begins watching. It runs until ctx is cancelled or Stop is called.
// Roots registered with Watch before Start are added immediately.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	w.watcher = watcher
	w.started = true
	for root := range w.roots {
		if err := w.addTreeLocked(root); err != nil {
			_ = w.watcher.Close()
			w.watcher = nil
			w.started = false
			w.mu.Unlock()
			return err
		}
	}
	w.mu.Unlock()
	go w.run(ctx)
	return nil
}

// Watch registers a root directory for a client. Safe before or after Start.
func (w *Watcher) Watch(clientID, root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	abs = filepath.Clean(abs)
	w.mu.Lock()
	defer w.mu.Unlock()
	w.roots[abs] = clientID
	if w.watcher == nil {
		return nil
	}
	if err := w.addTreeLocked(abs); err != nil {
		delete(w.roots, abs)
		return err
	}
	if w.logger != nil {
		w.logger.Debug("watch root added",
			zap.String("client_id", clientID), zap.String("root", abs))
	}
	return nil
}

func (w *Watcher) addTreeLocked(root string) error {
	if !w.recursive {
		return w.watcher.Add(root)
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.watcher.Add(path)
		}
		return nil
	})
}

func (w *Watcher) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			if err != nil && w.logger != nil {
				w.logger.Debug("watcher error", zap.Error(err))
			}
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	root, clientID := w.rootFor(ev.Name)
	if root == "" {
		return
	}
	if ev.Op.Has(fsnotify.Create) && w.recursive {
		// A new subdirectory must be watched before its files produce events.
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			w.mu.Lock()
			if w.watcher != nil {
				_ = w.addTreeLocked(ev.Name)
			}
			w.mu.Unlock()
			w.scheduleRefresh(root, clientID)
			return
		}
	}
	if !matchExtension(ev.Name, w.extensions) {
		return
	}
	if ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Write) ||
		ev.Op.Has(fsnotify.Remove) || ev.Op.Has(fsnotify.Rename) {
		if w.logger != nil {
			w.logger.Debug("watcher event",
				zap.String("op", ev.Op.String()), zap.String("path", ev.Name))
		}
		w.scheduleRefresh(root, clientID)
	}
}

// rootFor returns the watched root containing path and its client id.
func (w *Watcher) rootFor(path string) (string, string) {
	clean := filepath.Clean(path)
	w.mu.Lock()
	defer w.mu.Unlock()
	for root, clientID := range w.roots {
		if root == clean || inDir(root, clean) {
			return root, clientID
		}
	}
	return "", ""
}

func inDir(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func matchExtension(path string, extensions []string) bool {
	if len(extensions) == 0 {
		return true
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	for _, e := range extensions {
		if strings.TrimPrefix(strings.ToLower(e), ".") == ext {
			return true
		}
	}
	return false
}

// scheduleRefresh (re)arms the root's debounce timer. The refresh fires once
// the root has been quiet for the debounce window.
func (w *Watcher) scheduleRefresh(root, clientID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[root]; ok {
		t.Stop()
	}
	w.timers[root] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.timers, root)
		logger := w.logger
		w.mu.Unlock()
		if logger != nil {
			logger.Debug("refresh triggered",
				zap.String("client_id", clientID), zap.String("root", root))
		}
		if w.onRefresh != nil {
			w.onRefresh(clientID)
		}
	})
}

// Roots returns the watched roots and their client ids.
func (w *Watcher) Roots() map[string]string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(map[string]string, len(w.roots))
	for k, v := range w.roots {
		out[k] = v
	}
	return out
}

// Stop stops the watcher and releases resources.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.started || w.watcher == nil {
		w.mu.Unlock()
		return
	}
	for root, t := range w.timers {
		t.Stop()
		delete(w.timers, root)
	}
	_ = w.watcher.Close()
	w.watcher = nil
	w.started = false
	w.mu.Unlock()
	w.stopOnce.Do(func() { close(w.done) })
}
