package catalog

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"mio/internal/config"
	"mio/internal/logging"
	"mio/internal/store"
)

// DefaultSettle is how long a path must stay quiet before it is registered.
const DefaultSettle = 2 * time.Second

// Enqueuer adds freshly registered items to the optimisation queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, itemID int64, priority, maxRetries int) (bool, error)
}

// Registrar registers one file with the catalog.
type Registrar interface {
	Register(ctx context.Context, path string) (*store.Item, bool, error)
}

// WatcherOption customises a Watcher.
type WatcherOption func(*Watcher)

// WithSettle overrides the quiet period applied before registering a path.
func WithSettle(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.settle = d
		}
	}
}

// WithWake sets a callback invoked after an item is queued.
func WithWake(fn func()) WatcherOption {
	return func(w *Watcher) { w.wake = fn }
}

// Watcher registers new uploads as they land in the media tree.
type Watcher struct {
	root       string
	backupDir  string
	autoQueue  bool
	priority   int
	maxRetries int
	settle     time.Duration

	registrar Registrar
	queue     Enqueuer
	wake      func()
	logger    *slog.Logger

	mu      sync.Mutex
	pending map[string]time.Time
}

// NewWatcher constructs a watcher over cfg.Paths.MediaRoot.
func NewWatcher(cfg *config.Config, registrar Registrar, queue Enqueuer, logger *slog.Logger, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		root:       filepath.Clean(cfg.Paths.MediaRoot),
		backupDir:  filepath.Clean(cfg.Paths.BackupDir),
		autoQueue:  cfg.Optimization.AutoOptimize,
		priority:   cfg.Queue.DefaultPriority,
		maxRetries: cfg.Queue.MaxRetries,
		settle:     DefaultSettle,
		registrar:  registrar,
		queue:      queue,
		logger:     logging.NewComponentLogger(logger, "watcher"),
		pending:    make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run watches until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() {
		if err := fw.Close(); err != nil {
			w.logger.Debug("close watcher", logging.Error(err))
		}
	}()

	if err := w.addTree(fw, w.root, false); err != nil {
		return err
	}
	w.logger.Info("watching media root", logging.String(logging.FieldPath, w.root))

	ticker := time.NewTicker(w.settle / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return fmt.Errorf("watcher closed")
			}
			w.handleEvent(fw, event)
		case err, ok := <-fw.Errors:
			if !ok {
				return fmt.Errorf("watcher error channel closed")
			}
			logging.WarnWithContext(w.logger, "filesystem watch error", "watch_error",
				logging.Error(err),
				logging.String(logging.FieldImpact, "some uploads may not be queued until the next scan"),
			)
		case now := <-ticker.C:
			w.flush(ctx, now)
		}
	}
}

func (w *Watcher) handleEvent(fw *fsnotify.Watcher, event fsnotify.Event) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return
	}
	info, err := os.Stat(event.Name)
	if err != nil {
		return
	}
	if info.IsDir() {
		if event.Has(fsnotify.Create) && !w.ignoredDir(event.Name) {
			if err := w.addTree(fw, event.Name, true); err != nil {
				w.logger.Warn("watch new directory", logging.String(logging.FieldPath, event.Name), logging.Error(err))
			}
		}
		return
	}
	if hasImageExtension(event.Name) {
		w.touch(event.Name)
	}
}

// addTree watches dir and its subdirectories. When markFiles is set the
// images already inside are queued for registration, which covers
// directories moved into the tree in one step.
func (w *Watcher) addTree(fw *fsnotify.Watcher, dir string, markFiles bool) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}
		if d.IsDir() {
			if path != w.root && w.ignoredDir(path) {
				return filepath.SkipDir
			}
			if err := fw.Add(path); err != nil {
				return fmt.Errorf("watch %s: %w", path, err)
			}
			return nil
		}
		if markFiles && d.Type().IsRegular() && hasImageExtension(path) {
			w.touch(path)
		}
		return nil
	})
}

func (w *Watcher) ignoredDir(path string) bool {
	clean := filepath.Clean(path)
	if clean == w.backupDir || strings.HasPrefix(clean, w.backupDir+string(filepath.Separator)) {
		return true
	}
	return strings.HasPrefix(filepath.Base(clean), ".")
}

func (w *Watcher) touch(path string) {
	w.mu.Lock()
	w.pending[path] = time.Now()
	w.mu.Unlock()
}

// flush registers every path that has been quiet for the settle period.
func (w *Watcher) flush(ctx context.Context, now time.Time) {
	var ready []string
	w.mu.Lock()
	for path, seen := range w.pending {
		if now.Sub(seen) >= w.settle {
			ready = append(ready, path)
			delete(w.pending, path)
		}
	}
	w.mu.Unlock()

	for _, path := range ready {
		w.register(ctx, path)
	}
}

func (w *Watcher) register(ctx context.Context, path string) {
	item, created, err := w.registrar.Register(ctx, path)
	if err != nil {
		w.logger.Warn("register upload", logging.String(logging.FieldPath, path), logging.Error(err))
		return
	}
	if item == nil || !created {
		return
	}
	w.logger.Debug("registered upload",
		logging.String(logging.FieldPath, path),
		logging.Int64(logging.FieldItemID, item.ID),
	)
	if !w.autoQueue || w.queue == nil {
		return
	}
	queued, err := w.queue.Enqueue(ctx, item.ID, w.priority, w.maxRetries)
	if err != nil {
		logging.WarnWithContext(w.logger, "queue upload for optimization", "queue_enqueue_failed",
			logging.Int64(logging.FieldItemID, item.ID),
			logging.Error(err),
		)
		return
	}
	if queued {
		w.logger.Info("upload queued for optimization",
			logging.String(logging.FieldPath, path),
			logging.Int64(logging.FieldItemID, item.ID),
			logging.String(logging.FieldEventType, "queue_enqueued"),
		)
		if w.wake != nil {
			w.wake()
		}
	}
}
