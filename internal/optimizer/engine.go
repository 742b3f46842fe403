package optimizer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"mio/internal/backend"
	"mio/internal/config"
	"mio/internal/imageutil"
	"mio/internal/logging"
	"mio/internal/remote"
	"mio/internal/services"
	"mio/internal/store"
	"mio/internal/transcode"
)

const component = "optimizer"

// Store is the persistence surface the engine writes through.
type Store interface {
	SaveRecord(ctx context.Context, record store.Record) error
	AppendLog(ctx context.Context, entry store.LogEntry) error
	UpdateItemSize(ctx context.Context, id int64, size int64) error
	ListVariants(ctx context.Context, itemID int64) ([]store.Variant, error)
	UpdateVariantSize(ctx context.Context, id int64, size int64) error
}

// Backuper preserves originals before mutation.
type Backuper interface {
	Backup(ctx context.Context, item *store.Item) (string, error)
}

// Invalidator is notified when cached aggregates become stale.
type Invalidator interface {
	Invalidate()
}

// Deps wires the engine's collaborators.
type Deps struct {
	Store       Store
	Selector    *backend.Selector
	Transcoders []transcode.Transcoder
	Remote      remote.Provider
	Backups     Backuper
	Stats       Invalidator
	Logger      *slog.Logger
}

// Engine optimises single items.
type Engine struct {
	cfg         *config.Config
	store       Store
	selector    *backend.Selector
	transcoders map[backend.Kind]transcode.Transcoder
	remote      remote.Provider
	backups     Backuper
	stats       Invalidator
	logger      *slog.Logger
}

// NewEngine constructs an engine. A nil selector is derived from the
// availability of the supplied transcoders.
func NewEngine(cfg *config.Config, deps Deps) *Engine {
	logger := logging.NewComponentLogger(deps.Logger, component)
	byKind := make(map[backend.Kind]transcode.Transcoder, len(deps.Transcoders))
	for _, t := range deps.Transcoders {
		if t != nil {
			byKind[t.Kind()] = t
		}
	}
	selector := deps.Selector
	if selector == nil {
		selector = backend.NewSelector(ProbeTranscoders(deps.Transcoders...), deps.Logger)
	}
	return &Engine{
		cfg:         cfg,
		store:       deps.Store,
		selector:    selector,
		transcoders: byKind,
		remote:      deps.Remote,
		backups:     deps.Backups,
		stats:       deps.Stats,
		logger:      logger,
	}
}

// ProbeTranscoders reports capabilities from transcoder availability.
func ProbeTranscoders(ts ...transcode.Transcoder) backend.ProbeFunc {
	return func() backend.Capabilities {
		var caps backend.Capabilities
		for _, t := range ts {
			if t == nil || !t.Available() {
				continue
			}
			switch t.Kind() {
			case backend.KindHighQuality:
				caps.HighQuality = true
			case backend.KindBasic:
				caps.Basic = true
			}
		}
		return caps
	}
}

// Selector exposes the backend decision.
func (e *Engine) Selector() *backend.Selector { return e.selector }

// Remote exposes the configured remote provider.
func (e *Engine) Remote() remote.Provider { return e.remote }

// Process optimises item outside any batch run.
func (e *Engine) Process(ctx context.Context, item *store.Item) Outcome {
	return e.ProcessInRun(ctx, item, "")
}

// ProcessInRun optimises item and tags its record with runID.
func (e *Engine) ProcessInRun(ctx context.Context, item *store.Item, runID string) Outcome {
	if item == nil {
		return Outcome{Status: store.LogFailed, Message: "no item", Err: services.Wrap(services.ErrValidation, component, "process", "nil item", nil)}
	}
	ctx = services.WithItemID(ctx, item.ID)
	ctx = services.WithRunID(ctx, runID)
	logger := logging.WithContext(ctx, e.logger)
	started := time.Now()

	info, err := os.Stat(item.Path)
	if err != nil || info.IsDir() {
		if err == nil {
			err = errors.New("path is a directory")
		}
		out := skipped(item, "file not found", services.Wrap(services.ErrNotFound, component, "stat", item.Path, err))
		e.finish(ctx, logger, item, runID, out)
		return out
	}
	item.Size = info.Size()

	format, err := imageutil.DetectFormat(item.Path)
	if err != nil {
		out := skipped(item, "unreadable", services.Wrap(services.ErrNotFound, component, "detect", item.Path, err))
		e.finish(ctx, logger, item, runID, out)
		return out
	}
	if !format.IsSupported() {
		out := skipped(item, "unsupported format", services.Wrap(services.ErrUnsupported, component, "detect", string(format), nil))
		e.finish(ctx, logger, item, runID, out)
		return out
	}
	if item.Size <= e.minSize() {
		out := skipped(item, "below minimum size "+imageutil.FormatFileSize(e.minSize()), nil)
		e.finish(ctx, logger, item, runID, out)
		return out
	}

	if e.backups != nil {
		if _, err := e.backups.Backup(ctx, item); err != nil {
			logging.WarnWithContext(logger, "backup failed; optimising without a backup", "backup_failed",
				logging.String(logging.FieldPath, item.Path),
				logging.Error(err),
				logging.String(logging.FieldErrorKind, services.Kind(err)),
				logging.String(logging.FieldErrorHint, "check backup_dir permissions and free space"),
				logging.String(logging.FieldImpact, "original cannot be restored for this item"),
			)
		}
	}

	original := item.Size
	method, err := e.optimizeFile(ctx, logger, item.Path, format, original)
	if err != nil {
		rec := store.Record{
			ItemID:        item.ID,
			Optimized:     false,
			Method:        method,
			OriginalSize:  original,
			OptimizedSize: original,
			Error:         err.Error(),
			RunID:         runID,
		}
		out := Outcome{
			ItemID:  item.ID,
			Status:  store.LogFailed,
			Record:  rec,
			Message: fmt.Sprintf("%s: failed (%s)", filepath.Base(item.Path), err.Error()),
			Err:     err,
		}
		e.finish(ctx, logger, item, runID, out)
		return out
	}

	optimized, err := os.Stat(item.Path)
	if err != nil {
		err = services.Wrap(services.ErrIntegrity, component, "restat", item.Path, err)
		out := Outcome{
			ItemID:  item.ID,
			Status:  store.LogFailed,
			Record:  store.Record{ItemID: item.ID, Method: method, OriginalSize: original, OptimizedSize: original, Error: err.Error(), RunID: runID},
			Message: fmt.Sprintf("%s: failed (%s)", filepath.Base(item.Path), err.Error()),
			Err:     err,
		}
		e.finish(ctx, logger, item, runID, out)
		return out
	}
	item.Size = optimized.Size()

	rec := store.Record{
		ItemID:        item.ID,
		Optimized:     true,
		Method:        method,
		OriginalSize:  original,
		OptimizedSize: optimized.Size(),
		RunID:         runID,
	}
	variantOriginal, variantOptimized := e.optimizeVariants(ctx, logger, item, method)
	rec.OriginalSize += variantOriginal
	rec.OptimizedSize += variantOptimized
	rec.Savings = imageutil.Savings(rec.OriginalSize, rec.OptimizedSize)

	out := Outcome{ItemID: item.ID, Status: store.LogSuccess, Record: rec, Message: successMessage(item.Path, rec)}
	e.finish(ctx, logger, item, runID, out)
	logger.Info("item optimised",
		logging.String(logging.FieldPath, item.Path),
		logging.String(logging.FieldBackend, string(method)),
		logging.Int64("original_size", rec.OriginalSize),
		logging.Int64("optimized_size", rec.OptimizedSize),
		logging.Int64("savings", rec.Savings),
		logging.Duration("elapsed", time.Since(started)),
		logging.String(logging.FieldEventType, "item_optimized"),
	)
	return out
}

// optimizeFile walks the backend chain until one accepts path. It returns
// the winning method, or the last attempted method with the joined reasons.
func (e *Engine) optimizeFile(ctx context.Context, logger *slog.Logger, path string, format imageutil.Format, size int64) (store.Method, error) {
	var (
		reasons []string
		lastErr error
		last    store.Method
	)
	for _, kind := range e.selector.Chain() {
		if err := ctx.Err(); err != nil {
			return last, services.Wrap(services.ErrTimeout, component, "optimize", "cancelled", err)
		}
		method, ok, err := e.attempt(ctx, kind, path, format, size)
		if method != "" {
			last = method
		}
		if ok {
			return method, nil
		}
		if err == nil {
			continue
		}
		lastErr = err
		reasons = append(reasons, fmt.Sprintf("%s: %v", kind, err))
		logger.Debug("backend declined item",
			logging.String(logging.FieldBackend, kind.String()),
			logging.String(logging.FieldPath, path),
			logging.String(logging.FieldErrorKind, services.Kind(err)),
			logging.Error(err),
		)
	}
	if lastErr == nil {
		lastErr = services.Wrap(services.ErrUnsupported, component, "optimize", "no backend available", nil)
		reasons = append(reasons, "no backend available")
	}
	return last, fmt.Errorf("all backends failed [%s]: %w", strings.Join(reasons, "; "), lastErr)
}

func (e *Engine) attempt(ctx context.Context, kind backend.Kind, path string, format imageutil.Format, size int64) (store.Method, bool, error) {
	if kind == backend.KindRemote {
		if e.remote == nil {
			return "", false, services.Wrap(services.ErrConfiguration, component, "remote", "no provider", nil)
		}
		method := store.Method(e.remote.ServiceName())
		if !e.remote.IsConfigured() {
			return method, false, services.Wrap(services.ErrConfiguration, component, "remote", e.remote.ServiceName()+" not configured", nil)
		}
		ok, err := e.remote.Optimize(services.WithBackend(ctx, string(method)), path, remote.Options{Quality: e.cfg.Optimization.CompressionLevel})
		return method, ok, err
	}
	t, found := e.transcoders[kind]
	if !found || !t.Available() {
		return "", false, services.Wrap(services.ErrUnsupported, component, string(kind), "backend unavailable", nil)
	}
	ok, err := t.Transcode(services.WithBackend(ctx, t.Name()), path, format, e.options(format, size))
	return store.Method(kind), ok, err
}

// optimizeVariants runs each derived size through the winning backend and
// returns the summed before and after sizes.
func (e *Engine) optimizeVariants(ctx context.Context, logger *slog.Logger, item *store.Item, method store.Method) (int64, int64) {
	if !e.cfg.Optimization.OptimizeThumbnails {
		return 0, 0
	}
	variants := item.Variants
	if variants == nil && e.store != nil {
		loaded, err := e.store.ListVariants(ctx, item.ID)
		if err != nil {
			logger.Warn("variant lookup failed",
				logging.Error(err),
				logging.String(logging.FieldEventType, "variant_lookup_failed"),
				logging.String(logging.FieldErrorHint, "check database health"),
				logging.String(logging.FieldImpact, "derived sizes not optimised"),
			)
			return 0, 0
		}
		variants = loaded
	}

	var before, after int64
	for _, v := range variants {
		if slices.Contains(e.cfg.Optimization.ExcludeSizes, strings.ToLower(v.Label)) {
			continue
		}
		info, err := os.Stat(v.Path)
		if err != nil || info.IsDir() {
			continue
		}
		format, err := imageutil.DetectFormat(v.Path)
		if err != nil || !format.IsSupported() {
			continue
		}
		size := info.Size()
		kind := backend.KindRemote
		if k, ok := backend.ParseKind(string(method)); ok {
			kind = k
		}
		if _, ok, err := e.attempt(ctx, kind, v.Path, format, size); !ok {
			logger.Debug("variant not optimised",
				logging.String(logging.FieldPath, v.Path),
				logging.String("label", v.Label),
				logging.Error(err),
			)
			before += size
			after += size
			continue
		}
		newSize := size
		if info, err := os.Stat(v.Path); err == nil {
			newSize = info.Size()
		}
		before += size
		after += newSize
		if v.ID > 0 && e.store != nil {
			if err := e.store.UpdateVariantSize(ctx, v.ID, newSize); err != nil {
				logger.Debug("variant size update failed", logging.Error(err))
			}
		}
	}
	return before, after
}

func (e *Engine) options(format imageutil.Format, size int64) transcode.Options {
	quality := e.cfg.QualityFor(string(format))
	if e.cfg.Optimization.AdaptiveQuality && (format == imageutil.FormatJPEG || format == imageutil.FormatWEBP) {
		quality = min(quality, imageutil.RecommendedQuality(size))
	}
	return transcode.Options{
		Quality:   quality,
		MaxWidth:  e.cfg.Optimization.MaxWidth,
		MaxHeight: e.cfg.Optimization.MaxHeight,
	}
}

func (e *Engine) minSize() int64 {
	if e.cfg.Optimization.MinSizeBytes > 0 {
		return e.cfg.Optimization.MinSizeBytes
	}
	return imageutil.DefaultMinSize
}

// finish persists the outcome. Persistence failures are logged and never
// undo a completed file mutation.
func (e *Engine) finish(ctx context.Context, logger *slog.Logger, item *store.Item, runID string, out Outcome) {
	if e.store == nil || item.ID <= 0 {
		return
	}
	var persistErr error
	if out.Status != store.LogSkipped {
		if err := e.store.SaveRecord(ctx, out.Record); err != nil {
			persistErr = errors.Join(persistErr, err)
		}
		if out.Status == store.LogSuccess {
			if err := e.store.UpdateItemSize(ctx, item.ID, item.Size); err != nil {
				persistErr = errors.Join(persistErr, err)
			}
		}
	}
	entry := store.LogEntry{
		ItemID:        item.ID,
		Status:        out.Status,
		Method:        out.Record.Method,
		OriginalSize:  out.Record.OriginalSize,
		OptimizedSize: out.Record.OptimizedSize,
		RunID:         runID,
	}
	if out.Err != nil {
		entry.Error = out.Err.Error()
	} else if out.Status == store.LogSkipped {
		entry.Error = out.Message
	}
	if err := e.store.AppendLog(ctx, entry); err != nil {
		persistErr = errors.Join(persistErr, err)
	}
	if persistErr != nil {
		logging.ErrorWithContext(logger, "failed to persist optimisation outcome", "persistence_failed",
			logging.String(logging.FieldPath, item.Path),
			logging.String("status", string(out.Status)),
			logging.Error(services.Wrap(services.ErrPersistence, component, "persist", "", persistErr)),
			logging.String(logging.FieldErrorHint, "check database health with `mio status`"),
		)
	}
	if e.stats != nil {
		e.stats.Invalidate()
	}
	if out.Status == store.LogFailed {
		logging.WarnWithContext(logger, "item optimisation failed", "item_failed",
			logging.String(logging.FieldPath, item.Path),
			logging.String(logging.FieldErrorKind, services.Kind(out.Err)),
			logging.Error(out.Err),
			logging.String(logging.FieldErrorHint, "run `mio backend status` to check backend availability"),
			logging.String(logging.FieldImpact, "item left unchanged"),
		)
	}
}
