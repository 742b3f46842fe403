package catalog

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"mio/internal/config"
	"mio/internal/imageutil"
	"mio/internal/logging"
	"mio/internal/store"
)

var variantPattern = regexp.MustCompile(`^(.+)-(\d+)x(\d+)$`)

var imageExtensions = map[string]struct{}{
	".jpg":  {},
	".jpeg": {},
	".png":  {},
	".gif":  {},
	".webp": {},
}

// Store is the persistence surface used by the scanner.
type Store interface {
	UpsertItem(ctx context.Context, item store.Item) (*store.Item, bool, error)
	GetItemByPath(ctx context.Context, path string) (*store.Item, error)
	ReplaceVariants(ctx context.Context, itemID int64, variants []store.Variant) error
	ItemPaths(ctx context.Context) (map[string]int64, error)
	DeleteItem(ctx context.Context, id int64) error
	LoadBatchState(ctx context.Context) (store.BatchState, error)
}

// ScanResult summarises one walk of the media tree.
type ScanResult struct {
	Files         int `json:"files"`
	Added         int `json:"added"`
	Updated       int `json:"updated"`
	Variants      int `json:"variants"`
	Unsupported   int `json:"unsupported"`
	Pruned        int `json:"pruned"`
	PruneDeferred int `json:"prune_deferred"`
}

// Scanner registers images found under the media root.
type Scanner struct {
	root      string
	backupDir string
	store     Store
	logger    *slog.Logger
}

// NewScanner constructs a scanner for cfg.Paths.MediaRoot.
func NewScanner(cfg *config.Config, st Store, logger *slog.Logger) *Scanner {
	return &Scanner{
		root:      filepath.Clean(cfg.Paths.MediaRoot),
		backupDir: filepath.Clean(cfg.Paths.BackupDir),
		store:     st,
		logger:    logging.NewComponentLogger(logger, "catalog"),
	}
}

// Root returns the media root.
func (s *Scanner) Root() string { return s.root }

type fileEntry struct {
	path string
	size int64
}

// Scan walks the media root, registers items and their variants, and prunes
// items whose files are gone. Pruning is deferred while a batch run is
// active so its offsets stay valid.
func (s *Scanner) Scan(ctx context.Context) (ScanResult, error) {
	var (
		result ScanResult
		files  = make(map[string]fileEntry)
	)
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == s.root {
				return err
			}
			s.logger.Debug("skipping unreadable path", logging.String(logging.FieldPath, path), logging.Error(err))
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			if path != s.root && s.skipDir(path, d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !hasImageExtension(path) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		files[path] = fileEntry{path: path, size: info.Size()}
		return nil
	})
	if err != nil {
		return result, fmt.Errorf("walk media root: %w", err)
	}
	result.Files = len(files)

	parents, variants := classify(files)
	seen := make(map[string]struct{}, len(parents))
	paths := make([]string, 0, len(parents))
	for path := range parents {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		item, created, err := s.register(ctx, parents[path])
		if err != nil {
			return result, err
		}
		if item == nil {
			result.Unsupported++
			continue
		}
		seen[path] = struct{}{}
		if created {
			result.Added++
		} else {
			result.Updated++
		}
		vs := variants[path]
		if err := s.store.ReplaceVariants(ctx, item.ID, vs); err != nil {
			return result, fmt.Errorf("store variants for %s: %w", path, err)
		}
		result.Variants += len(vs)
	}

	pruned, deferred, err := s.prune(ctx, seen)
	if err != nil {
		return result, err
	}
	result.Pruned = pruned
	result.PruneDeferred = deferred

	s.logger.Info("media scan complete",
		logging.Int("files", result.Files),
		logging.Int("added", result.Added),
		logging.Int("updated", result.Updated),
		logging.Int("variants", result.Variants),
		logging.Int("pruned", result.Pruned),
		logging.Int("prune_deferred", result.PruneDeferred),
		logging.String(logging.FieldEventType, "catalog_scan"),
	)
	return result, nil
}

// Register adds a single file. A derived size whose parent is catalogued is
// attached as a variant and reported as a nil item.
func (s *Scanner) Register(ctx context.Context, path string) (*store.Item, bool, error) {
	path = filepath.Clean(path)
	if !hasImageExtension(path) {
		return nil, false, nil
	}
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return nil, false, err
	}
	if parentPath, label, ok := variantParent(path); ok {
		parent, err := s.store.GetItemByPath(ctx, parentPath)
		if err != nil {
			return nil, false, err
		}
		if parent != nil {
			variants := parent.Variants
			for _, v := range variants {
				if v.Path == path {
					return nil, false, nil
				}
			}
			variants = append(variants, store.Variant{Label: label, Path: path, Size: info.Size()})
			return nil, false, s.store.ReplaceVariants(ctx, parent.ID, variants)
		}
	}
	return s.register(ctx, fileEntry{path: path, size: info.Size()})
}

func (s *Scanner) register(ctx context.Context, entry fileEntry) (*store.Item, bool, error) {
	format, err := imageutil.DetectFormat(entry.path)
	if err != nil || !format.IsSupported() {
		return nil, false, nil
	}
	item := store.Item{Path: entry.path, Format: string(format), Size: entry.size}
	if w, h, err := imageutil.Dimensions(entry.path); err == nil {
		item.Width, item.Height = w, h
	}
	stored, created, err := s.store.UpsertItem(ctx, item)
	if err != nil {
		return nil, false, fmt.Errorf("register %s: %w", entry.path, err)
	}
	return stored, created, nil
}

func (s *Scanner) prune(ctx context.Context, seen map[string]struct{}) (int, int, error) {
	known, err := s.store.ItemPaths(ctx)
	if err != nil {
		return 0, 0, err
	}
	var stale []int64
	for path, id := range known {
		if _, ok := seen[path]; ok {
			continue
		}
		if _, err := os.Stat(path); err == nil && !isVariantFile(path) {
			// Outside the walked tree but still present.
			continue
		}
		stale = append(stale, id)
	}
	if len(stale) == 0 {
		return 0, 0, nil
	}
	state, err := s.store.LoadBatchState(ctx)
	if err != nil {
		return 0, 0, err
	}
	if state.Active() {
		return 0, len(stale), nil
	}
	for _, id := range stale {
		if err := s.store.DeleteItem(ctx, id); err != nil {
			return 0, 0, fmt.Errorf("prune item %d: %w", id, err)
		}
	}
	return len(stale), 0, nil
}

func (s *Scanner) skipDir(path, name string) bool {
	if strings.HasPrefix(name, ".") {
		return true
	}
	return path == s.backupDir
}

// classify splits files into parents and the variants attached to them.
func classify(files map[string]fileEntry) (map[string]fileEntry, map[string][]store.Variant) {
	parents := make(map[string]fileEntry, len(files))
	variants := make(map[string][]store.Variant)
	for path, entry := range files {
		parentPath, label, ok := variantParent(path)
		if ok {
			if _, exists := files[parentPath]; exists {
				variants[parentPath] = append(variants[parentPath], store.Variant{Label: label, Path: path, Size: entry.size})
				continue
			}
		}
		parents[path] = entry
	}
	for _, vs := range variants {
		sort.Slice(vs, func(i, j int) bool { return vs[i].Path < vs[j].Path })
	}
	return parents, variants
}

// variantParent maps dir/name-WxH.ext to dir/name.ext and the "WxH" label.
func variantParent(path string) (string, string, bool) {
	ext := filepath.Ext(path)
	stem := strings.TrimSuffix(filepath.Base(path), ext)
	m := variantPattern.FindStringSubmatch(stem)
	if m == nil {
		return "", "", false
	}
	return filepath.Join(filepath.Dir(path), m[1]+ext), m[2] + "x" + m[3], true
}

func isVariantFile(path string) bool {
	_, _, ok := variantParent(path)
	return ok
}

func hasImageExtension(path string) bool {
	_, ok := imageExtensions[strings.ToLower(filepath.Ext(path))]
	return ok
}
