// Package backup preserves original images before they are first optimised
// and restores them on request.
//
// Backups mirror the media tree: an item at <media_root>/a/b.jpg is kept at
// <backup_dir>/a/b.jpg. Only the first optimisation of an item produces a
// backup, so a restore always returns the pristine upload.
package backup

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"

	"mio/internal/config"
	"mio/internal/fileutil"
	"mio/internal/logging"
	"mio/internal/services"
	"mio/internal/store"
)

const component = "backup"

// Store is the persistence surface used by the manager.
type Store interface {
	GetBackup(ctx context.Context, itemID int64) (*store.Backup, error)
	SaveBackup(ctx context.Context, itemID int64, path string) error
	DeleteBackupByPath(ctx context.Context, path string) error
	ClearRecord(ctx context.Context, itemID int64) error
	UpdateItemSize(ctx context.Context, id int64, size int64) error
}

// Invalidator is notified when cached aggregates become stale.
type Invalidator interface {
	Invalidate()
}

// Stats summarises the backup directory.
type Stats struct {
	Files     int
	SizeBytes int64
	Oldest    time.Time
	Newest    time.Time
}

// Manager creates, restores and expires backups.
type Manager struct {
	mediaRoot    string
	backupDir    string
	keepOriginal bool
	store        Store
	stats        Invalidator
	logger       *slog.Logger
	now          func() time.Time
}

// NewManager constructs a manager from configuration.
func NewManager(cfg *config.Config, st Store, stats Invalidator, logger *slog.Logger) *Manager {
	return &Manager{
		mediaRoot:    filepath.Clean(cfg.Paths.MediaRoot),
		backupDir:    filepath.Clean(cfg.Paths.BackupDir),
		keepOriginal: cfg.Optimization.KeepOriginal,
		store:        st,
		stats:        stats,
		logger:       logging.NewComponentLogger(logger, component),
		now:          time.Now,
	}
}

// Enabled reports whether backups are taken before optimisation.
func (m *Manager) Enabled() bool {
	return m != nil && m.keepOriginal
}

// PathFor returns the deterministic backup location of a media path.
func (m *Manager) PathFor(mediaPath string) (string, error) {
	rel, err := filepath.Rel(m.mediaRoot, filepath.Clean(mediaPath))
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", services.Wrap(services.ErrValidation, component, "resolve", fmt.Sprintf("%s is outside the media root", mediaPath), err)
	}
	return filepath.Join(m.backupDir, rel), nil
}

// Backup copies the item's file into the backup tree unless backups are
// disabled or one already exists. It returns the backup path, or "" when
// backups are disabled.
func (m *Manager) Backup(ctx context.Context, item *store.Item) (string, error) {
	if !m.Enabled() {
		return "", nil
	}
	if item == nil {
		return "", services.Wrap(services.ErrValidation, component, "backup", "nil item", nil)
	}
	existing, err := m.store.GetBackup(ctx, item.ID)
	if err != nil {
		return "", services.Wrap(services.ErrPersistence, component, "lookup", "", err)
	}
	if existing != nil {
		if _, statErr := os.Stat(existing.Path); statErr == nil {
			return existing.Path, nil
		}
	}

	dst, err := m.PathFor(item.Path)
	if err != nil {
		return "", err
	}
	if _, statErr := os.Stat(dst); errors.Is(statErr, fs.ErrNotExist) {
		if err := fileutil.CopyFileVerified(item.Path, dst); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return "", services.Wrap(services.ErrNotFound, component, "copy", item.Path, err)
			}
			return "", services.Wrap(services.ErrIntegrity, component, "copy", item.Path, err)
		}
		m.logger.Info("original backed up",
			logging.Int64(logging.FieldItemID, item.ID),
			logging.String(logging.FieldPath, item.Path),
			logging.String("backup_path", dst),
			logging.String(logging.FieldEventType, "backup_created"),
		)
	}
	if existing != nil && existing.Path != dst {
		// Stale row whose file vanished; replace it.
		if err := m.store.DeleteBackupByPath(ctx, existing.Path); err != nil {
			return "", services.Wrap(services.ErrPersistence, component, "record", "", err)
		}
	}
	if err := m.store.SaveBackup(ctx, item.ID, dst); err != nil {
		return "", services.Wrap(services.ErrPersistence, component, "record", "", err)
	}
	return dst, nil
}

// Restore copies the backup over the item's file and clears its
// optimisation record. The backup itself is kept.
func (m *Manager) Restore(ctx context.Context, item *store.Item) (bool, error) {
	if item == nil {
		return false, services.Wrap(services.ErrValidation, component, "restore", "nil item", nil)
	}
	row, err := m.store.GetBackup(ctx, item.ID)
	if err != nil {
		return false, services.Wrap(services.ErrPersistence, component, "lookup", "", err)
	}
	if row == nil {
		return false, services.Wrap(services.ErrNotFound, component, "restore", fmt.Sprintf("no backup for item %d", item.ID), nil)
	}
	info, err := os.Stat(row.Path)
	if err != nil {
		return false, services.Wrap(services.ErrNotFound, component, "restore", row.Path, err)
	}
	if err := fileutil.CopyFileAtomic(row.Path, item.Path); err != nil {
		return false, services.Wrap(services.ErrIntegrity, component, "restore", item.Path, err)
	}
	if err := m.store.UpdateItemSize(ctx, item.ID, info.Size()); err != nil {
		return true, services.Wrap(services.ErrPersistence, component, "restore", "update size", err)
	}
	if err := m.store.ClearRecord(ctx, item.ID); err != nil {
		return true, services.Wrap(services.ErrPersistence, component, "restore", "clear record", err)
	}
	if m.stats != nil {
		m.stats.Invalidate()
	}
	m.logger.Info("original restored",
		logging.Int64(logging.FieldItemID, item.ID),
		logging.String(logging.FieldPath, item.Path),
		logging.Int64("size_bytes", info.Size()),
		logging.String(logging.FieldEventType, "backup_restored"),
	)
	return true, nil
}

// CleanupOlderThan deletes backup files last modified before now-age, drops
// their rows and prunes empty directories. It returns the number of files
// removed; individual failures are aggregated.
func (m *Manager) CleanupOlderThan(ctx context.Context, age time.Duration) (int, error) {
	if age <= 0 {
		return 0, nil
	}
	cutoff := m.now().Add(-age)
	var (
		errs    *multierror.Error
		removed int
	)
	walkErr := filepath.WalkDir(m.backupDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path == m.backupDir {
				return filepath.SkipAll
			}
			errs = multierror.Append(errs, err)
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			errs = multierror.Append(errs, err)
			return nil
		}
		if !info.ModTime().Before(cutoff) {
			return nil
		}
		if err := os.Remove(path); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("remove %s: %w", path, err))
			return nil
		}
		removed++
		if err := m.store.DeleteBackupByPath(ctx, path); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("forget %s: %w", path, err))
		}
		return nil
	})
	if walkErr != nil {
		errs = multierror.Append(errs, walkErr)
	}
	if _, err := os.Stat(m.backupDir); err == nil {
		if _, err := fileutil.RemoveEmptyDirs(m.backupDir); err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	if removed > 0 {
		m.logger.Info("expired backups removed",
			logging.Int("removed", removed),
			logging.Duration("max_age", age),
			logging.String(logging.FieldEventType, "backup_cleanup"),
		)
	}
	if err := errs.ErrorOrNil(); err != nil {
		logging.WarnWithContext(m.logger, "backup cleanup incomplete", "backup_cleanup_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check backup_dir permissions"),
			logging.String(logging.FieldImpact, "disk space not reclaimed"),
		)
		return removed, err
	}
	return removed, nil
}

// Stats walks the backup directory.
func (m *Manager) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	err := filepath.WalkDir(m.backupDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path == m.backupDir {
				return filepath.SkipAll
			}
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		stats.Files++
		stats.SizeBytes += info.Size()
		mod := info.ModTime()
		if stats.Oldest.IsZero() || mod.Before(stats.Oldest) {
			stats.Oldest = mod
		}
		if mod.After(stats.Newest) {
			stats.Newest = mod
		}
		return nil
	})
	if err != nil {
		return Stats{}, fmt.Errorf("walk backups: %w", err)
	}
	return stats, nil
}
