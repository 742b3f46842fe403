package backup_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"mio/internal/backup"
	"mio/internal/services"
	"mio/internal/store"
	"mio/internal/testsupport"
)

type countingInvalidator struct{ calls int }

func (c *countingInvalidator) Invalidate() { c.calls++ }

func TestBackupDisabledIsNoop(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	path := testsupport.MediaPath(cfg, "a.jpg")
	testsupport.WriteJPEG(t, path, 32, 32)
	item := testsupport.NewItem(t, st, path)

	mgr := backup.NewManager(cfg, st, nil, nil)
	got, err := mgr.Backup(context.Background(), item)
	if err != nil || got != "" {
		t.Fatalf("expected no-op, got %q err=%v", got, err)
	}
	if n, _ := st.CountBackups(context.Background()); n != 0 {
		t.Fatalf("expected no backup rows, got %d", n)
	}
}

func TestBackupFirstWinsAndRestore(t *testing.T) {
	ctx := context.Background()
	cfg := testsupport.NewConfig(t, testsupport.WithKeepOriginal())
	st := testsupport.MustOpenStore(t, cfg)
	path := testsupport.MediaPath(cfg, "2024", "05", "photo.jpg")
	testsupport.WriteJPEG(t, path, 64, 64)
	original, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	item := testsupport.NewItem(t, st, path)
	inv := &countingInvalidator{}
	mgr := backup.NewManager(cfg, st, inv, nil)

	dst, err := mgr.Backup(ctx, item)
	if err != nil {
		t.Fatalf("backup: %v", err)
	}
	want := filepath.Join(cfg.Paths.BackupDir, "2024", "05", "photo.jpg")
	if dst != want {
		t.Fatalf("expected backup at %s, got %s", want, dst)
	}

	// Simulate optimisation, then a second backup attempt.
	if err := os.WriteFile(path, []byte("optimised"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := mgr.Backup(ctx, item); err != nil {
		t.Fatalf("second backup: %v", err)
	}
	kept, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("read backup: %v", err)
	}
	if !bytes.Equal(kept, original) {
		t.Fatal("second backup overwrote the original copy")
	}

	if err := st.SaveRecord(ctx, store.Record{ItemID: item.ID, Optimized: true, Method: store.MethodBasic, OriginalSize: int64(len(original)), OptimizedSize: 9}); err != nil {
		t.Fatalf("save record: %v", err)
	}
	ok, err := mgr.Restore(ctx, item)
	if err != nil || !ok {
		t.Fatalf("restore: ok=%v err=%v", ok, err)
	}
	restored, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read restored: %v", err)
	}
	if !bytes.Equal(restored, original) {
		t.Fatal("restored bytes differ from original")
	}
	if rec, err := st.GetRecord(ctx, item.ID); err != nil || rec != nil {
		t.Fatalf("expected record cleared, got %+v err=%v", rec, err)
	}
	if _, err := os.Stat(dst); err != nil {
		t.Fatalf("backup should be kept after restore: %v", err)
	}
	if inv.calls != 1 {
		t.Fatalf("expected stats invalidated once, got %d", inv.calls)
	}
}

func TestRestoreWithoutBackupIsNotFound(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithKeepOriginal())
	st := testsupport.MustOpenStore(t, cfg)
	path := testsupport.MediaPath(cfg, "b.png")
	testsupport.WritePNG(t, path, 16, 16)
	item := testsupport.NewItem(t, st, path)

	ok, err := backup.NewManager(cfg, st, nil, nil).Restore(context.Background(), item)
	if ok || !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got ok=%v err=%v", ok, err)
	}
}

func TestBackupOutsideMediaRoot(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithKeepOriginal())
	st := testsupport.MustOpenStore(t, cfg)
	path := filepath.Join(testsupport.BaseDir(cfg), "elsewhere.jpg")
	testsupport.WriteJPEG(t, path, 16, 16)
	item := testsupport.NewItem(t, st, path)

	if _, err := backup.NewManager(cfg, st, nil, nil).Backup(context.Background(), item); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCleanupOlderThan(t *testing.T) {
	ctx := context.Background()
	cfg := testsupport.NewConfig(t, testsupport.WithKeepOriginal())
	st := testsupport.MustOpenStore(t, cfg)
	mgr := backup.NewManager(cfg, st, nil, nil)

	oldPath := testsupport.MediaPath(cfg, "old", "x.jpg")
	testsupport.WriteJPEG(t, oldPath, 16, 16)
	oldItem := testsupport.NewItem(t, st, oldPath)
	oldBackup, err := mgr.Backup(ctx, oldItem)
	if err != nil {
		t.Fatalf("backup: %v", err)
	}
	past := time.Now().Add(-40 * 24 * time.Hour)
	if err := os.Chtimes(oldBackup, past, past); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	newPath := testsupport.MediaPath(cfg, "new", "y.jpg")
	testsupport.WriteJPEG(t, newPath, 16, 16)
	newItem := testsupport.NewItem(t, st, newPath)
	newBackup, err := mgr.Backup(ctx, newItem)
	if err != nil {
		t.Fatalf("backup: %v", err)
	}

	stats, err := mgr.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Files != 2 || stats.SizeBytes <= 0 || !stats.Oldest.Before(stats.Newest) {
		t.Fatalf("unexpected stats %+v", stats)
	}

	removed, err := mgr.CleanupOlderThan(ctx, 30*24*time.Hour)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
	if _, err := os.Stat(oldBackup); !os.IsNotExist(err) {
		t.Fatalf("expected old backup removed, err=%v", err)
	}
	if _, err := os.Stat(filepath.Dir(oldBackup)); !os.IsNotExist(err) {
		t.Fatalf("expected empty directory pruned, err=%v", err)
	}
	if _, err := os.Stat(newBackup); err != nil {
		t.Fatalf("expected new backup kept: %v", err)
	}
	if row, _ := st.GetBackup(ctx, oldItem.ID); row != nil {
		t.Fatalf("expected old backup row removed, got %+v", row)
	}
	if row, _ := st.GetBackup(ctx, newItem.ID); row == nil {
		t.Fatal("expected new backup row kept")
	}
}

func TestCleanupMissingDirectory(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	if err := os.RemoveAll(cfg.Paths.BackupDir); err != nil {
		t.Fatalf("remove: %v", err)
	}
	mgr := backup.NewManager(cfg, st, nil, nil)
	if n, err := mgr.CleanupOlderThan(context.Background(), time.Hour); err != nil || n != 0 {
		t.Fatalf("expected clean no-op, got n=%d err=%v", n, err)
	}
	if stats, err := mgr.Stats(context.Background()); err != nil || stats.Files != 0 {
		t.Fatalf("expected empty stats, got %+v err=%v", stats, err)
	}
}
