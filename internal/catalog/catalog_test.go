package catalog_test

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"mio/internal/catalog"
	"mio/internal/config"
	"mio/internal/store"
	"mio/internal/testsupport"
)

func TestScanRegistersItemsAndVariants(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithConfig(func(c *config.Config) {
		c.Paths.BackupDir = filepath.Join(c.Paths.MediaRoot, "mio-backups")
	}))
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	photo := testsupport.MediaPath(cfg, "2024", "05", "photo.jpg")
	testsupport.WriteJPEG(t, photo, 64, 48)
	testsupport.WriteJPEG(t, testsupport.MediaPath(cfg, "2024", "05", "photo-150x150.jpg"), 15, 15)
	testsupport.WriteJPEG(t, testsupport.MediaPath(cfg, "2024", "05", "photo-300x200.jpg"), 30, 20)
	// No parent on disk, so it is an item in its own right.
	testsupport.WritePNG(t, testsupport.MediaPath(cfg, "2024", "05", "banner-1200x400.png"), 12, 4)
	testsupport.WriteFile(t, testsupport.MediaPath(cfg, "2024", "05", "fake.gif"), 64)
	testsupport.WriteFile(t, testsupport.MediaPath(cfg, "2024", "05", "notes.txt"), 64)
	testsupport.WriteJPEG(t, testsupport.MediaPath(cfg, ".cache", "hidden.jpg"), 8, 8)
	testsupport.WriteJPEG(t, testsupport.MediaPath(cfg, "mio-backups", "2024", "05", "photo.jpg"), 8, 8)

	scanner := catalog.NewScanner(cfg, st, nil)
	result, err := scanner.Scan(ctx)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if result.Files != 5 || result.Added != 2 || result.Variants != 2 || result.Unsupported != 1 {
		t.Fatalf("unexpected scan result: %+v", result)
	}

	item, err := st.GetItemByPath(ctx, photo)
	if err != nil || item == nil {
		t.Fatalf("GetItemByPath: %v %v", item, err)
	}
	if item.Format != "jpeg" || item.Width != 64 || item.Height != 48 {
		t.Fatalf("unexpected item: %+v", item)
	}
	if len(item.Variants) != 2 || item.Variants[0].Label != "150x150" || item.Variants[1].Label != "300x200" {
		t.Fatalf("unexpected variants: %+v", item.Variants)
	}

	again, err := scanner.Scan(ctx)
	if err != nil {
		t.Fatalf("second Scan: %v", err)
	}
	if again.Added != 0 || again.Updated != 2 {
		t.Fatalf("rescan should update in place: %+v", again)
	}
}

func TestScanPrunesMissingItemsUnlessBatchActive(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	keep := testsupport.MediaPath(cfg, "keep.png")
	gone := testsupport.MediaPath(cfg, "gone.png")
	testsupport.WritePNG(t, keep, 8, 8)
	testsupport.WritePNG(t, gone, 8, 8)

	scanner := catalog.NewScanner(cfg, st, nil)
	if _, err := scanner.Scan(ctx); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if err := os.Remove(gone); err != nil {
		t.Fatalf("remove: %v", err)
	}

	now := time.Now()
	if err := st.SaveBatchState(ctx, store.BatchState{RunID: "run-1", State: store.BatchPaused, StartedAt: &now}, true); err != nil {
		t.Fatalf("SaveBatchState: %v", err)
	}
	result, err := scanner.Scan(ctx)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if result.Pruned != 0 || result.PruneDeferred != 1 {
		t.Fatalf("expected deferred prune, got %+v", result)
	}

	if err := st.SaveBatchState(ctx, store.BatchState{RunID: "run-1", State: store.BatchCompleted, StartedAt: &now, CompletedAt: &now}, true); err != nil {
		t.Fatalf("SaveBatchState: %v", err)
	}
	result, err = scanner.Scan(ctx)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if result.Pruned != 1 {
		t.Fatalf("expected one pruned item, got %+v", result)
	}
	if item, _ := st.GetItemByPath(ctx, gone); item != nil {
		t.Fatalf("expected %s to be pruned", gone)
	}
	if item, _ := st.GetItemByPath(ctx, keep); item == nil {
		t.Fatalf("expected %s to remain", keep)
	}
}

func TestRegisterAttachesVariantToExistingParent(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	scanner := catalog.NewScanner(cfg, st, nil)

	parent := testsupport.MediaPath(cfg, "cat.jpg")
	testsupport.WriteJPEG(t, parent, 32, 32)
	item, created, err := scanner.Register(ctx, parent)
	if err != nil || item == nil || !created {
		t.Fatalf("Register parent: %v %v %v", item, created, err)
	}

	thumb := testsupport.MediaPath(cfg, "cat-100x100.jpg")
	testsupport.WriteJPEG(t, thumb, 10, 10)
	variantItem, _, err := scanner.Register(ctx, thumb)
	if err != nil {
		t.Fatalf("Register variant: %v", err)
	}
	if variantItem != nil {
		t.Fatalf("variant should not become an item: %+v", variantItem)
	}
	// Registering the same variant twice must not duplicate it.
	if _, _, err := scanner.Register(ctx, thumb); err != nil {
		t.Fatalf("Register variant again: %v", err)
	}
	variants, err := st.ListVariants(ctx, item.ID)
	if err != nil {
		t.Fatalf("ListVariants: %v", err)
	}
	if len(variants) != 1 || variants[0].Label != "100x100" || variants[0].Path != thumb {
		t.Fatalf("unexpected variants: %+v", variants)
	}

	unsupported := testsupport.MediaPath(cfg, "doc.txt")
	testsupport.WriteFile(t, unsupported, 10)
	if got, _, err := scanner.Register(ctx, unsupported); err != nil || got != nil {
		t.Fatalf("unsupported file should be ignored: %v %v", got, err)
	}
}

func TestWatcherQueuesNewUploads(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithConfig(func(c *config.Config) {
		c.Optimization.AutoOptimize = true
	}))
	st := testsupport.MustOpenStore(t, cfg)
	scanner := catalog.NewScanner(cfg, st, nil)

	var wakes atomic.Int32
	watcher := catalog.NewWatcher(cfg, scanner, st, nil,
		catalog.WithSettle(50*time.Millisecond),
		catalog.WithWake(func() { wakes.Add(1) }),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- watcher.Run(ctx) }()
	defer func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Run: %v", err)
		}
	}()

	// Give the watcher time to add the root before files appear.
	time.Sleep(100 * time.Millisecond)
	upload := testsupport.MediaPath(cfg, "2025", "01", "upload.png")
	testsupport.WritePNG(t, upload, 16, 16)

	deadline := time.Now().Add(5 * time.Second)
	for {
		entries, err := st.ListQueue(context.Background())
		if err != nil {
			t.Fatalf("ListQueue: %v", err)
		}
		if len(entries) == 1 {
			item, err := st.GetItem(context.Background(), entries[0].ItemID)
			if err != nil || item == nil || item.Path != upload {
				t.Fatalf("queued wrong item: %+v %v", item, err)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("upload was not queued; entries=%+v", entries)
		}
		time.Sleep(25 * time.Millisecond)
	}
	if wakes.Load() == 0 {
		t.Fatalf("expected wake callback")
	}
}
