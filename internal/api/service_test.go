package api_test

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"os"
	"testing"

	"mio/internal/api"
	"mio/internal/backend"
	"mio/internal/config"
	"mio/internal/services"
	"mio/internal/store"
	"mio/internal/testsupport"
	"mio/internal/transcode"
)

func newService(t *testing.T, opts ...testsupport.ConfigOption) (*api.Service, *config.Config) {
	t.Helper()
	opts = append([]testsupport.ConfigOption{testsupport.WithBackends(false, true)}, opts...)
	cfg := testsupport.NewConfig(t, opts...)
	st := testsupport.MustOpenStore(t, cfg)
	gov := transcode.NewGovernor(transcode.LimitsFromConfig(cfg))
	svc := api.Compose(cfg, st, api.Options{
		HTTPClient:  http.DefaultClient,
		Transcoders: []transcode.Transcoder{transcode.NewBasic(true, gov, nil)},
	})
	return svc, cfg
}

func TestProcessOneRequiresExplicitReoptimize(t *testing.T) {
	ctx := context.Background()
	svc, cfg := newService(t)
	path := testsupport.MediaPath(cfg, "photo.jpg")
	testsupport.WriteJPEG(t, path, 256, 256)
	item := testsupport.NewItem(t, svc.Store(), path)

	if svc.BackendKind() != backend.KindBasic {
		t.Fatalf("expected basic backend, got %s", svc.BackendKind())
	}

	view, err := svc.ProcessOne(ctx, item.ID)
	if err != nil {
		t.Fatalf("ProcessOne: %v", err)
	}
	if !view.Optimized || view.Status != "success" || view.Method != "basic" {
		t.Fatalf("unexpected record view: %+v", view)
	}
	if view.Savings != view.OriginalSize-view.OptimizedSize {
		t.Fatalf("savings mismatch: %+v", view)
	}

	if _, err := svc.ProcessOne(ctx, item.ID); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for optimised item, got %v", err)
	}

	again, err := svc.Reoptimize(ctx, item.ID)
	if err != nil {
		t.Fatalf("Reoptimize: %v", err)
	}
	if again.Status != "success" || again.OriginalSize != view.OptimizedSize {
		t.Fatalf("reoptimize should start from the optimised file: %+v", again)
	}

	if _, err := svc.ProcessOne(ctx, 9999); !api.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRunBatchSinglePage(t *testing.T) {
	ctx := context.Background()
	svc, cfg := newService(t)
	for _, name := range []string{"a.jpg", "b.jpg", "c.jpg"} {
		path := testsupport.MediaPath(cfg, name)
		testsupport.WriteJPEG(t, path, 160, 160)
		testsupport.NewItem(t, svc.Store(), path)
	}

	result, err := svc.RunBatch(ctx, 0, 3)
	if err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	if result.Processed != 3 || result.NextOffset != 3 || result.HasMore {
		t.Fatalf("unexpected batch result: %+v", result)
	}

	stats, err := svc.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.TotalItems != 3 || stats.OptimizedItems != 3 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.TotalSavings <= 0 {
		t.Fatalf("expected savings, got %+v", stats)
	}

	status, err := svc.BatchStatus(ctx)
	if err != nil {
		t.Fatalf("BatchStatus: %v", err)
	}
	if status.State != store.BatchCompleted || status.Remaining != 0 {
		t.Fatalf("unexpected status: %+v", status)
	}
}

func TestBackupRestoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	svc, cfg := newService(t, testsupport.WithKeepOriginal())
	path := testsupport.MediaPath(cfg, "2024", "photo.jpg")
	testsupport.WriteJPEG(t, path, 200, 200)
	original, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	item := testsupport.NewItem(t, svc.Store(), path)

	ok, err := svc.CreateBackup(ctx, item.ID)
	if err != nil || !ok {
		t.Fatalf("CreateBackup: %v %v", ok, err)
	}
	if _, err := svc.ProcessOne(ctx, item.ID); err != nil {
		t.Fatalf("ProcessOne: %v", err)
	}

	restored, err := svc.Restore(ctx, item.ID)
	if err != nil || !restored {
		t.Fatalf("Restore: %v %v", restored, err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, original) {
		t.Fatal("restored bytes differ from original")
	}
	view, err := svc.Record(ctx, item.ID)
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if view.Optimized {
		t.Fatalf("restore should clear the optimised flag: %+v", view)
	}

	backups, err := svc.BackupStats(ctx)
	if err != nil {
		t.Fatalf("BackupStats: %v", err)
	}
	if !backups.Enabled || backups.Files != 1 {
		t.Fatalf("unexpected backup stats: %+v", backups)
	}
}

func TestCreateBackupDisabled(t *testing.T) {
	ctx := context.Background()
	svc, cfg := newService(t)
	path := testsupport.MediaPath(cfg, "photo.png")
	testsupport.WritePNG(t, path, 64, 64)
	item := testsupport.NewItem(t, svc.Store(), path)

	ok, err := svc.CreateBackup(ctx, item.ID)
	if err != nil || ok {
		t.Fatalf("expected disabled backup to report false, got %v %v", ok, err)
	}
}

func TestTestBackendConnection(t *testing.T) {
	svc, _ := newService(t, testsupport.WithConfig(func(c *config.Config) {
		c.Remote.Service = config.ServiceReSmushIt
		c.Remote.TinyPNGAPIKey = ""
	}))

	tests := []struct {
		provider string
		ok       bool
		message  string
	}{
		{provider: "", ok: true, message: "reSmush.it is configured and ready"},
		{provider: "resmushit", ok: true, message: "reSmush.it is configured and ready"},
		{provider: "TinyPNG", ok: false, message: "TinyPNG is not properly configured"},
		{provider: "basic", ok: true, message: "basic backend is available"},
		{provider: "high-quality", ok: false, message: "high-quality backend is not available"},
		{provider: "imgix", ok: false, message: `unknown provider "imgix"`},
	}
	for _, tt := range tests {
		got := svc.TestBackendConnection(tt.provider)
		if got.OK != tt.ok || got.Message != tt.message {
			t.Fatalf("TestBackendConnection(%q) = %+v, want ok=%v message=%q", tt.provider, got, tt.ok, tt.message)
		}
	}
}

func TestBackendsListsPriorityOrder(t *testing.T) {
	svc, _ := newService(t)
	views := svc.Backends()
	if len(views) != 3 {
		t.Fatalf("expected three backends, got %+v", views)
	}
	if views[0].Kind != "high-quality" || views[0].Available {
		t.Fatalf("unexpected high-quality entry: %+v", views[0])
	}
	if views[1].Kind != "basic" || !views[1].Available || !views[1].Primary {
		t.Fatalf("unexpected basic entry: %+v", views[1])
	}
	if views[2].Kind != "remote" || views[2].Primary {
		t.Fatalf("unexpected remote entry: %+v", views[2])
	}
}

func TestQueuePassthroughs(t *testing.T) {
	ctx := context.Background()
	svc, cfg := newService(t)
	path := testsupport.MediaPath(cfg, "photo.jpg")
	testsupport.WriteJPEG(t, path, 64, 64)
	item := testsupport.NewItem(t, svc.Store(), path)

	if _, err := svc.Enqueue(ctx, 4242, 0); !api.IsNotFound(err) {
		t.Fatalf("expected not found for unknown item, got %v", err)
	}
	added, err := svc.Enqueue(ctx, item.ID, 0)
	if err != nil || !added {
		t.Fatalf("Enqueue: %v %v", added, err)
	}
	added, err = svc.Enqueue(ctx, item.ID, 0)
	if err != nil || added {
		t.Fatalf("duplicate enqueue should be ignored: %v %v", added, err)
	}

	entries, err := svc.ListQueue(ctx)
	if err != nil {
		t.Fatalf("ListQueue: %v", err)
	}
	if len(entries) != 1 || entries[0].ItemID != item.ID || entries[0].Status != "pending" {
		t.Fatalf("unexpected queue entries: %+v", entries)
	}
	if entries[0].Priority != cfg.Queue.DefaultPriority {
		t.Fatalf("expected default priority %d, got %d", cfg.Queue.DefaultPriority, entries[0].Priority)
	}

	processed, err := svc.Worker().ProcessNext(ctx)
	if err != nil || !processed {
		t.Fatalf("ProcessNext: %v %v", processed, err)
	}
	summary, err := svc.QueueStats(ctx)
	if err != nil {
		t.Fatalf("QueueStats: %v", err)
	}
	if summary.Completed != 1 {
		t.Fatalf("expected one completed entry, got %+v", summary)
	}
}

func TestScanAndItems(t *testing.T) {
	ctx := context.Background()
	svc, cfg := newService(t)
	testsupport.WriteJPEG(t, testsupport.MediaPath(cfg, "2024", "one.jpg"), 32, 32)
	testsupport.WriteJPEG(t, testsupport.MediaPath(cfg, "2024", "one-16x16.jpg"), 16, 16)
	testsupport.WritePNG(t, testsupport.MediaPath(cfg, "2024", "two.png"), 32, 32)

	result, err := svc.Scan(ctx)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if result.Added != 2 || result.Variants != 1 {
		t.Fatalf("unexpected scan: %+v", result)
	}
	items, err := svc.Items(ctx, store.FilterUnoptimized, 0, 0)
	if err != nil {
		t.Fatalf("Items: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected two items, got %+v", items)
	}
	health := svc.Health(ctx)
	if !health.DatabaseOK {
		t.Fatalf("expected healthy database: %+v", health)
	}
}
