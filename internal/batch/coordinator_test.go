package batch_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"mio/internal/batch"
	"mio/internal/config"
	"mio/internal/optimizer"
	"mio/internal/store"
	"mio/internal/testsupport"
)

type recordingProcessor struct {
	st      *store.Store
	visits  map[int64]int
	skip    map[int64]bool
	fail    map[int64]bool
	onItem  func(item *store.Item)
	ordered []int64
}

func newProcessor(st *store.Store) *recordingProcessor {
	return &recordingProcessor{st: st, visits: map[int64]int{}, skip: map[int64]bool{}, fail: map[int64]bool{}}
}

func (p *recordingProcessor) ProcessInRun(ctx context.Context, item *store.Item, runID string) optimizer.Outcome {
	p.visits[item.ID]++
	p.ordered = append(p.ordered, item.ID)
	if p.onItem != nil {
		p.onItem(item)
	}
	if p.skip[item.ID] {
		return optimizer.Outcome{ItemID: item.ID, Status: store.LogSkipped, Message: "skipped"}
	}
	rec := store.Record{ItemID: item.ID, Optimized: !p.fail[item.ID], Method: store.MethodBasic, OriginalSize: 100, OptimizedSize: 80, RunID: runID}
	status := store.LogSuccess
	if p.fail[item.ID] {
		rec.OptimizedSize = 100
		rec.Error = "boom"
		status = store.LogFailed
	}
	if err := p.st.SaveRecord(ctx, rec); err != nil {
		panic(err)
	}
	rec.Savings = rec.OriginalSize - rec.OptimizedSize
	return optimizer.Outcome{ItemID: item.ID, Status: status, Record: rec, Message: fmt.Sprintf("item %d", item.ID)}
}

func seedItems(t *testing.T, cfg *config.Config, st *store.Store, n int) []*store.Item {
	t.Helper()
	items := make([]*store.Item, 0, n)
	for i := 0; i < n; i++ {
		path := testsupport.MediaPath(cfg, fmt.Sprintf("img-%02d.jpg", i))
		testsupport.WriteFile(t, path, 64)
		items = append(items, testsupport.NewItem(t, st, path))
	}
	return items
}

func TestSinglePageCompletes(t *testing.T) {
	ctx := context.Background()
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	seedItems(t, cfg, st, 3)
	proc := newProcessor(st)
	coord := batch.NewCoordinator(cfg, st, proc, nil)

	res, err := coord.RunBatch(ctx, 0, 3)
	if err != nil {
		t.Fatalf("run batch: %v", err)
	}
	if res.Processed != 3 || res.NextOffset != 3 || res.HasMore {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.State != store.BatchCompleted || res.Savings != 60 || len(res.Log) != 3 {
		t.Fatalf("unexpected result %+v", res)
	}
	state, _ := st.LoadBatchState(ctx)
	if state.State != store.BatchCompleted || state.CompletedAt == nil || state.Processed != 3 {
		t.Fatalf("unexpected persisted state %+v", state)
	}
}

func TestPaginationVisitsEachItemOnce(t *testing.T) {
	ctx := context.Background()
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	items := seedItems(t, cfg, st, 7)
	proc := newProcessor(st)
	proc.skip[items[1].ID] = true
	proc.fail[items[4].ID] = true
	coord := batch.NewCoordinator(cfg, st, proc, nil)

	if _, err := coord.Start(ctx, 3); err != nil {
		t.Fatalf("start: %v", err)
	}
	offset, calls := 0, 0
	var totals batch.Result
	for {
		res, err := coord.RunBatch(ctx, offset, 3)
		if err != nil {
			t.Fatalf("run batch: %v", err)
		}
		calls++
		totals.Succeeded += res.Succeeded
		totals.Failed += res.Failed
		totals.Skipped += res.Skipped
		offset = res.NextOffset
		if !res.HasMore {
			break
		}
		if calls > 10 {
			t.Fatal("pagination did not terminate")
		}
	}
	if calls != 3 {
		t.Fatalf("expected 3 pages, got %d", calls)
	}
	for _, item := range items {
		if proc.visits[item.ID] != 1 {
			t.Fatalf("item %d visited %d times", item.ID, proc.visits[item.ID])
		}
	}
	for i := 1; i < len(proc.ordered); i++ {
		if proc.ordered[i] <= proc.ordered[i-1] {
			t.Fatalf("items not processed in id order: %v", proc.ordered)
		}
	}
	if totals.Succeeded != 5 || totals.Failed != 1 || totals.Skipped != 1 {
		t.Fatalf("unexpected totals %+v", totals)
	}
}

func TestPauseTakesEffectBetweenPages(t *testing.T) {
	ctx := context.Background()
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	seedItems(t, cfg, st, 4)
	proc := newProcessor(st)
	coord := batch.NewCoordinator(cfg, st, proc, nil)

	if _, err := coord.Start(ctx, 2); err != nil {
		t.Fatalf("start: %v", err)
	}
	paused := false
	proc.onItem = func(*store.Item) {
		if paused {
			return
		}
		paused = true
		if ok, err := coord.Pause(ctx); err != nil || !ok {
			t.Errorf("pause: ok=%v err=%v", ok, err)
		}
	}
	res, err := coord.RunBatch(ctx, 0, 2)
	if err != nil {
		t.Fatalf("run batch: %v", err)
	}
	if res.Processed != 2 || !res.Paused || res.State != store.BatchPaused || res.NextOffset != 2 {
		t.Fatalf("expected page to finish then pause, got %+v", res)
	}

	again, err := coord.RunBatch(ctx, 2, 2)
	if err != nil {
		t.Fatalf("run batch while paused: %v", err)
	}
	if again.Processed != 0 || !again.Paused || again.NextOffset != 2 {
		t.Fatalf("paused run must not process, got %+v", again)
	}

	state, err := coord.Resume(ctx)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if state.Offset != 2 || state.State != store.BatchRunning {
		t.Fatalf("unexpected resumed state %+v", state)
	}
	final, err := coord.RunBatch(ctx, state.Offset, 2)
	if err != nil {
		t.Fatalf("run batch: %v", err)
	}
	if final.Processed != 2 || final.HasMore || final.State != store.BatchCompleted {
		t.Fatalf("unexpected final page %+v", final)
	}
	persisted, _ := st.LoadBatchState(ctx)
	if persisted.Processed != 4 {
		t.Fatalf("expected counters to accumulate across pause, got %+v", persisted)
	}
}

func TestResumeWithoutPause(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	coord := batch.NewCoordinator(cfg, st, newProcessor(st), nil)
	if _, err := coord.Resume(context.Background()); !errors.Is(err, batch.ErrNotPaused) {
		t.Fatalf("expected ErrNotPaused, got %v", err)
	}
	if ok, err := coord.Pause(context.Background()); err != nil || ok {
		t.Fatalf("pause with no run: ok=%v err=%v", ok, err)
	}
}

func TestConcurrentCallersAreBusy(t *testing.T) {
	ctx := context.Background()
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	seedItems(t, cfg, st, 1)
	proc := newProcessor(st)
	coord := batch.NewCoordinator(cfg, st, proc, nil)
	other := batch.NewCoordinator(cfg, st, newProcessor(st), nil)

	var sameErr, otherErr, startErr error
	proc.onItem = func(*store.Item) {
		_, sameErr = coord.RunBatch(ctx, 0, 1)
		_, startErr = coord.Start(ctx, 1)
		_, otherErr = other.RunBatch(ctx, 0, 1)
	}
	if _, err := coord.RunBatch(ctx, 0, 1); err != nil {
		t.Fatalf("run batch: %v", err)
	}
	if !errors.Is(sameErr, batch.ErrBusy) || !errors.Is(startErr, batch.ErrBusy) {
		t.Fatalf("expected in-process ErrBusy, got %v / %v", sameErr, startErr)
	}
	if !errors.Is(otherErr, batch.ErrBusy) {
		t.Fatalf("expected lock-file ErrBusy, got %v", otherErr)
	}
	if _, err := other.Start(ctx, 1); err != nil {
		t.Fatalf("lock should be released after the page: %v", err)
	}
}

func TestDriveRunsToCompletion(t *testing.T) {
	ctx := context.Background()
	cfg := testsupport.NewConfig(t, testsupport.WithBatchLimit(2))
	st := testsupport.MustOpenStore(t, cfg)
	seedItems(t, cfg, st, 5)
	proc := newProcessor(st)
	coord := batch.NewCoordinator(cfg, st, proc, nil)

	status, err := coord.Status(ctx)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.State != store.BatchIdle || status.Remaining != 5 {
		t.Fatalf("unexpected idle status %+v", status)
	}

	pages := 0
	if err := coord.Drive(ctx, 0, func(batch.Result) { pages++ }); err != nil {
		t.Fatalf("drive: %v", err)
	}
	if pages != 3 {
		t.Fatalf("expected 3 pages, got %d", pages)
	}
	if len(proc.visits) != 5 {
		t.Fatalf("expected 5 items visited, got %d", len(proc.visits))
	}
	status, err = coord.Status(ctx)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.State != store.BatchCompleted || status.Remaining != 0 {
		t.Fatalf("unexpected final status %+v", status)
	}
}
