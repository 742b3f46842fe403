package queue_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"mio/internal/config"
	"mio/internal/optimizer"
	"mio/internal/queue"
	"mio/internal/services"
	"mio/internal/store"
	"mio/internal/testsupport"
)

type stubProcessor struct {
	calls atomic.Int64
	err   error
}

func (p *stubProcessor) Process(_ context.Context, item *store.Item) optimizer.Outcome {
	p.calls.Add(1)
	if p.err != nil {
		return optimizer.Outcome{ItemID: item.ID, Status: store.LogFailed, Message: p.err.Error(), Err: p.err}
	}
	return optimizer.Outcome{ItemID: item.ID, Status: store.LogSuccess}
}

// flakyItemStore fails item lookups after the entry has been claimed.
type flakyItemStore struct {
	*store.Store
}

func (flakyItemStore) GetItem(context.Context, int64) (*store.Item, error) {
	return nil, errors.New("database is locked")
}

func setup(t *testing.T) (*config.Config, *store.Store, *store.Item) {
	t.Helper()
	cfg := testsupport.NewConfig(t, testsupport.WithConfig(func(c *config.Config) {
		c.Queue.PollInterval = 1
		c.Queue.ErrorRetryInterval = 1
	}))
	st := testsupport.MustOpenStore(t, cfg)
	path := testsupport.MediaPath(cfg, "photo.jpg")
	testsupport.WriteFile(t, path, 128)
	item := testsupport.NewItem(t, st, path)
	return cfg, st, item
}

func queueEntry(t *testing.T, st *store.Store) store.QueueEntry {
	t.Helper()
	entries, err := st.ListQueue(context.Background())
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected one queue entry, got %d err=%v", len(entries), err)
	}
	return entries[0]
}

func TestProcessNextEmptyQueue(t *testing.T) {
	cfg, st, _ := setup(t)
	worker := queue.NewWorker(cfg, st, &stubProcessor{}, nil)
	worked, err := worker.ProcessNext(context.Background())
	if err != nil || worked {
		t.Fatalf("expected idle queue, worked=%v err=%v", worked, err)
	}
}

func TestProcessNextCompletes(t *testing.T) {
	ctx := context.Background()
	cfg, st, item := setup(t)
	if _, err := st.Enqueue(ctx, item.ID, 5, 3); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	proc := &stubProcessor{}
	worked, err := queue.NewWorker(cfg, st, proc, nil).ProcessNext(ctx)
	if err != nil || !worked {
		t.Fatalf("process next: worked=%v err=%v", worked, err)
	}
	if entry := queueEntry(t, st); entry.Status != store.QueueCompleted || entry.CompletedAt == nil {
		t.Fatalf("unexpected entry %+v", entry)
	}
	if proc.calls.Load() != 1 {
		t.Fatalf("expected one call, got %d", proc.calls.Load())
	}
}

func TestRetryableFailureReturnsToPendingUntilBudgetSpent(t *testing.T) {
	ctx := context.Background()
	cfg, st, item := setup(t)
	if _, err := st.Enqueue(ctx, item.ID, 5, 3); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	proc := &stubProcessor{err: services.Wrap(services.ErrRemoteFailure, "remote", "submit", "502", nil)}
	worker := queue.NewWorker(cfg, st, proc, nil)

	for attempt := 1; attempt <= 3; attempt++ {
		if _, err := worker.ProcessNext(ctx); err != nil {
			t.Fatalf("attempt %d: %v", attempt, err)
		}
		entry := queueEntry(t, st)
		if entry.Retries != attempt {
			t.Fatalf("attempt %d: expected retries %d, got %d", attempt, attempt, entry.Retries)
		}
		want := store.QueuePending
		if attempt == 3 {
			want = store.QueueFailed
		}
		if entry.Status != want {
			t.Fatalf("attempt %d: expected %s, got %s", attempt, want, entry.Status)
		}
	}
	if worked, _ := worker.ProcessNext(ctx); worked {
		t.Fatal("exhausted entry must not be picked up again")
	}
}

func TestPermanentFailureFailsImmediately(t *testing.T) {
	ctx := context.Background()
	cfg, st, item := setup(t)
	if _, err := st.Enqueue(ctx, item.ID, 5, 3); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	proc := &stubProcessor{err: services.Wrap(services.ErrUnsupported, "engine", "detect", "tiff", nil)}
	if _, err := queue.NewWorker(cfg, st, proc, nil).ProcessNext(ctx); err != nil {
		t.Fatalf("process next: %v", err)
	}
	entry := queueEntry(t, st)
	if entry.Status != store.QueueFailed || entry.Retries != 1 || entry.Error == "" {
		t.Fatalf("unexpected entry %+v", entry)
	}
}

func TestAlreadyOptimisedItemCompletesWithoutWork(t *testing.T) {
	ctx := context.Background()
	cfg, st, item := setup(t)
	if err := st.SaveRecord(ctx, store.Record{ItemID: item.ID, Optimized: true, Method: store.MethodBasic, OriginalSize: 10, OptimizedSize: 5}); err != nil {
		t.Fatalf("save record: %v", err)
	}
	if _, err := st.Enqueue(ctx, item.ID, 5, 3); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	proc := &stubProcessor{}
	if _, err := queue.NewWorker(cfg, st, proc, nil).ProcessNext(ctx); err != nil {
		t.Fatalf("process next: %v", err)
	}
	if proc.calls.Load() != 0 {
		t.Fatal("optimised item should not be processed again")
	}
	if entry := queueEntry(t, st); entry.Status != store.QueueCompleted {
		t.Fatalf("unexpected entry %+v", entry)
	}
}

func TestWorkerLoopDrainsQueue(t *testing.T) {
	ctx := context.Background()
	cfg, st, item := setup(t)
	worker := queue.NewWorker(cfg, st, &stubProcessor{}, nil)
	if err := worker.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer worker.Stop()
	if err := worker.Start(ctx); err == nil {
		t.Fatal("expected second start to fail")
	}

	if _, err := st.Enqueue(ctx, item.ID, 1, 3); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	worker.Wake()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if entry := queueEntry(t, st); entry.Status == store.QueueCompleted {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("worker did not complete the queued item")
}

func TestItemLookupFailureReleasesClaim(t *testing.T) {
	ctx := context.Background()
	cfg, st, item := setup(t)
	if _, err := st.Enqueue(ctx, item.ID, 5, 3); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	proc := &stubProcessor{}
	worked, err := queue.NewWorker(cfg, flakyItemStore{st}, proc, nil).ProcessNext(ctx)
	if !worked || err == nil {
		t.Fatalf("expected lookup error, worked=%v err=%v", worked, err)
	}
	entry := queueEntry(t, st)
	if entry.Status != store.QueuePending || entry.Retries != 1 || entry.Error == "" {
		t.Fatalf("claimed entry should return to pending, got %+v", entry)
	}
	if proc.calls.Load() != 0 {
		t.Fatal("item must not be processed without a lookup")
	}
}
