package stats

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"mio/internal/store"
)

type fakeSource struct {
	calls   atomic.Int64
	items   atomic.Int64
	fail    atomic.Bool
	release chan struct{}
}

func (f *fakeSource) Stats(context.Context) (store.Stats, error) {
	f.calls.Add(1)
	if f.release != nil {
		<-f.release
	}
	if f.fail.Load() {
		return store.Stats{}, errors.New("db locked")
	}
	return store.Stats{TotalItems: int(f.items.Load()), OriginalBytes: 1000, TotalSavings: 250}, nil
}

func (f *fakeSource) LogStats(context.Context) (store.LogStats, error) {
	return store.LogStats{Total: 1}, nil
}

func (f *fakeSource) QueueStats(context.Context) (store.QueueSummary, error) {
	return store.QueueSummary{Pending: 2}, nil
}

func TestCacheServesWithinTTL(t *testing.T) {
	src := &fakeSource{}
	src.items.Store(3)
	cache := New(src, time.Minute)

	first, err := cache.Get(context.Background())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	src.items.Store(9)
	second, err := cache.Get(context.Background())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if first.Library.TotalItems != 3 || second.Library.TotalItems != 3 {
		t.Fatalf("expected cached value 3, got %d and %d", first.Library.TotalItems, second.Library.TotalItems)
	}
	if src.calls.Load() != 1 {
		t.Fatalf("expected one load, got %d", src.calls.Load())
	}
	if got := first.SavingsPercent(); got != 25 {
		t.Fatalf("expected 25%%, got %v", got)
	}

	cache.Invalidate()
	third, err := cache.Get(context.Background())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if third.Library.TotalItems != 9 {
		t.Fatalf("expected fresh value after invalidate, got %d", third.Library.TotalItems)
	}
}

func TestCacheExpires(t *testing.T) {
	src := &fakeSource{}
	cache := New(src, 20*time.Millisecond)
	if _, err := cache.Get(context.Background()); err != nil {
		t.Fatalf("get: %v", err)
	}
	time.Sleep(40 * time.Millisecond)
	if _, err := cache.Get(context.Background()); err != nil {
		t.Fatalf("get: %v", err)
	}
	if src.calls.Load() != 2 {
		t.Fatalf("expected reload after ttl, got %d loads", src.calls.Load())
	}
}

func TestCacheDoesNotRetainErrors(t *testing.T) {
	src := &fakeSource{}
	src.fail.Store(true)
	cache := New(src, time.Minute)
	if _, err := cache.Get(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	src.fail.Store(false)
	if _, err := cache.Get(context.Background()); err != nil {
		t.Fatalf("expected recovery, got %v", err)
	}
	if src.calls.Load() != 2 {
		t.Fatalf("expected two loads, got %d", src.calls.Load())
	}
}

func TestConcurrentMissesShareLoad(t *testing.T) {
	src := &fakeSource{release: make(chan struct{})}
	cache := New(src, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := cache.Get(context.Background()); err != nil {
				t.Errorf("get: %v", err)
			}
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(src.release)
	wg.Wait()

	if src.calls.Load() != 1 {
		t.Fatalf("expected a single shared load, got %d", src.calls.Load())
	}
}
