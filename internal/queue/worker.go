package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"mio/internal/config"
	"mio/internal/logging"
	"mio/internal/optimizer"
	"mio/internal/services"
	"mio/internal/store"
)

// Store is the persistence surface used by the worker.
type Store interface {
	NextQueueEntry(ctx context.Context) (*store.QueueEntry, error)
	MarkQueueProcessing(ctx context.Context, id int64) (bool, error)
	CompleteQueueEntry(ctx context.Context, id int64) error
	FailQueueEntry(ctx context.Context, id int64, message string, retryable bool) (store.QueueStatus, error)
	ResetStuckQueue(ctx context.Context) (int64, error)
	GetItem(ctx context.Context, id int64) (*store.Item, error)
	GetRecord(ctx context.Context, itemID int64) (*store.Record, error)
}

// Processor optimises one item.
type Processor interface {
	Process(ctx context.Context, item *store.Item) optimizer.Outcome
}

// Worker is the single background consumer of the queue.
type Worker struct {
	store        Store
	engine       Processor
	logger       *slog.Logger
	pollInterval time.Duration
	errorBackoff time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	wake    chan struct{}
}

// NewWorker constructs a worker from the [queue] configuration.
func NewWorker(cfg *config.Config, st Store, engine Processor, logger *slog.Logger) *Worker {
	poll := time.Duration(cfg.Queue.PollInterval) * time.Second
	if poll <= 0 {
		poll = 5 * time.Second
	}
	backoff := time.Duration(cfg.Queue.ErrorRetryInterval) * time.Second
	if backoff <= 0 {
		backoff = poll
	}
	return &Worker{
		store:        st,
		engine:       engine,
		logger:       logging.NewComponentLogger(logger, "queue"),
		pollInterval: poll,
		errorBackoff: backoff,
		wake:         make(chan struct{}, 1),
	}
}

// Start resets stranded entries and begins polling.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return errors.New("queue worker already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.running = true
	w.wg.Add(1)
	w.mu.Unlock()

	if n, err := w.store.ResetStuckQueue(runCtx); err != nil {
		w.logger.Warn("failed to reset stuck queue entries",
			logging.Error(err),
			logging.String(logging.FieldEventType, "queue_reset_failed"),
			logging.String(logging.FieldErrorHint, "check database health"),
			logging.String(logging.FieldImpact, "entries stuck in processing will not run"),
		)
	} else if n > 0 {
		w.logger.Info("reset stuck queue entries", logging.Int64("count", n), logging.String(logging.FieldEventType, "queue_reset"))
	}

	go w.run(runCtx)
	return nil
}

// Stop cancels polling and waits for the entry in flight.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	cancel := w.cancel
	w.running = false
	w.cancel = nil
	w.mu.Unlock()

	cancel()
	w.wg.Wait()
}

// Wake shortens the current poll wait.
func (w *Worker) Wake() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()
	for {
		if ctx.Err() != nil {
			return
		}
		worked, err := w.ProcessNext(ctx)
		switch {
		case err != nil:
			if errors.Is(err, context.Canceled) {
				return
			}
			w.logger.Error("queue iteration failed",
				logging.Error(err),
				logging.String(logging.FieldEventType, "queue_fetch_failed"),
				logging.String(logging.FieldErrorHint, "check database access"),
			)
			w.wait(ctx, w.errorBackoff)
		case !worked:
			w.wait(ctx, w.pollInterval)
		}
	}
}

func (w *Worker) wait(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-w.wake:
	case <-timer.C:
	}
}

// ProcessNext claims and processes one entry. It reports false when the
// queue had nothing eligible.
func (w *Worker) ProcessNext(ctx context.Context) (bool, error) {
	entry, err := w.store.NextQueueEntry(ctx)
	if err != nil {
		return false, err
	}
	if entry == nil {
		return false, nil
	}
	claimed, err := w.store.MarkQueueProcessing(ctx, entry.ID)
	if err != nil {
		return false, err
	}
	if !claimed {
		return true, nil
	}

	ctx = services.WithItemID(ctx, entry.ItemID)
	logger := logging.WithContext(ctx, w.logger).With(logging.Int64("queue_id", entry.ID))
	// Bookkeeping must land even when shutdown interrupts the item.
	persistCtx := context.WithoutCancel(ctx)

	item, err := w.store.GetItem(ctx, entry.ItemID)
	if err != nil {
		if _, failErr := w.store.FailQueueEntry(persistCtx, entry.ID, err.Error(), true); failErr != nil {
			return true, errors.Join(err, failErr)
		}
		return true, err
	}
	if item == nil {
		_, err := w.store.FailQueueEntry(persistCtx, entry.ID, "item no longer exists", false)
		return true, err
	}
	if rec, err := w.store.GetRecord(ctx, item.ID); err == nil && rec != nil && rec.Optimized {
		logger.Debug("queued item already optimised", logging.String(logging.FieldPath, item.Path))
		return true, w.store.CompleteQueueEntry(persistCtx, entry.ID)
	}

	out := w.engine.Process(ctx, item)
	if out.Status != store.LogFailed {
		return true, w.store.CompleteQueueEntry(persistCtx, entry.ID)
	}

	retryable := services.Retryable(out.Err) || ctx.Err() != nil
	status, err := w.store.FailQueueEntry(persistCtx, entry.ID, out.Message, retryable)
	if err != nil {
		return true, err
	}
	logger.Info("queued item failed",
		logging.String(logging.FieldPath, item.Path),
		logging.Bool("retryable", retryable),
		logging.String("queue_status", string(status)),
		logging.String(logging.FieldErrorKind, services.Kind(out.Err)),
		logging.String(logging.FieldEventType, "queue_item_failed"),
	)
	return true, nil
}
