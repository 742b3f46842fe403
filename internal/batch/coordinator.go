package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"mio/internal/config"
	"mio/internal/logging"
	"mio/internal/optimizer"
	"mio/internal/services"
	"mio/internal/store"
)

// ErrBusy is returned when another caller is already running a page.
var ErrBusy = errors.New("batch already in progress")

// ErrNotPaused is returned by Resume when there is no paused run.
var ErrNotPaused = errors.New("no paused batch run")

// Store is the persistence surface of the coordinator.
type Store interface {
	LoadBatchState(ctx context.Context) (store.BatchState, error)
	SaveBatchState(ctx context.Context, state store.BatchState, force bool) error
	SetBatchPaused(ctx context.Context) (bool, error)
	EligibleItems(ctx context.Context, runID string, offset, limit int) ([]*store.Item, error)
	CountEligible(ctx context.Context, runID string) (int, error)
}

// Processor optimises one item within a run.
type Processor interface {
	ProcessInRun(ctx context.Context, item *store.Item, runID string) optimizer.Outcome
}

// LogEntry is one line of a page report.
type LogEntry struct {
	Type    store.LogStatus `json:"type"`
	Message string          `json:"message"`
}

// Result reports one page.
type Result struct {
	RunID      string            `json:"run_id"`
	State      store.BatchStatus `json:"state"`
	Processed  int               `json:"processed"`
	Succeeded  int               `json:"succeeded"`
	Failed     int               `json:"failed"`
	Skipped    int               `json:"skipped"`
	Savings    int64             `json:"savings"`
	Log        []LogEntry        `json:"log"`
	NextOffset int               `json:"next_offset"`
	HasMore    bool              `json:"has_more"`
	Paused     bool              `json:"paused"`
}

// Status summarises the persisted cursor.
type Status struct {
	store.BatchState
	Remaining int `json:"remaining"`
}

// Coordinator runs paginated batch jobs.
type Coordinator struct {
	store        Store
	engine       Processor
	defaultLimit int
	delay        time.Duration
	logger       *slog.Logger

	mu       sync.Mutex
	lock     *flock.Flock
	newRunID func() string
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewCoordinator constructs a coordinator.
func NewCoordinator(cfg *config.Config, st Store, engine Processor, logger *slog.Logger) *Coordinator {
	limit := cfg.Batch.Limit
	if limit <= 0 {
		limit = 10
	}
	return &Coordinator{
		store:        st,
		engine:       engine,
		defaultLimit: limit,
		delay:        time.Duration(cfg.Batch.DelayMS) * time.Millisecond,
		logger:       logging.NewComponentLogger(logger, "batch"),
		lock:         flock.New(cfg.BatchLockPath()),
		newRunID:     uuid.NewString,
		now:          time.Now,
		sleep:        sleepContext,
	}
}

func (c *Coordinator) acquire() (func(), error) {
	if !c.mu.TryLock() {
		return nil, ErrBusy
	}
	ok, err := c.lock.TryLock()
	if err != nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("acquire batch lock: %w", err)
	}
	if !ok {
		c.mu.Unlock()
		return nil, ErrBusy
	}
	return func() {
		if err := c.lock.Unlock(); err != nil {
			c.logger.Warn("failed to release batch lock",
				logging.Error(err),
				logging.String(logging.FieldEventType, "batch_unlock_failed"),
				logging.String(logging.FieldErrorHint, "remove the stale batch.lock file"),
				logging.String(logging.FieldImpact, "next batch may report busy"),
			)
		}
		c.mu.Unlock()
	}, nil
}

// Start begins a new run from offset 0 with zeroed counters.
func (c *Coordinator) Start(ctx context.Context, limit int) (store.BatchState, error) {
	release, err := c.acquire()
	if err != nil {
		return store.BatchState{}, err
	}
	defer release()
	return c.startLocked(ctx, limit)
}

func (c *Coordinator) startLocked(ctx context.Context, limit int) (store.BatchState, error) {
	now := c.now().UTC()
	state := store.BatchState{
		RunID:     c.newRunID(),
		State:     store.BatchRunning,
		Limit:     c.limitOrDefault(limit),
		StartedAt: &now,
	}
	if err := c.store.SaveBatchState(ctx, state, true); err != nil {
		return store.BatchState{}, services.Wrap(services.ErrPersistence, "batch", "start", "", err)
	}
	c.logger.Info("batch run started",
		logging.String(logging.FieldRunID, state.RunID),
		logging.Int("limit", state.Limit),
		logging.String(logging.FieldEventType, "batch_started"),
	)
	return state, nil
}

// Resume continues a paused run at its persisted offset.
func (c *Coordinator) Resume(ctx context.Context) (store.BatchState, error) {
	release, err := c.acquire()
	if err != nil {
		return store.BatchState{}, err
	}
	defer release()

	state, err := c.store.LoadBatchState(ctx)
	if err != nil {
		return store.BatchState{}, services.Wrap(services.ErrPersistence, "batch", "resume", "", err)
	}
	if state.State != store.BatchPaused {
		return state, ErrNotPaused
	}
	state.State = store.BatchRunning
	if err := c.store.SaveBatchState(ctx, state, true); err != nil {
		return store.BatchState{}, services.Wrap(services.ErrPersistence, "batch", "resume", "", err)
	}
	c.logger.Info("batch run resumed",
		logging.String(logging.FieldRunID, state.RunID),
		logging.Int("offset", state.Offset),
		logging.String(logging.FieldEventType, "batch_resumed"),
	)
	return state, nil
}

// Pause flags the running run as paused. The page in flight, if any, runs
// to completion. It reports false when nothing was running.
func (c *Coordinator) Pause(ctx context.Context) (bool, error) {
	paused, err := c.store.SetBatchPaused(ctx)
	if err != nil {
		return false, services.Wrap(services.ErrPersistence, "batch", "pause", "", err)
	}
	if paused {
		c.logger.Info("batch run paused", logging.String(logging.FieldEventType, "batch_paused"))
	}
	return paused, nil
}

// Status returns the persisted cursor and how many items the run still owns
// past its offset.
func (c *Coordinator) Status(ctx context.Context) (Status, error) {
	state, err := c.store.LoadBatchState(ctx)
	if err != nil {
		return Status{}, services.Wrap(services.ErrPersistence, "batch", "status", "", err)
	}
	status := Status{BatchState: state}
	runID := ""
	if state.Active() {
		runID = state.RunID
	}
	eligible, err := c.store.CountEligible(ctx, runID)
	if err != nil {
		return Status{}, services.Wrap(services.ErrPersistence, "batch", "status", "", err)
	}
	if state.Active() {
		status.Remaining = max(0, eligible-state.Offset)
	} else {
		status.Remaining = eligible
	}
	return status, nil
}

// RunBatch processes one page of up to limit items starting at offset. When
// no run is active a new one is started. A paused run is reported without
// processing anything.
func (c *Coordinator) RunBatch(ctx context.Context, offset, limit int) (Result, error) {
	release, err := c.acquire()
	if err != nil {
		return Result{}, err
	}
	defer release()

	state, err := c.store.LoadBatchState(ctx)
	if err != nil {
		return Result{}, services.Wrap(services.ErrPersistence, "batch", "load", "", err)
	}
	switch state.State {
	case store.BatchPaused:
		return Result{
			RunID:      state.RunID,
			State:      state.State,
			NextOffset: state.Offset,
			HasMore:    true,
			Paused:     true,
		}, nil
	case store.BatchRunning:
	default:
		if state, err = c.startLocked(ctx, limit); err != nil {
			return Result{}, err
		}
		offset = 0
	}
	if offset < 0 {
		offset = 0
	}
	limit = c.limitOrDefault(limit)

	ctx = services.WithRunID(ctx, state.RunID)
	logger := logging.WithContext(ctx, c.logger)

	items, err := c.store.EligibleItems(ctx, state.RunID, offset, limit)
	if err != nil {
		return Result{}, services.Wrap(services.ErrPersistence, "batch", "page", "", err)
	}

	result := Result{RunID: state.RunID, Log: make([]LogEntry, 0, len(items))}
	fetched := 0
	for _, item := range items {
		if ctx.Err() != nil {
			break
		}
		out := c.engine.ProcessInRun(ctx, item, state.RunID)
		fetched++
		result.Processed++
		switch out.Status {
		case store.LogSuccess:
			result.Succeeded++
			result.Savings += out.Record.Savings
		case store.LogFailed:
			result.Failed++
		default:
			result.Skipped++
		}
		result.Log = append(result.Log, LogEntry{Type: out.Status, Message: out.Message})
	}

	result.NextOffset = offset + fetched
	eligible, err := c.store.CountEligible(ctx, state.RunID)
	if err != nil {
		return result, services.Wrap(services.ErrPersistence, "batch", "count", "", err)
	}
	result.HasMore = eligible > result.NextOffset

	state.Offset = result.NextOffset
	state.Limit = limit
	state.Processed += result.Processed
	state.Succeeded += result.Succeeded
	state.Failed += result.Failed
	state.Skipped += result.Skipped
	state.Savings += result.Savings
	if result.HasMore {
		state.State = store.BatchRunning
	} else {
		now := c.now().UTC()
		state.State = store.BatchCompleted
		state.CompletedAt = &now
	}
	// Saving without force keeps a pause that arrived during the page.
	if err := c.store.SaveBatchState(context.WithoutCancel(ctx), state, false); err != nil {
		return result, services.Wrap(services.ErrPersistence, "batch", "save", "", err)
	}
	persisted, err := c.store.LoadBatchState(context.WithoutCancel(ctx))
	if err == nil {
		state = persisted
	}
	result.State = state.State
	result.Paused = state.State == store.BatchPaused

	logger.Info("batch page finished",
		logging.Int("offset", offset),
		logging.Int("processed", result.Processed),
		logging.Int("succeeded", result.Succeeded),
		logging.Int("failed", result.Failed),
		logging.Int("skipped", result.Skipped),
		logging.Int64("savings", result.Savings),
		logging.Int("next_offset", result.NextOffset),
		logging.Bool("has_more", result.HasMore),
		logging.String("state", string(result.State)),
		logging.String(logging.FieldEventType, "batch_page"),
	)
	return result, ctx.Err()
}

// Drive resumes from the persisted cursor and runs pages until the run
// completes, is paused, or ctx ends. onPage is called after every page.
func (c *Coordinator) Drive(ctx context.Context, limit int, onPage func(Result)) error {
	state, err := c.store.LoadBatchState(ctx)
	if err != nil {
		return services.Wrap(services.ErrPersistence, "batch", "drive", "", err)
	}
	offset := 0
	if state.State == store.BatchRunning {
		offset = state.Offset
	}
	for {
		result, err := c.RunBatch(ctx, offset, limit)
		if err != nil {
			return err
		}
		if onPage != nil {
			onPage(result)
		}
		if !result.HasMore || result.Paused {
			return nil
		}
		offset = result.NextOffset
		if err := c.sleep(ctx, c.delay); err != nil {
			return err
		}
	}
}

func (c *Coordinator) limitOrDefault(limit int) int {
	if limit <= 0 {
		return c.defaultLimit
	}
	return limit
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
