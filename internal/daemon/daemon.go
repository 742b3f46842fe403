package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"github.com/hashicorp/go-multierror"

	"mio/internal/api"
	"mio/internal/catalog"
	"mio/internal/config"
	"mio/internal/logging"
	"mio/internal/store"
)

// DefaultMaintenanceInterval is how often retention jobs run.
const DefaultMaintenanceInterval = 6 * time.Hour

// Option customises a Daemon.
type Option func(*Daemon)

// WithMaintenanceInterval overrides the retention schedule.
func WithMaintenanceInterval(d time.Duration) Option {
	return func(dm *Daemon) {
		if d > 0 {
			dm.maintenanceEvery = d
		}
	}
}

// WithLogTargets sets the log files subject to retention.
func WithLogTargets(targets ...logging.RetentionTarget) Option {
	return func(dm *Daemon) { dm.logTargets = targets }
}

// WithWatcherOptions passes options to the upload watcher.
func WithWatcherOptions(opts ...catalog.WatcherOption) Option {
	return func(dm *Daemon) { dm.watcherOpts = opts }
}

// Daemon runs the background services and enforces single-instance execution.
type Daemon struct {
	cfg    *config.Config
	svc    *api.Service
	base   *slog.Logger
	logger *slog.Logger

	lockPath string
	lock     *flock.Flock

	maintenanceEvery time.Duration
	logTargets       []logging.RetentionTarget
	watcherOpts      []catalog.WatcherOption

	mu      sync.Mutex
	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	lastRun atomic.Pointer[MaintenanceReport]
}

// Status represents daemon runtime information.
type Status struct {
	Running         bool               `json:"running"`
	PID             int                `json:"pid"`
	LockFilePath    string             `json:"lock_file_path"`
	DatabasePath    string             `json:"database_path"`
	AutoOptimize    bool               `json:"auto_optimize"`
	Queue           store.QueueSummary `json:"queue"`
	LastMaintenance *MaintenanceReport `json:"last_maintenance,omitempty"`
}

// MaintenanceReport summarises one retention pass.
type MaintenanceReport struct {
	BackupsRemoved int       `json:"backups_removed"`
	QueueRemoved   int64     `json:"queue_removed"`
	LogsRemoved    int       `json:"logs_removed"`
	RanAt          time.Time `json:"ran_at"`
	Error          string    `json:"error,omitempty"`
}

// New constructs a daemon around an initialised service.
func New(cfg *config.Config, svc *api.Service, logger *slog.Logger, opts ...Option) (*Daemon, error) {
	if cfg == nil || svc == nil {
		return nil, errors.New("daemon requires config and service")
	}
	lockPath := cfg.DaemonLockPath()
	d := &Daemon{
		cfg:              cfg,
		svc:              svc,
		base:             logger,
		logger:           logging.NewComponentLogger(logger, "daemon"),
		lockPath:         lockPath,
		lock:             flock.New(lockPath),
		maintenanceEvery: DefaultMaintenanceInterval,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Start acquires the daemon lock and launches the worker, watcher and
// maintenance loop.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running.Load() {
		return errors.New("daemon already running")
	}
	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another miod instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	if result, err := d.svc.Scan(runCtx); err != nil {
		logging.WarnWithContext(d.logger, "initial media scan failed", "catalog_scan_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check paths.media_root permissions"),
			logging.String(logging.FieldImpact, "catalogue may be stale until the next scan"),
		)
	} else {
		d.logger.Debug("initial media scan", logging.Int("added", result.Added), logging.Int("files", result.Files))
	}

	if err := d.svc.Worker().Start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start queue worker: %w", err)
	}

	if d.cfg.Optimization.AutoOptimize {
		opts := append([]catalog.WatcherOption{catalog.WithWake(d.svc.Worker().Wake)}, d.watcherOpts...)
		watcher := catalog.NewWatcher(d.cfg, d.svc.Scanner(), d.svc.Store(), d.base, opts...)
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			if err := watcher.Run(runCtx); err != nil {
				logging.ErrorWithContext(d.logger, "upload watcher stopped", "watcher_failed",
					logging.Error(err),
					logging.String(logging.FieldImpact, "new uploads are picked up only by scans"),
				)
			}
		}()
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.maintenanceLoop(runCtx)
	}()

	d.cancel = cancel
	d.running.Store(true)
	d.logger.Info("miod started",
		logging.String("lock", d.lockPath),
		logging.Bool("auto_optimize", d.cfg.Optimization.AutoOptimize),
		logging.String(logging.FieldBackend, d.svc.BackendKind().String()),
		logging.String(logging.FieldEventType, "daemon_started"),
	)
	return nil
}

// Stop halts background processing and releases the lock.
func (d *Daemon) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running.Load() {
		return
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.svc.Worker().Stop()
	d.wg.Wait()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("miod stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

// Close stops the daemon and releases the service.
func (d *Daemon) Close() error {
	d.Stop()
	return d.svc.Close()
}

// Running reports whether Start succeeded and Stop has not been called.
func (d *Daemon) Running() bool { return d.running.Load() }

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	status := Status{
		Running:         d.running.Load(),
		PID:             os.Getpid(),
		LockFilePath:    d.lockPath,
		DatabasePath:    d.cfg.DatabasePath(),
		AutoOptimize:    d.cfg.Optimization.AutoOptimize,
		LastMaintenance: d.lastRun.Load(),
	}
	if summary, err := d.svc.QueueStats(ctx); err == nil {
		status.Queue = summary
	}
	return status
}

// RunMaintenance applies backup, queue and log retention once.
func (d *Daemon) RunMaintenance(ctx context.Context) (MaintenanceReport, error) {
	report := MaintenanceReport{RanAt: time.Now().UTC()}
	var result *multierror.Error

	if d.cfg.Backup.RetentionDays > 0 {
		removed, err := d.svc.CleanupBackups(ctx, 0)
		report.BackupsRemoved = removed
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("backup retention: %w", err))
		}
	}
	removed, err := d.svc.CleanupQueue(ctx, 0)
	report.QueueRemoved = removed
	if err != nil {
		result = multierror.Append(result, fmt.Errorf("queue cleanup: %w", err))
	}
	if len(d.logTargets) > 0 {
		report.LogsRemoved = logging.CleanupOldLogs(d.logger, d.cfg.Logging.RetentionDays, d.logTargets...)
	}

	err = result.ErrorOrNil()
	if err != nil {
		report.Error = err.Error()
	}
	d.lastRun.Store(&report)
	return report, err
}

func (d *Daemon) maintenanceLoop(ctx context.Context) {
	ticker := time.NewTicker(d.maintenanceEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := d.RunMaintenance(ctx)
			if err != nil {
				logging.WarnWithContext(d.logger, "maintenance finished with errors", "maintenance_failed",
					logging.Error(err),
					logging.String(logging.FieldImpact, "old backups or queue rows may remain"),
				)
				continue
			}
			d.logger.Info("maintenance complete",
				logging.Int("backups_removed", report.BackupsRemoved),
				logging.Int64("queue_removed", report.QueueRemoved),
				logging.Int("logs_removed", report.LogsRemoved),
				logging.String(logging.FieldEventType, "maintenance_complete"),
			)
		}
	}
}
