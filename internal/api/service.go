package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"mio/internal/backend"
	"mio/internal/backup"
	"mio/internal/batch"
	"mio/internal/catalog"
	"mio/internal/config"
	"mio/internal/logging"
	"mio/internal/optimizer"
	"mio/internal/queue"
	"mio/internal/remote"
	"mio/internal/services"
	"mio/internal/stats"
	"mio/internal/store"
	"mio/internal/transcode"
)

const component = "api"

// Options overrides collaborators built by New.
type Options struct {
	Logger      *slog.Logger
	HTTPClient  remote.HTTPDoer
	Transcoders []transcode.Transcoder
}

// Service is the facade over the optimisation stack.
type Service struct {
	cfg        *config.Config
	logger     *slog.Logger
	store      *store.Store
	ownsStore  bool
	httpClient remote.HTTPDoer

	stats   *stats.Cache
	backups *backup.Manager
	engine  *optimizer.Engine
	batch   *batch.Coordinator
	worker  *queue.Worker
	scanner *catalog.Scanner
}

// New opens the store and wires the stack. Close releases the store.
func New(cfg *config.Config, opts Options) (*Service, error) {
	if cfg == nil {
		return nil, services.Wrap(services.ErrConfiguration, component, "new", "config is required", nil)
	}
	st, err := store.Open(cfg)
	if err != nil {
		return nil, services.Wrap(services.ErrPersistence, component, "open store", cfg.DatabasePath(), err)
	}
	svc := Compose(cfg, st, opts)
	svc.ownsStore = true
	return svc, nil
}

// Compose wires the stack around an already open store.
func Compose(cfg *config.Config, st *store.Store, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	transcoders := opts.Transcoders
	if transcoders == nil {
		gov := transcode.NewGovernor(transcode.LimitsFromConfig(cfg))
		transcoders = []transcode.Transcoder{
			transcode.NewHighQuality(cfg.Backend.HighQualityEnabled, gov, logger),
			transcode.NewBasic(cfg.Backend.BasicEnabled, gov, logger),
		}
	}

	cache := stats.New(st, cfg.StatsCacheTTL())
	backups := backup.NewManager(cfg, st, cache, logger)
	engine := optimizer.NewEngine(cfg, optimizer.Deps{
		Store:       st,
		Transcoders: transcoders,
		Remote:      remote.NewProvider(cfg, opts.HTTPClient, logger),
		Backups:     backups,
		Stats:       cache,
		Logger:      logger,
	})

	return &Service{
		cfg:        cfg,
		logger:     logging.NewComponentLogger(logger, component),
		store:      st,
		httpClient: opts.HTTPClient,
		stats:      cache,
		backups:    backups,
		engine:     engine,
		batch:      batch.NewCoordinator(cfg, st, engine, logger),
		worker:     queue.NewWorker(cfg, st, engine, logger),
		scanner:    catalog.NewScanner(cfg, st, logger),
	}
}

// Close releases the store when New opened it.
func (s *Service) Close() error {
	if s == nil || !s.ownsStore || s.store == nil {
		return nil
	}
	return s.store.Close()
}

// Config returns the active configuration.
func (s *Service) Config() *config.Config { return s.cfg }

// Store exposes the underlying store.
func (s *Service) Store() *store.Store { return s.store }

// Worker exposes the background queue worker.
func (s *Service) Worker() *queue.Worker { return s.worker }

// Scanner exposes the catalogue scanner.
func (s *Service) Scanner() *catalog.Scanner { return s.scanner }

// Backups exposes the backup manager.
func (s *Service) Backups() *backup.Manager { return s.backups }

// BackendKind reports the primary backend.
func (s *Service) BackendKind() backend.Kind {
	return s.engine.Selector().Kind()
}

// Backends lists every backend in priority order.
func (s *Service) Backends() []BackendView {
	info := backend.RemoteInfo{}
	if p := s.engine.Remote(); p != nil {
		info.Service = p.ServiceName()
		info.Configured = p.IsConfigured()
		if !info.Configured {
			info.Detail = remote.TestConnection(p).Message
		}
	}
	return FromBackendStatuses(s.engine.Selector().Describe(info))
}

// Item loads an item by id.
func (s *Service) Item(ctx context.Context, id int64) (*store.Item, error) {
	item, err := s.store.GetItem(ctx, id)
	if err != nil {
		return nil, services.Wrap(services.ErrPersistence, component, "load item", "", err)
	}
	if item == nil {
		return nil, services.Wrap(services.ErrNotFound, component, "load item", fmt.Sprintf("item %d", id), nil)
	}
	return item, nil
}

// Record returns the current record view for an item.
func (s *Service) Record(ctx context.Context, id int64) (RecordView, error) {
	item, err := s.Item(ctx, id)
	if err != nil {
		return RecordView{}, err
	}
	rec, err := s.store.GetRecord(ctx, id)
	if err != nil {
		return RecordView{}, services.Wrap(services.ErrPersistence, component, "load record", "", err)
	}
	return FromRecord(item, rec), nil
}

// ProcessOne optimises a single item synchronously. Items already optimised
// must go through Reoptimize.
func (s *Service) ProcessOne(ctx context.Context, id int64) (RecordView, error) {
	item, err := s.Item(ctx, id)
	if err != nil {
		return RecordView{}, err
	}
	rec, err := s.store.GetRecord(ctx, id)
	if err != nil {
		return RecordView{}, services.Wrap(services.ErrPersistence, component, "load record", "", err)
	}
	if rec != nil && rec.Optimized {
		return FromRecord(item, rec), services.Wrap(services.ErrValidation, component, "process",
			fmt.Sprintf("item %d is already optimized; use reoptimize", id), nil)
	}
	return FromOutcome(item, s.engine.Process(services.WithRequestID(ctx, uuid.NewString()), item)), nil
}

// Reoptimize clears the item's optimised flag and error, then processes it.
func (s *Service) Reoptimize(ctx context.Context, id int64) (RecordView, error) {
	item, err := s.Item(ctx, id)
	if err != nil {
		return RecordView{}, err
	}
	if err := s.store.ResetRecord(ctx, id); err != nil {
		return RecordView{}, services.Wrap(services.ErrPersistence, component, "reset record", "", err)
	}
	return FromOutcome(item, s.engine.Process(services.WithRequestID(ctx, uuid.NewString()), item)), nil
}

// RunBatch processes one page of unoptimised items.
func (s *Service) RunBatch(ctx context.Context, offset, limit int) (batch.Result, error) {
	return s.batch.RunBatch(ctx, offset, limit)
}

// StartBatch resets the cursor and begins a new run.
func (s *Service) StartBatch(ctx context.Context, limit int) (store.BatchState, error) {
	return s.batch.Start(ctx, limit)
}

// ResumeBatch continues a paused run from its saved offset.
func (s *Service) ResumeBatch(ctx context.Context) (store.BatchState, error) {
	return s.batch.Resume(ctx)
}

// Pause flags the running batch as paused.
func (s *Service) Pause(ctx context.Context) (bool, error) {
	return s.batch.Pause(ctx)
}

// BatchStatus reports the persisted cursor and remaining work.
func (s *Service) BatchStatus(ctx context.Context) (batch.Status, error) {
	return s.batch.Status(ctx)
}

// DriveBatch runs pages until the run completes, pauses or ctx ends.
func (s *Service) DriveBatch(ctx context.Context, limit int, onPage func(batch.Result)) error {
	return s.batch.Drive(ctx, limit, onPage)
}

// Stats returns the cached aggregate statistics.
func (s *Service) Stats(ctx context.Context) (StatsView, error) {
	snap, err := s.stats.Get(ctx)
	if err != nil {
		return StatsView{}, err
	}
	return FromSnapshot(snap), nil
}

// Restore puts the item's backup back in place and clears its record.
func (s *Service) Restore(ctx context.Context, id int64) (bool, error) {
	item, err := s.Item(ctx, id)
	if err != nil {
		return false, err
	}
	return s.backups.Restore(ctx, item)
}

// CreateBackup preserves the item's current bytes. It reports false when
// backups are disabled.
func (s *Service) CreateBackup(ctx context.Context, id int64) (bool, error) {
	item, err := s.Item(ctx, id)
	if err != nil {
		return false, err
	}
	path, err := s.backups.Backup(ctx, item)
	if err != nil {
		return false, err
	}
	return path != "", nil
}

// BackupStats summarises the backup tree.
func (s *Service) BackupStats(ctx context.Context) (BackupStatsView, error) {
	st, err := s.backups.Stats(ctx)
	if err != nil {
		return BackupStatsView{}, err
	}
	return FromBackupStats(s.backups.Enabled(), s.cfg.Paths.BackupDir, st), nil
}

// CleanupBackups deletes backups older than age, or the configured
// retention when age is not positive.
func (s *Service) CleanupBackups(ctx context.Context, age time.Duration) (int, error) {
	if age <= 0 {
		age = time.Duration(s.cfg.Backup.RetentionDays) * 24 * time.Hour
	}
	return s.backups.CleanupOlderThan(ctx, age)
}

// TestBackendConnection checks a backend or remote provider without
// touching any file. An empty name checks the configured remote provider.
func (s *Service) TestBackendConnection(provider string) remote.ConnectionResult {
	name := strings.ToLower(strings.TrimSpace(provider))
	if kind, ok := backend.ParseKind(name); ok && kind != backend.KindRemote {
		caps := s.engine.Selector().Capabilities()
		available := caps.Basic
		if kind == backend.KindHighQuality {
			available = caps.HighQuality
		}
		if available {
			return remote.ConnectionResult{OK: true, Message: fmt.Sprintf("%s backend is available", kind)}
		}
		return remote.ConnectionResult{OK: false, Message: fmt.Sprintf("%s backend is not available", kind)}
	}
	if name == "" || name == string(backend.KindRemote) {
		return remote.TestConnection(s.engine.Remote())
	}
	p, ok := remote.ProviderByName(s.cfg, name, s.httpClient, s.logger)
	if !ok {
		return remote.ConnectionResult{OK: false, Message: fmt.Sprintf("unknown provider %q", provider)}
	}
	return remote.TestConnection(p)
}

// Enqueue adds an item to the background queue. A zero priority uses the
// configured default.
func (s *Service) Enqueue(ctx context.Context, id int64, priority int) (bool, error) {
	if _, err := s.Item(ctx, id); err != nil {
		return false, err
	}
	if priority == 0 {
		priority = s.cfg.Queue.DefaultPriority
	}
	added, err := s.store.Enqueue(ctx, id, priority, s.cfg.Queue.MaxRetries)
	if err != nil {
		return false, services.Wrap(services.ErrPersistence, component, "enqueue", "", err)
	}
	if added {
		s.worker.Wake()
	}
	return added, nil
}

// ListQueue returns queue entries, optionally filtered by status.
func (s *Service) ListQueue(ctx context.Context, statuses ...store.QueueStatus) ([]QueueEntryView, error) {
	entries, err := s.store.ListQueue(ctx, statuses...)
	if err != nil {
		return nil, err
	}
	return FromQueueEntries(entries), nil
}

// QueueStats counts queue entries per status.
func (s *Service) QueueStats(ctx context.Context) (store.QueueSummary, error) {
	return s.store.QueueStats(ctx)
}

// RetryFailed returns failed entries to pending. No ids retries them all.
func (s *Service) RetryFailed(ctx context.Context, ids ...int64) (int64, error) {
	n, err := s.store.RetryFailedQueue(ctx, ids...)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.worker.Wake()
	}
	return n, nil
}

// CleanupQueue removes finished entries older than days, or the configured
// age when days is not positive.
func (s *Service) CleanupQueue(ctx context.Context, days int) (int64, error) {
	if days <= 0 {
		days = s.cfg.Queue.CleanupDays
	}
	return s.store.CleanupQueue(ctx, days)
}

// Items lists catalogued images.
func (s *Service) Items(ctx context.Context, filter store.ItemFilter, limit, offset int) ([]ItemView, error) {
	summaries, err := s.store.ListItems(ctx, filter, limit, offset)
	if err != nil {
		return nil, err
	}
	views := make([]ItemView, 0, len(summaries))
	for _, summary := range summaries {
		views = append(views, FromItemSummary(summary))
	}
	return views, nil
}

// RecentLogs returns the newest optimisation history rows.
func (s *Service) RecentLogs(ctx context.Context, limit int) ([]LogView, error) {
	entries, err := s.store.RecentLogs(ctx, limit)
	if err != nil {
		return nil, err
	}
	return FromLogEntries(entries), nil
}

// Scan synchronises the catalogue with the media tree.
func (s *Service) Scan(ctx context.Context) (catalog.ScanResult, error) {
	result, err := s.scanner.Scan(ctx)
	if err != nil {
		return result, err
	}
	s.stats.Invalidate()
	return result, nil
}

// Health reports database and backend readiness.
func (s *Service) Health(ctx context.Context) HealthView {
	view := HealthView{Backends: s.Backends()}
	health, err := s.store.CheckHealth(ctx)
	view.DatabasePath = health.DBPath
	view.SchemaVersion = health.SchemaVersion
	view.IntegrityCheck = health.IntegrityCheck
	view.MissingTables = health.MissingTables
	view.DatabaseOK = err == nil && health.DatabaseReadable && len(health.MissingTables) == 0 && health.IntegrityCheck
	switch {
	case err != nil:
		view.Error = err.Error()
	case health.Error != "":
		view.Error = health.Error
	}
	return view
}

// IsNotFound reports whether err marks a missing item, file or backup.
func IsNotFound(err error) bool {
	return errors.Is(err, services.ErrNotFound)
}
