package store

import "time"

// Item is an optimisable image tracked in the catalogue.
type Item struct {
	ID        int64
	Path      string
	Format    string
	Size      int64
	Width     int
	Height    int
	CreatedAt time.Time
	UpdatedAt time.Time
	Variants  []Variant
}

// Variant is a derived size (thumbnail) of an item stored as its own file.
type Variant struct {
	ID     int64
	ItemID int64
	Label  string
	Path   string
	Size   int64
}

// Method names the backend that produced a record.
type Method string

const (
	MethodHighQuality Method = "high-quality"
	MethodBasic       Method = "basic"
)

// Record is the per-item optimisation outcome. Savings always equals
// max(0, OriginalSize-OptimizedSize).
type Record struct {
	ItemID        int64
	Optimized     bool
	Method        Method
	OriginalSize  int64
	OptimizedSize int64
	Savings       int64
	Error         string
	RunID         string
	UpdatedAt     time.Time
}

// Backup maps an item to its preserved original.
type Backup struct {
	ItemID    int64
	Path      string
	CreatedAt time.Time
}

// LogStatus classifies an optimisation log row.
type LogStatus string

const (
	LogSuccess LogStatus = "success"
	LogFailed  LogStatus = "failed"
	LogSkipped LogStatus = "skipped"
)

// LogEntry is one row of the append-only optimisation history.
type LogEntry struct {
	ID            int64
	ItemID        int64
	Status        LogStatus
	Method        Method
	OriginalSize  int64
	OptimizedSize int64
	Savings       int64
	Error         string
	RunID         string
	CreatedAt     time.Time
}

// LogStats aggregates the optimisation history.
type LogStats struct {
	Total          int
	Successful     int
	Failed         int
	Skipped        int
	TotalSavings   int64
	AverageSavings float64
}

// QueueStatus is the lifecycle state of a background queue entry.
type QueueStatus string

const (
	QueuePending    QueueStatus = "pending"
	QueueProcessing QueueStatus = "processing"
	QueueCompleted  QueueStatus = "completed"
	QueueFailed     QueueStatus = "failed"
)

// QueueEntry is a background optimisation request for one item.
type QueueEntry struct {
	ID          int64
	ItemID      int64
	Status      QueueStatus
	Priority    int
	Retries     int
	MaxRetries  int
	Error       string
	AddedAt     time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// Eligible reports whether the entry can still be picked up by a worker.
func (e QueueEntry) Eligible() bool {
	return e.Status == QueuePending && e.Retries < e.MaxRetries
}

// QueueSummary counts queue entries per status.
type QueueSummary struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// BatchStatus is the state of the batch coordinator.
type BatchStatus string

const (
	BatchIdle      BatchStatus = "idle"
	BatchRunning   BatchStatus = "running"
	BatchPaused    BatchStatus = "paused"
	BatchCompleted BatchStatus = "completed"
)

// BatchState is the persisted cursor of the current (or last) batch run.
type BatchState struct {
	RunID       string      `json:"run_id"`
	State       BatchStatus `json:"state"`
	Offset      int         `json:"offset"`
	Limit       int         `json:"limit"`
	Processed   int         `json:"processed"`
	Succeeded   int         `json:"succeeded"`
	Failed      int         `json:"failed"`
	Skipped     int         `json:"skipped"`
	Savings     int64       `json:"savings"`
	StartedAt   *time.Time  `json:"started_at,omitempty"`
	UpdatedAt   *time.Time  `json:"updated_at,omitempty"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
}

// Active reports whether a run is in progress or paused.
func (b BatchState) Active() bool {
	return b.State == BatchRunning || b.State == BatchPaused
}

// Stats aggregates item and record counts for reporting.
type Stats struct {
	TotalItems     int
	OptimizedItems int
	FailedItems    int
	TotalSavings   int64
	OriginalBytes  int64
	OptimizedBytes int64
}

// ItemSummary joins an item with its optimisation record for listings.
type ItemSummary struct {
	Item   Item
	Record *Record
}

// ItemFilter narrows ListItems.
type ItemFilter string

const (
	FilterAll         ItemFilter = "all"
	FilterOptimized   ItemFilter = "optimized"
	FilterUnoptimized ItemFilter = "unoptimized"
	FilterFailed      ItemFilter = "failed"
)

// DatabaseHealth describes the result of CheckHealth.
type DatabaseHealth struct {
	DBPath           string
	DatabaseExists   bool
	DatabaseReadable bool
	SchemaVersion    int
	MissingTables    []string
	IntegrityCheck   bool
	TotalItems       int
	Error            string
}
