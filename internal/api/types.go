package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// RecordView is the optimisation outcome for one item.
type RecordView struct {
	ItemID         int64   `json:"item_id"`
	Path           string  `json:"path,omitempty"`
	Status         string  `json:"status"`
	Optimized      bool    `json:"optimized"`
	Method         string  `json:"method,omitempty"`
	OriginalSize   int64   `json:"original_size"`
	OptimizedSize  int64   `json:"optimized_size"`
	Savings        int64   `json:"savings"`
	SavingsPercent float64 `json:"savings_percent"`
	Error          string  `json:"error,omitempty"`
	Message        string  `json:"message,omitempty"`
	UpdatedAt      string  `json:"updated_at,omitempty"`
}

// ItemView lists a catalogued image with its record, if any.
type ItemView struct {
	ID        int64       `json:"id"`
	Path      string      `json:"path"`
	Format    string      `json:"format"`
	Size      int64       `json:"size"`
	Width     int         `json:"width,omitempty"`
	Height    int         `json:"height,omitempty"`
	Variants  int         `json:"variants"`
	Record    *RecordView `json:"record,omitempty"`
	CreatedAt string      `json:"created_at,omitempty"`
}

// StatsView carries the aggregate counters.
type StatsView struct {
	TotalItems     int     `json:"total_items"`
	OptimizedItems int     `json:"optimized_items"`
	FailedItems    int     `json:"failed_items"`
	TotalSavings   int64   `json:"total_savings"`
	SavingsPercent float64 `json:"savings_percent"`
	OriginalBytes  int64   `json:"original_bytes"`
	OptimizedBytes int64   `json:"optimized_bytes"`
	LogTotal       int     `json:"log_total"`
	LogSkipped     int     `json:"log_skipped"`
	AverageSavings float64 `json:"average_savings"`
	QueuePending   int     `json:"queue_pending"`
	QueueFailed    int     `json:"queue_failed"`
	GeneratedAt    string  `json:"generated_at"`
}

// BackendView reports one backend's availability.
type BackendView struct {
	Kind      string `json:"kind"`
	Name      string `json:"name"`
	Available bool   `json:"available"`
	Primary   bool   `json:"primary"`
	Detail    string `json:"detail,omitempty"`
}

// QueueEntryView is a background queue entry.
type QueueEntryView struct {
	ID          int64  `json:"id"`
	ItemID      int64  `json:"item_id"`
	Status      string `json:"status"`
	Priority    int    `json:"priority"`
	Retries     int    `json:"retries"`
	MaxRetries  int    `json:"max_retries"`
	Error       string `json:"error,omitempty"`
	AddedAt     string `json:"added_at,omitempty"`
	StartedAt   string `json:"started_at,omitempty"`
	CompletedAt string `json:"completed_at,omitempty"`
}

// LogView is one row of the optimisation history.
type LogView struct {
	ID        int64  `json:"id"`
	ItemID    int64  `json:"item_id"`
	Status    string `json:"status"`
	Method    string `json:"method,omitempty"`
	Savings   int64  `json:"savings"`
	Error     string `json:"error,omitempty"`
	RunID     string `json:"run_id,omitempty"`
	CreatedAt string `json:"created_at"`
}

// BackupStatsView summarises the backup tree.
type BackupStatsView struct {
	Enabled   bool   `json:"enabled"`
	Directory string `json:"directory"`
	Files     int    `json:"files"`
	SizeBytes int64  `json:"size_bytes"`
	Oldest    string `json:"oldest,omitempty"`
	Newest    string `json:"newest,omitempty"`
}

// HealthView aggregates database and backend readiness.
type HealthView struct {
	DatabasePath   string        `json:"database_path"`
	DatabaseOK     bool          `json:"database_ok"`
	SchemaVersion  int           `json:"schema_version"`
	IntegrityCheck bool          `json:"integrity_check"`
	MissingTables  []string      `json:"missing_tables,omitempty"`
	Error          string        `json:"error,omitempty"`
	Backends       []BackendView `json:"backends"`
}
