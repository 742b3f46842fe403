package config

const (
	defaultConfigPath           = "~/.config/mio/config.toml"
	defaultMediaRoot            = "~/media"
	defaultStateDir             = "~/.local/share/mio"
	defaultBackupDirName        = ".mio-backups"
	defaultCompressionLevel     = 82
	defaultQualityJPEG          = 82
	defaultQualityPNG           = 90
	defaultQualityWEBP          = 80
	defaultMinSizeBytes         = 10 * 1024
	defaultRemoteService        = ServiceReSmushIt
	defaultReSmushItEndpoint    = "https://api.resmush.it/ws.php"
	defaultTinyPNGEndpoint      = "https://api.tinify.com/shrink"
	defaultRemoteTimeoutSeconds = 30
	defaultMaxInputBytes        = 5 * 1024 * 1024
	defaultMemoryLimitBytes     = 64 * 1024 * 1024
	defaultMapLimitBytes        = 128 * 1024 * 1024
	defaultDiskLimitBytes       = 256 * 1024 * 1024
	defaultTimeLimitSeconds     = 30
	defaultThreads              = 1
	defaultResizeMemoryCap      = 32 * 1024 * 1024
	defaultBasicMaxPixels       = 50_000_000
	defaultBatchLimit           = 3
	defaultBatchDelayMS         = 1000
	defaultQueuePollInterval    = 5
	defaultQueueErrorRetry      = 10
	defaultQueueMaxRetries      = 3
	defaultQueuePriority        = 5
	defaultQueueCleanupDays     = 7
	defaultBackupRetentionDays  = 30
	defaultStatsCacheTTLSeconds = 60
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"
	defaultLogRetentionDays     = 30
	maxDimension                = 10000
)

// Remote service identifiers.
const (
	ServiceReSmushIt = "resmushit"
	ServiceTinyPNG   = "tinypng"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			MediaRoot: defaultMediaRoot,
			StateDir:  defaultStateDir,
		},
		Optimization: Optimization{
			CompressionLevel:   defaultCompressionLevel,
			QualityJPEG:        defaultQualityJPEG,
			QualityPNG:         defaultQualityPNG,
			QualityWEBP:        defaultQualityWEBP,
			KeepOriginal:       false,
			OptimizeThumbnails: true,
			ExcludeSizes:       []string{},
			AutoOptimize:       true,
			MinSizeBytes:       defaultMinSizeBytes,
		},
		Backend: Backend{
			HighQualityEnabled: true,
			BasicEnabled:       true,
		},
		Remote: Remote{
			Service:           defaultRemoteService,
			ReSmushItEndpoint: defaultReSmushItEndpoint,
			TinyPNGEndpoint:   defaultTinyPNGEndpoint,
			TimeoutSeconds:    defaultRemoteTimeoutSeconds,
		},
		Transcode: Transcode{
			MaxInputBytes:        defaultMaxInputBytes,
			MemoryLimitBytes:     defaultMemoryLimitBytes,
			MapLimitBytes:        defaultMapLimitBytes,
			DiskLimitBytes:       defaultDiskLimitBytes,
			TimeLimitSeconds:     defaultTimeLimitSeconds,
			Threads:              defaultThreads,
			ResizeMemoryCapBytes: defaultResizeMemoryCap,
			BasicMaxPixels:       defaultBasicMaxPixels,
		},
		Batch: Batch{
			Limit:   defaultBatchLimit,
			DelayMS: defaultBatchDelayMS,
		},
		Queue: Queue{
			PollInterval:       defaultQueuePollInterval,
			ErrorRetryInterval: defaultQueueErrorRetry,
			MaxRetries:         defaultQueueMaxRetries,
			DefaultPriority:    defaultQueuePriority,
			CleanupDays:        defaultQueueCleanupDays,
		},
		Backup: Backup{
			RetentionDays: defaultBackupRetentionDays,
		},
		Stats: Stats{
			CacheTTLSeconds: defaultStatsCacheTTLSeconds,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
