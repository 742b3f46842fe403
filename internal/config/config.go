package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	MediaRoot string `toml:"media_root"`
	BackupDir string `toml:"backup_dir"`
	StateDir  string `toml:"state_dir"`
	LogDir    string `toml:"log_dir"`
}

// Optimization contains the per-format compression policy.
type Optimization struct {
	CompressionLevel   int      `toml:"compression_level"`
	QualityJPEG        int      `toml:"quality_jpeg"`
	QualityPNG         int      `toml:"quality_png"`
	QualityWEBP        int      `toml:"quality_webp"`
	MaxWidth           int      `toml:"max_width"`
	MaxHeight          int      `toml:"max_height"`
	KeepOriginal       bool     `toml:"keep_original"`
	OptimizeThumbnails bool     `toml:"optimize_thumbnails"`
	ExcludeSizes       []string `toml:"exclude_sizes"`
	AutoOptimize       bool     `toml:"auto_optimize"`
	AdaptiveQuality    bool     `toml:"adaptive_quality"`
	MinSizeBytes       int64    `toml:"min_size_bytes"`
}

// Backend toggles the in-process optimisation libraries.
type Backend struct {
	HighQualityEnabled bool `toml:"high_quality_enabled"`
	BasicEnabled       bool `toml:"basic_enabled"`
}

// Remote contains configuration for the remote compression providers.
type Remote struct {
	Service           string `toml:"service"`
	TinyPNGAPIKey     string `toml:"tinypng_api_key"`
	PublicBaseURL     string `toml:"public_base_url"`
	ReSmushItEndpoint string `toml:"resmushit_endpoint"`
	TinyPNGEndpoint   string `toml:"tinypng_endpoint"`
	TimeoutSeconds    int    `toml:"timeout_seconds"`
}

// Transcode contains the resource ceilings applied to a single in-process transcode.
type Transcode struct {
	MaxInputBytes        int64 `toml:"max_input_bytes"`
	MemoryLimitBytes     int64 `toml:"memory_limit_bytes"`
	MapLimitBytes        int64 `toml:"map_limit_bytes"`
	DiskLimitBytes       int64 `toml:"disk_limit_bytes"`
	TimeLimitSeconds     int   `toml:"time_limit_seconds"`
	Threads              int   `toml:"threads"`
	ResizeMemoryCapBytes int64 `toml:"resize_memory_cap_bytes"`
	BasicMaxPixels       int64 `toml:"basic_max_pixels"`
}

// Batch contains configuration for the interactive bulk optimiser.
type Batch struct {
	Limit   int `toml:"limit"`
	DelayMS int `toml:"delay_ms"`
}

// Queue contains configuration for the background queue worker.
type Queue struct {
	PollInterval       int `toml:"poll_interval"`
	ErrorRetryInterval int `toml:"error_retry_interval"`
	MaxRetries         int `toml:"max_retries"`
	DefaultPriority    int `toml:"default_priority"`
	CleanupDays        int `toml:"cleanup_days"`
}

// Backup contains backup retention configuration.
type Backup struct {
	RetentionDays int `toml:"retention_days"`
}

// Stats contains aggregate statistics caching configuration.
type Stats struct {
	CacheTTLSeconds int `toml:"cache_ttl_seconds"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for mio.
//
// Configuration sections by subsystem:
//   - Paths: media root, backup, state and log directories
//   - Optimization: per-format quality, resize box, thumbnails, backups
//   - Backend: in-process library toggles
//   - Remote: reSmush.it / TinyPNG providers
//   - Transcode: resource ceilings for a single in-process transcode
//   - Batch: interactive bulk optimiser page size and pacing
//   - Queue: background worker polling and retries
//   - Backup: backup retention
//   - Stats: aggregate cache TTL
//   - Logging: log format, level, and retention
type Config struct {
	Paths        Paths        `toml:"paths"`
	Optimization Optimization `toml:"optimization"`
	Backend      Backend      `toml:"backend"`
	Remote       Remote       `toml:"remote"`
	Transcode    Transcode    `toml:"transcode"`
	Batch        Batch        `toml:"batch"`
	Queue        Queue        `toml:"queue"`
	Backup       Backup       `toml:"backup"`
	Stats        Stats        `toml:"stats"`
	Logging      Logging      `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("mio.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the state, log and backup directories. The media
// root is never created; a missing library is reported by the scanner instead.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StateDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if c.Optimization.KeepOriginal && strings.TrimSpace(c.Paths.BackupDir) != "" {
		if err := os.MkdirAll(c.Paths.BackupDir, 0o755); err != nil {
			return fmt.Errorf("create backup directory %q: %w", c.Paths.BackupDir, err)
		}
	}
	return nil
}

// DatabasePath returns the SQLite database location.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.StateDir, "mio.db")
}

// BatchLockPath returns the lock file that serialises batch runs across processes.
func (c *Config) BatchLockPath() string {
	return filepath.Join(c.Paths.StateDir, "batch.lock")
}

// DaemonLockPath returns the single-instance lock used by miod.
func (c *Config) DaemonLockPath() string {
	return filepath.Join(c.Paths.StateDir, "miod.lock")
}

// LogFilePath returns the JSON log sink location.
func (c *Config) LogFilePath() string {
	return filepath.Join(c.Paths.LogDir, "mio.log")
}

// RemoteTimeout returns the per-call HTTP timeout for remote providers.
func (c *Config) RemoteTimeout() time.Duration {
	return time.Duration(c.Remote.TimeoutSeconds) * time.Second
}

// StatsCacheTTL returns how long aggregate statistics may be served from cache.
func (c *Config) StatsCacheTTL() time.Duration {
	return time.Duration(c.Stats.CacheTTLSeconds) * time.Second
}

// QualityFor returns the configured quality for a format name (jpeg, png, webp).
// Other formats use the general compression level.
func (c *Config) QualityFor(format string) int {
	switch format {
	case "jpeg":
		return c.Optimization.QualityJPEG
	case "png":
		return c.Optimization.QualityPNG
	case "webp":
		return c.Optimization.QualityWEBP
	default:
		return c.Optimization.CompressionLevel
	}
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
