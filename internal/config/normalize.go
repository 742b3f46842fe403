package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeOptimization()
	c.normalizeRemote()
	c.normalizeTranscode()
	c.normalizeQueue()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	if strings.TrimSpace(c.Paths.MediaRoot) == "" {
		c.Paths.MediaRoot = defaultMediaRoot
	}
	var err error
	if c.Paths.MediaRoot, err = expandPath(c.Paths.MediaRoot); err != nil {
		return fmt.Errorf("paths.media_root: %w", err)
	}
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = filepath.Join(c.Paths.StateDir, "logs")
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.BackupDir) == "" {
		c.Paths.BackupDir = filepath.Join(c.Paths.MediaRoot, defaultBackupDirName)
	}
	if c.Paths.BackupDir, err = expandPath(c.Paths.BackupDir); err != nil {
		return fmt.Errorf("paths.backup_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeOptimization() {
	sizes := make([]string, 0, len(c.Optimization.ExcludeSizes))
	seen := make(map[string]struct{}, len(c.Optimization.ExcludeSizes))
	for _, size := range c.Optimization.ExcludeSizes {
		size = strings.ToLower(strings.TrimSpace(size))
		if size == "" {
			continue
		}
		if _, ok := seen[size]; ok {
			continue
		}
		seen[size] = struct{}{}
		sizes = append(sizes, size)
	}
	c.Optimization.ExcludeSizes = sizes
	if c.Optimization.MinSizeBytes <= 0 {
		c.Optimization.MinSizeBytes = defaultMinSizeBytes
	}
}

func (c *Config) normalizeRemote() {
	c.Remote.Service = strings.ToLower(strings.TrimSpace(c.Remote.Service))
	if c.Remote.Service == "" {
		c.Remote.Service = defaultRemoteService
	}
	if c.Remote.TinyPNGAPIKey == "" {
		for _, key := range []string{"MIO_TINYPNG_API_KEY", "TINYPNG_API_KEY"} {
			if value, ok := os.LookupEnv(key); ok && strings.TrimSpace(value) != "" {
				c.Remote.TinyPNGAPIKey = value
				break
			}
		}
	}
	c.Remote.TinyPNGAPIKey = strings.TrimSpace(c.Remote.TinyPNGAPIKey)
	c.Remote.PublicBaseURL = strings.TrimRight(strings.TrimSpace(c.Remote.PublicBaseURL), "/")
	c.Remote.ReSmushItEndpoint = strings.TrimSpace(c.Remote.ReSmushItEndpoint)
	if c.Remote.ReSmushItEndpoint == "" {
		c.Remote.ReSmushItEndpoint = defaultReSmushItEndpoint
	}
	c.Remote.TinyPNGEndpoint = strings.TrimSpace(c.Remote.TinyPNGEndpoint)
	if c.Remote.TinyPNGEndpoint == "" {
		c.Remote.TinyPNGEndpoint = defaultTinyPNGEndpoint
	}
	if c.Remote.TimeoutSeconds <= 0 {
		c.Remote.TimeoutSeconds = defaultRemoteTimeoutSeconds
	}
}

func (c *Config) normalizeTranscode() {
	if c.Transcode.Threads <= 0 {
		c.Transcode.Threads = defaultThreads
	}
	if c.Transcode.TimeLimitSeconds <= 0 {
		c.Transcode.TimeLimitSeconds = defaultTimeLimitSeconds
	}
}

func (c *Config) normalizeQueue() {
	if c.Queue.DefaultPriority < 1 {
		c.Queue.DefaultPriority = 1
	}
	if c.Queue.DefaultPriority > 10 {
		c.Queue.DefaultPriority = 10
	}
}

func (c *Config) normalizeLogging() {
	format := strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch format {
	case "", "console", "text":
		c.Logging.Format = "console"
	case "json":
		c.Logging.Format = "json"
	default:
		c.Logging.Format = format
	}
	level := strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if level == "" {
		level = defaultLogLevel
	}
	c.Logging.Level = level
}
