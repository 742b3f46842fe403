package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateOptimization(); err != nil {
		return err
	}
	if err := c.validateRemote(); err != nil {
		return err
	}
	if err := c.validateTranscode(); err != nil {
		return err
	}
	if err := c.validateBatch(); err != nil {
		return err
	}
	if err := c.validateQueue(); err != nil {
		return err
	}
	if err := c.validateBackup(); err != nil {
		return err
	}
	if err := c.validateStats(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.MediaRoot) == "" {
		return errors.New("paths.media_root must be set")
	}
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		return errors.New("paths.state_dir must be set")
	}
	return nil
}

func (c *Config) validateOptimization() error {
	qualities := map[string]int{
		"optimization.compression_level": c.Optimization.CompressionLevel,
		"optimization.quality_jpeg":      c.Optimization.QualityJPEG,
		"optimization.quality_png":       c.Optimization.QualityPNG,
		"optimization.quality_webp":      c.Optimization.QualityWEBP,
	}
	for key, value := range qualities {
		if value < 1 || value > 100 {
			return fmt.Errorf("%s must be between 1 and 100", key)
		}
	}
	if c.Optimization.MaxWidth < 0 || c.Optimization.MaxWidth > maxDimension {
		return fmt.Errorf("optimization.max_width must be between 0 and %d", maxDimension)
	}
	if c.Optimization.MaxHeight < 0 || c.Optimization.MaxHeight > maxDimension {
		return fmt.Errorf("optimization.max_height must be between 0 and %d", maxDimension)
	}
	return nil
}

func (c *Config) validateRemote() error {
	switch c.Remote.Service {
	case ServiceReSmushIt, ServiceTinyPNG:
	default:
		return fmt.Errorf("remote.service must be %q or %q, got %q", ServiceReSmushIt, ServiceTinyPNG, c.Remote.Service)
	}
	if c.Remote.PublicBaseURL != "" {
		parsed, err := url.Parse(c.Remote.PublicBaseURL)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("remote.public_base_url must be an absolute URL, got %q", c.Remote.PublicBaseURL)
		}
	}
	for key, endpoint := range map[string]string{
		"remote.resmushit_endpoint": c.Remote.ReSmushItEndpoint,
		"remote.tinypng_endpoint":   c.Remote.TinyPNGEndpoint,
	} {
		parsed, err := url.Parse(endpoint)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("%s must be an absolute URL, got %q", key, endpoint)
		}
	}
	return nil
}

func (c *Config) validateTranscode() error {
	return ensurePositiveMap(map[string]int64{
		"transcode.max_input_bytes":         c.Transcode.MaxInputBytes,
		"transcode.memory_limit_bytes":      c.Transcode.MemoryLimitBytes,
		"transcode.map_limit_bytes":         c.Transcode.MapLimitBytes,
		"transcode.disk_limit_bytes":        c.Transcode.DiskLimitBytes,
		"transcode.resize_memory_cap_bytes": c.Transcode.ResizeMemoryCapBytes,
		"transcode.basic_max_pixels":        c.Transcode.BasicMaxPixels,
	})
}

func (c *Config) validateBatch() error {
	if c.Batch.Limit < 1 || c.Batch.Limit > 100 {
		return errors.New("batch.limit must be between 1 and 100")
	}
	if c.Batch.DelayMS < 0 {
		return errors.New("batch.delay_ms must be zero or positive")
	}
	return nil
}

func (c *Config) validateQueue() error {
	return ensurePositiveMap(map[string]int64{
		"queue.poll_interval":        int64(c.Queue.PollInterval),
		"queue.error_retry_interval": int64(c.Queue.ErrorRetryInterval),
		"queue.max_retries":          int64(c.Queue.MaxRetries),
		"queue.cleanup_days":         int64(c.Queue.CleanupDays),
	})
}

func (c *Config) validateBackup() error {
	if c.Backup.RetentionDays < 1 || c.Backup.RetentionDays > 365 {
		return errors.New("backup.retention_days must be between 1 and 365")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	if c.Logging.RetentionDays < 0 {
		return errors.New("logging.retention_days must be zero or positive")
	}
	return nil
}

func (c *Config) validateStats() error {
	if c.Stats.CacheTTLSeconds < 0 {
		return errors.New("stats.cache_ttl_seconds must be zero or positive")
	}
	return nil
}

func ensurePositiveMap(values map[string]int64) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
