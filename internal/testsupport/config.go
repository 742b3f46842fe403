package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"mio/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// The media root exists on return; backups are disabled unless requested.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.MediaRoot = filepath.Join(base, "media")
	cfgVal.Paths.BackupDir = filepath.Join(base, "backups")
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Remote.PublicBaseURL = "https://media.example.test"
	cfgVal.Batch.DelayMS = 0

	builder := &configBuilder{t: t, baseDir: base, cfg: &cfgVal}
	for _, opt := range opts {
		opt(builder)
	}

	if err := os.MkdirAll(builder.cfg.Paths.MediaRoot, 0o755); err != nil {
		t.Fatalf("mkdir media root: %v", err)
	}
	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return builder.cfg
}

// WithKeepOriginal enables backup-on-write.
func WithKeepOriginal() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Optimization.KeepOriginal = true
	}
}

// WithBackends toggles the in-process backends.
func WithBackends(highQuality, basic bool) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Backend.HighQualityEnabled = highQuality
		b.cfg.Backend.BasicEnabled = basic
	}
}

// WithBatchLimit sets the default batch page size.
func WithBatchLimit(limit int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Batch.Limit = limit
	}
}

// WithConfig applies an arbitrary mutation.
func WithConfig(fn func(*config.Config)) ConfigOption {
	return func(b *configBuilder) {
		fn(b.cfg)
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StateDir)
}

// MediaPath joins parts under the media root.
func MediaPath(cfg *config.Config, parts ...string) string {
	return filepath.Join(append([]string{cfg.Paths.MediaRoot}, parts...)...)
}
