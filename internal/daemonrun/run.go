// Package daemonrun hosts the miod process runtime: logger setup, service
// composition, PID bookkeeping and the signal-driven lifecycle.
package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"mio/internal/api"
	"mio/internal/config"
	"mio/internal/daemon"
	"mio/internal/logging"
	"mio/internal/transcode"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
	// RunOnce performs one maintenance pass and exits instead of serving.
	RunOnce bool
}

// PIDPath returns the pid file written while miod runs.
func PIDPath(cfg *config.Config) string {
	return filepath.Join(cfg.Paths.StateDir, "miod.pid")
}

// CurrentLogPath returns the link that always points at the newest miod log.
func CurrentLogPath(cfg *config.Config) string {
	return filepath.Join(cfg.Paths.LogDir, "miod.log")
}

// Run starts the miod runtime loop and blocks until SIGINT/SIGTERM.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runID := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("miod-%s.log", runID))

	level := opts.LogLevel
	if level == "" {
		level = cfg.Logging.Level
	}
	logger, err := logging.New(logging.Options{
		Level:       level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stdout"},
		FilePath:    logPath,
		Development: opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if err := ensureCurrentLogPointer(CurrentLogPath(cfg), logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update miod.log link: %v\n", err)
	}
	logBackendSnapshot(logger, cfg)

	svc, err := api.New(cfg, api.Options{Logger: logger})
	if err != nil {
		logger.Error("open service", logging.Error(err))
		return err
	}

	d, err := daemon.New(cfg, svc, logger,
		daemon.WithLogTargets(logging.RetentionTarget{Dir: cfg.Paths.LogDir, Pattern: "miod-*.log", Exclude: []string{logPath}}),
	)
	if err != nil {
		_ = svc.Close()
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if opts.RunOnce {
		report, err := d.RunMaintenance(signalCtx)
		logger.Info("maintenance pass",
			logging.Int("backups_removed", report.BackupsRemoved),
			logging.Int64("queue_removed", report.QueueRemoved),
			logging.Int("logs_removed", report.LogsRemoved),
		)
		return err
	}

	pidPath := PIDPath(cfg)
	if err := d.Start(signalCtx); err != nil {
		logger.Error("daemon start failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "daemon_start_failed"),
			logging.String(logging.FieldErrorHint, "check for another miod instance and database access"),
		)
		return err
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	// Clear logs left by earlier runs now rather than waiting for the first tick.
	if _, err := d.RunMaintenance(signalCtx); err != nil {
		logger.Warn("startup maintenance", logging.Error(err))
	}

	<-signalCtx.Done()
	logger.Info("miod shutting down", logging.String(logging.FieldEventType, "daemon_shutdown"))
	return nil
}

func ensureCurrentLogPointer(current, target string) error {
	if target == "" {
		return nil
	}
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logBackendSnapshot(logger *slog.Logger, cfg *config.Config) {
	if logger == nil || cfg == nil {
		return
	}
	logger.Info("backend snapshot",
		logging.String(logging.FieldEventType, "backend_snapshot"),
		logging.Bool("vips_compiled", transcode.HighQualityCompiled()),
		logging.Bool("high_quality_enabled", cfg.Backend.HighQualityEnabled),
		logging.Bool("basic_enabled", cfg.Backend.BasicEnabled),
		logging.String("remote_service", cfg.Remote.Service),
		logging.Bool("tinypng_key_present", cfg.Remote.TinyPNGAPIKey != ""),
		logging.Bool("auto_optimize", cfg.Optimization.AutoOptimize),
		logging.String("media_root", cfg.Paths.MediaRoot),
	)
}
