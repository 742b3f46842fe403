package main

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"mio/internal/daemonctl"
)

const daemonBinary = "miod"

func newDaemonCommand(ctx *commandContext) *cobra.Command {
	daemonCmd := &cobra.Command{
		Use:   "daemon",
		Short: "Control the miod background daemon",
	}

	var wait time.Duration
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start miod in the background",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			exe, err := daemonExecutable()
			if err != nil {
				return err
			}
			result, err := daemonctl.EnsureStarted(cfg, exe, ctx.configPath, wait)
			if err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, map[string]any{"state": result.State, "pid": result.PID})
			}
			stdout := cmd.OutOrStdout()
			switch result.State {
			case daemonctl.StartStateAlreadyRunning:
				fmt.Fprintln(stdout, "Daemon already running")
			default:
				if result.PID > 0 {
					fmt.Fprintf(stdout, "Daemon started (pid %d)\n", result.PID)
				} else {
					fmt.Fprintln(stdout, "Daemon started")
				}
			}
			return nil
		},
	}
	startCmd.Flags().DurationVar(&wait, "wait", 10*time.Second, "How long to wait for the daemon to take its lock")

	var grace time.Duration
	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the running daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			stdout := cmd.OutOrStdout()
			result, err := daemonctl.Stop(cfg, grace)
			if errors.Is(err, daemonctl.ErrDaemonNotRunning) {
				fmt.Fprintln(stdout, "Daemon is not running")
				return nil
			}
			if err != nil {
				return err
			}
			if result.ForcedKill {
				fmt.Fprintf(stdout, "Daemon did not exit in %s; killed pid %d\n", grace, result.PID)
				return nil
			}
			fmt.Fprintln(stdout, "Daemon stopped")
			return nil
		},
	}
	stopCmd.Flags().DurationVar(&grace, "grace", 10*time.Second, "Time allowed for a clean shutdown before SIGKILL")

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Report whether miod is running",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			state, err := daemonctl.Probe(cfg)
			if err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, state)
			}
			stdout := cmd.OutOrStdout()
			if !state.Running {
				fmt.Fprintln(stdout, "Daemon is not running")
				return nil
			}
			if state.PID > 0 {
				fmt.Fprintf(stdout, "Daemon is running (pid %d)\n", state.PID)
			} else {
				fmt.Fprintln(stdout, "Daemon is running")
			}
			return nil
		},
	}

	daemonCmd.AddCommand(startCmd, stopCmd, statusCmd)
	return daemonCmd
}

// daemonExecutable prefers a miod binary installed next to mio and falls
// back to PATH.
func daemonExecutable() (string, error) {
	if exe, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(exe), daemonBinary)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}
	path, err := exec.LookPath(daemonBinary)
	if err != nil {
		return "", fmt.Errorf("locate %s executable: %w", daemonBinary, err)
	}
	return path, nil
}
