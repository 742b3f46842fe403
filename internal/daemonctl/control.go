// Package daemonctl starts, stops and probes the miod process from the CLI.
// Liveness is read from the daemon flock rather than a socket: a held lock
// means an instance is running.
package daemonctl

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gofrs/flock"

	"mio/internal/config"
	"mio/internal/daemonrun"
)

// ErrDaemonNotRunning indicates no miod holds the daemon lock.
var ErrDaemonNotRunning = errors.New("daemon not running")

// ProcessState describes the observed daemon process.
type ProcessState struct {
	Running  bool   `json:"running"`
	PID      int    `json:"pid,omitempty"`
	LockPath string `json:"lock_path"`
	PIDPath  string `json:"pid_path"`
}

type StartState string

const (
	StartStateStarted        StartState = "started"
	StartStateAlreadyRunning StartState = "already_running"
)

// StartResult captures daemon start orchestration state.
type StartResult struct {
	State StartState
	PID   int
}

// StopResult captures daemon stop/termination outcome.
type StopResult struct {
	PID        int
	ForcedKill bool
}

// Probe reports whether a daemon currently holds the lock.
func Probe(cfg *config.Config) (ProcessState, error) {
	state := ProcessState{LockPath: cfg.DaemonLockPath(), PIDPath: daemonrun.PIDPath(cfg)}
	lock := flock.New(state.LockPath)
	locked, err := lock.TryLock()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return state, nil
		}
		return state, fmt.Errorf("probe daemon lock: %w", err)
	}
	if locked {
		_ = lock.Unlock()
		return state, nil
	}
	state.Running = true
	if pid, err := ReadPID(state.PIDPath); err == nil {
		state.PID = pid
	}
	return state, nil
}

// ReadPID parses the pid file written by miod.
func ReadPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid pid file %q", path)
	}
	return pid, nil
}

// Launch starts a detached miod process.
func Launch(executablePath, configPath string) error {
	if strings.TrimSpace(executablePath) == "" {
		return fmt.Errorf("resolve executable: executable path is empty")
	}
	var args []string
	if cfg := strings.TrimSpace(configPath); cfg != "" {
		args = append(args, "--config", cfg)
	}
	proc := exec.Command(executablePath, args...)
	proc.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := proc.Start(); err != nil {
		return fmt.Errorf("launch daemon: %w", err)
	}
	return proc.Process.Release()
}

// EnsureStarted launches miod unless one is already running, then waits for
// it to take the lock.
func EnsureStarted(cfg *config.Config, executablePath, configPath string, waitTimeout time.Duration) (StartResult, error) {
	state, err := Probe(cfg)
	if err != nil {
		return StartResult{}, err
	}
	if state.Running {
		return StartResult{State: StartStateAlreadyRunning, PID: state.PID}, nil
	}
	if err := Launch(executablePath, configPath); err != nil {
		return StartResult{}, err
	}
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		state, err = Probe(cfg)
		if err == nil && state.Running {
			return StartResult{State: StartStateStarted, PID: state.PID}, nil
		}
		time.Sleep(200 * time.Millisecond)
	}
	return StartResult{}, fmt.Errorf("daemon failed to start within %s; check %s", waitTimeout, cfg.Paths.LogDir)
}

// Stop sends SIGTERM to the running daemon and escalates to SIGKILL when it
// outlives gracePeriod.
func Stop(cfg *config.Config, gracePeriod time.Duration) (StopResult, error) {
	state, err := Probe(cfg)
	if err != nil {
		return StopResult{}, err
	}
	if !state.Running {
		return StopResult{}, ErrDaemonNotRunning
	}
	if state.PID <= 0 {
		return StopResult{}, fmt.Errorf("unable to determine daemon pid (pid file: %s)", state.PIDPath)
	}
	if state.PID == os.Getpid() {
		return StopResult{}, fmt.Errorf("refusing to signal current process (pid %d)", state.PID)
	}
	proc, err := os.FindProcess(state.PID)
	if err != nil {
		return StopResult{}, fmt.Errorf("locate daemon process %d: %w", state.PID, err)
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return StopResult{}, fmt.Errorf("signal daemon process %d: %w", state.PID, err)
	}

	result := StopResult{PID: state.PID}
	deadline := time.Now().Add(gracePeriod)
	for time.Now().Before(deadline) {
		if current, err := Probe(cfg); err == nil && !current.Running {
			return result, nil
		}
		time.Sleep(200 * time.Millisecond)
	}
	if err := proc.Kill(); err != nil {
		return result, fmt.Errorf("kill daemon process %d: %w", state.PID, err)
	}
	if err := os.Remove(state.PIDPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return result, fmt.Errorf("remove pid file %q: %w", state.PIDPath, err)
	}
	result.ForcedKill = true
	return result, nil
}
