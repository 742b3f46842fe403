package daemonctl_test

import (
	"errors"
	"os"
	"testing"
	"time"

	"github.com/gofrs/flock"

	"mio/internal/daemonctl"
	"mio/internal/daemonrun"
	"mio/internal/testsupport"
)

func TestProbeFollowsLock(t *testing.T) {
	cfg := testsupport.NewConfig(t)

	state, err := daemonctl.Probe(cfg)
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if state.Running {
		t.Fatal("expected no daemon before lock is held")
	}

	lock := flock.New(cfg.DaemonLockPath())
	if ok, err := lock.TryLock(); err != nil || !ok {
		t.Fatalf("TryLock: %v %v", ok, err)
	}
	defer lock.Unlock()
	if err := os.WriteFile(daemonrun.PIDPath(cfg), []byte("4242\n"), 0o644); err != nil {
		t.Fatalf("write pid: %v", err)
	}

	state, err = daemonctl.Probe(cfg)
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if !state.Running || state.PID != 4242 {
		t.Fatalf("unexpected state: %+v", state)
	}
}

func TestStopWithoutDaemon(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if _, err := daemonctl.Stop(cfg, time.Second); !errors.Is(err, daemonctl.ErrDaemonNotRunning) {
		t.Fatalf("expected ErrDaemonNotRunning, got %v", err)
	}
}

func TestReadPIDRejectsGarbage(t *testing.T) {
	path := t.TempDir() + "/miod.pid"
	if err := os.WriteFile(path, []byte("not-a-pid"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := daemonctl.ReadPID(path); err == nil {
		t.Fatal("expected error for invalid pid file")
	}
}
