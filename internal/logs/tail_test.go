package logs_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"mio/internal/logs"
)

func TestLastReturnsTrailingLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "miod.log")
	if err := os.WriteFile(path, []byte("a\nb\nc\n"), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	result, err := logs.Last(path, 2)
	if err != nil {
		t.Fatalf("Last: %v", err)
	}
	if len(result.Lines) != 2 || result.Lines[0] != "b" || result.Lines[1] != "c" {
		t.Fatalf("unexpected lines: %#v", result.Lines)
	}
	if result.Offset != 6 {
		t.Fatalf("expected offset at end of file, got %d", result.Offset)
	}

	missing, err := logs.Last(filepath.Join(t.TempDir(), "absent.log"), 5)
	if err != nil || len(missing.Lines) != 0 {
		t.Fatalf("missing file should read empty, got %#v, %v", missing, err)
	}
}

func TestReadFromHoldsPartialLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "miod.log")
	if err := os.WriteFile(path, []byte("first\nsec"), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	result, err := logs.ReadFrom(path, 0)
	if err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	if len(result.Lines) != 1 || result.Lines[0] != "first" || result.Offset != 6 {
		t.Fatalf("unexpected result: %#v", result)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open append: %v", err)
	}
	if _, err := f.WriteString("ond\n"); err != nil {
		t.Fatalf("append: %v", err)
	}
	_ = f.Close()

	result, err = logs.ReadFrom(path, result.Offset)
	if err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	if len(result.Lines) != 1 || result.Lines[0] != "second" {
		t.Fatalf("expected joined line, got %#v", result.Lines)
	}

	// An offset past the end means the file was replaced.
	restarted, err := logs.ReadFrom(path, 1<<20)
	if err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	if len(restarted.Lines) != 2 {
		t.Fatalf("expected re-read from start, got %#v", restarted.Lines)
	}
}

func TestFollowEmitsAppendedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "miod.log")
	if err := os.WriteFile(path, []byte("start\n"), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}
	initial, err := logs.Last(path, 1)
	if err != nil {
		t.Fatalf("Last: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	lines := make(chan string, 4)
	done := make(chan error, 1)
	go func() {
		done <- logs.Follow(ctx, path, initial.Offset, func(line string) { lines <- line })
	}()

	time.Sleep(100 * time.Millisecond)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open append: %v", err)
	}
	if _, err := f.WriteString("later\n"); err != nil {
		t.Fatalf("append log: %v", err)
	}
	_ = f.Close()

	select {
	case line := <-lines:
		if line != "later" {
			t.Fatalf("unexpected line %q", line)
		}
	case <-ctx.Done():
		t.Fatal("follow did not emit the appended line")
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Follow: %v", err)
	}
}
