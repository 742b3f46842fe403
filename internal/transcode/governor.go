package transcode

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"golang.org/x/sys/unix"

	"mio/internal/services"
)

// Governor bounds concurrency, time, decoded memory and scratch disk for
// in-process transcodes.
type Governor struct {
	limits    Limits
	slots     chan struct{}
	freeSpace func(dir string) (uint64, error)
}

// NewGovernor sizes the worker slots from limits.Threads.
func NewGovernor(limits Limits) *Governor {
	threads := limits.Threads
	if threads <= 0 {
		threads = 1
	}
	return &Governor{
		limits:    limits,
		slots:     make(chan struct{}, threads),
		freeSpace: statfsAvailable,
	}
}

// Limits returns the configured ceilings.
func (g *Governor) Limits() Limits {
	return g.limits
}

type runResult struct {
	data []byte
	err  error
}

// Run executes fn in a slot under the time budget. When the budget expires
// Run returns ErrTimeout immediately; fn keeps its slot until it returns and
// its output is discarded.
func (g *Governor) Run(ctx context.Context, fn func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	select {
	case g.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, services.Wrap(services.ErrTimeout, "transcode", "acquire slot", "cancelled while waiting", ctx.Err())
	}

	runCtx := ctx
	cancel := func() {}
	if g.limits.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, g.limits.Timeout)
	}
	defer cancel()

	done := make(chan runResult, 1)
	go func() {
		defer func() { <-g.slots }()
		defer func() {
			if r := recover(); r != nil {
				done <- runResult{err: services.Wrap(services.ErrTransient, "transcode", "encode", fmt.Sprintf("encoder panic: %v", r), nil)}
			}
		}()
		data, err := fn(runCtx)
		done <- runResult{data: data, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil && errors.Is(res.err, context.DeadlineExceeded) {
			return nil, services.Wrap(services.ErrTimeout, "transcode", "encode", fmt.Sprintf("exceeded %s budget", g.limits.Timeout), res.err)
		}
		return res.data, res.err
	case <-runCtx.Done():
		return nil, services.Wrap(services.ErrTimeout, "transcode", "encode", fmt.Sprintf("exceeded %s budget", g.limits.Timeout), runCtx.Err())
	}
}

// CheckInput rejects sources above the input ceiling. A zero ceiling disables the check.
func (g *Governor) CheckInput(size int64) error {
	if g.limits.MaxInputBytes > 0 && size > g.limits.MaxInputBytes {
		return services.Wrap(services.ErrResourceExceeded, "transcode", "check input",
			fmt.Sprintf("%d bytes exceeds %d byte ceiling", size, g.limits.MaxInputBytes), nil)
	}
	return nil
}

// CheckFootprint rejects images whose decoded RGBA buffer would exceed the
// working memory ceiling. MapBytes only bounds the libvips operation cache.
func (g *Governor) CheckFootprint(width, height int) error {
	footprint := int64(width) * int64(height) * 4
	if g.limits.MemoryBytes > 0 && footprint > g.limits.MemoryBytes {
		return services.Wrap(services.ErrResourceExceeded, "transcode", "check memory",
			fmt.Sprintf("%dx%d needs %d bytes, ceiling %d", width, height, footprint, g.limits.MemoryBytes), nil)
	}
	return nil
}

// CheckDisk rejects output above the scratch ceiling or larger than the free
// space next to path.
func (g *Governor) CheckDisk(path string, size int64) error {
	if g.limits.DiskBytes > 0 && size > g.limits.DiskBytes {
		return services.Wrap(services.ErrResourceExceeded, "transcode", "check disk",
			fmt.Sprintf("output %d bytes exceeds %d byte ceiling", size, g.limits.DiskBytes), nil)
	}
	if g.freeSpace == nil {
		return nil
	}
	free, err := g.freeSpace(filepath.Dir(path))
	if err != nil {
		return nil
	}
	if uint64(size) > free {
		return services.Wrap(services.ErrResourceExceeded, "transcode", "check disk",
			fmt.Sprintf("output %d bytes exceeds %d free bytes", size, free), nil)
	}
	return nil
}

// shouldResize reports whether a resize to fit opts is both needed and within
// the resize memory cap. A skipped resize is not an error.
func (g *Governor) shouldResize(width, height int, opts Options) (int, int, bool) {
	if g.limits.ResizeMemoryCap > 0 && int64(width)*int64(height)*4 > g.limits.ResizeMemoryCap {
		return width, height, false
	}
	return fitBox(width, height, opts)
}

func statfsAvailable(dir string) (uint64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(dir, &stat); err != nil {
		return 0, err
	}
	return stat.Bavail * uint64(stat.Bsize), nil
}
