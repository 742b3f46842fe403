package transcode

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"mio/internal/backend"
	"mio/internal/config"
	"mio/internal/fileutil"
	"mio/internal/imageutil"
	"mio/internal/logging"
	"mio/internal/services"
)

const progressiveThreshold = 1 << 20

// Options carries the per-call encoding policy.
type Options struct {
	Quality   int
	MaxWidth  int
	MaxHeight int
}

// Limits bounds the resources of a single transcode.
type Limits struct {
	MaxInputBytes   int64
	MemoryBytes     int64
	MapBytes        int64
	DiskBytes       int64
	Timeout         time.Duration
	Threads         int
	ResizeMemoryCap int64
	BasicMaxPixels  int64
}

// LimitsFromConfig reads the [transcode] section.
func LimitsFromConfig(cfg *config.Config) Limits {
	t := cfg.Transcode
	return Limits{
		MaxInputBytes:   t.MaxInputBytes,
		MemoryBytes:     t.MemoryLimitBytes,
		MapBytes:        t.MapLimitBytes,
		DiskBytes:       t.DiskLimitBytes,
		Timeout:         time.Duration(t.TimeLimitSeconds) * time.Second,
		Threads:         t.Threads,
		ResizeMemoryCap: t.ResizeMemoryCapBytes,
		BasicMaxPixels:  t.BasicMaxPixels,
	}
}

// Transcoder is an in-process optimisation backend. Transcode reports true
// when the file now holds the optimised bytes (or was already minimal) and
// false with a classified error when it was left untouched.
type Transcoder interface {
	Name() string
	Kind() backend.Kind
	Available() bool
	Transcode(ctx context.Context, path string, format imageutil.Format, opts Options) (bool, error)
}

// encodeFunc produces the replacement bytes for the source at path.
type encodeFunc func(ctx context.Context, source []byte) ([]byte, error)

// run executes encode under gov and commits the result. Output that is not
// smaller than the source is discarded and counts as success.
func run(ctx context.Context, gov *Governor, logger *slog.Logger, component, path string, encode encodeFunc) (bool, error) {
	source, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, services.Wrap(services.ErrNotFound, component, "read", path, err)
		}
		return false, services.Wrap(services.ErrTransient, component, "read", path, err)
	}

	started := time.Now()
	output, err := gov.Run(ctx, func(ctx context.Context) ([]byte, error) {
		return encode(ctx, source)
	})
	if err != nil {
		return false, err
	}
	if len(output) == 0 {
		return false, services.Wrap(services.ErrIntegrity, component, "encode", "encoder produced no bytes", nil)
	}

	if int64(len(output)) >= int64(len(source)) {
		logger.Debug("transcode output not smaller; keeping original",
			logging.String(logging.FieldPath, path),
			logging.Int("source_bytes", len(source)),
			logging.Int("output_bytes", len(output)),
		)
		return true, nil
	}

	if err := gov.CheckDisk(path, int64(len(output))); err != nil {
		return false, err
	}
	if err := fileutil.WriteFileAtomic(path, output); err != nil {
		return false, services.Wrap(services.ErrIntegrity, component, "replace", path, err)
	}

	logger.Debug("transcode complete",
		logging.String(logging.FieldPath, path),
		logging.Int("source_bytes", len(source)),
		logging.Int("output_bytes", len(output)),
		logging.Duration("elapsed", time.Since(started)),
	)
	return true, nil
}

func unsupported(component string, format imageutil.Format) error {
	return services.Wrap(services.ErrUnsupported, component, "transcode", fmt.Sprintf("format %s", format), nil)
}
