package transcode

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"log/slog"
	"os"

	"mio/internal/backend"
	"mio/internal/imageutil"
	"mio/internal/logging"
	"mio/internal/services"
)

const highQualityComponent = "high-quality transcoder"

// vipsParams is the per-call policy handed to the libvips binding.
type vipsParams struct {
	Format      imageutil.Format
	Quality     int
	Progressive bool
	Paletted    bool
	Resize      bool
	Width       int
	Height      int
}

// HighQuality drives libvips. GIF is always rejected, as are sources above the
// input ceiling; callers fall back to the next backend.
type HighQuality struct {
	enabled bool
	gov     *Governor
	logger  *slog.Logger
}

// NewHighQuality builds the libvips transcoder. enabled mirrors
// backend.high_quality_enabled; the library must also be compiled in.
func NewHighQuality(enabled bool, gov *Governor, logger *slog.Logger) *HighQuality {
	h := &HighQuality{enabled: enabled, gov: gov, logger: logging.NewComponentLogger(logger, "transcode.vips")}
	if h.Available() {
		configureVips(gov.Limits())
	}
	return h
}

// HighQualityCompiled reports whether libvips support was built in.
func HighQualityCompiled() bool { return vipsCompiled }

func (h *HighQuality) Name() string { return "high-quality" }

func (h *HighQuality) Kind() backend.Kind { return backend.KindHighQuality }

func (h *HighQuality) Available() bool { return h.enabled && vipsCompiled }

// Transcode recompresses path with libvips.
func (h *HighQuality) Transcode(ctx context.Context, path string, format imageutil.Format, opts Options) (bool, error) {
	if !h.Available() {
		return false, services.Wrap(services.ErrConfiguration, highQualityComponent, "transcode", "libvips unavailable", nil)
	}
	switch format {
	case imageutil.FormatJPEG, imageutil.FormatPNG, imageutil.FormatWEBP:
	case imageutil.FormatGIF:
		return false, services.Wrap(services.ErrUnsupported, highQualityComponent, "transcode",
			"gif is not handled by libvips; falling back", nil)
	default:
		return false, unsupported(highQualityComponent, format)
	}

	info, err := os.Stat(path)
	if err != nil {
		return false, services.Wrap(services.ErrNotFound, highQualityComponent, "stat", path, err)
	}
	if err := h.gov.CheckInput(info.Size()); err != nil {
		return false, err
	}

	return run(ctx, h.gov, h.logger, highQualityComponent, path, func(ctx context.Context, source []byte) ([]byte, error) {
		cfg, _, err := image.DecodeConfig(bytes.NewReader(source))
		if err != nil {
			return nil, services.Wrap(services.ErrUnsupported, highQualityComponent, "decode", "unreadable image header", err)
		}
		if err := h.gov.CheckFootprint(cfg.Width, cfg.Height); err != nil {
			return nil, err
		}
		params := vipsParams{
			Format:      format,
			Quality:     clampQuality(opts.Quality),
			Progressive: format == imageutil.FormatJPEG && int64(len(source)) > progressiveThreshold,
		}
		if format == imageutil.FormatPNG {
			_, params.Paletted = cfg.ColorModel.(color.Palette)
		}
		if nw, nh, ok := h.gov.shouldResize(cfg.Width, cfg.Height, opts); ok {
			params.Resize = true
			params.Width, params.Height = nw, nh
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out, err := processVips(source, params)
		if err != nil {
			return nil, services.Wrap(services.ErrTransient, highQualityComponent, "encode", string(format), err)
		}
		return out, nil
	})
}
