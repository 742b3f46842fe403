package transcode

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/gif"
	"image/png"
	"log/slog"
	"math"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	"mio/internal/backend"
	"mio/internal/imageutil"
	"mio/internal/logging"
	"mio/internal/services"
)

const basicComponent = "basic transcoder"

// Basic is the pure-Go transcoder. It gives less control than libvips:
// no progressive JPEG, and PNG effort is an integer level derived from quality.
type Basic struct {
	enabled bool
	gov     *Governor
	logger  *slog.Logger
}

// NewBasic builds the pure-Go transcoder. enabled mirrors backend.basic_enabled.
func NewBasic(enabled bool, gov *Governor, logger *slog.Logger) *Basic {
	return &Basic{enabled: enabled, gov: gov, logger: logging.NewComponentLogger(logger, "transcode.basic")}
}

func (b *Basic) Name() string { return "basic" }

func (b *Basic) Kind() backend.Kind { return backend.KindBasic }

func (b *Basic) Available() bool { return b.enabled }

// Transcode re-encodes path in its own format.
func (b *Basic) Transcode(ctx context.Context, path string, format imageutil.Format, opts Options) (bool, error) {
	if !b.enabled {
		return false, services.Wrap(services.ErrConfiguration, basicComponent, "transcode", "backend disabled", nil)
	}
	switch format {
	case imageutil.FormatJPEG, imageutil.FormatPNG, imageutil.FormatGIF:
	case imageutil.FormatWEBP:
		if !webpEncodeCompiled {
			return false, services.Wrap(services.ErrUnsupported, basicComponent, "transcode", "webp encoder not compiled in", nil)
		}
	default:
		return false, unsupported(basicComponent, format)
	}
	return run(ctx, b.gov, b.logger, basicComponent, path, func(ctx context.Context, source []byte) ([]byte, error) {
		return b.encode(ctx, source, format, opts)
	})
}

func (b *Basic) encode(ctx context.Context, source []byte, format imageutil.Format, opts Options) ([]byte, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(source))
	if err != nil {
		return nil, services.Wrap(services.ErrUnsupported, basicComponent, "decode", "unreadable image header", err)
	}
	limits := b.gov.Limits()
	if pixels := int64(cfg.Width) * int64(cfg.Height); limits.BasicMaxPixels > 0 && pixels > limits.BasicMaxPixels {
		return nil, services.Wrap(services.ErrResourceExceeded, basicComponent, "decode",
			fmt.Sprintf("%d pixels exceeds %d", pixels, limits.BasicMaxPixels), nil)
	}
	if err := b.gov.CheckFootprint(cfg.Width, cfg.Height); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if format == imageutil.FormatGIF {
		return b.encodeGIF(source, cfg.Width, cfg.Height, opts)
	}

	img, err := imaging.Decode(bytes.NewReader(source), imaging.AutoOrientation(true))
	if err != nil {
		return nil, services.Wrap(services.ErrUnsupported, basicComponent, "decode", string(format), err)
	}
	var palette color.Palette
	if paletted, ok := img.(*image.Paletted); ok {
		palette = paletted.Palette
	}
	bounds := img.Bounds()
	if nw, nh, ok := b.gov.shouldResize(bounds.Dx(), bounds.Dy(), opts); ok {
		b.logger.Debug("resizing to fit box",
			logging.Int("width", bounds.Dx()), logging.Int("height", bounds.Dy()),
			logging.Int("target_width", nw), logging.Int("target_height", nh))
		img = resizeTo(img, nw, nh)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	switch format {
	case imageutil.FormatJPEG:
		err = imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(clampQuality(opts.Quality)))
	case imageutil.FormatPNG:
		err = encodePNG(&buf, img, palette, opts.Quality)
	case imageutil.FormatWEBP:
		err = encodeWEBP(&buf, img, clampQuality(opts.Quality))
	}
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, basicComponent, "encode", string(format), err)
	}
	return buf.Bytes(), nil
}

// encodePNG keeps indexed sources indexed: resized pixels are dithered back
// onto the source palette.
func encodePNG(buf *bytes.Buffer, img image.Image, palette color.Palette, quality int) error {
	enc := png.Encoder{CompressionLevel: PNGCompressionLevel(quality)}
	if len(palette) > 0 {
		if _, ok := img.(*image.Paletted); !ok {
			img = requantize(img, palette)
		}
	}
	return enc.Encode(buf, img)
}

// encodeGIF re-encodes every frame. Animated GIFs are never resized.
func (b *Basic) encodeGIF(source []byte, width, height int, opts Options) ([]byte, error) {
	anim, err := gif.DecodeAll(bytes.NewReader(source))
	if err != nil {
		return nil, services.Wrap(services.ErrUnsupported, basicComponent, "decode", "gif", err)
	}
	if len(anim.Image) == 1 {
		if nw, nh, ok := b.gov.shouldResize(width, height, opts); ok {
			frame := anim.Image[0]
			anim.Image[0] = requantize(resizeTo(frame, nw, nh), frame.Palette)
			anim.Config.Width = nw
			anim.Config.Height = nh
		}
	}
	var buf bytes.Buffer
	if err := gif.EncodeAll(&buf, anim); err != nil {
		return nil, services.Wrap(services.ErrTransient, basicComponent, "encode", "gif", err)
	}
	return buf.Bytes(), nil
}

// PNGCompressionLevel derives the zlib effort from a 1..100 quality:
// level = round((100-q)/10), bucketed onto the encoder's four settings.
func PNGCompressionLevel(quality int) png.CompressionLevel {
	level := int(math.Round(float64(100-clampQuality(quality)) / 10))
	switch {
	case level <= 0:
		return png.NoCompression
	case level <= 3:
		return png.BestSpeed
	case level <= 6:
		return png.DefaultCompression
	default:
		return png.BestCompression
	}
}

func clampQuality(q int) int {
	if q <= 0 {
		return 82
	}
	return min(100, q)
}
