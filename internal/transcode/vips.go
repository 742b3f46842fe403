//go:build vips

package transcode

import (
	"sync"

	"github.com/h2non/bimg"

	"mio/internal/imageutil"
)

const vipsCompiled = true

var vipsOnce sync.Once

// configureVips bounds the libvips operation cache. The cache is process-wide,
// so the first configured limits win.
func configureVips(limits Limits) {
	vipsOnce.Do(func() {
		if limits.MemoryBytes > 0 {
			bimg.VipsCacheSetMaxMem(int(limits.MemoryBytes))
		}
		bimg.VipsCacheSetMax(limits.Threads * 10)
	})
}

func processVips(source []byte, params vipsParams) ([]byte, error) {
	opts := bimg.Options{
		Quality:       params.Quality,
		StripMetadata: true,
	}
	switch params.Format {
	case imageutil.FormatJPEG:
		opts.Type = bimg.JPEG
		opts.Interlace = params.Progressive
	case imageutil.FormatPNG:
		opts.Type = bimg.PNG
		opts.Compression = 9
		if params.Paletted {
			opts.Palette = true
			opts.Interpretation = bimg.InterpretationSRGB
		}
	case imageutil.FormatWEBP:
		opts.Type = bimg.WEBP
	}
	if params.Resize {
		opts.Width = params.Width
		opts.Height = params.Height
	}
	return bimg.NewImage(source).Process(opts)
}
