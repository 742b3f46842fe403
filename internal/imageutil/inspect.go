package imageutil

import (
	"fmt"
	"image"
	"image/color"
	"image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"os"

	_ "golang.org/x/image/webp"
)

// DefaultMinSize is the smallest file worth optimising.
const DefaultMinSize int64 = 10240

// Dimensions decodes only the image header of path.
func Dimensions(path string) (int, int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer file.Close()
	cfg, _, err := image.DecodeConfig(file)
	if err != nil {
		return 0, 0, fmt.Errorf("decode config: %w", err)
	}
	return cfg.Width, cfg.Height, nil
}

// IsPaletted reports whether the image header declares an indexed colour model.
func IsPaletted(path string) (bool, error) {
	file, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer file.Close()
	cfg, _, err := image.DecodeConfig(file)
	if err != nil {
		return false, fmt.Errorf("decode config: %w", err)
	}
	_, ok := cfg.ColorModel.(color.Palette)
	return ok, nil
}

// IsAnimatedGIF reports whether path is a GIF with more than one frame.
func IsAnimatedGIF(path string) (bool, error) {
	file, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer file.Close()
	anim, err := gif.DecodeAll(file)
	if err != nil {
		return false, fmt.Errorf("decode gif: %w", err)
	}
	return len(anim.Image) > 1, nil
}

// NeedsOptimization reports whether path exists, holds a supported format and
// is larger than minSize bytes.
func NeedsOptimization(path string, minSize int64) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	format, err := DetectFormat(path)
	if err != nil || !format.IsSupported() {
		return false
	}
	return info.Size() > minSize
}

// RecommendedQuality scales lossy quality down for larger sources.
func RecommendedQuality(size int64) int {
	switch {
	case size > 2<<20:
		return 75
	case size > 1<<20:
		return 80
	case size > 512<<10:
		return 85
	default:
		return 90
	}
}

// FitDimensions returns the largest size inside maxW x maxH that keeps the
// aspect ratio of w x h. A zero bound is unconstrained; images are never
// enlarged. The bool reports whether a resize is needed.
func FitDimensions(w, h, maxW, maxH int) (int, int, bool) {
	if w <= 0 || h <= 0 || (maxW <= 0 && maxH <= 0) {
		return w, h, false
	}
	ratio := math.Inf(1)
	if maxW > 0 {
		ratio = math.Min(ratio, float64(maxW)/float64(w))
	}
	if maxH > 0 {
		ratio = math.Min(ratio, float64(maxH)/float64(h))
	}
	if ratio >= 1 {
		return w, h, false
	}
	nw := max(1, int(math.Round(float64(w)*ratio)))
	nh := max(1, int(math.Round(float64(h)*ratio)))
	return nw, nh, true
}
