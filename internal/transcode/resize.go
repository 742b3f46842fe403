package transcode

import (
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"

	"mio/internal/imageutil"
)

func fitBox(width, height int, opts Options) (int, int, bool) {
	return imageutil.FitDimensions(width, height, opts.MaxWidth, opts.MaxHeight)
}

// resizeTo scales img to exactly width x height with Lanczos resampling. The
// result is NRGBA, so alpha survives.
func resizeTo(img image.Image, width, height int) *image.NRGBA {
	return imaging.Resize(img, width, height, imaging.Lanczos)
}

// requantize maps img onto pal with Floyd-Steinberg error diffusion.
func requantize(img image.Image, pal color.Palette) *image.Paletted {
	bounds := img.Bounds()
	dst := image.NewPaletted(image.Rect(0, 0, bounds.Dx(), bounds.Dy()), pal)
	draw.FloydSteinberg.Draw(dst, dst.Bounds(), img, bounds.Min)
	return dst
}
