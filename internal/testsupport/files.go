package testsupport

import (
	"bytes"
	"image"
	"image/color"
	"image/color/palette"
	"image/gif"
	"image/jpeg"
	"image/png"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
)

// WriteFile fills the target path with the requested number of bytes using a
// simple repeating pattern. A size <= 0 writes a single byte.
func WriteFile(t testing.TB, path string, size int64) {
	t.Helper()

	if size <= 0 {
		size = 1
	}
	writeBytes(t, path, bytes.Repeat([]byte{0x42}, int(size)))
}

// NoiseImage returns a deterministic RGBA image with enough entropy that
// encoders cannot collapse it below the minimum optimisation size.
func NoiseImage(width, height int) *image.NRGBA {
	rng := rand.New(rand.NewSource(int64(width*7919 + height)))
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			base := uint8((x + y) % 256)
			img.SetNRGBA(x, y, color.NRGBA{
				R: base ^ uint8(rng.Intn(64)),
				G: uint8(y%256) ^ uint8(rng.Intn(64)),
				B: uint8(x%256) ^ uint8(rng.Intn(64)),
				A: 255,
			})
		}
	}
	return img
}

// WriteJPEG writes a noisy JPEG at quality 100 and returns its size.
func WriteJPEG(t testing.TB, path string, width, height int) int64 {
	t.Helper()

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, NoiseImage(width, height), &jpeg.Options{Quality: 100}); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	return writeBytes(t, path, buf.Bytes())
}

// WritePNG writes an uncompressed RGBA PNG with a transparent corner and
// returns its size.
func WritePNG(t testing.TB, path string, width, height int) int64 {
	t.Helper()

	img := NoiseImage(width, height)
	img.SetNRGBA(0, 0, color.NRGBA{})
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.NoCompression}
	if err := enc.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return writeBytes(t, path, buf.Bytes())
}

// WritePalettedPNG writes an uncompressed indexed PNG and returns its size.
func WritePalettedPNG(t testing.TB, path string, width, height int) int64 {
	t.Helper()

	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.NoCompression}
	if err := enc.Encode(&buf, palettedNoise(width, height, 0)); err != nil {
		t.Fatalf("encode paletted png: %v", err)
	}
	return writeBytes(t, path, buf.Bytes())
}

// WriteGIF writes a single-frame GIF and returns its size.
func WriteGIF(t testing.TB, path string, width, height int) int64 {
	t.Helper()
	return WriteAnimatedGIF(t, path, width, height, 1)
}

// WriteAnimatedGIF writes a GIF with the given number of frames and returns its size.
func WriteAnimatedGIF(t testing.TB, path string, width, height, frames int) int64 {
	t.Helper()

	if frames < 1 {
		frames = 1
	}
	anim := &gif.GIF{}
	for i := 0; i < frames; i++ {
		anim.Image = append(anim.Image, palettedNoise(width, height, int64(i)))
		anim.Delay = append(anim.Delay, 10)
	}
	var buf bytes.Buffer
	if err := gif.EncodeAll(&buf, anim); err != nil {
		t.Fatalf("encode gif: %v", err)
	}
	return writeBytes(t, path, buf.Bytes())
}

func palettedNoise(width, height int, seed int64) *image.Paletted {
	rng := rand.New(rand.NewSource(seed + int64(width*31+height)))
	img := image.NewPaletted(image.Rect(0, 0, width, height), palette.Plan9)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetColorIndex(x, y, uint8(rng.Intn(len(palette.Plan9))))
		}
	}
	return img
}

func writeBytes(t testing.TB, path string, data []byte) int64 {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return int64(len(data))
}
