package imageutil_test

import (
	"os"
	"path/filepath"
	"testing"

	"mio/internal/imageutil"
	"mio/internal/testsupport"
)

func TestDetectFormatIgnoresExtension(t *testing.T) {
	dir := t.TempDir()
	jpegAsPNG := filepath.Join(dir, "photo.png")
	testsupport.WriteJPEG(t, jpegAsPNG, 16, 16)
	pngPath := filepath.Join(dir, "image.jpg")
	testsupport.WritePNG(t, pngPath, 16, 16)
	gifPath := filepath.Join(dir, "anim.gif")
	testsupport.WriteGIF(t, gifPath, 8, 8)
	textPath := filepath.Join(dir, "notes.jpg")
	if err := os.WriteFile(textPath, []byte("plain text, not an image"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cases := map[string]imageutil.Format{
		jpegAsPNG: imageutil.FormatJPEG,
		pngPath:   imageutil.FormatPNG,
		gifPath:   imageutil.FormatGIF,
		textPath:  imageutil.FormatUnknown,
	}
	for path, want := range cases {
		got, err := imageutil.DetectFormat(path)
		if err != nil {
			t.Fatalf("detect %s: %v", path, err)
		}
		if got != want {
			t.Fatalf("detect %s: expected %s, got %s", filepath.Base(path), want, got)
		}
	}
	if _, err := imageutil.DetectFormat(filepath.Join(dir, "missing")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestDetectFormatBytesWEBP(t *testing.T) {
	head := []byte("RIFF\x10\x00\x00\x00WEBPVP8 ")
	if got := imageutil.DetectFormatBytes(head); got != imageutil.FormatWEBP {
		t.Fatalf("expected webp, got %s", got)
	}
	if got := imageutil.DetectFormatBytes([]byte("RIFF\x10\x00\x00\x00WAVE")); got == imageutil.FormatWEBP {
		t.Fatal("wave header misdetected as webp")
	}
}

func TestParseFormat(t *testing.T) {
	cases := map[string]imageutil.Format{
		"JPG":        imageutil.FormatJPEG,
		"image/jpeg": imageutil.FormatJPEG,
		" png ":      imageutil.FormatPNG,
		"image/gif":  imageutil.FormatGIF,
		"webp":       imageutil.FormatWEBP,
		"image/tiff": imageutil.FormatUnknown,
	}
	for input, want := range cases {
		if got := imageutil.ParseFormat(input); got != want {
			t.Fatalf("parse %q: expected %s, got %s", input, want, got)
		}
	}
	if imageutil.FormatUnknown.IsSupported() {
		t.Fatal("unknown must not be supported")
	}
	if imageutil.FormatWEBP.MIMEType() != "image/webp" {
		t.Fatalf("unexpected mime %q", imageutil.FormatWEBP.MIMEType())
	}
}

func TestFormatFileSize(t *testing.T) {
	cases := map[int64]string{
		0:                      "0 B",
		-5:                     "0 B",
		512:                    "512 B",
		1024:                   "1 KB",
		1536:                   "1.5 KB",
		1572864:                "1.5 MB",
		1234567:                "1.18 MB",
		5 * 1024 * 1024 * 1024: "5 GB",
	}
	for input, want := range cases {
		if got := imageutil.FormatFileSize(input); got != want {
			t.Fatalf("format %d: expected %q, got %q", input, want, got)
		}
	}
}

func TestSavings(t *testing.T) {
	if got := imageutil.Savings(1000, 750); got != 250 {
		t.Fatalf("expected 250, got %d", got)
	}
	if got := imageutil.Savings(1000, 1200); got != 0 {
		t.Fatalf("growth must floor at zero, got %d", got)
	}
	if got := imageutil.SavingsPercent(1000, 750); got != 25 {
		t.Fatalf("expected 25%%, got %v", got)
	}
	if got := imageutil.SavingsPercent(3, 2); got != 33.33 {
		t.Fatalf("expected 33.33%%, got %v", got)
	}
	if got := imageutil.SavingsPercent(0, 0); got != 0 {
		t.Fatalf("expected 0 for empty original, got %v", got)
	}
}

func TestRecommendedQuality(t *testing.T) {
	cases := []struct {
		size int64
		want int
	}{
		{100 << 10, 90},
		{512 << 10, 90},
		{600 << 10, 85},
		{1<<20 + 1, 80},
		{3 << 20, 75},
	}
	for _, tc := range cases {
		if got := imageutil.RecommendedQuality(tc.size); got != tc.want {
			t.Fatalf("size %d: expected %d, got %d", tc.size, tc.want, got)
		}
	}
}

func TestFitDimensions(t *testing.T) {
	cases := []struct {
		w, h, maxW, maxH int
		wantW, wantH     int
		resize           bool
	}{
		{4000, 3000, 2048, 2048, 2048, 1536, true},
		{3000, 4000, 2048, 2048, 1536, 2048, true},
		{1000, 500, 2048, 2048, 1000, 500, false},
		{4000, 1000, 2000, 0, 2000, 500, true},
		{4000, 1000, 0, 0, 4000, 1000, false},
		{5000, 1, 100, 100, 100, 1, true},
	}
	for _, tc := range cases {
		w, h, resize := imageutil.FitDimensions(tc.w, tc.h, tc.maxW, tc.maxH)
		if w != tc.wantW || h != tc.wantH || resize != tc.resize {
			t.Fatalf("fit %dx%d in %dx%d: got %dx%d resize=%v", tc.w, tc.h, tc.maxW, tc.maxH, w, h, resize)
		}
	}
}

func TestInspection(t *testing.T) {
	dir := t.TempDir()
	small := filepath.Join(dir, "small.png")
	testsupport.WritePNG(t, small, 4, 4)
	large := filepath.Join(dir, "large.jpg")
	size := testsupport.WriteJPEG(t, large, 256, 256)
	paletted := filepath.Join(dir, "indexed.png")
	testsupport.WritePalettedPNG(t, paletted, 32, 32)
	anim := filepath.Join(dir, "anim.gif")
	testsupport.WriteAnimatedGIF(t, anim, 16, 16, 3)
	still := filepath.Join(dir, "still.gif")
	testsupport.WriteGIF(t, still, 16, 16)

	if imageutil.NeedsOptimization(small, imageutil.DefaultMinSize) {
		t.Fatal("small png should not need optimisation")
	}
	if !imageutil.NeedsOptimization(large, size-1) {
		t.Fatal("large jpeg should need optimisation")
	}
	if imageutil.NeedsOptimization(filepath.Join(dir, "missing.jpg"), 0) {
		t.Fatal("missing file should not need optimisation")
	}

	w, h, err := imageutil.Dimensions(large)
	if err != nil || w != 256 || h != 256 {
		t.Fatalf("dimensions: %dx%d err=%v", w, h, err)
	}
	if ok, err := imageutil.IsPaletted(paletted); err != nil || !ok {
		t.Fatalf("expected paletted png, ok=%v err=%v", ok, err)
	}
	if ok, err := imageutil.IsPaletted(large); err != nil || ok {
		t.Fatalf("expected truecolour jpeg, ok=%v err=%v", ok, err)
	}
	if ok, err := imageutil.IsAnimatedGIF(anim); err != nil || !ok {
		t.Fatalf("expected animated gif, ok=%v err=%v", ok, err)
	}
	if ok, err := imageutil.IsAnimatedGIF(still); err != nil || ok {
		t.Fatalf("expected single-frame gif, ok=%v err=%v", ok, err)
	}
}
