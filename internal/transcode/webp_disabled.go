//go:build !webp

package transcode

import (
	"errors"
	"image"
	"io"
)

const webpEncodeCompiled = false

func encodeWEBP(io.Writer, image.Image, int) error {
	return errors.New("webp encoder not compiled in (build with -tags webp)")
}
