package imageutil

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
)

// Format identifies an image encoding detected from file content.
type Format string

const (
	FormatJPEG    Format = "jpeg"
	FormatPNG     Format = "png"
	FormatGIF     Format = "gif"
	FormatWEBP    Format = "webp"
	FormatUnknown Format = "unknown"
)

// sniffLen matches the number of bytes net/http inspects.
const sniffLen = 512

// IsSupported reports whether the pipeline can optimise the format.
func (f Format) IsSupported() bool {
	switch f {
	case FormatJPEG, FormatPNG, FormatGIF, FormatWEBP:
		return true
	default:
		return false
	}
}

// MIMEType returns the canonical media type, or application/octet-stream.
func (f Format) MIMEType() string {
	switch f {
	case FormatJPEG:
		return "image/jpeg"
	case FormatPNG:
		return "image/png"
	case FormatGIF:
		return "image/gif"
	case FormatWEBP:
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}

func (f Format) String() string { return string(f) }

// ParseFormat maps a format name or MIME type to a Format.
func ParseFormat(value string) Format {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "jpeg", "jpg", "image/jpeg":
		return FormatJPEG
	case "png", "image/png":
		return FormatPNG
	case "gif", "image/gif":
		return FormatGIF
	case "webp", "image/webp":
		return FormatWEBP
	default:
		return FormatUnknown
	}
}

// DetectFormat inspects the leading bytes of path. The extension is ignored.
func DetectFormat(path string) (Format, error) {
	file, err := os.Open(path)
	if err != nil {
		return FormatUnknown, err
	}
	defer file.Close()

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(file, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return FormatUnknown, fmt.Errorf("read header: %w", err)
	}
	return DetectFormatBytes(head[:n]), nil
}

// DetectFormatBytes classifies an in-memory header.
func DetectFormatBytes(head []byte) Format {
	if len(head) >= 12 && bytes.Equal(head[0:4], []byte("RIFF")) && bytes.Equal(head[8:12], []byte("WEBP")) {
		return FormatWEBP
	}
	contentType := http.DetectContentType(head)
	if idx := strings.Index(contentType, ";"); idx >= 0 {
		contentType = contentType[:idx]
	}
	return ParseFormat(contentType)
}
