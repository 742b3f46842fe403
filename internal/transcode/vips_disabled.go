//go:build !vips

package transcode

import "errors"

const vipsCompiled = false

func configureVips(Limits) {}

func processVips([]byte, vipsParams) ([]byte, error) {
	return nil, errors.New("libvips support not compiled in (build with -tags vips)")
}
