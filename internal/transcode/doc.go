// Package transcode recompresses images in place with an in-process library.
//
// Two transcoders share one output contract: the file at path is either
// replaced atomically with smaller bytes or left untouched. HighQuality wraps
// libvips through bimg and is only compiled with the "vips" build tag. Basic
// is pure Go (imaging plus golang.org/x/image); its WEBP encoder needs the
// "webp" build tag because go-webp links libwebp.
//
// Every call runs under a Governor that bounds concurrency, wall-clock time,
// decoded pixel memory and scratch disk.
package transcode
