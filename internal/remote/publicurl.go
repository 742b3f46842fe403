package remote

import (
	"net/url"
	"path/filepath"
	"strings"
)

// PublicURLMapper converts paths under the media root into the URLs that
// serve them.
type PublicURLMapper struct {
	root string
	base string
}

// NewPublicURLMapper returns a mapper for root served at baseURL.
func NewPublicURLMapper(root, baseURL string) PublicURLMapper {
	return PublicURLMapper{
		root: filepath.Clean(strings.TrimSpace(root)),
		base: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
	}
}

// URL returns the public URL for path, or false when path lies outside the
// media root or no base URL is configured.
func (m PublicURLMapper) URL(path string) (string, bool) {
	if m.base == "" || m.root == "" || m.root == "." {
		return "", false
	}
	rel, err := filepath.Rel(m.root, filepath.Clean(path))
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	base, err := url.Parse(m.base)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return "", false
	}
	segments := strings.Split(filepath.ToSlash(rel), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return m.base + "/" + strings.Join(segments, "/"), true
}
