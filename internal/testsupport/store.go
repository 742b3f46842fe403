package testsupport

import (
	"context"
	"os"
	"testing"

	"mio/internal/config"
	"mio/internal/imageutil"
	"mio/internal/store"
)

// MustOpenStore opens a store.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
	})
	return st
}

// NewItem registers an existing file as a catalogue item.
func NewItem(t testing.TB, st *store.Store, path string) *store.Item {
	t.Helper()

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat %s: %v", path, err)
	}
	format, err := imageutil.DetectFormat(path)
	if err != nil {
		t.Fatalf("detect format %s: %v", path, err)
	}
	item, _, err := st.UpsertItem(context.Background(), store.Item{
		Path:   path,
		Format: string(format),
		Size:   info.Size(),
	})
	if err != nil {
		t.Fatalf("store.UpsertItem: %v", err)
	}
	return item
}
