package snapshot

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/any-hub/cacheproxy/internal/cache"
)

func TestSaveAndLoadRestoresObjects(t *testing.T) {
	src := newTestCache(t, cache.Options{})
	for i := 0; i < 20; i++ {
		key := cache.NewKey("origin.test", "80", fmt.Sprintf("/obj/%d", i))
		if err := src.Insert(key, bytes.Repeat([]byte{byte('a' + i)}, i+1)); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	store := openTestStore(t)
	saved, err := store.Save(context.Background(), src)
	if err != nil {
		t.Fatalf("save error: %v", err)
	}
	if saved != 20 {
		t.Fatalf("expected 20 saved objects, got %d", saved)
	}

	dst := newTestCache(t, cache.Options{})
	loaded, err := store.Load(context.Background(), dst)
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	if loaded != 20 {
		t.Fatalf("expected 20 loaded objects, got %d", loaded)
	}
	for i := 0; i < 20; i++ {
		got, ok := dst.Lookup(cache.NewKey("origin.test", "80", fmt.Sprintf("/obj/%d", i)))
		if !ok || !bytes.Equal(got, bytes.Repeat([]byte{byte('a' + i)}, i+1)) {
			t.Fatalf("object %d not restored", i)
		}
	}
	if src.Stats().TotalSize != dst.Stats().TotalSize {
		t.Fatalf("total size mismatch after restore")
	}
}

func TestSaveReplacesPreviousSnapshot(t *testing.T) {
	store := openTestStore(t)
	first := newTestCache(t, cache.Options{})
	_ = first.Insert(cache.KeyFromString("old:80/"), []byte("old"))
	if _, err := store.Save(context.Background(), first); err != nil {
		t.Fatalf("save error: %v", err)
	}

	second := newTestCache(t, cache.Options{})
	_ = second.Insert(cache.KeyFromString("new:80/"), []byte("new"))
	if _, err := store.Save(context.Background(), second); err != nil {
		t.Fatalf("save error: %v", err)
	}

	dst := newTestCache(t, cache.Options{})
	if n, err := store.Load(context.Background(), dst); err != nil || n != 1 {
		t.Fatalf("expected 1 object, got %d (%v)", n, err)
	}
	if _, ok := dst.Lookup(cache.KeyFromString("old:80/")); ok {
		t.Fatalf("stale object should be gone")
	}
}

func TestLoadSkipsObjectsAboveCap(t *testing.T) {
	store := openTestStore(t)
	src := newTestCache(t, cache.Options{})
	_ = src.Insert(cache.KeyFromString("big:80/"), make([]byte, 500))
	_ = src.Insert(cache.KeyFromString("small:80/"), make([]byte, 10))
	if _, err := store.Save(context.Background(), src); err != nil {
		t.Fatalf("save error: %v", err)
	}

	dst := newTestCache(t, cache.Options{Capacity: 1000, MaxObjectSize: 100})
	n, err := store.Load(context.Background(), dst)
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected only the small object, got %d", n)
	}
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open(""); err == nil {
		t.Fatalf("empty path should fail")
	}
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "nested", "snapshot.db"))
	if err != nil {
		t.Fatalf("open snapshot: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newTestCache(t *testing.T, opts cache.Options) *cache.Cache {
	t.Helper()
	c, err := cache.New(opts)
	if err != nil {
		t.Fatalf("failed to create cache: %v", err)
	}
	return c
}
