package blobstore

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rfdb/rfdb/internal/cache"
)

// storeContract exercises the behavior every Store implementation
// shares.
func storeContract(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	_, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Open(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Put(ctx, "manifest/CURRENT", []byte("manifest/MANIFEST-000001")))
	got, err := s.Get(ctx, "manifest/CURRENT")
	require.NoError(t, err)
	assert.Equal(t, []byte("manifest/MANIFEST-000001"), got)

	// Overwrite is a full replace.
	require.NoError(t, s.Put(ctx, "manifest/CURRENT", []byte("manifest/MANIFEST-000002")))
	got, err = s.Get(ctx, "manifest/CURRENT")
	require.NoError(t, err)
	assert.Equal(t, []byte("manifest/MANIFEST-000002"), got)

	// Streaming create: invisible until Close.
	w, err := s.Create(ctx, "snapshots/000001/data")
	require.NoError(t, err)
	_, err = w.Write([]byte("hello "))
	require.NoError(t, err)
	_, err = w.Write([]byte("world"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	blob, err := s.Open(ctx, "snapshots/000001/data")
	require.NoError(t, err)
	assert.Equal(t, int64(11), blob.Size())
	data, err := io.ReadAll(blob)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))
	require.NoError(t, blob.Close())

	// Abort leaves nothing behind.
	w, err = s.Create(ctx, "snapshots/000001/aborted")
	require.NoError(t, err)
	_, err = w.Write([]byte("partial"))
	require.NoError(t, err)
	require.NoError(t, w.Abort())
	_, err = s.Get(ctx, "snapshots/000001/aborted")
	assert.ErrorIs(t, err, ErrNotFound)

	// List by prefix.
	names, err := s.List(ctx, "manifest/")
	require.NoError(t, err)
	assert.Equal(t, []string{"manifest/CURRENT"}, names)

	names, err = s.List(ctx, "snapshots/")
	require.NoError(t, err)
	assert.Equal(t, []string{"snapshots/000001/data"}, names)

	// Delete is idempotent.
	require.NoError(t, s.Delete(ctx, "manifest/CURRENT"))
	require.NoError(t, s.Delete(ctx, "manifest/CURRENT"))
	_, err = s.Get(ctx, "manifest/CURRENT")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore(t *testing.T) {
	storeContract(t, NewMemoryStore())
}

func TestLocalStore(t *testing.T) {
	storeContract(t, NewLocalStore(t.TempDir(), nil))
}

func TestCachingStore(t *testing.T) {
	storeContract(t, NewCachingStore(NewMemoryStore(), cache.NewLRU(1<<20, 1<<16)))
}

func TestLocalStore_NoTempFilesInListing(t *testing.T) {
	ctx := context.Background()
	s := NewLocalStore(t.TempDir(), nil)

	w, err := s.Create(ctx, "a/blob")
	require.NoError(t, err)
	_, err = w.Write([]byte("x"))
	require.NoError(t, err)

	// The unfinished write must be invisible.
	names, err := s.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, names)
	require.NoError(t, w.Close())

	names, err = s.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"a/blob"}, names)
}

func TestCachingStore_ServesFromCacheAndInvalidates(t *testing.T) {
	ctx := context.Background()
	lru := cache.NewLRU(1<<20, 1<<16)
	inner := NewMemoryStore()
	s := NewCachingStore(inner, lru)

	require.NoError(t, s.Put(ctx, "m", []byte("v1")))

	_, err := s.Get(ctx, "m")
	require.NoError(t, err)
	_, err = s.Get(ctx, "m")
	require.NoError(t, err)

	hits, _ := lru.Stats()
	assert.Equal(t, int64(1), hits)

	// A rewrite invalidates the cached value.
	require.NoError(t, s.Put(ctx, "m", []byte("v2")))
	got, err := s.Get(ctx, "m")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got)

	// Delete drops both the blob and the cache entry.
	require.NoError(t, s.Delete(ctx, "m"))
	_, err = s.Get(ctx, "m")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReadAll(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Put(ctx, "b", []byte("payload")))

	blob, err := s.Open(ctx, "b")
	require.NoError(t, err)
	data, err := ReadAll(blob)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)
}
