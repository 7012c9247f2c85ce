package blobstore

import (
	"bytes"
	"context"

	"github.com/rfdb/rfdb/internal/cache"
)

// CachingStore wraps a Store with a whole-blob read cache. Blobs in
// this store are immutable once written, so cached reads stay valid
// until the same name is rewritten or deleted, which invalidates the
// entry. Useful in front of remote stores where every manifest load
// would otherwise be a network round trip.
type CachingStore struct {
	inner Store
	cache cache.ByteCache
}

// NewCachingStore wraps inner with the given cache.
func NewCachingStore(inner Store, c cache.ByteCache) *CachingStore {
	return &CachingStore{inner: inner, cache: c}
}

// Open serves from cache when possible, otherwise reads through and
// caches the result.
func (s *CachingStore) Open(ctx context.Context, name string) (Blob, error) {
	data, err := s.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	return &memoryBlob{r: bytes.NewReader(data), size: int64(len(data))}, nil
}

// Create passes through. The name is invalidated immediately so a
// concurrent reader can't pin the previous version in cache past the
// write.
func (s *CachingStore) Create(ctx context.Context, name string) (WritableBlob, error) {
	s.invalidate(name)
	return s.inner.Create(ctx, name)
}

// Put writes through and invalidates the cached entry.
func (s *CachingStore) Put(ctx context.Context, name string, data []byte) error {
	s.invalidate(name)
	return s.inner.Put(ctx, name, data)
}

// Get serves from cache when possible.
func (s *CachingStore) Get(ctx context.Context, name string) ([]byte, error) {
	if data, ok := s.cache.Get(name); ok {
		return data, nil
	}
	data, err := s.inner.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	s.cache.Set(name, data)
	return data, nil
}

// Delete removes the blob and its cache entry.
func (s *CachingStore) Delete(ctx context.Context, name string) error {
	s.invalidate(name)
	return s.inner.Delete(ctx, name)
}

// List passes through. Listings are not cached: they change with every
// commit and staleness there would break manifest discovery.
func (s *CachingStore) List(ctx context.Context, prefix string) ([]string, error) {
	return s.inner.List(ctx, prefix)
}

func (s *CachingStore) invalidate(name string) {
	s.cache.Invalidate(func(key string) bool { return key == name })
}
