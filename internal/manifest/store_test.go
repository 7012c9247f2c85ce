package manifest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rfdb/rfdb/blobstore"
	"github.com/rfdb/rfdb/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(blobstore.NewMemoryStore(), nil)
}

func saveVersion(t *testing.T, s *Store, m *Manifest) {
	t.Helper()
	require.NoError(t, s.Save(context.Background(), m))
}

func TestStore_SaveAndLoad(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.LoadCurrent(ctx)
	assert.ErrorIs(t, err, ErrNotFound)
	v, err := s.CurrentVersion(ctx)
	require.NoError(t, err)
	assert.Zero(t, v)

	m := New(4)
	m.CreatedAtMS = 100
	saveVersion(t, s, m)

	got, err := s.LoadCurrent(ctx)
	require.NoError(t, err)
	assert.Equal(t, m, got)

	next := m.Clone()
	saveVersion(t, s, next)

	v, err = s.CurrentVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), v)

	old, err := s.LoadVersion(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), old.Version)

	versions, err := s.ListVersions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2}, versions)
}

func TestStore_DeleteVersion(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	m := New(1)
	saveVersion(t, s, m)
	saveVersion(t, s, m.Clone())

	assert.Error(t, s.DeleteVersion(ctx, 2), "current version must be protected")

	require.NoError(t, s.DeleteVersion(ctx, 1))
	versions, err := s.ListVersions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint64{2}, versions)
}

func TestStore_TagAndResolve(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	m := New(1)
	saveVersion(t, s, m)
	saveVersion(t, s, m.Clone())

	_, err := s.Tag(ctx, 1, map[string]string{"release": "v1"})
	require.NoError(t, err)

	// Tagging must not move CURRENT.
	v, err := s.CurrentVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), v)

	byTag, err := s.Resolve(ctx, model.ByTag("release", "v1"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), byTag.Version)

	byVersion, err := s.Resolve(ctx, model.ByVersion(2))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), byVersion.Version)

	current, err := s.Resolve(ctx, model.SnapshotRef{})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), current.Version)

	_, err = s.Resolve(ctx, model.ByTag("release", "v9"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_TagUniqueness(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	m := New(1)
	saveVersion(t, s, m)
	saveVersion(t, s, m.Clone())

	_, err := s.Tag(ctx, 1, map[string]string{"release": "v1"})
	require.NoError(t, err)

	_, err = s.Tag(ctx, 2, map[string]string{"release": "v1"})
	assert.ErrorIs(t, err, ErrTagExists)

	// Same snapshot may be re-tagged with the same pair.
	_, err = s.Tag(ctx, 1, map[string]string{"release": "v1"})
	require.NoError(t, err)

	assert.ErrorIs(t, s.EnsureTagsFree(ctx, map[string]string{"release": "v1"}), ErrTagExists)
	assert.NoError(t, s.EnsureTagsFree(ctx, map[string]string{"release": "v2"}))
	assert.NoError(t, s.EnsureTagsFree(ctx, nil))
}

func TestStore_Untag(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	m := New(1)
	m.Tags = map[string]string{"release": "v1", "env": "ci"}
	saveVersion(t, s, m)

	got, err := s.Untag(ctx, 1, []string{"release"})
	require.NoError(t, err)
	assert.NotContains(t, got.Tags, "release")
	assert.Contains(t, got.Tags, "env")

	reloaded, err := s.LoadVersion(ctx, 1)
	require.NoError(t, err)
	assert.NotContains(t, reloaded.Tags, "release")
}

func TestStore_ListSnapshots(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	m := New(2)
	m.CreatedAtMS = 10
	m.Segments = []SegmentDescriptor{{ID: 1, Path: "p"}}
	saveVersion(t, s, m)
	next := m.Clone()
	next.CreatedAtMS = 20
	saveVersion(t, s, next)

	infos, err := s.ListSnapshots(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, uint64(1), infos[0].Version)
	assert.Equal(t, int64(10), infos[0].CreatedAt)
	assert.Equal(t, 1, infos[1].Segments)
}
