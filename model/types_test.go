package model

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveID(t *testing.T) {
	a := DeriveID("pkg/a.go::function::Foo")
	b := DeriveID("pkg/a.go::function::Foo")
	c := DeriveID("pkg/a.go::function::Bar")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.False(t, a.IsZero())
}

func TestID_StringRoundTrip(t *testing.T) {
	id := DeriveID("x")
	s := id.String()
	assert.Len(t, s, 32)

	parsed, err := ParseID(s)
	require.NoError(t, err)
	assert.Equal(t, id, parsed)
}

func TestParseID_Invalid(t *testing.T) {
	_, err := ParseID("abc")
	assert.Error(t, err)

	_, err = ParseID("zz000000000000000000000000000000")
	assert.Error(t, err)
}

func TestID_Ordering(t *testing.T) {
	ids := []ID{DeriveID("a"), DeriveID("b"), DeriveID("c"), DeriveID("d")}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })

	for i := 1; i < len(ids); i++ {
		assert.True(t, ids[i-1].Less(ids[i]))
		assert.Equal(t, -1, ids[i-1].Compare(ids[i]))
		assert.Equal(t, 1, ids[i].Compare(ids[i-1]))
	}
	assert.Equal(t, 0, ids[0].Compare(ids[0]))
	assert.False(t, ids[0].Less(ids[0]))
}

func TestContentHash(t *testing.T) {
	h1 := ContentHash([]byte("func Foo() {}"))
	h2 := ContentHash([]byte("func Foo() {}"))
	h3 := ContentHash([]byte("func Foo() { return }"))

	assert.Equal(t, h1, h2)
	assert.NotEqual(t, h1, h3)
}

func TestNewNodeRecord(t *testing.T) {
	rec := NewNodeRecord("pkg/a.go::function::Foo", "function", "Foo", "pkg/a.go")

	assert.Equal(t, DeriveID("pkg/a.go::function::Foo"), rec.ID)
	assert.Equal(t, "function", rec.Type)
	assert.Equal(t, "Foo", rec.Name)
	assert.Equal(t, "pkg/a.go", rec.File)
	assert.Zero(t, rec.ContentHash)
}

func TestEdgeKey(t *testing.T) {
	e := EdgeRecord{
		Src:  DeriveID("a"),
		Dst:  DeriveID("b"),
		Type: "calls",
		File: "pkg/a.go",
	}
	k := e.Key()
	assert.Equal(t, e.Src, k.Src)
	assert.Equal(t, e.Dst, k.Dst)
	assert.Equal(t, "calls", k.Type)

	// File and Metadata are not part of identity.
	e2 := e
	e2.File = "pkg/b.go"
	e2.Metadata = `{"line":3}`
	assert.Equal(t, k, e2.Key())
}

func TestNodeQuery_IsEmpty(t *testing.T) {
	assert.True(t, NodeQuery{}.IsEmpty())
	assert.False(t, NodeQuery{Type: "function"}.IsEmpty())
	assert.False(t, NodeQuery{Metadata: map[string]string{"exported": "true"}}.IsEmpty())
}

func TestDelta_Empty(t *testing.T) {
	assert.True(t, Delta{Snapshot: 3, ChangedFiles: []string{"a.go"}}.Empty())
	assert.False(t, Delta{NodesAdded: 1}.Empty())
	assert.False(t, Delta{EdgesRemoved: 1}.Empty())
}

func TestSnapshotRef(t *testing.T) {
	assert.Equal(t, uint64(7), ByVersion(7).Version)

	ref := ByTag("release", "v1.2")
	assert.Equal(t, "release", ref.TagKey)
	assert.Equal(t, "v1.2", ref.TagValue)
	assert.Zero(t, ref.Version)
}
