package bridge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTableRoot(t *testing.T) {
	table := NewTable()

	root := table.Root()
	require.NotNil(t, root)
	assert.Equal(t, KindFolder, root.Kind)

	item, err := table.Lookup(RootInode)
	require.NoError(t, err)
	assert.Same(t, root, item)
}

func TestAllocateMonotonic(t *testing.T) {
	table := NewTable()

	a := table.AllocateOrGet(&Item{ID: "a", Kind: KindFolder})
	b := table.AllocateOrGet(&Item{ID: "b", Kind: KindNote})
	c := table.AllocateOrGet(&Item{ID: "c", Kind: KindNote})

	assert.Greater(t, a, RootInode)
	assert.Greater(t, b, a)
	assert.Greater(t, c, b)
}

func TestAllocateExistingIDKeepsInode(t *testing.T) {
	table := NewTable()

	first := table.AllocateOrGet(&Item{ID: "a", Kind: KindNote, Title: "old"})
	second := table.AllocateOrGet(&Item{ID: "a", Kind: KindNote, Title: "new"})
	assert.Equal(t, first, second)

	item, err := table.Lookup(first)
	require.NoError(t, err)
	assert.Equal(t, "new", item.Title)
}

func TestInodeNeverReused(t *testing.T) {
	table := NewTable()

	first := table.AllocateOrGet(&Item{ID: "a", Kind: KindNote})
	_, ok := table.Detach(first)
	require.True(t, ok)

	second := table.AllocateOrGet(&Item{ID: "a", Kind: KindNote})
	assert.Greater(t, second, first)

	_, err := table.Lookup(first)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDetach(t *testing.T) {
	table := NewTable()

	ino := table.AllocateOrGet(&Item{ID: "a", Kind: KindNote})
	item, ok := table.Detach(ino)
	require.True(t, ok)
	assert.Equal(t, "a", item.ID)

	_, err := table.Lookup(ino)
	assert.ErrorIs(t, err, ErrNotFound)
	_, found := table.LookupByID("a")
	assert.False(t, found)

	_, ok = table.Detach(ino)
	assert.False(t, ok)
}

func TestLookupByID(t *testing.T) {
	table := NewTable()

	ino := table.AllocateOrGet(&Item{ID: "a", Kind: KindNote})
	got, ok := table.LookupByID("a")
	require.True(t, ok)
	assert.Equal(t, ino, got)

	_, ok = table.LookupByID("missing")
	assert.False(t, ok)
}

func TestInodesExcludesRootAndSorts(t *testing.T) {
	table := NewTable()

	c := table.AllocateOrGet(&Item{ID: "c", Kind: KindNote})
	a := table.AllocateOrGet(&Item{ID: "a", Kind: KindNote})
	b := table.AllocateOrGet(&Item{ID: "b", Kind: KindNote})

	inodes := table.Inodes()
	assert.Equal(t, []uint64{c, a, b}, inodes)
	assert.NotContains(t, inodes, RootInode)
}
