package bridge

import (
	"errors"
	"sort"
)

// Sentinel errors surfaced to the protocol adapter, which maps them to
// the nearest POSIX error code.
var (
	ErrNotFound      = errors.New("no such item")
	ErrNotADirectory = errors.New("not a directory")
)

// Table is the bidirectional mapping between remote ids and locally
// assigned inode numbers, and the owner of all Item instances. Inode
// numbers increase monotonically and are never reused: after a Detach,
// a re-created item with the same remote id receives a fresh, larger
// inode, so a kernel that cached the old number can never be handed
// the attributes of a different item.
//
// Table is not safe for concurrent use. The Bridge serializes all
// access behind its own mutex so that each event application is a
// single critical section.
type Table struct {
	byID  map[string]uint64
	items map[uint64]*Item
	last  uint64
}

// NewTable returns a table with the synthetic root folder pre-allocated
// at RootInode.
func NewTable() *Table {
	root := &Item{ID: "", Kind: KindFolder, Title: "rootfs"}
	return &Table{
		byID:  map[string]uint64{"": RootInode},
		items: map[uint64]*Item{RootInode: root},
		last:  RootInode,
	}
}

// AllocateOrGet maps item.ID to an inode. If the id is already mapped,
// the existing inode is returned and the stored metadata is replaced
// by item; callers that need Children or Parent to survive must copy
// them from the existing entry first. Otherwise the next inode number
// is assigned.
func (t *Table) AllocateOrGet(item *Item) uint64 {
	if ino, ok := t.byID[item.ID]; ok {
		t.items[ino] = item
		return ino
	}
	t.last++
	ino := t.last
	t.byID[item.ID] = ino
	t.items[ino] = item
	return ino
}

// Lookup returns the item for an inode, or ErrNotFound.
func (t *Table) Lookup(ino uint64) (*Item, error) {
	item, ok := t.items[ino]
	if !ok {
		return nil, ErrNotFound
	}
	return item, nil
}

// LookupByID returns the inode for a remote id, if it has ever been
// seen.
func (t *Table) LookupByID(id string) (uint64, bool) {
	ino, ok := t.byID[id]
	return ino, ok
}

// Detach removes both map entries for an inode and returns the item
// that was stored, if any. The inode number is retired, not recycled.
func (t *Table) Detach(ino uint64) (*Item, bool) {
	item, ok := t.items[ino]
	if !ok {
		return nil, false
	}
	delete(t.items, ino)
	delete(t.byID, item.ID)
	return item, true
}

// Root returns the pre-allocated root item.
func (t *Table) Root() *Item {
	return t.items[RootInode]
}

// Inodes returns every known inode except the root, sorted ascending.
// This is the membership of the flat index directory.
func (t *Table) Inodes() []uint64 {
	inodes := make([]uint64, 0, len(t.items)-1)
	for ino := range t.items {
		if ino == RootInode {
			continue
		}
		inodes = append(inodes, ino)
	}
	sort.Slice(inodes, func(i, j int) bool { return inodes[i] < inodes[j] })
	return inodes
}
