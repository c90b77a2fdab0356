/*
Package bridge maintains the mapping between a remote Joplin note
collection and a kernel-visible filesystem tree.

The Bridge owns the inode table, materializes directory listings,
serves note and attachment reads, and keeps the tree consistent with
the remote change feed. It is protocol-agnostic: the FUSE adapter sits
above it and translates kernel requests into Bridge calls.

# Architecture Role

	┌─────────────────────────────────────────────┐
	│              Kernel VFS/FUSE                │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│            internal/fuse adapter            │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│            Bridge (this package)            │
	│   inode table · listings · reads · sync     │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│        internal/joplin HTTP client          │
	└─────────────────────────────────────────────┘

# Inode Discipline

Inode numbers are assigned locally, increase monotonically, and are
never reused. A deleted item's number is retired; if the same remote id
reappears it receives a fresh, larger inode. The root is pre-allocated
at FUSE_ROOT_ID so the numbering is handed to the kernel unchanged.

# Virtual Directories

Two directories exist only in the mount. The flat index (.links) lists
every known item keyed by its raw remote id, which is what rewritten
note links point at. The tag index (.tags) lists every tag that still
has members, with the member notes presented as symlinks to their
canonical location.

# Consistency Model

The event feed reports note and folder changes only. Tag membership
and subfolder relationships are therefore never cached: both are
re-fetched on every listing. Everything else is updated by the sync
loop, one event per critical section, with kernel cache invalidations
emitted after the lock is released.
*/
package bridge
