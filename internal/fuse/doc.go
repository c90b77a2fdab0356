/*
Package fuse adapts the bridge to the kernel's raw FUSE protocol.

The adapter uses the raw (inode-addressed) interface rather than the
path or node helpers because the bridge already owns inode numbering;
wrapping it in another layer of node bookkeeping would duplicate the
table. Unimplemented operations fall through to the library default,
which answers ENOSYS — correct for a read-only mount.

The adapter also carries invalidations the other way: once the server
is up, a notifier is attached to the bridge so sync-loop changes evict
stale kernel cache entries.
*/
package fuse
