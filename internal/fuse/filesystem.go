package fuse

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/joplinfs/joplinfs/internal/bridge"
	"github.com/joplinfs/joplinfs/internal/metrics"
)

// attrTimeout is how long the kernel may cache attributes and entries.
// Short, because the event feed invalidates eagerly but cannot report
// tag and subfolder changes.
const attrTimeout = time.Second

// FileSystem adapts the bridge to the kernel's raw FUSE protocol. The
// bridge owns inode numbering, so the adapter is a thin translation
// layer with no state of its own beyond the server handle.
type FileSystem struct {
	fuse.RawFileSystem

	bridge  *bridge.Bridge
	logger  *slog.Logger
	metrics *metrics.Collector

	server *fuse.Server
}

// NewFileSystem creates the adapter. Unimplemented operations fall
// through to the default raw filesystem, which answers ENOSYS; the
// mount is read-only so that covers every mutating call.
func NewFileSystem(b *bridge.Bridge, logger *slog.Logger, collector *metrics.Collector) *FileSystem {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	return &FileSystem{
		RawFileSystem: fuse.NewDefaultRawFileSystem(),
		bridge:        b,
		logger:        logger,
		metrics:       collector,
	}
}

func (fs *FileSystem) String() string {
	return "joplinfs"
}

// Init captures the server handle and attaches the kernel notifier to
// the bridge, so sync-loop invalidations reach the kernel cache.
func (fs *FileSystem) Init(s *fuse.Server) {
	fs.server = s
	fs.bridge.SetNotifier(&kernelNotifier{server: s, logger: fs.logger})
}

func (fs *FileSystem) Lookup(cancel <-chan struct{}, header *fuse.InHeader, name string, out *fuse.EntryOut) fuse.Status {
	fs.metrics.RecordOp("lookup")

	entries, err := fs.bridge.GetChildren(requestContext(cancel), header.NodeId)
	if err != nil {
		return errStatus(err)
	}
	for _, entry := range entries {
		if entry.Name != name {
			continue
		}
		fs.fillEntry(entry, out)
		return fuse.OK
	}
	return fuse.ENOENT
}

func (fs *FileSystem) GetAttr(cancel <-chan struct{}, input *fuse.GetAttrIn, out *fuse.AttrOut) fuse.Status {
	fs.metrics.RecordOp("getattr")

	item, err := fs.bridge.GetMetadata(input.NodeId)
	if err != nil {
		return errStatus(err)
	}
	fillAttr(input.NodeId, &item, item.Mode(), &out.Attr)
	out.SetTimeout(attrTimeout)
	return fuse.OK
}

func (fs *FileSystem) OpenDir(cancel <-chan struct{}, input *fuse.OpenIn, out *fuse.OpenOut) fuse.Status {
	fs.metrics.RecordOp("opendir")

	item, err := fs.bridge.GetMetadata(input.NodeId)
	if err != nil {
		return errStatus(err)
	}
	if !item.IsDir() {
		return fuse.ENOTDIR
	}
	return fuse.OK
}

func (fs *FileSystem) ReadDir(cancel <-chan struct{}, input *fuse.ReadIn, out *fuse.DirEntryList) fuse.Status {
	fs.metrics.RecordOp("readdir")

	entries, err := fs.bridge.GetChildren(requestContext(cancel), input.NodeId)
	if err != nil {
		return errStatus(err)
	}

	// The offset counts entries already delivered; listings are
	// sorted by inode, so resuming by index is deterministic.
	for i := int(input.Offset); i < len(entries); i++ {
		e := entries[i]
		ok := out.AddDirEntry(fuse.DirEntry{
			Mode: entryMode(e),
			Name: e.Name,
			Ino:  e.Inode,
		})
		if !ok {
			break
		}
	}
	return fuse.OK
}

func (fs *FileSystem) ReadDirPlus(cancel <-chan struct{}, input *fuse.ReadIn, out *fuse.DirEntryList) fuse.Status {
	fs.metrics.RecordOp("readdirplus")

	entries, err := fs.bridge.GetChildren(requestContext(cancel), input.NodeId)
	if err != nil {
		return errStatus(err)
	}

	for i := int(input.Offset); i < len(entries); i++ {
		e := entries[i]
		entryOut := out.AddDirLookupEntry(fuse.DirEntry{
			Mode: entryMode(e),
			Name: e.Name,
			Ino:  e.Inode,
		})
		if entryOut == nil {
			break
		}
		fs.fillEntry(e, entryOut)
	}
	return fuse.OK
}

func (fs *FileSystem) Open(cancel <-chan struct{}, input *fuse.OpenIn, out *fuse.OpenOut) fuse.Status {
	fs.metrics.RecordOp("open")

	item, err := fs.bridge.GetMetadata(input.NodeId)
	if err != nil {
		return errStatus(err)
	}
	if item.IsDir() {
		return fuse.EISDIR
	}
	if input.Flags&uint32(os.O_WRONLY|os.O_RDWR) != 0 {
		return fuse.EACCES
	}
	out.Fh = input.NodeId
	return fuse.OK
}

func (fs *FileSystem) Read(cancel <-chan struct{}, input *fuse.ReadIn, buf []byte) (fuse.ReadResult, fuse.Status) {
	fs.metrics.RecordOp("read")

	data, err := fs.bridge.Read(requestContext(cancel), input.NodeId, int64(input.Offset), int(input.Size))
	if err != nil {
		return nil, errStatus(err)
	}
	return fuse.ReadResultData(data), fuse.OK
}

func (fs *FileSystem) Readlink(cancel <-chan struct{}, header *fuse.InHeader) ([]byte, fuse.Status) {
	fs.metrics.RecordOp("readlink")

	target, err := fs.bridge.ResolvePath(header.NodeId)
	if err != nil {
		return nil, errStatus(err)
	}
	return []byte(target), fuse.OK
}

func (fs *FileSystem) StatFs(cancel <-chan struct{}, input *fuse.InHeader, out *fuse.StatfsOut) fuse.Status {
	fs.metrics.RecordOp("statfs")

	out.Bsize = 4096
	out.NameLen = 255
	return fuse.OK
}

// fillEntry populates an EntryOut for one presented directory entry.
// Symlink presentation overrides the item's canonical mode; the same
// inode answers GetAttr with its canonical attributes.
func (fs *FileSystem) fillEntry(e bridge.DirEntry, out *fuse.EntryOut) {
	out.NodeId = e.Inode
	fillAttr(e.Inode, &e.Item, entryMode(e), &out.Attr)
	out.SetEntryTimeout(attrTimeout)
	out.SetAttrTimeout(attrTimeout)
}

func entryMode(e bridge.DirEntry) uint32 {
	if e.Symlink {
		return bridge.SymlinkMode
	}
	return e.Item.Mode()
}

func fillAttr(ino uint64, item *bridge.Item, mode uint32, attr *fuse.Attr) {
	attr.Ino = ino
	attr.Mode = mode
	attr.Size = item.Size()
	attr.Nlink = 1
	attr.Owner.Uid = uint32(os.Getuid())
	attr.Owner.Gid = uint32(os.Getgid())

	setTime(item.Created, &attr.Ctime, &attr.Ctimensec)
	setTime(item.Updated, &attr.Mtime, &attr.Mtimensec)
	setTime(item.Updated, &attr.Atime, &attr.Atimensec)
}

// setTime splits remote epoch milliseconds into seconds and
// nanoseconds.
func setTime(millis int64, sec *uint64, nsec *uint32) {
	if millis < 0 {
		millis = 0
	}
	*sec = uint64(millis / 1000)
	*nsec = uint32(millis%1000) * 1_000_000
}

func errStatus(err error) fuse.Status {
	switch {
	case errors.Is(err, bridge.ErrNotFound):
		return fuse.ENOENT
	case errors.Is(err, bridge.ErrNotADirectory):
		return fuse.ENOTDIR
	}
	return fuse.EIO
}

// requestContext wraps the kernel's cancel channel as a context for
// the remote client.
func requestContext(cancel <-chan struct{}) context.Context {
	return &fuse.Context{Cancel: cancel}
}

// kernelNotifier forwards bridge invalidations to the kernel cache.
// ENOENT answers are expected when the kernel never cached the entry.
type kernelNotifier struct {
	server *fuse.Server
	logger *slog.Logger
}

func (n *kernelNotifier) InvalidateInode(ino uint64) {
	status := n.server.InodeNotify(ino, 0, -1)
	if status != fuse.OK && status != fuse.ENOENT {
		n.logger.Debug("inode invalidation failed", "inode", ino, "status", status)
	}
}

func (n *kernelNotifier) InvalidateEntry(parent uint64, name string) {
	status := n.server.EntryNotify(parent, name)
	if status != fuse.OK && status != fuse.ENOENT {
		n.logger.Debug("entry invalidation failed",
			"parent", parent, "name", name, "status", status)
	}
}
