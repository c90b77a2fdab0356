package bridge

import (
	"strings"
	"syscall"

	"golang.org/x/text/unicode/norm"
)

// RootInode is the reserved inode number of the synthetic root folder.
// It matches FUSE_ROOT_ID, so the bridge's numbering is handed to the
// kernel without translation.
const RootInode uint64 = 1

// Kind discriminates the item variants the bridge tracks. Virtual
// items are directories synthesized by the bridge (the flat index and
// the tag index); they have no remote counterpart.
type Kind int

const (
	KindFolder Kind = iota + 1
	KindNote
	KindResource
	KindTag
	KindVirtual
)

func (k Kind) String() string {
	switch k {
	case KindFolder:
		return "folder"
	case KindNote:
		return "note"
	case KindResource:
		return "resource"
	case KindTag:
		return "tag"
	case KindVirtual:
		return "virtual"
	}
	return "unknown"
}

// SymlinkMode is the mode used when an item is presented as a symlink
// inside the tag index or the flat index.
const SymlinkMode = syscall.S_IFLNK | 0o777

// placeholderNoteSize is reported for notes whose body has not been
// fetched yet. The real size replaces it on first read.
const placeholderNoteSize = 1024

const directorySize = 4096

// maxFilenameRunes bounds sanitized filenames below common filesystem
// name limits, leaving room for the id fragment and extension.
const maxFilenameRunes = 248

// Item describes one entity visible through the mount: a remote
// folder, note, resource or tag, or a synthetic virtual directory.
// Timestamps are in the remote's epoch milliseconds.
type Item struct {
	ID       string
	Kind     Kind
	Title    string
	Created  int64
	Updated  int64
	ByteSize int64

	// Children holds child inode numbers. Maintained only for
	// folder, tag and virtual items, and deliberately excludes
	// subfolders and tag members, which are resolved on every
	// listing (the event feed cannot report those changes).
	Children []uint64

	// Parent is the inode of the containing directory, or zero
	// when unknown. The root uses zero as its own sentinel.
	Parent uint64
}

// IsDir reports whether the item is listed as a directory.
func (it *Item) IsDir() bool {
	switch it.Kind {
	case KindFolder, KindTag, KindVirtual:
		return true
	case KindNote, KindResource:
		return false
	}
	return false
}

// Mode returns the POSIX mode presented for the item in its canonical
// location.
func (it *Item) Mode() uint32 {
	switch it.Kind {
	case KindFolder, KindTag, KindVirtual:
		return syscall.S_IFDIR | 0o755
	case KindNote, KindResource:
		return syscall.S_IFREG | 0o644
	}
	return 0
}

// Size returns the POSIX size. Directories report a fixed block size;
// notes report a placeholder until their body has been read once.
func (it *Item) Size() uint64 {
	switch it.Kind {
	case KindFolder, KindTag, KindVirtual:
		return directorySize
	case KindNote:
		if it.ByteSize > 0 {
			return uint64(it.ByteSize)
		}
		return placeholderNoteSize
	case KindResource:
		if it.ByteSize < 0 {
			return 0
		}
		return uint64(it.ByteSize)
	}
	return 0
}

// illegalFilenameChars are stripped from titles. The set matches the
// characters rejected by the most restrictive target filesystems, so
// the same vault can be mounted anywhere.
const illegalFilenameChars = `<>:"/\|?*`

// SafeFilename returns the deterministic directory-entry name for the
// item. Titles are NFKC-normalized, stripped of illegal characters,
// truncated, and suffixed with a short id fragment so that two items
// with the same title never collide. Notes carry a .md extension.
// Virtual directories use their fixed title verbatim.
func (it *Item) SafeFilename() string {
	if it.Kind == KindVirtual {
		return it.Title
	}

	name := norm.NFKC.String(it.Title)
	name = strings.Map(func(r rune) rune {
		if strings.ContainsRune(illegalFilenameChars, r) {
			return -1
		}
		return r
	}, name)

	if runes := []rune(name); len(runes) > maxFilenameRunes {
		name = string(runes[:maxFilenameRunes])
	}

	name += "_" + shortID(it.ID)
	if it.Kind == KindNote {
		name += ".md"
	}
	return name
}

func shortID(id string) string {
	if len(id) > 4 {
		return id[:4]
	}
	return id
}
