package bridge

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/joplinfs/joplinfs/internal/joplin"
	"github.com/joplinfs/joplinfs/internal/metrics"
)

// internalLinkRegex matches the remote's cross-item reference tokens
// inside note bodies: a ":/" marker followed by a hexadecimal item id.
var internalLinkRegex = regexp.MustCompile(`:/([0-9a-fA-F]+)`)

// Well-known ids of the two virtual directories. They live in the same
// id namespace as remote items, which is safe because remote ids are
// 32-char hex strings.
const (
	linksID = "links"
	tagsID  = "tags"

	linksTitle = ".links"
	tagsTitle  = ".tags"
)

// DefaultSyncPeriod is the pause between event poll cycles.
const DefaultSyncPeriod = 3 * time.Second

// API is the remote client surface the bridge consumes. Every method
// transparently accumulates paginated responses.
type API interface {
	Folders(ctx context.Context) ([]joplin.Folder, error)
	Folder(ctx context.Context, id string) (*joplin.Folder, error)
	Notes(ctx context.Context, folderID string) ([]joplin.Note, error)
	Note(ctx context.Context, id string, withBody bool) (*joplin.Note, error)
	Tags(ctx context.Context) ([]joplin.Tag, error)
	TagNotes(ctx context.Context, tagID string) ([]joplin.Note, error)
	Resources(ctx context.Context) ([]joplin.Resource, error)
	ResourceFile(ctx context.Context, id string) ([]byte, error)
	Events(ctx context.Context, cursor int64) ([]joplin.Event, error)
	Cursor(ctx context.Context) (int64, error)
}

// Notifier receives staleness notices for entries the kernel may have
// cached. Implementations must tolerate inodes or entries the kernel
// has never seen.
type Notifier interface {
	InvalidateInode(ino uint64)
	InvalidateEntry(parent uint64, name string)
}

// NopNotifier discards all notices. It is the default until a real
// protocol adapter attaches, and the usual choice in tests.
type NopNotifier struct{}

func (NopNotifier) InvalidateInode(uint64)         {}
func (NopNotifier) InvalidateEntry(uint64, string) {}

// DirEntry is one presented child of a directory listing: the inode,
// the name under this particular parent, and whether the entry is
// shown as a symlink. Items inside the tag index and the flat index
// point back at their canonical location; items with no such location
// are presented as regular entries instead.
type DirEntry struct {
	Inode   uint64
	Name    string
	Symlink bool
	Item    Item
}

// Options configures a Bridge.
type Options struct {
	// Mountpoint is where the filesystem is mounted; rewritten
	// note links are absolute paths under it.
	Mountpoint string

	// SyncPeriod is the pause between event poll cycles. Zero uses
	// DefaultSyncPeriod.
	SyncPeriod time.Duration

	// Logger receives diagnostic messages. If nil, a default text
	// handler on stderr is used.
	Logger *slog.Logger

	// Metrics is optional; nil disables recording.
	Metrics *metrics.Collector
}

// Bridge maintains the mapping between the remote item hierarchy and
// kernel-visible inodes: it owns the inode table, materializes the
// virtual directories, serves reads, and keeps the tree consistent
// with the remote event feed.
type Bridge struct {
	api     API
	period  time.Duration
	logger  *slog.Logger
	metrics *metrics.Collector

	mountpoint string
	// linkReplacement is the expansion applied to internal link
	// tokens in note bodies.
	linkReplacement string

	// mu guards the table, the cursor, and the notifier. Every
	// event application is one critical section, so readers never
	// observe a half-applied event.
	mu         sync.Mutex
	table      *Table
	notifier   Notifier
	cursor     int64
	haveCursor bool
	linksInode uint64
	tagsInode  uint64
}

// New creates a Bridge over the given remote client. Call BuildTree
// before serving requests.
func New(remote API, options Options) *Bridge {
	if options.SyncPeriod <= 0 {
		options.SyncPeriod = DefaultSyncPeriod
	}
	if options.Logger == nil {
		options.Logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	return &Bridge{
		api:             remote,
		period:          options.SyncPeriod,
		logger:          options.Logger,
		metrics:         options.Metrics,
		mountpoint:      options.Mountpoint,
		linkReplacement: filepath.Join(options.Mountpoint, linksTitle) + "/${1}",
		table:           NewTable(),
		notifier:        NopNotifier{},
	}
}

// SetNotifier attaches the invalidation sink. Called by the protocol
// adapter once the kernel connection exists.
func (b *Bridge) SetNotifier(n Notifier) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n == nil {
		n = NopNotifier{}
	}
	b.notifier = n
}

// BuildTree takes the initial snapshot: all folders with their direct
// notes, plus the two virtual directories under the root. It runs once
// at startup, before any other goroutine touches the table.
// Subfolder relationships and tag contents are deliberately not
// pre-populated; the event feed cannot report changes to either, so
// they are recomputed on every listing instead.
func (b *Bridge) BuildTree(ctx context.Context) error {
	folders, err := b.api.Folders(ctx)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, f := range folders {
		folderIno := b.allocLocked(folderItem(f))
		folder, _ := b.table.Lookup(folderIno)

		b.mu.Unlock()
		notes, err := b.api.Notes(ctx, f.ID)
		b.mu.Lock()
		if err != nil {
			b.logger.Warn("listing notes failed, folder starts empty",
				"folder", f.ID, "error", err)
			continue
		}
		for _, n := range notes {
			item := noteItem(n)
			noteIno := b.allocLocked(item)
			item.Parent = folderIno
			folder.Children = appendInode(folder.Children, noteIno)
		}
	}

	// Second pass: wire folder parent pointers now that every folder
	// has an inode. Children stay lazy, but the ancestor chain must
	// be complete for symlink resolution.
	for _, f := range folders {
		ino, ok := b.table.LookupByID(f.ID)
		if !ok {
			continue
		}
		item, err := b.table.Lookup(ino)
		if err != nil {
			continue
		}
		if f.ParentID == "" {
			item.Parent = RootInode
			continue
		}
		if parentIno, ok := b.table.LookupByID(f.ParentID); ok {
			item.Parent = parentIno
		}
	}

	// Resources have no place in the folder hierarchy; they are
	// reachable through the flat index, which is where rewritten
	// note links point.
	b.mu.Unlock()
	resources, err := b.api.Resources(ctx)
	b.mu.Lock()
	if err != nil {
		b.logger.Warn("listing resources failed, attachments unavailable", "error", err)
	}
	for _, r := range resources {
		b.allocLocked(resourceItem(r))
	}

	root := b.table.Root()
	links := &Item{ID: linksID, Kind: KindVirtual, Title: linksTitle, Parent: RootInode}
	b.linksInode = b.table.AllocateOrGet(links)
	root.Children = appendInode(root.Children, b.linksInode)

	tags := &Item{ID: tagsID, Kind: KindVirtual, Title: tagsTitle, Parent: RootInode}
	b.tagsInode = b.table.AllocateOrGet(tags)
	root.Children = appendInode(root.Children, b.tagsInode)

	b.logger.Info("initial snapshot complete",
		"folders", len(folders), "inodes", len(b.table.items))
	return nil
}

// GetMetadata returns a copy of the item for an inode, or ErrNotFound
// when the inode was never allocated or has been detached.
func (b *Bridge) GetMetadata(ino uint64) (Item, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	item, err := b.table.Lookup(ino)
	if err != nil {
		return Item{}, err
	}
	return copyItem(item), nil
}

// GetChildren materializes the listing of a directory-like inode,
// sorted by inode number so repeated listings are stable and paginated
// reads can resume deterministically.
func (b *Bridge) GetChildren(ctx context.Context, ino uint64) ([]DirEntry, error) {
	b.mu.Lock()
	parent, err := b.table.Lookup(ino)
	if err != nil {
		b.mu.Unlock()
		return nil, err
	}
	if !parent.IsDir() {
		b.mu.Unlock()
		return nil, ErrNotADirectory
	}
	parentKind := parent.Kind
	parentID := parent.ID
	inodes := append([]uint64(nil), parent.Children...)
	b.mu.Unlock()

	switch parentKind {
	case KindFolder:
		inodes = b.appendSubfolders(ctx, ino, parentID, inodes)
	case KindTag:
		inodes = b.tagMembers(ctx, parentID)
	case KindVirtual:
		switch parentID {
		case linksID:
			b.mu.Lock()
			inodes = b.table.Inodes()
			b.mu.Unlock()
		case tagsID:
			inodes = b.rebuildTagIndex(ctx, ino)
		}
	}

	sort.Slice(inodes, func(i, j int) bool { return inodes[i] < inodes[j] })
	return b.presentChildren(parentKind, parentID, inodes), nil
}

// appendSubfolders unions the cached note children with a fresh fetch
// of direct subfolders. Subfolders are never cached in Children; the
// event feed cannot report folder moves, so a fresh fetch is the only
// listing that cannot go stale.
func (b *Bridge) appendSubfolders(ctx context.Context, parentIno uint64, parentID string, inodes []uint64) []uint64 {
	folders, err := b.api.Folders(ctx)
	if err != nil {
		b.logger.Warn("listing subfolders failed, returning cached entries",
			"folder", parentID, "error", err)
		return inodes
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, f := range folders {
		if f.ParentID != parentID {
			continue
		}
		item := folderItem(f)
		subIno := b.allocLocked(item)
		if sub, err := b.table.Lookup(subIno); err == nil && sub.Parent == 0 {
			sub.Parent = parentIno
		}
		inodes = appendInode(inodes, subIno)
	}
	return inodes
}

// tagMembers resolves the notes currently carrying a tag, fetched
// fresh on every call. Members not yet known to the table are skipped;
// they surface once the snapshot or event stream catches up.
func (b *Bridge) tagMembers(ctx context.Context, tagID string) []uint64 {
	notes, err := b.api.TagNotes(ctx, tagID)
	if err != nil {
		b.logger.Warn("listing tag members failed, tag appears empty",
			"tag", tagID, "error", err)
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	inodes := make([]uint64, 0, len(notes))
	for _, n := range notes {
		ino, ok := b.table.LookupByID(n.ID)
		if !ok {
			b.logger.Debug("tagged note not in table yet", "note", n.ID, "tag", tagID)
			continue
		}
		inodes = append(inodes, ino)
	}
	return inodes
}

// rebuildTagIndex recomputes the children of the tag index: every tag
// with at least one member. Tags linger in the remote database after
// their last note is untagged; those are filtered out. The result
// replaces the virtual directory's cached Children.
func (b *Bridge) rebuildTagIndex(ctx context.Context, tagsIno uint64) []uint64 {
	tags, err := b.api.Tags(ctx)
	if err != nil {
		b.logger.Warn("listing tags failed, tag index appears empty", "error", err)
		return nil
	}

	var inodes []uint64
	for _, t := range tags {
		notes, err := b.api.TagNotes(ctx, t.ID)
		if err != nil {
			b.logger.Warn("listing tag members failed, tag omitted",
				"tag", t.ID, "error", err)
			continue
		}
		if len(notes) == 0 {
			continue
		}
		item := tagItem(t)
		b.mu.Lock()
		ino := b.allocLocked(item)
		if tag, err := b.table.Lookup(ino); err == nil {
			tag.Parent = tagsIno
		}
		b.mu.Unlock()
		inodes = append(inodes, ino)
	}

	b.mu.Lock()
	if dir, err := b.table.Lookup(tagsIno); err == nil {
		dir.Children = append([]uint64(nil), inodes...)
	}
	b.mu.Unlock()
	return inodes
}

func (b *Bridge) presentChildren(parentKind Kind, parentID string, inodes []uint64) []DirEntry {
	b.mu.Lock()
	defer b.mu.Unlock()

	entries := make([]DirEntry, 0, len(inodes))
	for _, ino := range inodes {
		item, err := b.table.Lookup(ino)
		if err != nil {
			// Detached between materialization and presentation.
			continue
		}
		entry := DirEntry{Inode: ino, Item: copyItem(item)}
		if parentKind == KindVirtual && parentID == linksID {
			// The flat index keys entries by id so rewritten
			// note links resolve with a single lookup. Items with
			// no canonical location (resources, orphans awaiting a
			// parent) are served directly rather than as symlinks
			// that would dangle.
			entry.Name = item.ID
			entry.Symlink = item.Parent != 0
		} else {
			entry.Name = item.SafeFilename()
			entry.Symlink = parentKind == KindTag && !item.IsDir()
		}
		entries = append(entries, entry)
	}
	return entries
}

// Read serves a byte range of a note body or resource blob. Note
// bodies have their internal link tokens rewritten to flat-index
// paths before slicing. Reads past end of content return an empty
// slice; remote failures degrade to an empty read rather than an
// error.
func (b *Bridge) Read(ctx context.Context, ino uint64, offset int64, size int) ([]byte, error) {
	b.mu.Lock()
	item, err := b.table.Lookup(ino)
	if err != nil {
		b.mu.Unlock()
		return nil, err
	}
	kind := item.Kind
	id := item.ID
	b.mu.Unlock()

	var body []byte
	switch kind {
	case KindNote:
		note, err := b.api.Note(ctx, id, true)
		if err != nil {
			b.logger.Warn("fetching note body failed, read degrades to empty",
				"note", id, "error", err)
			return nil, nil
		}
		body = []byte(internalLinkRegex.ReplaceAllString(note.Body, b.linkReplacement))
	case KindResource:
		data, err := b.api.ResourceFile(ctx, id)
		if err != nil {
			b.logger.Warn("fetching resource failed, read degrades to empty",
				"resource", id, "error", err)
			return nil, nil
		}
		body = data
	default:
		return nil, ErrNotFound
	}

	b.mu.Lock()
	if item, err := b.table.Lookup(ino); err == nil {
		item.ByteSize = int64(len(body))
	}
	b.mu.Unlock()

	start := clamp(offset, int64(len(body)))
	end := clamp(offset+int64(size), int64(len(body)))
	slice := body[start:end]
	b.metrics.RecordRead(len(slice))
	return slice, nil
}

// ResolvePath returns the canonical mount-absolute path for an item,
// built by joining sanitized filenames from the item up through its
// ancestor chain. It is the target of the symlinks presented in the
// tag index and the flat index. An item whose ancestry is incomplete
// resolves directly under the mountpoint.
func (b *Bridge) ResolvePath(ino uint64) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	item, err := b.table.Lookup(ino)
	if err != nil {
		return "", err
	}

	var parts []string
	for current := item; current != nil && len(parts) < 128; {
		parts = append(parts, current.SafeFilename())
		if current.Parent == 0 || current.Parent == RootInode {
			break
		}
		next, err := b.table.Lookup(current.Parent)
		if err != nil {
			break
		}
		current = next
	}

	// Reverse into root-first order.
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return filepath.Join(append([]string{b.mountpoint}, parts...)...), nil
}

// LinksInode returns the inode of the flat index directory. Zero
// before BuildTree has run.
func (b *Bridge) LinksInode() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.linksInode
}

// allocLocked allocates or refreshes an item's table entry, preserving
// the Children and Parent of any existing entry across the overwrite.
// Callers must hold b.mu.
func (b *Bridge) allocLocked(item *Item) uint64 {
	if ino, ok := b.table.LookupByID(item.ID); ok {
		if existing, err := b.table.Lookup(ino); err == nil {
			item.Children = existing.Children
			item.Parent = existing.Parent
		}
	}
	return b.table.AllocateOrGet(item)
}

func copyItem(item *Item) Item {
	out := *item
	out.Children = append([]uint64(nil), item.Children...)
	return out
}

func appendInode(inodes []uint64, ino uint64) []uint64 {
	for _, existing := range inodes {
		if existing == ino {
			return inodes
		}
	}
	return append(inodes, ino)
}

func clamp(v, limit int64) int64 {
	if v < 0 {
		return 0
	}
	if v > limit {
		return limit
	}
	return v
}

func folderItem(f joplin.Folder) *Item {
	return &Item{
		ID:      f.ID,
		Kind:    KindFolder,
		Title:   f.Title,
		Created: f.CreatedTime,
		Updated: f.UpdatedTime,
	}
}

func noteItem(n joplin.Note) *Item {
	return &Item{
		ID:      n.ID,
		Kind:    KindNote,
		Title:   n.Title,
		Created: n.CreatedTime,
		Updated: n.UpdatedTime,
	}
}

func resourceItem(r joplin.Resource) *Item {
	return &Item{
		ID:       r.ID,
		Kind:     KindResource,
		Title:    r.Title,
		Created:  r.CreatedTime,
		Updated:  r.UpdatedTime,
		ByteSize: r.Size,
	}
}

func tagItem(t joplin.Tag) *Item {
	return &Item{
		ID:      t.ID,
		Kind:    KindTag,
		Title:   t.Title,
		Created: t.CreatedTime,
		Updated: t.UpdatedTime,
	}
}
