package bridge

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joplinfs/joplinfs/internal/joplin"
)

// recordingNotifier captures invalidations for assertions.
type recordingNotifier struct {
	mu      sync.Mutex
	inodes  []uint64
	entries []string
}

func (r *recordingNotifier) InvalidateInode(ino uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inodes = append(r.inodes, ino)
}

func (r *recordingNotifier) InvalidateEntry(parent uint64, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, name)
}

func (r *recordingNotifier) invalidatedInodes() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uint64(nil), r.inodes...)
}

func (r *recordingNotifier) invalidatedEntries() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.entries...)
}

func noteEvent(id int64, noteID string, typ joplin.EventType) joplin.Event {
	return joplin.Event{ID: id, ItemType: joplin.ItemTypeNote, ItemID: noteID, Type: typ}
}

func TestApplyCreateNote(t *testing.T) {
	b, api := newTestBridge(t)
	ctx := context.Background()

	api.mu.Lock()
	api.notes["eeee5555"] = joplin.Note{
		ID: "eeee5555", ParentID: "f1f1f1f1", Title: "fresh",
	}
	api.mu.Unlock()

	outcome := b.applyEvent(ctx, noteEvent(10, "eeee5555", joplin.EventCreated))
	assert.Equal(t, OutcomeApplied, outcome)

	work := findEntry(t, mustChildren(t, b, RootInode), "work_f1f1")
	names := entryNames(mustChildren(t, b, work.Inode))
	assert.Contains(t, names, "fresh_eeee.md")
}

func TestApplyCreateUnknownParent(t *testing.T) {
	b, api := newTestBridge(t)
	ctx := context.Background()

	api.mu.Lock()
	api.notes["eeee5555"] = joplin.Note{
		ID: "eeee5555", ParentID: "nope0000", Title: "orphan",
	}
	api.mu.Unlock()

	outcome := b.applyEvent(ctx, noteEvent(10, "eeee5555", joplin.EventCreated))
	assert.Equal(t, OutcomeSkipUnknownParent, outcome)

	// The orphan is allocated and reachable through the flat index.
	links := findEntry(t, mustChildren(t, b, RootInode), ".links")
	names := entryNames(mustChildren(t, b, links.Inode))
	assert.Contains(t, names, "eeee5555")

	// But not listed under any folder.
	work := findEntry(t, mustChildren(t, b, RootInode), "work_f1f1")
	assert.NotContains(t, entryNames(mustChildren(t, b, work.Inode)), "orphan_eeee.md")
}

func TestApplyDelete(t *testing.T) {
	b, api := newTestBridge(t)
	ctx := context.Background()

	work := findEntry(t, mustChildren(t, b, RootInode), "work_f1f1")
	plan := findEntry(t, mustChildren(t, b, work.Inode), "plan_aaaa.md")

	notifier := &recordingNotifier{}
	b.SetNotifier(notifier)

	api.mu.Lock()
	delete(api.notes, "aaaa1111")
	api.mu.Unlock()

	outcome := b.applyEvent(ctx, noteEvent(10, "aaaa1111", joplin.EventDeleted))
	assert.Equal(t, OutcomeApplied, outcome)

	_, err := b.GetMetadata(plan.Inode)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NotContains(t, entryNames(mustChildren(t, b, work.Inode)), "plan_aaaa.md")

	assert.Contains(t, notifier.invalidatedInodes(), plan.Inode)
	assert.Contains(t, notifier.invalidatedEntries(), "plan_aaaa.md")
}

func TestApplyDeleteIdempotent(t *testing.T) {
	b, api := newTestBridge(t)
	ctx := context.Background()

	api.mu.Lock()
	delete(api.notes, "aaaa1111")
	api.mu.Unlock()

	assert.Equal(t, OutcomeApplied, b.applyEvent(ctx, noteEvent(10, "aaaa1111", joplin.EventDeleted)))
	assert.Equal(t, OutcomeNoopAlreadyDeleted, b.applyEvent(ctx, noteEvent(11, "aaaa1111", joplin.EventDeleted)))
}

func TestRecreateGetsFreshInode(t *testing.T) {
	b, api := newTestBridge(t)
	ctx := context.Background()

	work := findEntry(t, mustChildren(t, b, RootInode), "work_f1f1")
	plan := findEntry(t, mustChildren(t, b, work.Inode), "plan_aaaa.md")

	require.Equal(t, OutcomeApplied, b.applyEvent(ctx, noteEvent(10, "aaaa1111", joplin.EventDeleted)))

	api.mu.Lock()
	api.notes["aaaa1111"] = joplin.Note{ID: "aaaa1111", ParentID: "f1f1f1f1", Title: "plan"}
	api.mu.Unlock()

	require.Equal(t, OutcomeApplied, b.applyEvent(ctx, noteEvent(11, "aaaa1111", joplin.EventCreated)))

	recreated := findEntry(t, mustChildren(t, b, work.Inode), "plan_aaaa.md")
	assert.Greater(t, recreated.Inode, plan.Inode)
}

func TestApplySkipsOtherItemTypes(t *testing.T) {
	b, _ := newTestBridge(t)
	ctx := context.Background()

	ev := joplin.Event{ID: 10, ItemType: joplin.ItemTypeTag, ItemID: "cccc3333", Type: joplin.EventUpdated}
	assert.Equal(t, OutcomeSkipItemType, b.applyEvent(ctx, ev))

	ev = joplin.Event{ID: 11, ItemType: joplin.ItemTypeResource, ItemID: "rrrr6666", Type: joplin.EventCreated}
	assert.Equal(t, OutcomeSkipItemType, b.applyEvent(ctx, ev))
}

func TestApplyFetchFailure(t *testing.T) {
	b, api := newTestBridge(t)
	ctx := context.Background()

	api.mu.Lock()
	api.noteErr = errors.New("remote down")
	api.mu.Unlock()

	outcome := b.applyEvent(ctx, noteEvent(10, "aaaa1111", joplin.EventUpdated))
	assert.Equal(t, OutcomeSkipFetchFailed, outcome)

	// The table is untouched.
	work := findEntry(t, mustChildren(t, b, RootInode), "work_f1f1")
	assert.Contains(t, entryNames(mustChildren(t, b, work.Inode)), "plan_aaaa.md")
}

func TestApplyUpdateTitle(t *testing.T) {
	b, api := newTestBridge(t)
	ctx := context.Background()

	work := findEntry(t, mustChildren(t, b, RootInode), "work_f1f1")
	plan := findEntry(t, mustChildren(t, b, work.Inode), "plan_aaaa.md")

	notifier := &recordingNotifier{}
	b.SetNotifier(notifier)

	api.mu.Lock()
	n := api.notes["aaaa1111"]
	n.Title = "revised plan"
	n.UpdatedTime = 9000
	api.notes["aaaa1111"] = n
	api.mu.Unlock()

	require.Equal(t, OutcomeApplied, b.applyEvent(ctx, noteEvent(10, "aaaa1111", joplin.EventUpdated)))

	item, err := b.GetMetadata(plan.Inode)
	require.NoError(t, err)
	assert.Equal(t, "revised plan", item.Title)
	assert.Equal(t, int64(9000), item.Updated)

	names := entryNames(mustChildren(t, b, work.Inode))
	assert.Contains(t, names, "revised plan_aaaa.md")
	assert.NotContains(t, names, "plan_aaaa.md")

	// The rename evicts the old filename from the kernel's entry
	// cache; otherwise the stale name would answer lookups until its
	// timeout expires.
	assert.Contains(t, notifier.invalidatedEntries(), "plan_aaaa.md")
	assert.Contains(t, notifier.invalidatedInodes(), plan.Inode)
}

func TestApplyUpdateUnknownParentKeepsOldFolder(t *testing.T) {
	b, api := newTestBridge(t)
	ctx := context.Background()

	work := findEntry(t, mustChildren(t, b, RootInode), "work_f1f1")

	api.mu.Lock()
	n := api.notes["aaaa1111"]
	n.Title = "renamed plan"
	n.ParentID = "nope0000"
	api.notes["aaaa1111"] = n
	api.mu.Unlock()

	outcome := b.applyEvent(ctx, noteEvent(10, "aaaa1111", joplin.EventUpdated))
	assert.Equal(t, OutcomeSkipUnknownParent, outcome)

	// The move is dropped but the attribute changes stand: the note
	// stays under its old folder, under its new name.
	names := entryNames(mustChildren(t, b, work.Inode))
	assert.Contains(t, names, "renamed plan_aaaa.md")
	assert.NotContains(t, names, "plan_aaaa.md")

	renamed := findEntry(t, mustChildren(t, b, work.Inode), "renamed plan_aaaa.md")
	item, err := b.GetMetadata(renamed.Inode)
	require.NoError(t, err)
	assert.Equal(t, work.Inode, item.Parent)
	assert.Equal(t, "renamed plan", item.Title)
}

func TestApplyMoveInvalidatesBothParents(t *testing.T) {
	b, api := newTestBridge(t)
	ctx := context.Background()

	work := findEntry(t, mustChildren(t, b, RootInode), "work_f1f1")
	archive := findEntry(t, mustChildren(t, b, work.Inode), "archive_f2f2")

	notifier := &recordingNotifier{}
	b.SetNotifier(notifier)

	api.mu.Lock()
	n := api.notes["aaaa1111"]
	n.ParentID = "f2f2f2f2"
	api.notes["aaaa1111"] = n
	api.mu.Unlock()

	require.Equal(t, OutcomeApplied, b.applyEvent(ctx, noteEvent(10, "aaaa1111", joplin.EventUpdated)))

	assert.NotContains(t, entryNames(mustChildren(t, b, work.Inode)), "plan_aaaa.md")
	assert.Contains(t, entryNames(mustChildren(t, b, archive.Inode)), "plan_aaaa.md")

	inodes := notifier.invalidatedInodes()
	assert.Contains(t, inodes, work.Inode)
	assert.Contains(t, inodes, archive.Inode)
}

func TestApplyUpdateUnknownCreates(t *testing.T) {
	b, api := newTestBridge(t)
	ctx := context.Background()

	api.mu.Lock()
	api.notes["eeee5555"] = joplin.Note{
		ID: "eeee5555", ParentID: "f1f1f1f1", Title: "raced ahead",
	}
	api.mu.Unlock()

	outcome := b.applyEvent(ctx, noteEvent(10, "eeee5555", joplin.EventUpdated))
	assert.Equal(t, OutcomeApplied, outcome)

	work := findEntry(t, mustChildren(t, b, RootInode), "work_f1f1")
	assert.Contains(t, entryNames(mustChildren(t, b, work.Inode)), "raced ahead_eeee.md")
}

func TestApplyCreateFolder(t *testing.T) {
	b, api := newTestBridge(t)
	ctx := context.Background()

	api.mu.Lock()
	api.folders = append(api.folders, joplin.Folder{
		ID: "f3f3f3f3", ParentID: "f1f1f1f1", Title: "incoming",
	})
	api.mu.Unlock()

	ev := joplin.Event{ID: 10, ItemType: joplin.ItemTypeFolder, ItemID: "f3f3f3f3", Type: joplin.EventCreated}
	require.Equal(t, OutcomeApplied, b.applyEvent(ctx, ev))

	work := findEntry(t, mustChildren(t, b, RootInode), "work_f1f1")
	incoming := findEntry(t, mustChildren(t, b, work.Inode), "incoming_f3f3")
	assert.True(t, incoming.Item.IsDir())
}

func TestSyncOnceAdoptsBaseline(t *testing.T) {
	b, api := newTestBridge(t)
	ctx := context.Background()

	api.mu.Lock()
	api.baseline = 40
	// Stale events at or below the baseline must not be replayed.
	api.events = []joplin.Event{noteEvent(40, "aaaa1111", joplin.EventDeleted)}
	api.mu.Unlock()

	b.syncOnce(ctx)
	assert.Equal(t, int64(40), b.SyncCursor())

	work := findEntry(t, mustChildren(t, b, RootInode), "work_f1f1")
	assert.Contains(t, entryNames(mustChildren(t, b, work.Inode)), "plan_aaaa.md")
}

func TestSyncOnceAdvancesCursor(t *testing.T) {
	b, api := newTestBridge(t)
	ctx := context.Background()

	b.syncOnce(ctx)
	require.Equal(t, int64(0), b.SyncCursor())

	api.mu.Lock()
	api.notes["eeee5555"] = joplin.Note{ID: "eeee5555", ParentID: "f1f1f1f1", Title: "one"}
	api.notes["ffff6666"] = joplin.Note{ID: "ffff6666", ParentID: "f1f1f1f1", Title: "two"}
	api.events = []joplin.Event{
		noteEvent(7, "eeee5555", joplin.EventCreated),
		noteEvent(9, "ffff6666", joplin.EventCreated),
	}
	api.mu.Unlock()

	b.syncOnce(ctx)
	assert.Equal(t, int64(9), b.SyncCursor())

	work := findEntry(t, mustChildren(t, b, RootInode), "work_f1f1")
	names := entryNames(mustChildren(t, b, work.Inode))
	assert.Contains(t, names, "one_eeee.md")
	assert.Contains(t, names, "two_ffff.md")

	// A second cycle with no new events leaves the cursor alone.
	b.syncOnce(ctx)
	assert.Equal(t, int64(9), b.SyncCursor())
}

func TestSyncOnceUpdatesRootTimestamp(t *testing.T) {
	b, api := newTestBridge(t)
	ctx := context.Background()

	b.syncOnce(ctx)

	api.mu.Lock()
	api.notes["eeee5555"] = joplin.Note{ID: "eeee5555", ParentID: "f1f1f1f1", Title: "one"}
	ev := noteEvent(7, "eeee5555", joplin.EventCreated)
	ev.CreatedTime = 555000
	api.events = []joplin.Event{ev}
	api.mu.Unlock()

	b.syncOnce(ctx)

	root, err := b.GetMetadata(RootInode)
	require.NoError(t, err)
	assert.Equal(t, int64(555000), root.Updated)
}

func TestRunSyncLoopStopsOnCancel(t *testing.T) {
	b, _ := newTestBridge(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan error, 1)
	go func() { done <- b.RunSyncLoop(ctx) }()

	err := <-done
	assert.NoError(t, err)
}

func TestApplyOutcomeStrings(t *testing.T) {
	assert.Equal(t, "applied", OutcomeApplied.String())
	assert.Equal(t, "skip_item_type", OutcomeSkipItemType.String())
	assert.Equal(t, "skip_unknown_parent", OutcomeSkipUnknownParent.String())
	assert.Equal(t, "skip_fetch_failed", OutcomeSkipFetchFailed.String())
	assert.Equal(t, "noop_already_deleted", OutcomeNoopAlreadyDeleted.String())
	assert.Equal(t, "unknown", ApplyOutcome(99).String())
}
