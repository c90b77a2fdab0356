package bridge

import (
	"context"
	"time"

	"github.com/joplinfs/joplinfs/internal/joplin"
)

// ApplyOutcome classifies what happened to one event. The sync loop
// never fails on a bad event; it records the outcome and moves on, so
// tests and metrics can observe skips instead of scraping logs.
type ApplyOutcome int

const (
	// OutcomeApplied means the event mutated the tree.
	OutcomeApplied ApplyOutcome = iota

	// OutcomeSkipItemType means the event concerned an item type
	// the feed does not reliably report (tags, resources, settings).
	OutcomeSkipItemType

	// OutcomeSkipUnknownParent means a create or move referenced a
	// parent the table has never seen. The event stream is flat but
	// the tree needs parents before children; skipping trades a
	// short-lived inconsistency for a sync loop that never crashes.
	OutcomeSkipUnknownParent

	// OutcomeSkipFetchFailed means the full record could not be
	// fetched; the next poll cycle re-observes the same state.
	OutcomeSkipFetchFailed

	// OutcomeNoopAlreadyDeleted means a delete referenced an id
	// that is already absent.
	OutcomeNoopAlreadyDeleted
)

func (o ApplyOutcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeSkipItemType:
		return "skip_item_type"
	case OutcomeSkipUnknownParent:
		return "skip_unknown_parent"
	case OutcomeSkipFetchFailed:
		return "skip_fetch_failed"
	case OutcomeNoopAlreadyDeleted:
		return "noop_already_deleted"
	}
	return "unknown"
}

// notice is a pending kernel invalidation, gathered while the table
// lock is held and emitted after it is released.
type notice struct {
	entry  bool
	inode  uint64
	parent uint64
	name   string
}

func inodeNotice(ino uint64) notice {
	return notice{inode: ino}
}

func entryNotice(parent uint64, name string) notice {
	return notice{entry: true, parent: parent, name: name}
}

// RunSyncLoop polls the remote event feed until the context is
// cancelled, applying each event and advancing the cursor. It has no
// failure mode: per-cycle errors are logged and retried naturally on
// the next poll.
func (b *Bridge) RunSyncLoop(ctx context.Context) error {
	ticker := time.NewTicker(b.period)
	defer ticker.Stop()

	for {
		b.syncOnce(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// SyncCursor returns the id of the last fully applied event.
func (b *Bridge) SyncCursor() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cursor
}

// syncOnce runs one poll cycle: adopt a baseline cursor if none is
// held, fetch newer events, apply them in remote order, then advance
// the cursor and the root timestamp (both only ever forward).
func (b *Bridge) syncOnce(ctx context.Context) {
	b.mu.Lock()
	have := b.haveCursor
	cursor := b.cursor
	b.mu.Unlock()

	if !have {
		baseline, err := b.api.Cursor(ctx)
		if err != nil {
			b.logger.Warn("fetching event cursor failed", "error", err)
			return
		}
		b.mu.Lock()
		b.cursor = baseline
		b.haveCursor = true
		b.mu.Unlock()
		cursor = baseline
	}

	events, err := b.api.Events(ctx, cursor)
	if err != nil {
		b.logger.Warn("fetching events failed", "cursor", cursor, "error", err)
		return
	}

	var maxID, maxCreated int64
	for _, ev := range events {
		outcome := b.applyEvent(ctx, ev)
		b.metrics.RecordEvent(outcome.String())
		switch outcome {
		case OutcomeApplied, OutcomeNoopAlreadyDeleted:
		default:
			b.logger.Debug("event skipped",
				"event", ev.ID, "item", ev.ItemID, "outcome", outcome.String())
		}
		if ev.ID > maxID {
			maxID = ev.ID
		}
		if ev.CreatedTime > maxCreated {
			maxCreated = ev.CreatedTime
		}
	}

	b.mu.Lock()
	if maxID > b.cursor {
		b.cursor = maxID
	}
	if root := b.table.Root(); maxCreated > root.Updated {
		root.Updated = maxCreated
	}
	b.mu.Unlock()
	b.metrics.RecordSyncCycle()
}

// applyEvent applies one remote change. Only note and folder events
// are handled; the feed does not reliably report other item types.
// Each application is a single critical section over the table, so a
// concurrent reader never observes a half-applied event.
func (b *Bridge) applyEvent(ctx context.Context, ev joplin.Event) ApplyOutcome {
	if ev.ItemType != joplin.ItemTypeNote && ev.ItemType != joplin.ItemTypeFolder {
		return OutcomeSkipItemType
	}

	if ev.Type == joplin.EventDeleted {
		return b.applyDelete(ev)
	}

	// Creates and updates need the full record; fetch it before
	// taking the lock.
	var staged *Item
	var parentID string
	switch ev.ItemType {
	case joplin.ItemTypeNote:
		n, err := b.api.Note(ctx, ev.ItemID, false)
		if err != nil {
			b.logger.Warn("fetching note for event failed",
				"event", ev.ID, "note", ev.ItemID, "error", err)
			return OutcomeSkipFetchFailed
		}
		staged = noteItem(*n)
		parentID = n.ParentID
	case joplin.ItemTypeFolder:
		f, err := b.api.Folder(ctx, ev.ItemID)
		if err != nil {
			b.logger.Warn("fetching folder for event failed",
				"event", ev.ID, "folder", ev.ItemID, "error", err)
			return OutcomeSkipFetchFailed
		}
		staged = folderItem(*f)
		parentID = f.ParentID
	}

	return b.applyUpsert(ev, staged, parentID)
}

func (b *Bridge) applyDelete(ev joplin.Event) ApplyOutcome {
	var notices []notice

	b.mu.Lock()
	ino, ok := b.table.LookupByID(ev.ItemID)
	if !ok {
		b.mu.Unlock()
		return OutcomeNoopAlreadyDeleted
	}
	item, _ := b.table.Detach(ino)
	notices = append(notices, inodeNotice(ino))
	if item != nil && item.Parent != 0 {
		notices = append(notices, entryNotice(item.Parent, item.SafeFilename()))
		if parent, err := b.table.Lookup(item.Parent); err == nil {
			parent.Children = removeInode(parent.Children, ino)
		}
	}
	b.mu.Unlock()

	b.emit(notices)
	return OutcomeApplied
}

// applyUpsert handles created and updated events. An update for an
// unknown id falls back to creation: the remote may have raced ahead
// of the engine, and re-creating is always safe because the table
// hands out a fresh inode.
func (b *Bridge) applyUpsert(ev joplin.Event, staged *Item, parentID string) ApplyOutcome {
	var notices []notice
	outcome := OutcomeApplied

	b.mu.Lock()
	ino, known := b.table.LookupByID(ev.ItemID)
	var existing *Item
	if known {
		existing, _ = b.table.Lookup(ino)
	}

	if existing != nil && ev.Type == joplin.EventUpdated {
		oldName := existing.SafeFilename()
		existing.Title = staged.Title
		existing.Created = staged.Created
		existing.Updated = staged.Updated
		notices = append(notices, inodeNotice(ino))
		// A renamed title changes the presented filename; evict the
		// old entry so the kernel cannot serve it until its timeout.
		if existing.SafeFilename() != oldName && existing.Parent != 0 {
			notices = append(notices, entryNotice(existing.Parent, oldName))
		}

		newParent, ok := b.resolveParentLocked(ev.ItemType, parentID)
		switch {
		case !ok:
			// Parent not known yet; attribute changes stand, the
			// move is dropped until the next cycle observes it.
			outcome = OutcomeSkipUnknownParent
		case newParent != existing.Parent:
			oldParent := existing.Parent
			if op, err := b.table.Lookup(oldParent); err == nil {
				op.Children = removeInode(op.Children, ino)
			}
			existing.Parent = newParent
			if np, err := b.table.Lookup(newParent); err == nil {
				np.Children = appendInode(np.Children, ino)
			}
			notices = append(notices, inodeNotice(oldParent), inodeNotice(newParent))
		}
	} else {
		ino = b.allocLocked(staged)
		newParent, ok := b.resolveParentLocked(ev.ItemType, parentID)
		if !ok {
			// The item stays allocated but unattached; it is
			// reachable through the flat index and adopted once
			// its parent is known.
			outcome = OutcomeSkipUnknownParent
		} else {
			staged.Parent = newParent
			if np, err := b.table.Lookup(newParent); err == nil {
				np.Children = appendInode(np.Children, ino)
			}
			notices = append(notices, inodeNotice(newParent))
		}
	}
	b.mu.Unlock()

	b.emit(notices)
	return outcome
}

// resolveParentLocked maps a remote parent id to an inode. A folder
// with an empty parent id lives directly under the root; a note never
// legitimately has one. Callers must hold b.mu.
func (b *Bridge) resolveParentLocked(itemType joplin.ItemType, parentID string) (uint64, bool) {
	if parentID == "" {
		if itemType == joplin.ItemTypeFolder {
			return RootInode, true
		}
		return 0, false
	}
	return b.table.LookupByID(parentID)
}

func (b *Bridge) emit(notices []notice) {
	if len(notices) == 0 {
		return
	}
	b.mu.Lock()
	notifier := b.notifier
	b.mu.Unlock()

	for _, n := range notices {
		if n.entry {
			notifier.InvalidateEntry(n.parent, n.name)
		} else {
			notifier.InvalidateInode(n.inode)
		}
	}
}

func removeInode(inodes []uint64, ino uint64) []uint64 {
	for i, existing := range inodes {
		if existing == ino {
			return append(inodes[:i], inodes[i+1:]...)
		}
	}
	return inodes
}
