package joplin

// ItemType is the remote's numeric item type id. Only the types the
// bridge cares about are named; the feed carries many more.
type ItemType int

const (
	ItemTypeNote     ItemType = 1
	ItemTypeFolder   ItemType = 2
	ItemTypeResource ItemType = 4
	ItemTypeTag      ItemType = 5
)

// EventType is the remote's numeric change type.
type EventType int

const (
	EventCreated EventType = 1
	EventUpdated EventType = 2
	EventDeleted EventType = 3
)

// Folder is a remote notebook. Timestamps are epoch milliseconds.
type Folder struct {
	ID          string `json:"id"`
	ParentID    string `json:"parent_id"`
	Title       string `json:"title"`
	UpdatedTime int64  `json:"user_updated_time"`
	CreatedTime int64  `json:"user_created_time"`
}

// Note is a remote note. Body is populated only when requested.
type Note struct {
	ID          string `json:"id"`
	ParentID    string `json:"parent_id"`
	Title       string `json:"title"`
	Body        string `json:"body"`
	UpdatedTime int64  `json:"user_updated_time"`
	CreatedTime int64  `json:"user_created_time"`
}

// Tag is a remote tag.
type Tag struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	UpdatedTime int64  `json:"user_updated_time"`
	CreatedTime int64  `json:"user_created_time"`
}

// Resource is a remote attachment. Size is authoritative from the
// listing, unlike note sizes which are only known after a read.
type Resource struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Size        int64  `json:"size"`
	UpdatedTime int64  `json:"user_updated_time"`
	CreatedTime int64  `json:"user_created_time"`
}

// Event is one entry of the remote change feed.
type Event struct {
	ID          int64     `json:"id"`
	ItemType    ItemType  `json:"item_type"`
	ItemID      string    `json:"item_id"`
	Type        EventType `json:"type"`
	CreatedTime int64     `json:"created_time"`
}
