package archive

import (
	"context"
	"errors"
	"time"
)

// ErrQueueClosed is returned by an EventQueue that no longer accepts or
// yields events.
var ErrQueueClosed = errors.New("queue closed")

// KV is the durable key-value primitive underneath the status store.
type KV interface {
	Get(ctx context.Context, keys ...string) (map[string][]byte, error)
	Set(ctx context.Context, items map[string][]byte) error
	Remove(ctx context.Context, keys ...string) error
}

// BookmarkReader reads the host bookmark tree.
type BookmarkReader interface {
	Get(ctx context.Context, id string) (Bookmark, error)
	Children(ctx context.Context, id string) ([]Bookmark, error)
	Search(ctx context.Context, url string) ([]Bookmark, error)
}

// TabHost exposes the host's tabs and the page capture service.
type TabHost interface {
	Tab(ctx context.Context, id string) (Tab, error)
	FindTab(ctx context.Context, url string) (Tab, bool, error)
	OpenTab(ctx context.Context, url string, background bool) (Tab, error)
	CloseTab(ctx context.Context, id string) error
	Capture(ctx context.Context, id string) ([]byte, error)
}

// Downloader is the host download primitive. Downloads complete
// asynchronously; callers poll Lookup.
type Downloader interface {
	// Target returns the absolute path a download of filename would write.
	Target(filename string) (string, error)
	Download(ctx context.Context, req DownloadRequest) (string, error)
	Lookup(ctx context.Context, id string) (DownloadItem, error)
	Remove(ctx context.Context, file LocalFile) error
}

// BlobStore writes snapshot copies and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes archive notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// EventSink accepts host events.
type EventSink interface {
	Enqueue(ctx context.Context, evt Event) error
}

// EventQueue carries host events to the reconciler.
type EventQueue interface {
	EventSink
	Dequeue(ctx context.Context) (Event, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces opaque identifiers.
type IDGenerator interface {
	NewID() (string, error)
}
