// Package bookmarks is the host bookmark tree. It owns the nodes, answers
// reads for path resolution, and publishes a host event for every mutation.
package bookmarks

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/bookmark-archiver/internal/archive"
)

// Well-known node IDs.
const (
	RootID   = "0"
	BarID    = "1"
	OtherID  = "2"
	MobileID = "3"
)

var (
	// ErrNotFound is returned for unknown bookmark IDs.
	ErrNotFound = errors.New("bookmarks: not found")
	// ErrImmutable is returned when a permanent node would be changed.
	ErrImmutable = errors.New("bookmarks: node cannot be modified")
	// ErrInvalid is returned for malformed requests.
	ErrInvalid = errors.New("bookmarks: invalid request")
)

// Options configure a Tree.
type Options struct {
	Events archive.EventSink
	Clock  archive.Clock
	Logger *zap.Logger
}

type node struct {
	id       string
	parentID string
	title    string
	url      string
	added    time.Time
	children []string
}

// Tree is safe for concurrent use.
type Tree struct {
	mu     sync.RWMutex
	nodes  map[string]*node
	nextID int

	events archive.EventSink
	clock  archive.Clock
	logger *zap.Logger
}

// New returns a tree holding the root and its permanent folders.
func New(opts Options) *Tree {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Tree{
		nodes:  make(map[string]*node),
		nextID: 10,
		events: opts.Events,
		clock:  opts.Clock,
		logger: logger,
	}
	now := t.now()
	t.nodes[RootID] = &node{id: RootID, added: now}
	t.addPermanent(BarID, "Bookmarks bar", now)
	t.addPermanent(OtherID, "Other bookmarks", now)
	return t
}

func (t *Tree) addPermanent(id, title string, now time.Time) {
	t.nodes[id] = &node{id: id, parentID: RootID, title: title, added: now}
	root := t.nodes[RootID]
	root.children = append(root.children, id)
}

func isPermanent(id string) bool {
	switch id {
	case RootID, BarID, OtherID, MobileID:
		return true
	default:
		return false
	}
}

// Get returns node id without its children.
func (t *Tree) Get(_ context.Context, id string) (archive.Bookmark, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.nodes[id]
	if !ok {
		return archive.Bookmark{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return t.view(n), nil
}

// Children returns the direct children of id in order.
func (t *Tree) Children(_ context.Context, id string) ([]archive.Bookmark, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	out := make([]archive.Bookmark, 0, len(n.children))
	for _, cid := range n.children {
		out = append(out, t.view(t.nodes[cid]))
	}
	return out, nil
}

// Subtree returns node id with all descendants filled in.
func (t *Tree) Subtree(_ context.Context, id string) (archive.Bookmark, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.nodes[id]
	if !ok {
		return archive.Bookmark{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return t.subtree(n), nil
}

// Search returns the leaves whose URL equals url exactly.
func (t *Tree) Search(_ context.Context, url string) ([]archive.Bookmark, error) {
	if url == "" {
		return nil, nil
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []archive.Bookmark
	for _, n := range t.nodes {
		if n.url == url {
			out = append(out, t.view(n))
		}
	}
	return out, nil
}

// Len returns the number of nodes, root included.
func (t *Tree) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.nodes)
}

// CreateRequest describes a new node. An empty URL creates a folder.
type CreateRequest struct {
	ParentID string `json:"parent_id"`
	Index    *int   `json:"index,omitempty"`
	Title    string `json:"title"`
	URL      string `json:"url,omitempty"`
}

// Create adds a node and publishes EventBookmarkCreated.
func (t *Tree) Create(ctx context.Context, req CreateRequest) (archive.Bookmark, error) {
	if req.ParentID == "" {
		req.ParentID = OtherID
	}
	t.mu.Lock()
	parent, ok := t.nodes[req.ParentID]
	if !ok {
		t.mu.Unlock()
		return archive.Bookmark{}, fmt.Errorf("%w: parent %s", ErrNotFound, req.ParentID)
	}
	if parent.url != "" {
		t.mu.Unlock()
		return archive.Bookmark{}, fmt.Errorf("%w: parent %s is not a folder", ErrInvalid, req.ParentID)
	}
	if req.ParentID == RootID {
		t.mu.Unlock()
		return archive.Bookmark{}, fmt.Errorf("%w: cannot create under the root", ErrImmutable)
	}
	n := &node{
		id:       t.allocID(),
		parentID: parent.id,
		title:    req.Title,
		url:      req.URL,
		added:    t.now(),
	}
	t.nodes[n.id] = n
	parent.children = insertAt(parent.children, n.id, req.Index)
	created := t.view(n)
	t.mu.Unlock()

	t.publish(ctx, archive.Event{Kind: archive.EventBookmarkCreated, BookmarkID: created.ID, Node: created})
	return created, nil
}

// UpdateRequest changes a node's title or URL. Nil fields are untouched.
type UpdateRequest struct {
	Title *string `json:"title,omitempty"`
	URL   *string `json:"url,omitempty"`
}

// Update applies req and publishes EventBookmarkChanged.
func (t *Tree) Update(ctx context.Context, id string, req UpdateRequest) (archive.Bookmark, error) {
	if isPermanent(id) {
		return archive.Bookmark{}, fmt.Errorf("%w: %s", ErrImmutable, id)
	}
	t.mu.Lock()
	n, ok := t.nodes[id]
	if !ok {
		t.mu.Unlock()
		return archive.Bookmark{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if req.URL != nil && (n.url == "") != (*req.URL == "") {
		t.mu.Unlock()
		return archive.Bookmark{}, fmt.Errorf("%w: cannot turn a folder into a leaf or back", ErrInvalid)
	}
	if req.Title != nil {
		n.title = *req.Title
	}
	if req.URL != nil {
		n.url = *req.URL
	}
	updated := t.view(n)
	t.mu.Unlock()

	t.publish(ctx, archive.Event{Kind: archive.EventBookmarkChanged, BookmarkID: id, Node: updated})
	return updated, nil
}

// MoveRequest places a node under ParentID at Index (appended when nil).
type MoveRequest struct {
	ParentID string `json:"parent_id"`
	Index    *int   `json:"index,omitempty"`
}

// Move reparents a node and publishes EventBookmarkMoved.
func (t *Tree) Move(ctx context.Context, id string, req MoveRequest) (archive.Bookmark, error) {
	if isPermanent(id) {
		return archive.Bookmark{}, fmt.Errorf("%w: %s", ErrImmutable, id)
	}
	t.mu.Lock()
	n, ok := t.nodes[id]
	if !ok {
		t.mu.Unlock()
		return archive.Bookmark{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	dest, ok := t.nodes[req.ParentID]
	if !ok {
		t.mu.Unlock()
		return archive.Bookmark{}, fmt.Errorf("%w: parent %s", ErrNotFound, req.ParentID)
	}
	if dest.url != "" || dest.id == RootID || t.isAncestor(id, dest.id) {
		t.mu.Unlock()
		return archive.Bookmark{}, fmt.Errorf("%w: cannot move %s under %s", ErrInvalid, id, req.ParentID)
	}
	old := t.nodes[n.parentID]
	old.children = removeID(old.children, id)
	n.parentID = dest.id
	dest.children = insertAt(dest.children, id, req.Index)
	moved := t.view(n)
	t.mu.Unlock()

	t.publish(ctx, archive.Event{Kind: archive.EventBookmarkMoved, BookmarkID: id, Node: moved})
	return moved, nil
}

// Remove deletes a node and its descendants and publishes
// EventBookmarkRemoved carrying the removed subtree.
func (t *Tree) Remove(ctx context.Context, id string) (archive.Bookmark, error) {
	if isPermanent(id) {
		return archive.Bookmark{}, fmt.Errorf("%w: %s", ErrImmutable, id)
	}
	t.mu.Lock()
	n, ok := t.nodes[id]
	if !ok {
		t.mu.Unlock()
		return archive.Bookmark{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	removed := t.subtree(n)
	parent := t.nodes[n.parentID]
	parent.children = removeID(parent.children, id)
	t.drop(n)
	t.mu.Unlock()

	t.publish(ctx, archive.Event{Kind: archive.EventBookmarkRemoved, BookmarkID: id, Node: removed})
	return removed, nil
}

func (t *Tree) drop(n *node) {
	for _, cid := range n.children {
		t.drop(t.nodes[cid])
	}
	delete(t.nodes, n.id)
}

// isAncestor reports whether id is candidate or one of its ancestors.
func (t *Tree) isAncestor(id, candidate string) bool {
	for cur := candidate; cur != ""; {
		if cur == id {
			return true
		}
		n, ok := t.nodes[cur]
		if !ok {
			return false
		}
		cur = n.parentID
	}
	return false
}

func (t *Tree) view(n *node) archive.Bookmark {
	b := archive.Bookmark{
		ID:       n.id,
		ParentID: n.parentID,
		Title:    n.title,
		URL:      n.url,
		Added:    n.added,
	}
	if parent, ok := t.nodes[n.parentID]; ok {
		for i, cid := range parent.children {
			if cid == n.id {
				b.Index = i
				break
			}
		}
	}
	return b
}

func (t *Tree) subtree(n *node) archive.Bookmark {
	b := t.view(n)
	for _, cid := range n.children {
		b.Children = append(b.Children, t.subtree(t.nodes[cid]))
	}
	return b
}

func (t *Tree) allocID() string {
	for {
		t.nextID++
		id := strconv.Itoa(t.nextID)
		if _, taken := t.nodes[id]; !taken {
			return id
		}
	}
}

func (t *Tree) now() time.Time {
	if t.clock != nil {
		return t.clock.Now()
	}
	return time.Now().UTC()
}

func (t *Tree) publish(ctx context.Context, evt archive.Event) {
	if t.events == nil {
		return
	}
	if err := t.events.Enqueue(ctx, evt); err != nil {
		t.logger.Warn("bookmark event dropped",
			zap.String("kind", string(evt.Kind)),
			zap.String("bookmark_id", evt.BookmarkID),
			zap.Error(err),
		)
	}
}

func insertAt(ids []string, id string, index *int) []string {
	if index == nil || *index < 0 || *index >= len(ids) {
		return append(ids, id)
	}
	ids = append(ids, "")
	copy(ids[*index+1:], ids[*index:])
	ids[*index] = id
	return ids
}

func removeID(ids []string, id string) []string {
	out := ids[:0]
	for _, cur := range ids {
		if cur != id {
			out = append(out, cur)
		}
	}
	return out
}

// normalizeTitle trims whitespace from imported titles.
func normalizeTitle(s string) string {
	return strings.TrimSpace(s)
}
