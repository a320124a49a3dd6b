// Package folderpath derives filesystem-safe folder paths from the bookmark
// tree so local snapshots mirror the folder a bookmark lives in.
package folderpath

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/JakeFAU/bookmark-archiver/internal/archive"
)

// Separator joins path segments.
const Separator = "/"

const (
	maxSegmentLen = 100
	// MaxDepth bounds the parent walk; the host tree is trusted to be acyclic.
	MaxDepth = 256
)

// ErrTooDeep is returned when the parent chain exceeds MaxDepth.
var ErrTooDeep = errors.New("folderpath: parent chain too deep")

// Path is an ordered root-to-leaf list of sanitised folder names.
type Path struct {
	Segments []string
}

// String joins the segments and appends a trailing separator. The root's
// title is normally empty, so paths read "/Bookmarks bar/News/".
func (p Path) String() string {
	if len(p.Segments) == 0 {
		return Separator
	}
	return strings.Join(p.Segments, Separator) + Separator
}

// Depth returns the number of segments.
func (p Path) Depth() int {
	return len(p.Segments)
}

// Resolver walks parent links through the bookmark reader.
type Resolver struct {
	tree archive.BookmarkReader
}

// New builds a Resolver over tree.
func New(tree archive.BookmarkReader) *Resolver {
	return &Resolver{tree: tree}
}

// Resolve returns the folder path of node: one segment per ancestor, the
// root included, in root-to-leaf order. node's own title is not part of it.
func (r *Resolver) Resolve(ctx context.Context, node archive.Bookmark) (Path, error) {
	var reversed []string
	parentID := node.ParentID
	for depth := 0; parentID != ""; depth++ {
		if depth >= MaxDepth {
			return Path{}, fmt.Errorf("%w: bookmark %s", ErrTooDeep, node.ID)
		}
		parent, err := r.tree.Get(ctx, parentID)
		if err != nil {
			return Path{}, fmt.Errorf("resolve parent %s of %s: %w", parentID, node.ID, err)
		}
		reversed = append(reversed, Sanitize(parent.Title))
		parentID = parent.ParentID
	}
	segments := make([]string, len(reversed))
	for i, seg := range reversed {
		segments[len(reversed)-1-i] = seg
	}
	return Path{Segments: segments}, nil
}

// Sanitize makes title safe to use as a single path segment.
func Sanitize(title string) string {
	var b strings.Builder
	for _, r := range title {
		switch {
		case strings.ContainsRune(`<>:"/\|?*~`, r):
			b.WriteRune('_')
		case unicode.IsControl(r):
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}
	out := strings.Trim(strings.TrimSpace(b.String()), ".")
	if len(out) > maxSegmentLen {
		out = truncate(out, maxSegmentLen)
	}
	if out == "" && title != "" {
		return "_"
	}
	return out
}

// Filename derives a snapshot file name from a page title.
func Filename(title, ext string) string {
	name := Sanitize(title)
	if name == "" || name == "_" {
		name = "untitled"
	}
	ext = strings.TrimPrefix(ext, ".")
	if ext == "" {
		return name
	}
	return name + "." + ext
}

func truncate(s string, n int) string {
	for len(s) > n {
		_, size := utf8.DecodeLastRuneInString(s)
		s = s[:len(s)-size]
	}
	return strings.TrimSpace(s)
}
