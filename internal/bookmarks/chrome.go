package bookmarks

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"
)

// chromeEpochOffset is the distance in microseconds between 1601-01-01 UTC,
// the origin of Chrome's date_added timestamps, and the Unix epoch.
const chromeEpochOffset = 11644473600 * 1000000

type chromeFile struct {
	Roots map[string]chromeNode `json:"roots"`
}

type chromeNode struct {
	Type      string       `json:"type"`
	Name      string       `json:"name"`
	URL       string       `json:"url"`
	DateAdded string       `json:"date_added"`
	Children  []chromeNode `json:"children"`
}

var chromeRoots = []struct {
	key, id, title string
}{
	{"bookmark_bar", BarID, "Bookmarks bar"},
	{"other", OtherID, "Other bookmarks"},
	{"synced", MobileID, "Mobile bookmarks"},
}

// LoadChromeJSON imports a Chrome "Bookmarks" profile file into the tree
// without publishing events. It returns the number of nodes added.
func (t *Tree) LoadChromeJSON(r io.Reader) (int, error) {
	var file chromeFile
	if err := json.NewDecoder(r).Decode(&file); err != nil {
		return 0, fmt.Errorf("decode chrome bookmarks: %w", err)
	}
	if len(file.Roots) == 0 {
		return 0, fmt.Errorf("%w: no roots in bookmarks file", ErrInvalid)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	added := 0
	for _, root := range chromeRoots {
		src, ok := file.Roots[root.key]
		if !ok {
			continue
		}
		if _, exists := t.nodes[root.id]; !exists {
			t.addPermanent(root.id, root.title, t.now())
		}
		for _, child := range src.Children {
			added += t.importNode(root.id, child)
		}
	}
	return added, nil
}

func (t *Tree) importNode(parentID string, src chromeNode) int {
	if src.Type != "url" && src.Type != "folder" {
		return 0
	}
	if src.Type == "url" && src.URL == "" {
		return 0
	}
	n := &node{
		id:       t.allocID(),
		parentID: parentID,
		title:    normalizeTitle(src.Name),
		added:    parseChromeTime(src.DateAdded, t.now()),
	}
	if src.Type == "url" {
		n.url = src.URL
	}
	t.nodes[n.id] = n
	parent := t.nodes[parentID]
	parent.children = append(parent.children, n.id)
	count := 1
	for _, child := range src.Children {
		count += t.importNode(n.id, child)
	}
	return count
}

func parseChromeTime(raw string, fallback time.Time) time.Time {
	micros, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || micros <= 0 {
		return fallback
	}
	return time.UnixMicro(micros - chromeEpochOffset).UTC()
}
