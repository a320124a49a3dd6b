package archive

// EventKind names a host lifecycle event.
type EventKind string

// Host events consumed by the reconciler.
const (
	EventTabComplete     EventKind = "tab_complete"
	EventBookmarkCreated EventKind = "bookmark_created"
	EventBookmarkMoved   EventKind = "bookmark_moved"
	EventBookmarkChanged EventKind = "bookmark_changed"
	EventBookmarkRemoved EventKind = "bookmark_removed"
)

// Event is a host lifecycle notification. BookmarkID is set for bookmark
// events, Node carries the created node or the removed subtree, Tab is set
// for tab events.
type Event struct {
	Kind       EventKind
	BookmarkID string
	Node       Bookmark
	Tab        Tab
	Attempt    int
}

// OutcomeStatus summarises what the engine did for one URL.
type OutcomeStatus string

// Outcome statuses.
const (
	OutcomeSkipped    OutcomeStatus = "skipped"
	OutcomeDispatched OutcomeStatus = "dispatched"
	OutcomeRelocated  OutcomeStatus = "relocated"
	OutcomeUnchanged  OutcomeStatus = "unchanged"
	OutcomeRemoved    OutcomeStatus = "removed"
	OutcomeFailed     OutcomeStatus = "failed"
)

// Outcome reports the result of reconciling one bookmark.
type Outcome struct {
	BookmarkID string        `json:"bookmark_id"`
	URL        string        `json:"url,omitempty"`
	Status     OutcomeStatus `json:"status"`
	Remote     bool          `json:"remote,omitempty"`
	Local      bool          `json:"local,omitempty"`
	Path       string        `json:"path,omitempty"`
	Err        error         `json:"-"`
}

// Failed returns the outcomes that carry an error.
func Failed(outcomes []Outcome) []Outcome {
	var out []Outcome
	for _, o := range outcomes {
		if o.Status == OutcomeFailed {
			out = append(out, o)
		}
	}
	return out
}
