// Package archive defines the domain types shared by the archive engine.
package archive

import "time"

// PendingLink marks a remote archive that was submitted but whose permanent
// link is not known.
const PendingLink = "true"

// LocalFile references a snapshot persisted by the download primitive.
type LocalFile struct {
	DownloadID string `json:"id"`
	Path       string `json:"filename"`
}

// Record is the archive status of one page URL.
type Record struct {
	URL        string     `json:"url"`
	RemoteLink string     `json:"remote_link,omitempty"`
	LocalFile  *LocalFile `json:"local_file,omitempty"`
}

// HasRemote reports whether a remote archive exists or is pending.
func (r Record) HasRemote() bool {
	return r.RemoteLink != ""
}

// HasLocal reports whether a local snapshot exists.
func (r Record) HasLocal() bool {
	return r.LocalFile != nil
}

// State derives the archive state of the record.
func (r Record) State() State {
	switch {
	case r.HasRemote() && r.HasLocal():
		return StateBoth
	case r.HasRemote():
		return StateRemoteOnly
	case r.HasLocal():
		return StateLocalOnly
	default:
		return StateNoArchive
	}
}

// Patch carries the fields merged into a Record by a store write. Nil fields
// are left untouched.
type Patch struct {
	RemoteLink *string
	LocalFile  *LocalFile
}

// State is the derived archive state of a URL.
type State int

// Archive states.
const (
	StateNoArchive State = iota
	StateRemoteOnly
	StateLocalOnly
	StateBoth
)

func (s State) String() string {
	switch s {
	case StateNoArchive:
		return "NO_ARCHIVE"
	case StateRemoteOnly:
		return "REMOTE_ONLY"
	case StateLocalOnly:
		return "LOCAL_ONLY"
	case StateBoth:
		return "BOTH"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the state name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// NeedsRemote reports whether a remote archive is missing.
func (s State) NeedsRemote() bool {
	return s == StateNoArchive || s == StateLocalOnly
}

// NeedsLocal reports whether a local snapshot is missing.
func (s State) NeedsLocal() bool {
	return s == StateNoArchive || s == StateRemoteOnly
}

// Bookmark is a node of the host bookmark tree. Leaves carry a URL, folders
// carry Children when the host supplies a subtree.
type Bookmark struct {
	ID       string     `json:"id"`
	ParentID string     `json:"parent_id,omitempty"`
	Index    int        `json:"index"`
	Title    string     `json:"title"`
	URL      string     `json:"url,omitempty"`
	Added    time.Time  `json:"date_added"`
	Children []Bookmark `json:"children,omitempty"`
}

// IsFolder reports whether the node has no URL.
func (b Bookmark) IsFolder() bool {
	return b.URL == ""
}

// TabStatus mirrors the page load state of a tab.
type TabStatus string

// Tab load states.
const (
	TabLoading  TabStatus = "loading"
	TabComplete TabStatus = "complete"
)

// Tab is a page open in the host browser.
type Tab struct {
	ID     string    `json:"id"`
	URL    string    `json:"url"`
	Title  string    `json:"title"`
	Status TabStatus `json:"status"`
}

// DownloadState mirrors the lifecycle of a host download.
type DownloadState string

// Download states.
const (
	DownloadInProgress  DownloadState = "in_progress"
	DownloadComplete    DownloadState = "complete"
	DownloadInterrupted DownloadState = "interrupted"
)

// DownloadRequest asks the download primitive to write a file under its
// base directory. Exactly one of Data or SourcePath is set.
type DownloadRequest struct {
	Data       []byte
	SourcePath string
	Filename   string
	Overwrite  bool
}

// DownloadItem is the host's view of one download.
type DownloadItem struct {
	ID    string        `json:"id"`
	Path  string        `json:"filename"`
	State DownloadState `json:"state"`
	Error string        `json:"error,omitempty"`
}

// Settings are the user preferences persisted next to the archive records.
type Settings struct {
	ArchiveDir       string   `json:"archiveDir"`
	ArchiveServices  []string `json:"archiveServices"`
	BookmarkServices []string `json:"bookmarkServices"`
	ArchiveBookmarks bool     `json:"archiveBookmarks"`
	Email            string   `json:"email"`
}

// LocalService is the bookmark-service name selecting local MHTML capture.
const LocalService = "mhtml"

// Wants reports whether service is listed in the bookmark services.
func (s Settings) Wants(service string) bool {
	for _, svc := range s.BookmarkServices {
		if svc == service {
			return true
		}
	}
	return false
}

// RemoteBookmarkServices returns the bookmark services that submit online.
func (s Settings) RemoteBookmarkServices() []string {
	out := make([]string, 0, len(s.BookmarkServices))
	for _, svc := range s.BookmarkServices {
		if svc != LocalService {
			out = append(out, svc)
		}
	}
	return out
}
