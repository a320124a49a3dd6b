package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes what happened to a URL.
type Stage string

// Supported stages.
const (
	// StageWait is emitted while a capture waits for the page to finish loading.
	StageWait           Stage = "WAIT"
	StageVisited        Stage = "VISITED"
	StageRemoteArchived Stage = "REMOTE_ARCHIVED"
	StageRemoteFailed   Stage = "REMOTE_FAILED"
	StageLocalArchived  Stage = "LOCAL_ARCHIVED"
	StageLocalFailed    Stage = "LOCAL_FAILED"
	StageRelocated      Stage = "RELOCATED"
	StageRelocateFailed Stage = "RELOCATE_FAILED"
	StageRemoved        Stage = "REMOVED"
)

// Event is one notifier message.
type Event struct {
	// ID is assigned by the Hub when left zero.
	ID [16]byte `json:"-"`
	// TS is assigned by the Hub when left zero.
	TS         time.Time     `json:"ts"`
	Stage      Stage         `json:"stage"`
	URL        string        `json:"url"`
	BookmarkID string        `json:"bookmark_id,omitempty"`
	Service    string        `json:"service,omitempty"`
	Link       string        `json:"link,omitempty"`
	Path       string        `json:"path,omitempty"`
	Digest     string        `json:"digest,omitempty"`
	Bytes      int64         `json:"bytes,omitempty"`
	Archived   bool          `json:"archived,omitempty"`
	Dur        time.Duration `json:"duration,omitempty"`
	// Note carries low-volume context such as error text.
	Note string `json:"note,omitempty"`
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.URL == "" {
		return errors.New("url is required")
	}
	switch e.Stage {
	case StageWait, StageVisited, StageRemoteFailed, StageLocalFailed,
		StageRelocateFailed, StageRemoved:
	case StageRemoteArchived:
		if e.Service == "" {
			return errors.New("remote archive requires service")
		}
	case StageLocalArchived, StageRelocated:
		if e.Path == "" {
			return fmt.Errorf("%s requires path", e.Stage)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// UUID returns the event ID.
func (e Event) UUID() uuid.UUID {
	return uuid.UUID(e.ID)
}

// Failed reports whether the stage records a failure.
func (e Event) Failed() bool {
	switch e.Stage {
	case StageRemoteFailed, StageLocalFailed, StageRelocateFailed:
		return true
	default:
		return false
	}
}
