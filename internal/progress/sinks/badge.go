package sinks

import (
	"context"
	"sync"

	"github.com/JakeFAU/bookmark-archiver/internal/progress"
)

// Badge is the indicator shown next to a page.
type Badge struct {
	Text  string `json:"text"`
	Color string `json:"color"`
	Title string `json:"title"`
}

// Badges shown by the command surface.
var (
	BadgeArchived = Badge{Text: "!", Color: "#FFB90F", Title: "Archiveror (bookmark archived)"}
	BadgeWait     = Badge{Text: "WAIT", Color: "#d80f30", Title: "Please wait!"}
	BadgeCleared  = Badge{Text: "", Color: "#5dce2d", Title: ""}
)

// BadgeSink keeps the latest badge per URL.
type BadgeSink struct {
	mu     sync.RWMutex
	badges map[string]Badge
}

// NewBadgeSink builds an empty BadgeSink.
func NewBadgeSink() *BadgeSink {
	return &BadgeSink{badges: make(map[string]Badge)}
}

// Consume applies each event to the badge table.
func (s *BadgeSink) Consume(_ context.Context, batch []progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageWait:
			s.badges[evt.URL] = BadgeWait
		case progress.StageRemoteArchived, progress.StageLocalArchived, progress.StageRelocated:
			s.badges[evt.URL] = BadgeArchived
		case progress.StageVisited:
			if evt.Archived {
				s.badges[evt.URL] = BadgeArchived
			} else {
				delete(s.badges, evt.URL)
			}
		case progress.StageLocalFailed:
			if s.badges[evt.URL] == BadgeWait {
				delete(s.badges, evt.URL)
			}
		case progress.StageRemoved:
			s.badges[evt.URL] = BadgeCleared
		}
	}
	return nil
}

// Badge returns the current badge for url.
func (s *BadgeSink) Badge(url string) (Badge, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.badges[url]
	return b, ok
}

// Close implements the Sink interface; it performs no action.
func (s *BadgeSink) Close(context.Context) error {
	return nil
}
