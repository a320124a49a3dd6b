package browser

import (
	"context"

	"github.com/JakeFAU/bookmark-archiver/internal/archive"
)

// Noop implements archive.TabHost but always returns ErrDisabled. It backs
// deployments without Chrome; remote submissions keep working.
type Noop struct{}

// NewNoop creates a new Noop host.
func NewNoop() *Noop {
	return &Noop{}
}

// Tab returns ErrDisabled.
func (Noop) Tab(context.Context, string) (archive.Tab, error) {
	return archive.Tab{}, ErrDisabled
}

// FindTab never finds a tab.
func (Noop) FindTab(context.Context, string) (archive.Tab, bool, error) {
	return archive.Tab{}, false, nil
}

// OpenTab returns ErrDisabled.
func (Noop) OpenTab(context.Context, string, bool) (archive.Tab, error) {
	return archive.Tab{}, ErrDisabled
}

// CloseTab returns ErrDisabled.
func (Noop) CloseTab(context.Context, string) error {
	return ErrDisabled
}

// Capture returns ErrDisabled.
func (Noop) Capture(context.Context, string) ([]byte, error) {
	return nil, ErrDisabled
}
