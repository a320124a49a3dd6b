package status

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/bookmark-archiver/internal/archive"
)

// Setting keys persisted next to the archive records.
const (
	KeyArchiveDir       = "archiveDir"
	KeyArchiveServices  = "archiveServices"
	KeyBookmarkServices = "bookmarkServices"
	KeyArchiveBookmarks = "archiveBookmarks"
	KeyEmail            = "email"

	// keyArchiveMode was replaced by bookmarkServices.
	keyArchiveMode = "archiveMode"
)

var settingKeys = []string{
	KeyArchiveDir,
	KeyArchiveServices,
	KeyBookmarkServices,
	KeyArchiveBookmarks,
	KeyEmail,
}

// Settings returns the stored preferences, falling back to the defaults for
// every key that was never written.
func (s *Store) Settings(ctx context.Context) (archive.Settings, error) {
	items, err := s.kv.Get(ctx, settingKeys...)
	if err != nil {
		return archive.Settings{}, fmt.Errorf("status settings: %w", err)
	}
	out := s.defaults
	out.ArchiveServices = append([]string(nil), s.defaults.ArchiveServices...)
	out.BookmarkServices = append([]string(nil), s.defaults.BookmarkServices...)

	decoders := map[string]any{
		KeyArchiveDir:       &out.ArchiveDir,
		KeyArchiveServices:  &out.ArchiveServices,
		KeyBookmarkServices: &out.BookmarkServices,
		KeyArchiveBookmarks: &out.ArchiveBookmarks,
		KeyEmail:            &out.Email,
	}
	for key, dest := range decoders {
		raw, ok := items[key]
		if !ok {
			continue
		}
		if err := json.Unmarshal(raw, dest); err != nil {
			return archive.Settings{}, fmt.Errorf("decode setting %s: %w", key, err)
		}
	}
	return out, nil
}

// SaveSettings persists every preference.
func (s *Store) SaveSettings(ctx context.Context, settings archive.Settings) error {
	values := map[string]any{
		KeyArchiveDir:       settings.ArchiveDir,
		KeyArchiveServices:  settings.ArchiveServices,
		KeyBookmarkServices: settings.BookmarkServices,
		KeyArchiveBookmarks: settings.ArchiveBookmarks,
		KeyEmail:            settings.Email,
	}
	items := make(map[string][]byte, len(values))
	for key, v := range values {
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode setting %s: %w", key, err)
		}
		items[key] = raw
	}
	if err := s.kv.Set(ctx, items); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}

// Migrate drops settings keys that are no longer read.
func (s *Store) Migrate(ctx context.Context) error {
	items, err := s.kv.Get(ctx, keyArchiveMode)
	if err != nil {
		return fmt.Errorf("read deprecated settings: %w", err)
	}
	if _, ok := items[keyArchiveMode]; !ok {
		return nil
	}
	if err := s.kv.Remove(ctx, keyArchiveMode); err != nil {
		return fmt.Errorf("remove %s: %w", keyArchiveMode, err)
	}
	s.logger.Info("removed deprecated setting", zap.String("key", keyArchiveMode))
	return nil
}
