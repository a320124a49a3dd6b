// Package status keeps the per-URL archive records on top of a durable
// key-value primitive. Remote links live under the page URL, local file
// references under "_" + URL.
package status

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/bookmark-archiver/internal/archive"
)

const localKeyPrefix = "_"

// ErrEmptyURL is returned when a record operation has no URL.
var ErrEmptyURL = errors.New("status: url is required")

// Store reads and merges archive records. Reads may be stale while another
// goroutine writes the same URL; callers that need ordering serialise through
// the concurrency guard.
type Store struct {
	kv       archive.KV
	defaults archive.Settings
	logger   *zap.Logger
}

// New builds a Store. defaults seed Settings for keys the KV does not hold.
func New(kv archive.KV, defaults archive.Settings, logger *zap.Logger) (*Store, error) {
	if kv == nil {
		return nil, fmt.Errorf("status: kv is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{kv: kv, defaults: defaults, logger: logger}, nil
}

// LocalKey returns the key holding the local file reference for url.
func LocalKey(url string) string {
	return localKeyPrefix + url
}

// Get returns the record for url. A URL that was never archived yields an
// empty record in StateNoArchive.
func (s *Store) Get(ctx context.Context, url string) (archive.Record, error) {
	if strings.TrimSpace(url) == "" {
		return archive.Record{}, ErrEmptyURL
	}
	items, err := s.kv.Get(ctx, url, LocalKey(url))
	if err != nil {
		return archive.Record{}, fmt.Errorf("status get %s: %w", url, err)
	}
	record := archive.Record{URL: url}
	if raw, ok := items[url]; ok {
		link, err := decodeRemote(raw)
		if err != nil {
			return archive.Record{}, fmt.Errorf("decode remote link for %s: %w", url, err)
		}
		record.RemoteLink = link
	}
	if raw, ok := items[LocalKey(url)]; ok {
		var file archive.LocalFile
		if err := json.Unmarshal(raw, &file); err != nil {
			return archive.Record{}, fmt.Errorf("decode local file for %s: %w", url, err)
		}
		record.LocalFile = &file
	}
	return record, nil
}

// Set merges patch into the record for url. Absent patch fields never clear
// stored ones.
func (s *Store) Set(ctx context.Context, url string, patch archive.Patch) error {
	if strings.TrimSpace(url) == "" {
		return ErrEmptyURL
	}
	items := make(map[string][]byte, 2)
	if patch.RemoteLink != nil && *patch.RemoteLink != "" {
		raw, err := encodeRemote(*patch.RemoteLink)
		if err != nil {
			return err
		}
		items[url] = raw
	}
	if patch.LocalFile != nil {
		raw, err := json.Marshal(patch.LocalFile)
		if err != nil {
			return fmt.Errorf("encode local file: %w", err)
		}
		items[LocalKey(url)] = raw
	}
	if len(items) == 0 {
		return nil
	}
	if err := s.kv.Set(ctx, items); err != nil {
		return fmt.Errorf("status set %s: %w", url, err)
	}
	s.logger.Debug("archive record updated",
		zap.String("url", url),
		zap.Bool("remote", patch.RemoteLink != nil),
		zap.Bool("local", patch.LocalFile != nil),
	)
	return nil
}

// SetRemote records a remote link for url.
func (s *Store) SetRemote(ctx context.Context, url, link string) error {
	return s.Set(ctx, url, archive.Patch{RemoteLink: &link})
}

// SetLocal records a local file reference for url.
func (s *Store) SetLocal(ctx context.Context, url string, file archive.LocalFile) error {
	return s.Set(ctx, url, archive.Patch{LocalFile: &file})
}

// RemoveLocal drops the local file reference of url.
func (s *Store) RemoveLocal(ctx context.Context, url string) error {
	if err := s.kv.Remove(ctx, LocalKey(url)); err != nil {
		return fmt.Errorf("status remove local %s: %w", url, err)
	}
	return nil
}

// Remove drops both halves of the record for url.
func (s *Store) Remove(ctx context.Context, url string) error {
	if strings.TrimSpace(url) == "" {
		return ErrEmptyURL
	}
	if err := s.kv.Remove(ctx, url, LocalKey(url)); err != nil {
		return fmt.Errorf("status remove %s: %w", url, err)
	}
	s.logger.Debug("archive record removed", zap.String("url", url))
	return nil
}

// encodeRemote stores a pending submission as the bare boolean true.
func encodeRemote(link string) ([]byte, error) {
	if link == archive.PendingLink {
		return []byte("true"), nil
	}
	raw, err := json.Marshal(link)
	if err != nil {
		return nil, fmt.Errorf("encode remote link: %w", err)
	}
	return raw, nil
}

// decodeRemote accepts a JSON string or the legacy boolean true placeholder.
func decodeRemote(raw []byte) (string, error) {
	trimmed := bytes.TrimSpace(raw)
	if bytes.Equal(trimmed, []byte("true")) {
		return archive.PendingLink, nil
	}
	if bytes.Equal(trimmed, []byte("false")) || bytes.Equal(trimmed, []byte("null")) {
		return "", nil
	}
	var link string
	if err := json.Unmarshal(trimmed, &link); err != nil {
		return "", err
	}
	return link, nil
}
