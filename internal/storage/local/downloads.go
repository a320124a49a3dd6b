package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/bookmark-archiver/internal/archive"
)

// ErrUnknownDownload is returned by Lookup for IDs it never issued.
var ErrUnknownDownload = errors.New("local: unknown download")

// Downloader writes downloads under a base directory on a background
// goroutine. Progress is observed through Lookup.
type Downloader struct {
	baseDir string
	ids     archive.IDGenerator
	logger  *zap.Logger

	mu    sync.RWMutex
	items map[string]archive.DownloadItem
	wg    sync.WaitGroup
}

// NewDownloader validates the base directory and returns a Downloader.
func NewDownloader(cfg Config, ids archive.IDGenerator, logger *zap.Logger) (*Downloader, error) {
	if ids == nil {
		return nil, fmt.Errorf("id generator is required")
	}
	base, err := prepareDir(cfg.BaseDir)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Downloader{
		baseDir: base,
		ids:     ids,
		logger:  logger,
		items:   make(map[string]archive.DownloadItem),
	}, nil
}

// BaseDir returns the absolute download root.
func (d *Downloader) BaseDir() string {
	return d.baseDir
}

// Target returns the absolute path for filename.
func (d *Downloader) Target(filename string) (string, error) {
	return within(d.baseDir, filename)
}

// Download starts writing req and returns its ID. Writes are not tied to
// ctx; once started a download runs to completion.
func (d *Downloader) Download(_ context.Context, req archive.DownloadRequest) (string, error) {
	if (req.Data == nil) == (req.SourcePath == "") {
		return "", fmt.Errorf("exactly one of data or source path is required")
	}
	target, err := d.Target(req.Filename)
	if err != nil {
		return "", err
	}
	id, err := d.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("download id: %w", err)
	}
	d.set(archive.DownloadItem{ID: id, Path: target, State: archive.DownloadInProgress})

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		final, err := d.write(target, req)
		item := archive.DownloadItem{ID: id, Path: final, State: archive.DownloadComplete}
		if err != nil {
			item.State = archive.DownloadInterrupted
			item.Error = err.Error()
			d.logger.Warn("download interrupted", zap.String("id", id), zap.String("path", target), zap.Error(err))
		}
		d.set(item)
	}()
	return id, nil
}

// Lookup returns the current state of download id.
func (d *Downloader) Lookup(_ context.Context, id string) (archive.DownloadItem, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	item, ok := d.items[id]
	if !ok {
		return archive.DownloadItem{}, fmt.Errorf("%w: %s", ErrUnknownDownload, id)
	}
	return item, nil
}

// Remove deletes the file behind a finished download. Missing files are not
// an error; files outside the base directory are refused.
func (d *Downloader) Remove(_ context.Context, file archive.LocalFile) error {
	if !contains(d.baseDir, file.Path) {
		return fmt.Errorf("refusing to remove %s outside %s", file.Path, d.baseDir)
	}
	if err := os.Remove(file.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove %s: %w", file.Path, err)
	}
	d.mu.Lock()
	delete(d.items, file.DownloadID)
	d.mu.Unlock()
	return nil
}

// Wait blocks until every started download has finished.
func (d *Downloader) Wait() {
	d.wg.Wait()
}

func (d *Downloader) set(item archive.DownloadItem) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.items[item.ID] = item
}

func (d *Downloader) write(target string, req archive.DownloadRequest) (string, error) {
	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return "", fmt.Errorf("failed to create parent directories: %w", err)
	}
	if !req.Overwrite {
		target = uniquify(target)
	}
	tmp, err := os.CreateTemp(filepath.Dir(target), ".download-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	cleanup := func() { _ = os.Remove(tmp.Name()) }

	if req.SourcePath != "" {
		err = copyFrom(tmp, req.SourcePath)
	} else {
		_, err = tmp.Write(req.Data)
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		cleanup()
		return "", err
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		cleanup()
		return "", fmt.Errorf("finalize %s: %w", target, err)
	}
	return target, nil
}

func copyFrom(dst io.Writer, source string) error {
	// #nosec G304 -- source is a path previously recorded by this downloader.
	src, err := os.Open(source)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer func() { _ = src.Close() }()
	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("copy source: %w", err)
	}
	return nil
}

// uniquify appends " (n)" before the extension until the name is free.
func uniquify(target string) string {
	if _, err := os.Stat(target); os.IsNotExist(err) {
		return target
	}
	ext := filepath.Ext(target)
	stem := strings.TrimSuffix(target, ext)
	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%s (%d)%s", stem, n, ext)
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}
