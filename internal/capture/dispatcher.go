// Package capture dispatches archive work for a page: submissions to remote
// archiving services and local MHTML snapshots written through the host
// download primitive.
package capture

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/bookmark-archiver/internal/archive"
	"github.com/JakeFAU/bookmark-archiver/internal/folderpath"
	"github.com/JakeFAU/bookmark-archiver/internal/guard"
	"github.com/JakeFAU/bookmark-archiver/internal/hash/sha256"
	"github.com/JakeFAU/bookmark-archiver/internal/metrics"
	"github.com/JakeFAU/bookmark-archiver/internal/poll"
	"github.com/JakeFAU/bookmark-archiver/internal/progress"
	"github.com/JakeFAU/bookmark-archiver/internal/status"
	"github.com/JakeFAU/bookmark-archiver/internal/submit"
)

var (
	// ErrCaptureUnavailable is returned when no tab host or downloader is wired.
	ErrCaptureUnavailable = errors.New("capture: local capture is not available")
	// ErrDuplicateCapture is returned when the URL already has a capture in flight.
	ErrDuplicateCapture = errors.New("capture: capture already in flight for url")
	// ErrDownloadInterrupted is returned when the host reports a failed download.
	ErrDownloadInterrupted = errors.New("capture: download interrupted")
)

// SnapshotContentType is the MIME type of MHTML snapshots.
const SnapshotContentType = "multipart/related"

// Submitter sends a URL to one archiving service.
type Submitter interface {
	Submit(ctx context.Context, service, pageURL, email string) (submit.Result, error)
}

// Config controls polling and file naming.
type Config struct {
	PagePoll        time.Duration
	PageTimeout     time.Duration
	DownloadPoll    time.Duration
	DownloadTimeout time.Duration
	// Extension of snapshot files, without the dot.
	Extension string
	// MirrorPrefix is prepended to object names in the mirror store.
	MirrorPrefix string
}

// Deps are the collaborators of a Dispatcher. Tabs, Downloads and Mirror are
// optional; without Tabs or Downloads local capture is unavailable.
type Deps struct {
	Store     *status.Store
	Guard     *guard.Guard
	Paths     *folderpath.Resolver
	Submitter Submitter
	Tabs      archive.TabHost
	Downloads archive.Downloader
	Mirror    archive.BlobStore
	Emitter   progress.Emitter
	Logger    *zap.Logger
}

// Dispatcher runs remote submissions and local captures.
type Dispatcher struct {
	cfg       Config
	store     *status.Store
	guard     *guard.Guard
	paths     *folderpath.Resolver
	submitter Submitter
	tabs      archive.TabHost
	downloads archive.Downloader
	mirror    archive.BlobStore
	emitter   progress.Emitter
	hasher    *sha256.Hasher
	logger    *zap.Logger
}

// New builds a Dispatcher.
func New(cfg Config, deps Deps) (*Dispatcher, error) {
	if deps.Store == nil || deps.Guard == nil || deps.Paths == nil || deps.Submitter == nil {
		return nil, errors.New("capture: store, guard, paths and submitter are required")
	}
	if cfg.PagePoll <= 0 {
		cfg.PagePoll = 200 * time.Millisecond
	}
	if cfg.DownloadPoll <= 0 {
		cfg.DownloadPoll = 200 * time.Millisecond
	}
	if cfg.Extension == "" {
		cfg.Extension = "mhtml"
	}
	emitter := deps.Emitter
	if emitter == nil {
		emitter = progress.Discard
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		cfg:       cfg,
		store:     deps.Store,
		guard:     deps.Guard,
		paths:     deps.Paths,
		submitter: deps.Submitter,
		tabs:      deps.Tabs,
		downloads: deps.Downloads,
		mirror:    deps.Mirror,
		emitter:   emitter,
		hasher:    sha256.New(),
		logger:    logger,
	}, nil
}

// CanCaptureLocal reports whether local snapshots can be taken.
func (d *Dispatcher) CanCaptureLocal() bool {
	return d.tabs != nil && d.downloads != nil
}

// RemoteResult is the outcome of one service submission.
type RemoteResult struct {
	Service string `json:"service"`
	Link    string `json:"link,omitempty"`
	Err     error  `json:"-"`
	Error   string `json:"error,omitempty"`
}

// SubmitRemote submits pageURL to every service, defaulting to the
// configured archive services. Each success stores its link; a failure
// leaves the record untouched and is not retried.
func (d *Dispatcher) SubmitRemote(ctx context.Context, pageURL string, services []string) ([]RemoteResult, error) {
	if submit.IsLocal(pageURL) {
		return nil, fmt.Errorf("%w: %s", submit.ErrLocalURL, pageURL)
	}
	settings, err := d.store.Settings(ctx)
	if err != nil {
		return nil, err
	}
	if len(services) == 0 {
		services = settings.ArchiveServices
	}
	results := make([]RemoteResult, 0, len(services))
	for _, service := range services {
		res := RemoteResult{Service: service}
		out, err := d.submitter.Submit(ctx, service, pageURL, settings.Email)
		if err == nil {
			res.Link = out.Link
			err = d.store.SetRemote(ctx, pageURL, out.Link)
		}
		if err != nil {
			res.Err = err
			res.Error = err.Error()
			d.emitter.Emit(progress.Event{
				Stage:   progress.StageRemoteFailed,
				URL:     pageURL,
				Service: service,
				Note:    err.Error(),
			})
		} else {
			d.emitter.Emit(progress.Event{
				Stage:   progress.StageRemoteArchived,
				URL:     pageURL,
				Service: service,
				Link:    out.Link,
			})
		}
		results = append(results, res)
	}
	return results, nil
}

// LocalRequest selects the tab to capture and how to save it.
type LocalRequest struct {
	TabID string
	// Bookmark places an automatic capture under its folder path. Without it
	// the snapshot lands at the top of the archive directory.
	Bookmark *archive.Bookmark
	// Automatic saves silently and records the file; otherwise the snapshot
	// is handed back to the caller.
	Automatic bool
}

// Snapshot is a captured page.
type Snapshot struct {
	URL      string `json:"url"`
	Filename string `json:"filename"`
	// Path and DownloadID are set for automatic captures.
	Path       string `json:"path,omitempty"`
	DownloadID string `json:"download_id,omitempty"`
	Digest     string `json:"digest"`
	Data       []byte `json:"-"`
}

// CaptureLocal waits for the tab to finish loading and snapshots it. In
// automatic mode a guard token keyed by the page URL is held from before the
// capture until the record is written or the capture fails.
func (d *Dispatcher) CaptureLocal(ctx context.Context, req LocalRequest) (Snapshot, error) {
	if !d.CanCaptureLocal() {
		return Snapshot{}, ErrCaptureUnavailable
	}
	mode := "manual"
	if req.Automatic {
		mode = "auto"
	}
	start := time.Now()
	tab, err := d.tabs.Tab(ctx, req.TabID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("lookup tab %s: %w", req.TabID, err)
	}
	if req.Automatic {
		tok, ok := d.guard.TryPush(tab.URL)
		if !ok {
			return Snapshot{}, fmt.Errorf("%w: %s", ErrDuplicateCapture, tab.URL)
		}
		defer d.guard.Pop(tok)
	}

	snap, err := d.captureLocal(ctx, tab, req)
	if err != nil {
		metrics.ObserveCapture(mode, "error")
		d.emitter.Emit(progress.Event{
			Stage:      progress.StageLocalFailed,
			URL:        tab.URL,
			BookmarkID: bookmarkID(req.Bookmark),
			Note:       err.Error(),
		})
		d.logger.Warn("local capture failed", zap.String("url", tab.URL), zap.Error(err))
		return Snapshot{}, err
	}
	metrics.ObserveCapture(mode, "success")
	if req.Automatic {
		d.emitter.Emit(progress.Event{
			Stage:      progress.StageLocalArchived,
			URL:        snap.URL,
			BookmarkID: bookmarkID(req.Bookmark),
			Path:       snap.Path,
			Digest:     snap.Digest,
			Bytes:      int64(len(snap.Data)),
			Dur:        time.Since(start),
		})
	}
	return snap, nil
}

func (d *Dispatcher) captureLocal(ctx context.Context, tab archive.Tab, req LocalRequest) (Snapshot, error) {
	tab, err := d.waitForTab(ctx, tab, req.Bookmark)
	if err != nil {
		return Snapshot{}, err
	}
	data, err := d.tabs.Capture(ctx, tab.ID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("capture tab %s: %w", tab.ID, err)
	}
	snap := Snapshot{
		URL:      tab.URL,
		Filename: d.Filename(tab.Title),
		Digest:   d.hasher.Hash(data),
		Data:     data,
	}
	if !req.Automatic {
		return snap, nil
	}

	rel, err := d.relativePath(ctx, req.Bookmark, snap.Filename)
	if err != nil {
		return Snapshot{}, err
	}
	id, err := d.downloads.Download(ctx, archive.DownloadRequest{Data: data, Filename: rel, Overwrite: true})
	if err != nil {
		return Snapshot{}, fmt.Errorf("download snapshot: %w", err)
	}
	item, err := d.WaitDownload(ctx, id)
	if err != nil {
		return Snapshot{}, err
	}
	if err := d.store.SetLocal(ctx, tab.URL, archive.LocalFile{DownloadID: id, Path: item.Path}); err != nil {
		return Snapshot{}, err
	}
	snap.Path = item.Path
	snap.DownloadID = id
	d.mirrorSnapshot(ctx, rel, data)
	return snap, nil
}

// waitForTab polls until the tab reports a complete load.
func (d *Dispatcher) waitForTab(ctx context.Context, tab archive.Tab, bookmark *archive.Bookmark) (archive.Tab, error) {
	if tab.Status == archive.TabComplete {
		return tab, nil
	}
	d.emitter.Emit(progress.Event{Stage: progress.StageWait, URL: tab.URL, BookmarkID: bookmarkID(bookmark)})
	err := poll.Until(ctx, d.cfg.PagePoll, d.cfg.PageTimeout, func(ctx context.Context) (bool, error) {
		current, err := d.tabs.Tab(ctx, tab.ID)
		if err != nil {
			return false, fmt.Errorf("poll tab %s: %w", tab.ID, err)
		}
		tab = current
		return current.Status == archive.TabComplete, nil
	})
	if err != nil {
		return archive.Tab{}, fmt.Errorf("wait for page load: %w", err)
	}
	return tab, nil
}

// WaitDownload polls the download primitive until id completes.
func (d *Dispatcher) WaitDownload(ctx context.Context, id string) (archive.DownloadItem, error) {
	var item archive.DownloadItem
	err := poll.Until(ctx, d.cfg.DownloadPoll, d.cfg.DownloadTimeout, func(ctx context.Context) (bool, error) {
		current, err := d.downloads.Lookup(ctx, id)
		if err != nil {
			return false, fmt.Errorf("lookup download %s: %w", id, err)
		}
		item = current
		switch current.State {
		case archive.DownloadComplete:
			return true, nil
		case archive.DownloadInterrupted:
			return false, fmt.Errorf("%w: %s", ErrDownloadInterrupted, current.Error)
		default:
			return false, nil
		}
	})
	if err != nil {
		return archive.DownloadItem{}, fmt.Errorf("wait for download %s: %w", id, err)
	}
	return item, nil
}

// Filename is the snapshot file name for a page or bookmark titled title.
func (d *Dispatcher) Filename(title string) string {
	return folderpath.Filename(title, d.cfg.Extension)
}

// RelativePath returns where a snapshot named filename belongs for bookmark,
// relative to the download area.
func (d *Dispatcher) RelativePath(ctx context.Context, bookmark archive.Bookmark, filename string) (string, error) {
	return d.relativePath(ctx, &bookmark, filename)
}

func (d *Dispatcher) relativePath(ctx context.Context, bookmark *archive.Bookmark, filename string) (string, error) {
	settings, err := d.store.Settings(ctx)
	if err != nil {
		return "", err
	}
	folder := folderpath.Separator
	if bookmark != nil {
		p, err := d.paths.Resolve(ctx, *bookmark)
		if err != nil {
			return "", err
		}
		folder = p.String()
	}
	return strings.TrimPrefix(path.Join(settings.ArchiveDir, folder, filename), "/"), nil
}

func (d *Dispatcher) mirrorSnapshot(ctx context.Context, rel string, data []byte) {
	if d.mirror == nil {
		return
	}
	object := strings.TrimPrefix(path.Join(d.cfg.MirrorPrefix, rel), "/")
	uri, err := d.mirror.PutObject(ctx, object, SnapshotContentType, data)
	if err != nil {
		d.logger.Warn("snapshot mirror failed", zap.String("object", object), zap.Error(err))
		return
	}
	d.logger.Debug("snapshot mirrored", zap.String("uri", uri))
}

func bookmarkID(b *archive.Bookmark) string {
	if b == nil {
		return ""
	}
	return b.ID
}
