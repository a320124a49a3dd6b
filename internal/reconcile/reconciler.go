// Package reconcile keeps archive records and snapshot files in step with the
// bookmark tree. It reacts to host events by dispatching missing archives,
// relocating snapshots when bookmarks move and cleaning up on removal.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/bookmark-archiver/internal/archive"
	"github.com/JakeFAU/bookmark-archiver/internal/capture"
	"github.com/JakeFAU/bookmark-archiver/internal/guard"
	"github.com/JakeFAU/bookmark-archiver/internal/metrics"
	"github.com/JakeFAU/bookmark-archiver/internal/progress"
	"github.com/JakeFAU/bookmark-archiver/internal/status"
	"github.com/JakeFAU/bookmark-archiver/internal/submit"
)

// Deps are the collaborators of a Reconciler. Tabs and Downloads are
// optional; without them local snapshots are neither taken nor moved.
type Deps struct {
	Store     *status.Store
	Guard     *guard.Guard
	Bookmarks archive.BookmarkReader
	Capture   *capture.Dispatcher
	Tabs      archive.TabHost
	Downloads archive.Downloader
	Emitter   progress.Emitter
	Logger    *zap.Logger
}

// Reconciler is safe for concurrent use; ordering between operations on
// snapshot files goes through the guard.
type Reconciler struct {
	store     *status.Store
	guard     *guard.Guard
	tree      archive.BookmarkReader
	capture   *capture.Dispatcher
	tabs      archive.TabHost
	downloads archive.Downloader
	emitter   progress.Emitter
	logger    *zap.Logger
}

// New builds a Reconciler.
func New(deps Deps) (*Reconciler, error) {
	if deps.Store == nil || deps.Guard == nil || deps.Bookmarks == nil || deps.Capture == nil {
		return nil, errors.New("reconcile: store, guard, bookmarks and capture are required")
	}
	emitter := deps.Emitter
	if emitter == nil {
		emitter = progress.Discard
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		store:     deps.Store,
		guard:     deps.Guard,
		tree:      deps.Bookmarks,
		capture:   deps.Capture,
		tabs:      deps.Tabs,
		downloads: deps.Downloads,
		emitter:   emitter,
		logger:    logger,
	}, nil
}

// Handle routes a host event. The returned error joins every per-bookmark
// failure; the outcomes themselves are logged.
func (r *Reconciler) Handle(ctx context.Context, evt archive.Event) error {
	var (
		outcomes []archive.Outcome
		err      error
	)
	switch evt.Kind {
	case archive.EventTabComplete:
		var out archive.Outcome
		out, err = r.Visit(ctx, evt.Tab)
		outcomes = []archive.Outcome{out}
	case archive.EventBookmarkCreated:
		var out archive.Outcome
		out, err = r.BookmarkCreated(ctx, evt.Node)
		outcomes = []archive.Outcome{out}
	case archive.EventBookmarkMoved, archive.EventBookmarkChanged:
		outcomes, err = r.BookmarkMoved(ctx, evt.BookmarkID)
	case archive.EventBookmarkRemoved:
		outcomes = r.BookmarkRemoved(ctx, evt.Node)
	default:
		return fmt.Errorf("reconcile: unknown event kind %q", evt.Kind)
	}
	if err != nil {
		return err
	}
	var errs []error
	for _, out := range outcomes {
		if out.Err == nil {
			continue
		}
		r.logger.Warn("reconcile outcome",
			zap.String("kind", string(evt.Kind)),
			zap.String("bookmark_id", out.BookmarkID),
			zap.String("url", out.URL),
			zap.String("status", string(out.Status)),
			zap.Error(out.Err),
		)
		errs = append(errs, out.Err)
	}
	return errors.Join(errs...)
}

// Visit handles a tab that finished loading. Bookmarked pages get their
// missing archives; a page whose capture is already in flight is left alone.
func (r *Reconciler) Visit(ctx context.Context, tab archive.Tab) (archive.Outcome, error) {
	out := archive.Outcome{URL: tab.URL, Status: archive.OutcomeSkipped}
	if tab.URL == "" {
		return out, nil
	}
	record, err := r.store.Get(ctx, tab.URL)
	if err != nil {
		return out, err
	}
	r.emitter.Emit(progress.Event{
		Stage:    progress.StageVisited,
		URL:      tab.URL,
		Archived: record.State() != archive.StateNoArchive,
	})

	hits, err := r.tree.Search(ctx, tab.URL)
	if err != nil {
		return out, fmt.Errorf("search bookmarks for %s: %w", tab.URL, err)
	}
	if len(hits) == 0 || r.guard.Holds(tab.URL) {
		return out, nil
	}
	return r.ensure(ctx, hits[0], &tab)
}

// BookmarkCreated archives a new leaf bookmark.
func (r *Reconciler) BookmarkCreated(ctx context.Context, node archive.Bookmark) (archive.Outcome, error) {
	if node.IsFolder() {
		return archive.Outcome{BookmarkID: node.ID, Status: archive.OutcomeSkipped}, nil
	}
	return r.ensure(ctx, node, nil)
}

// ensure dispatches whichever archive halves the settings ask for and the
// record lacks. A URL in StateBoth is never dispatched again.
func (r *Reconciler) ensure(ctx context.Context, node archive.Bookmark, tab *archive.Tab) (archive.Outcome, error) {
	out := archive.Outcome{BookmarkID: node.ID, URL: node.URL, Status: archive.OutcomeSkipped}
	settings, err := r.store.Settings(ctx)
	if err != nil {
		return out, err
	}
	if !settings.ArchiveBookmarks {
		return out, nil
	}
	record, err := r.store.Get(ctx, node.URL)
	if err != nil {
		return out, err
	}
	state := record.State()
	services := settings.RemoteBookmarkServices()
	wantRemote := state.NeedsRemote() && len(services) > 0 && !submit.IsLocal(node.URL)
	wantLocal := state.NeedsLocal() && settings.Wants(archive.LocalService) && r.canCapture()
	if !wantRemote && !wantLocal {
		return out, nil
	}
	r.logger.Debug("dispatching archive",
		zap.String("url", node.URL),
		zap.Stringer("state", state),
		zap.Bool("remote", wantRemote),
		zap.Bool("local", wantLocal),
	)

	var errs []error
	if wantRemote {
		results, err := r.capture.SubmitRemote(ctx, node.URL, services)
		if err != nil {
			errs = append(errs, err)
		}
		for _, res := range results {
			if res.Err != nil {
				errs = append(errs, fmt.Errorf("submit %s: %w", res.Service, res.Err))
				continue
			}
			out.Remote = true
		}
	}
	if wantLocal {
		snap, err := r.captureLocal(ctx, node, tab)
		switch {
		case err == nil:
			out.Local = true
			out.Path = snap.Path
		case errors.Is(err, capture.ErrDuplicateCapture):
			r.logger.Debug("capture already in flight", zap.String("url", node.URL))
		default:
			errs = append(errs, err)
		}
	}

	out.Status = archive.OutcomeDispatched
	out.Err = errors.Join(errs...)
	if out.Err != nil && !out.Remote && !out.Local {
		out.Status = archive.OutcomeFailed
	}
	return out, nil
}

func (r *Reconciler) canCapture() bool {
	return r.tabs != nil && r.capture.CanCaptureLocal()
}

// captureLocal snapshots node through tab, an open tab showing its URL, or
// a background tab opened for the purpose.
func (r *Reconciler) captureLocal(ctx context.Context, node archive.Bookmark, tab *archive.Tab) (capture.Snapshot, error) {
	var tabID string
	switch {
	case tab != nil:
		tabID = tab.ID
	default:
		found, ok, err := r.tabs.FindTab(ctx, node.URL)
		if err != nil {
			return capture.Snapshot{}, fmt.Errorf("find tab for %s: %w", node.URL, err)
		}
		if ok {
			tabID = found.ID
			break
		}
		opened, err := r.tabs.OpenTab(ctx, node.URL, true)
		if err != nil {
			return capture.Snapshot{}, fmt.Errorf("open tab for %s: %w", node.URL, err)
		}
		tabID = opened.ID
		defer func() {
			if err := r.tabs.CloseTab(context.WithoutCancel(ctx), opened.ID); err != nil {
				r.logger.Warn("close background tab", zap.String("tab_id", opened.ID), zap.Error(err))
			}
		}()
	}
	return r.capture.CaptureLocal(ctx, capture.LocalRequest{TabID: tabID, Bookmark: &node, Automatic: true})
}

// BookmarkMoved relocates the snapshots under bookmark id to match its new
// folder path. Folders are walked child by child without rollback, so the
// outcomes can mix successes and failures.
func (r *Reconciler) BookmarkMoved(ctx context.Context, id string) ([]archive.Outcome, error) {
	node, err := r.tree.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load bookmark %s: %w", id, err)
	}
	return r.relocateTree(ctx, node), nil
}

func (r *Reconciler) relocateTree(ctx context.Context, node archive.Bookmark) []archive.Outcome {
	if !node.IsFolder() {
		return []archive.Outcome{r.relocate(ctx, node)}
	}
	children, err := r.tree.Children(ctx, node.ID)
	if err != nil {
		return []archive.Outcome{{
			BookmarkID: node.ID,
			Status:     archive.OutcomeFailed,
			Err:        fmt.Errorf("list children of %s: %w", node.ID, err),
		}}
	}
	var outcomes []archive.Outcome
	for _, child := range children {
		outcomes = append(outcomes, r.relocateTree(ctx, child)...)
	}
	return outcomes
}

// relocate moves one leaf's snapshot to the path its folder and title now
// resolve to, by copying it there and deleting the original. It waits for
// every in-flight capture first.
func (r *Reconciler) relocate(ctx context.Context, node archive.Bookmark) archive.Outcome {
	out := archive.Outcome{BookmarkID: node.ID, URL: node.URL, Status: archive.OutcomeSkipped}
	if r.downloads == nil {
		return out
	}
	record, err := r.store.Get(ctx, node.URL)
	if err != nil {
		return r.relocateFailed(out, err)
	}
	if record.LocalFile == nil {
		return out
	}

	tok, err := r.guard.Acquire(ctx, node.URL)
	if err != nil {
		return r.relocateFailed(out, err)
	}
	defer r.guard.Pop(tok)

	// The record may have changed while waiting.
	record, err = r.store.Get(ctx, node.URL)
	if err != nil {
		return r.relocateFailed(out, err)
	}
	if record.LocalFile == nil {
		return out
	}
	old := *record.LocalFile

	rel, err := r.capture.RelativePath(ctx, node, r.capture.Filename(node.Title))
	if err != nil {
		return r.relocateFailed(out, err)
	}
	target, err := r.downloads.Target(rel)
	if err != nil {
		return r.relocateFailed(out, err)
	}
	out.Path = target
	if target == filepath.Clean(old.Path) {
		out.Status = archive.OutcomeUnchanged
		metrics.ObserveRelocation("unchanged")
		return out
	}

	start := time.Now()
	id, err := r.downloads.Download(ctx, archive.DownloadRequest{SourcePath: old.Path, Filename: rel, Overwrite: true})
	if err != nil {
		return r.relocateFailed(out, fmt.Errorf("copy snapshot: %w", err))
	}
	item, err := r.capture.WaitDownload(ctx, id)
	if err != nil {
		return r.relocateFailed(out, err)
	}
	if err := r.store.SetLocal(ctx, node.URL, archive.LocalFile{DownloadID: id, Path: item.Path}); err != nil {
		return r.relocateFailed(out, err)
	}
	if err := r.downloads.Remove(ctx, old); err != nil {
		r.logger.Warn("old snapshot not removed", zap.String("path", old.Path), zap.Error(err))
	}

	out.Status = archive.OutcomeRelocated
	out.Local = true
	out.Path = item.Path
	metrics.ObserveRelocation("success")
	r.emitter.Emit(progress.Event{
		Stage:      progress.StageRelocated,
		URL:        node.URL,
		BookmarkID: node.ID,
		Path:       item.Path,
		Dur:        time.Since(start),
	})
	r.logger.Info("snapshot relocated",
		zap.String("url", node.URL),
		zap.String("from", old.Path),
		zap.String("to", item.Path),
	)
	return out
}

func (r *Reconciler) relocateFailed(out archive.Outcome, err error) archive.Outcome {
	out.Status = archive.OutcomeFailed
	out.Err = fmt.Errorf("relocate %s: %w", out.URL, err)
	metrics.ObserveRelocation("error")
	r.emitter.Emit(progress.Event{
		Stage:      progress.StageRelocateFailed,
		URL:        out.URL,
		BookmarkID: out.BookmarkID,
		Note:       err.Error(),
	})
	return out
}

// BookmarkRemoved forgets every URL in the removed subtree, children first.
// The snapshot file is deleted when one is recorded; the remote link is
// always dropped.
func (r *Reconciler) BookmarkRemoved(ctx context.Context, node archive.Bookmark) []archive.Outcome {
	if node.IsFolder() {
		var outcomes []archive.Outcome
		for _, child := range node.Children {
			outcomes = append(outcomes, r.BookmarkRemoved(ctx, child)...)
		}
		return outcomes
	}
	return []archive.Outcome{r.remove(ctx, node)}
}

func (r *Reconciler) remove(ctx context.Context, node archive.Bookmark) archive.Outcome {
	out := archive.Outcome{BookmarkID: node.ID, URL: node.URL, Status: archive.OutcomeRemoved}
	record, err := r.store.Get(ctx, node.URL)
	if err != nil {
		return r.removeFailed(out, err)
	}
	// Both keys go even when the file stays behind; the record must not
	// outlive its bookmark.
	var fileErr error
	if record.LocalFile != nil && r.downloads != nil {
		fileErr = r.removeFile(ctx, node.URL, *record.LocalFile)
		if fileErr == nil {
			out.Local = true
			out.Path = record.LocalFile.Path
		}
	}
	if err := r.store.Remove(ctx, node.URL); err != nil {
		return r.removeFailed(out, errors.Join(fileErr, err))
	}
	out.Remote = record.HasRemote()
	r.emitter.Emit(progress.Event{Stage: progress.StageRemoved, URL: node.URL, BookmarkID: node.ID, Path: out.Path})
	if fileErr != nil {
		return r.removeFailed(out, fileErr)
	}
	metrics.ObserveRemoval("success")
	return out
}

func (r *Reconciler) removeFile(ctx context.Context, url string, file archive.LocalFile) error {
	tok, err := r.guard.Acquire(ctx, url)
	if err != nil {
		return fmt.Errorf("snapshot %s left in place: %w", file.Path, err)
	}
	defer r.guard.Pop(tok)
	if err := r.downloads.Remove(ctx, file); err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}

func (r *Reconciler) removeFailed(out archive.Outcome, err error) archive.Outcome {
	out.Status = archive.OutcomeFailed
	out.Err = fmt.Errorf("remove %s: %w", out.URL, err)
	metrics.ObserveRemoval("error")
	r.logger.Warn("bookmark cleanup failed", zap.String("url", out.URL), zap.Error(err))
	return out
}
