package capture

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/bookmark-archiver/internal/archive"
	"github.com/JakeFAU/bookmark-archiver/internal/bookmarks"
	"github.com/JakeFAU/bookmark-archiver/internal/browser"
	"github.com/JakeFAU/bookmark-archiver/internal/folderpath"
	"github.com/JakeFAU/bookmark-archiver/internal/guard"
	"github.com/JakeFAU/bookmark-archiver/internal/id/uuid"
	"github.com/JakeFAU/bookmark-archiver/internal/poll"
	"github.com/JakeFAU/bookmark-archiver/internal/progress"
	"github.com/JakeFAU/bookmark-archiver/internal/status"
	"github.com/JakeFAU/bookmark-archiver/internal/storage/local"
	"github.com/JakeFAU/bookmark-archiver/internal/storage/memory"
	"github.com/JakeFAU/bookmark-archiver/internal/submit"
)

const pageURL = "https://example.com/story"

type mockSubmitter struct {
	mock.Mock
}

func (m *mockSubmitter) Submit(ctx context.Context, service, pageURL, email string) (submit.Result, error) {
	args := m.Called(ctx, service, pageURL, email)
	return args.Get(0).(submit.Result), args.Error(1)
}

type recorder struct {
	mu     sync.Mutex
	events []progress.Event
}

func (r *recorder) Emit(evt progress.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recorder) stages() []progress.Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]progress.Stage, 0, len(r.events))
	for _, evt := range r.events {
		out = append(out, evt.Stage)
	}
	return out
}

type fixture struct {
	store     *status.Store
	guard     *guard.Guard
	tree      *bookmarks.Tree
	tabs      *browser.Memory
	downloads *local.Downloader
	submitter *mockSubmitter
	events    *recorder
	dir       string
	disp      *Dispatcher
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	store, err := status.New(memory.NewKV(), archive.Settings{
		ArchiveDir:       "Archive",
		ArchiveServices:  []string{submit.ArchiveIs},
		BookmarkServices: []string{submit.ArchiveOrg, archive.LocalService},
		ArchiveBookmarks: true,
	}, nil)
	require.NoError(t, err)
	dir := t.TempDir()
	downloads, err := local.NewDownloader(local.Config{BaseDir: dir}, uuid.NewUUIDGenerator(), nil)
	require.NoError(t, err)

	f := &fixture{
		store:     store,
		guard:     guard.New(guard.Config{}),
		tree:      bookmarks.New(bookmarks.Options{}),
		tabs:      browser.NewMemory(nil),
		downloads: downloads,
		submitter: &mockSubmitter{},
		events:    &recorder{},
		dir:       dir,
	}
	if cfg.PagePoll == 0 {
		cfg.PagePoll = 5 * time.Millisecond
	}
	if cfg.DownloadPoll == 0 {
		cfg.DownloadPoll = 5 * time.Millisecond
	}
	if cfg.DownloadTimeout == 0 {
		cfg.DownloadTimeout = 2 * time.Second
	}
	f.disp, err = New(cfg, Deps{
		Store:     store,
		Guard:     f.guard,
		Paths:     folderpath.New(f.tree),
		Submitter: f.submitter,
		Tabs:      f.tabs,
		Downloads: downloads,
		Emitter:   f.events,
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) bookmark(t *testing.T) archive.Bookmark {
	t.Helper()
	ctx := context.Background()
	folder, err := f.tree.Create(ctx, bookmarks.CreateRequest{ParentID: bookmarks.BarID, Title: "News"})
	require.NoError(t, err)
	leaf, err := f.tree.Create(ctx, bookmarks.CreateRequest{ParentID: folder.ID, Title: "Story", URL: pageURL})
	require.NoError(t, err)
	return leaf
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Config{}, Deps{})
	require.Error(t, err)
}

func TestCaptureLocalAutomaticWritesUnderFolderPath(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	leaf := f.bookmark(t)
	f.tabs.AddPage(pageURL, browser.Page{Title: "A Story: Part 1", Body: []byte("mhtml body")})
	f.tabs.SetAutoComplete(true)
	tab, err := f.tabs.OpenTab(ctx, pageURL, true)
	require.NoError(t, err)

	snap, err := f.disp.CaptureLocal(ctx, LocalRequest{TabID: tab.ID, Bookmark: &leaf, Automatic: true})
	require.NoError(t, err)

	want := filepath.Join(f.dir, "Archive", "Bookmarks bar", "News", "A Story_ Part 1.mhtml")
	assert.Equal(t, want, snap.Path)
	data, err := os.ReadFile(want)
	require.NoError(t, err)
	assert.Equal(t, "mhtml body", string(data))

	record, err := f.store.Get(ctx, pageURL)
	require.NoError(t, err)
	require.NotNil(t, record.LocalFile)
	assert.Equal(t, want, record.LocalFile.Path)
	assert.Equal(t, snap.DownloadID, record.LocalFile.DownloadID)
	assert.Equal(t, archive.StateLocalOnly, record.State())

	assert.Zero(t, f.guard.Len(), "token released after the record is written")
	assert.Equal(t, []progress.Stage{progress.StageLocalArchived}, f.events.stages())
}

func TestCaptureLocalWaitsForPageLoad(t *testing.T) {
	f := newFixture(t, Config{PageTimeout: 2 * time.Second})
	ctx := context.Background()
	tab, err := f.tabs.OpenTab(ctx, pageURL, true)
	require.NoError(t, err)

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = f.tabs.Complete(ctx, tab.ID)
	}()

	_, err = f.disp.CaptureLocal(ctx, LocalRequest{TabID: tab.ID, Automatic: true})
	require.NoError(t, err)
	assert.Equal(t, []progress.Stage{progress.StageWait, progress.StageLocalArchived}, f.events.stages())
	assert.Equal(t, 1, f.tabs.Captures(pageURL))
}

func TestCaptureLocalTimeoutReleasesToken(t *testing.T) {
	f := newFixture(t, Config{PageTimeout: 40 * time.Millisecond})
	ctx := context.Background()
	tab, err := f.tabs.OpenTab(ctx, pageURL, true)
	require.NoError(t, err)

	_, err = f.disp.CaptureLocal(ctx, LocalRequest{TabID: tab.ID, Automatic: true})
	require.ErrorIs(t, err, poll.ErrTimeout)
	assert.Zero(t, f.guard.Len())
	assert.Zero(t, f.tabs.Captures(pageURL))

	record, err := f.store.Get(ctx, pageURL)
	require.NoError(t, err)
	assert.Equal(t, archive.StateNoArchive, record.State())
	assert.Equal(t, []progress.Stage{progress.StageWait, progress.StageLocalFailed}, f.events.stages())
}

func TestCaptureLocalFailureReleasesToken(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	f.tabs.SetAutoComplete(true)
	tab, err := f.tabs.OpenTab(ctx, pageURL, true)
	require.NoError(t, err)
	boom := errors.New("renderer crashed")
	f.tabs.FailCaptures(boom)

	_, err = f.disp.CaptureLocal(ctx, LocalRequest{TabID: tab.ID, Automatic: true})
	require.ErrorIs(t, err, boom)
	assert.Zero(t, f.guard.Len())
}

func TestCaptureLocalRefusesDuplicate(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	f.tabs.SetAutoComplete(true)
	tab, err := f.tabs.OpenTab(ctx, pageURL, true)
	require.NoError(t, err)
	held := f.guard.Push(pageURL)

	_, err = f.disp.CaptureLocal(ctx, LocalRequest{TabID: tab.ID, Automatic: true})
	require.ErrorIs(t, err, ErrDuplicateCapture)
	assert.Zero(t, f.tabs.Captures(pageURL))
	assert.Equal(t, 1, f.guard.Len())

	f.guard.Pop(held)
	_, err = f.disp.CaptureLocal(ctx, LocalRequest{TabID: tab.ID, Automatic: true})
	require.NoError(t, err)
}

func TestCaptureLocalManualReturnsSnapshot(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	f.tabs.AddPage(pageURL, browser.Page{Title: "", Body: []byte("body")})
	f.tabs.SetAutoComplete(true)
	tab, err := f.tabs.OpenTab(ctx, pageURL, false)
	require.NoError(t, err)

	snap, err := f.disp.CaptureLocal(ctx, LocalRequest{TabID: tab.ID})
	require.NoError(t, err)
	assert.Equal(t, "untitled.mhtml", snap.Filename)
	assert.Equal(t, []byte("body"), snap.Data)
	assert.Empty(t, snap.Path)
	assert.NotEmpty(t, snap.Digest)

	record, err := f.store.Get(ctx, pageURL)
	require.NoError(t, err)
	assert.Nil(t, record.LocalFile, "manual captures are not recorded")
	assert.Empty(t, f.events.stages())
}

func TestCaptureLocalUnavailable(t *testing.T) {
	store, err := status.New(memory.NewKV(), archive.Settings{}, nil)
	require.NoError(t, err)
	disp, err := New(Config{}, Deps{
		Store:     store,
		Guard:     guard.New(guard.Config{}),
		Paths:     folderpath.New(bookmarks.New(bookmarks.Options{})),
		Submitter: &mockSubmitter{},
	})
	require.NoError(t, err)
	assert.False(t, disp.CanCaptureLocal())
	_, err = disp.CaptureLocal(context.Background(), LocalRequest{TabID: "1"})
	require.ErrorIs(t, err, ErrCaptureUnavailable)
}

func TestCaptureLocalMirrorsSnapshot(t *testing.T) {
	f := newFixture(t, Config{MirrorPrefix: "snapshots"})
	mirrorDir := t.TempDir()
	mirror, err := local.New(local.Config{BaseDir: mirrorDir})
	require.NoError(t, err)
	f.disp.mirror = mirror

	ctx := context.Background()
	f.tabs.AddPage(pageURL, browser.Page{Title: "Story", Body: []byte("copy me")})
	f.tabs.SetAutoComplete(true)
	tab, err := f.tabs.OpenTab(ctx, pageURL, true)
	require.NoError(t, err)

	_, err = f.disp.CaptureLocal(ctx, LocalRequest{TabID: tab.ID, Automatic: true})
	require.NoError(t, err)
	data, err := os.ReadFile(filepath.Join(mirrorDir, "snapshots", "Archive", "Story.mhtml"))
	require.NoError(t, err)
	assert.Equal(t, "copy me", string(data))
}

func TestSubmitRemoteStoresLinks(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	f.submitter.On("Submit", mock.Anything, submit.ArchiveIs, pageURL, "").
		Return(submit.Result{Service: submit.ArchiveIs, Link: "https://archive.is/abc12"}, nil).Once()
	f.submitter.On("Submit", mock.Anything, submit.ArchiveOrg, pageURL, "").
		Return(submit.Result{}, errors.New("status 502")).Once()

	results, err := f.disp.SubmitRemote(ctx, pageURL, []string{submit.ArchiveIs, submit.ArchiveOrg})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "https://archive.is/abc12", results[0].Link)
	assert.NoError(t, results[0].Err)
	assert.Error(t, results[1].Err)
	assert.Equal(t, "status 502", results[1].Error)

	record, err := f.store.Get(ctx, pageURL)
	require.NoError(t, err)
	assert.Equal(t, "https://archive.is/abc12", record.RemoteLink)
	assert.Equal(t, []progress.Stage{progress.StageRemoteArchived, progress.StageRemoteFailed}, f.events.stages())
	f.submitter.AssertExpectations(t)
}

func TestSubmitRemoteParseFailureLeavesNoRecord(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	f.submitter.On("Submit", mock.Anything, submit.ArchiveIs, pageURL, "").
		Return(submit.Result{}, submit.ErrLinkNotFound).Once()

	results, err := f.disp.SubmitRemote(ctx, pageURL, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.ErrorIs(t, results[0].Err, submit.ErrLinkNotFound)

	record, err := f.store.Get(ctx, pageURL)
	require.NoError(t, err)
	assert.Equal(t, archive.StateNoArchive, record.State())
	f.submitter.AssertNumberOfCalls(t, "Submit", 1)
}

func TestSubmitRemotePendingLink(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	f.submitter.On("Submit", mock.Anything, submit.ArchiveOrg, pageURL, "").
		Return(submit.Result{Service: submit.ArchiveOrg, Link: archive.PendingLink}, nil).Once()

	_, err := f.disp.SubmitRemote(ctx, pageURL, []string{submit.ArchiveOrg})
	require.NoError(t, err)
	record, err := f.store.Get(ctx, pageURL)
	require.NoError(t, err)
	assert.Equal(t, archive.PendingLink, record.RemoteLink)
	assert.Equal(t, archive.StateRemoteOnly, record.State())
}

func TestSubmitRemoteRejectsLocalURL(t *testing.T) {
	f := newFixture(t, Config{})
	_, err := f.disp.SubmitRemote(context.Background(), "file:///tmp/page.html", nil)
	require.ErrorIs(t, err, submit.ErrLocalURL)
	f.submitter.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRelativePath(t *testing.T) {
	f := newFixture(t, Config{})
	leaf := f.bookmark(t)
	rel, err := f.disp.RelativePath(context.Background(), leaf, "Story.mhtml")
	require.NoError(t, err)
	assert.Equal(t, "Archive/Bookmarks bar/News/Story.mhtml", rel)
}
