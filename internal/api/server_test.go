package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/bookmark-archiver/internal/archive"
	"github.com/JakeFAU/bookmark-archiver/internal/bookmarks"
	"github.com/JakeFAU/bookmark-archiver/internal/browser"
	"github.com/JakeFAU/bookmark-archiver/internal/capture"
	"github.com/JakeFAU/bookmark-archiver/internal/config"
	"github.com/JakeFAU/bookmark-archiver/internal/folderpath"
	"github.com/JakeFAU/bookmark-archiver/internal/guard"
	"github.com/JakeFAU/bookmark-archiver/internal/id/uuid"
	"github.com/JakeFAU/bookmark-archiver/internal/progress"
	"github.com/JakeFAU/bookmark-archiver/internal/progress/sinks"
	queueMemory "github.com/JakeFAU/bookmark-archiver/internal/queue/memory"
	"github.com/JakeFAU/bookmark-archiver/internal/status"
	"github.com/JakeFAU/bookmark-archiver/internal/storage/local"
	"github.com/JakeFAU/bookmark-archiver/internal/storage/memory"
	"github.com/JakeFAU/bookmark-archiver/internal/submit"
)

const storyURL = "https://example.com/story"

type testEnv struct {
	store  *status.Store
	tree   *bookmarks.Tree
	tabs   *browser.Memory
	badges *sinks.BadgeSink
	queue  *queueMemory.Queue
	server *Server
}

func newTestEnv(t *testing.T, cfg config.Config) *testEnv {
	t.Helper()
	archiveOrg := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(archiveOrg.Close)

	store, err := status.New(memory.NewKV(), archive.Settings{
		ArchiveDir:       "Archive",
		ArchiveServices:  []string{submit.ArchiveOrg},
		BookmarkServices: []string{submit.ArchiveOrg, archive.LocalService},
		ArchiveBookmarks: true,
	}, nil)
	require.NoError(t, err)

	queue := queueMemory.NewQueue(16)
	t.Cleanup(queue.Close)
	tree := bookmarks.New(bookmarks.Options{Events: queue})
	tabs := browser.NewMemory(nil)
	tabs.SetAutoComplete(true)
	downloads, err := local.NewDownloader(local.Config{BaseDir: t.TempDir()}, uuid.NewUUIDGenerator(), nil)
	require.NoError(t, err)
	client := submit.New(submit.Config{ArchiveOrgURL: archiveOrg.URL})
	disp, err := capture.New(capture.Config{}, capture.Deps{
		Store:     store,
		Guard:     guard.New(guard.Config{}),
		Paths:     folderpath.New(tree),
		Submitter: client,
		Tabs:      tabs,
		Downloads: downloads,
	})
	require.NoError(t, err)

	badges := sinks.NewBadgeSink()
	server := NewServer(Deps{
		Store:     store,
		Capture:   disp,
		Bookmarks: tree,
		Tabs:      tabs,
		Badges:    badges,
		Services:  client,
	}, cfg, zap.NewNop())
	return &testEnv{store: store, tree: tree, tabs: tabs, badges: badges, queue: queue, server: server}
}

func (e *testEnv) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]json.RawMessage {
	t.Helper()
	var out map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestServer_HealthAndReadiness(t *testing.T) {
	env := newTestEnv(t, config.Config{})

	rec := env.do(t, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = env.do(t, http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "ready")

	rec = env.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_ReadyWithoutStore(t *testing.T) {
	server := NewServer(Deps{}, config.Config{}, nil)
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_APIKeyRequired(t *testing.T) {
	env := newTestEnv(t, config.Config{Auth: config.AuthConfig{Enabled: true, APIKey: "secret"}})

	rec := env.do(t, http.MethodGet, "/v1/records?url="+storyURL, "")
	require.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/records?url="+storyURL, nil)
	req.Header.Set("X-API-Key", "secret")
	ok := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(ok, req)
	require.Equal(t, http.StatusOK, ok.Code)

	rec = env.do(t, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_ArchiveOnlineStoresLink(t *testing.T) {
	env := newTestEnv(t, config.Config{})

	rec := env.do(t, http.MethodPost, "/v1/archive/online", `{"url":"`+storyURL+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), submit.ArchiveOrg)

	got, err := env.store.Get(context.Background(), storyURL)
	require.NoError(t, err)
	assert.Equal(t, archive.PendingLink, got.RemoteLink)

	rec = env.do(t, http.MethodGet, "/v1/records?url="+storyURL, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"state":"REMOTE_ONLY"`)
}

func TestServer_ArchiveOnlineRejectsBadInput(t *testing.T) {
	env := newTestEnv(t, config.Config{})

	tests := []struct {
		name string
		body string
	}{
		{name: "invalid json", body: "{invalid"},
		{name: "missing url", body: `{"url":" "}`},
		{name: "local url", body: `{"url":"file:///tmp/page.html"}`},
		{name: "unknown field", body: `{"url":"` + storyURL + `","mode":"x"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/v1/archive/online", tt.body)
			require.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestServer_ArchiveLocalReturnsAttachment(t *testing.T) {
	env := newTestEnv(t, config.Config{})
	env.tabs.AddPage(storyURL, browser.Page{Title: "Story", Body: []byte("mhtml body")})
	tab, err := env.tabs.OpenTab(context.Background(), storyURL, false)
	require.NoError(t, err)

	rec := env.do(t, http.MethodPost, "/v1/archive/local", `{"tab_id":"`+tab.ID+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "mhtml body", rec.Body.String())
	assert.Equal(t, capture.SnapshotContentType, rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), `filename="Story.mhtml"`)
	assert.NotEmpty(t, rec.Header().Get("X-Snapshot-Digest"))

	got, err := env.store.Get(context.Background(), storyURL)
	require.NoError(t, err)
	assert.False(t, got.HasLocal())
}

func TestServer_ArchiveLocalErrors(t *testing.T) {
	env := newTestEnv(t, config.Config{})

	rec := env.do(t, http.MethodPost, "/v1/archive/local", `{}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/archive/local", `{"tab_id":"404"}`)
	require.Equal(t, http.StatusNotFound, rec.Code)

	server := NewServer(Deps{}, config.Config{}, nil)
	req := httptest.NewRequest(http.MethodPost, "/v1/archive/local", strings.NewReader(`{"tab_id":"1"}`))
	unavailable := httptest.NewRecorder()
	server.Handler().ServeHTTP(unavailable, req)
	require.Equal(t, http.StatusServiceUnavailable, unavailable.Code)
}

func TestServer_GetRecordUnknownURL(t *testing.T) {
	env := newTestEnv(t, config.Config{})

	rec := env.do(t, http.MethodGet, "/v1/records?url="+storyURL, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"state":"NO_ARCHIVE"`)

	rec = env.do(t, http.MethodGet, "/v1/records", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_GetBadge(t *testing.T) {
	env := newTestEnv(t, config.Config{})

	rec := env.do(t, http.MethodGet, "/v1/badge?url="+storyURL, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), sinks.BadgeCleared.Color)

	require.NoError(t, env.badges.Consume(context.Background(), []progress.Event{
		{Stage: progress.StageLocalArchived, URL: storyURL, Path: "Archive/Story.mhtml"},
	}))
	rec = env.do(t, http.MethodGet, "/v1/badge?url="+storyURL, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), sinks.BadgeArchived.Title)
}

func TestServer_SettingsRoundTrip(t *testing.T) {
	env := newTestEnv(t, config.Config{})

	rec := env.do(t, http.MethodGet, "/v1/settings", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"archiveDir":"Archive"`)

	rec = env.do(t, http.MethodPut, "/v1/settings", `{"archiveBookmarks":false,"email":" me@example.com "}`)
	require.Equal(t, http.StatusOK, rec.Code)

	settings, err := env.store.Settings(context.Background())
	require.NoError(t, err)
	assert.False(t, settings.ArchiveBookmarks)
	assert.Equal(t, "me@example.com", settings.Email)
	assert.Equal(t, "Archive", settings.ArchiveDir)
	assert.Equal(t, []string{submit.ArchiveOrg, archive.LocalService}, settings.BookmarkServices)
}

func TestServer_SettingsRejectsUnknownService(t *testing.T) {
	env := newTestEnv(t, config.Config{})

	rec := env.do(t, http.MethodPut, "/v1/settings", `{"archiveServices":["archive.example"]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPut, "/v1/settings", `{"bookmarkServices":["mhtml","pdf"]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	settings, err := env.store.Settings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{submit.ArchiveOrg}, settings.ArchiveServices)
}

func TestServer_TabLifecycle(t *testing.T) {
	env := newTestEnv(t, config.Config{})

	rec := env.do(t, http.MethodPost, "/v1/tabs", `{"url":"`+storyURL+`"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var tab archive.Tab
	require.NoError(t, json.Unmarshal(decodeBody(t, rec)["tab"], &tab))
	assert.Equal(t, archive.TabComplete, tab.Status)

	rec = env.do(t, http.MethodGet, "/v1/tabs/"+tab.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodDelete, "/v1/tabs/"+tab.ID, "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/tabs/"+tab.ID, "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/tabs", `{}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_TabsDisabled(t *testing.T) {
	server := NewServer(Deps{Tabs: browser.NewNoop()}, config.Config{}, nil)
	req := httptest.NewRequest(http.MethodPost, "/v1/tabs", strings.NewReader(`{"url":"`+storyURL+`"}`))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_BookmarkLifecycleEmitsEvents(t *testing.T) {
	env := newTestEnv(t, config.Config{})

	rec := env.do(t, http.MethodPost, "/v1/bookmarks", `{"parent_id":"1","title":"News"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var folder archive.Bookmark
	require.NoError(t, json.Unmarshal(decodeBody(t, rec)["bookmark"], &folder))

	rec = env.do(t, http.MethodPost, "/v1/bookmarks", `{"parent_id":"`+folder.ID+`","title":"Story","url":"`+storyURL+`"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var leaf archive.Bookmark
	require.NoError(t, json.Unmarshal(decodeBody(t, rec)["bookmark"], &leaf))
	require.Equal(t, 2, env.queue.Len())

	rec = env.do(t, http.MethodGet, "/v1/bookmarks/"+leaf.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), storyURL)

	rec = env.do(t, http.MethodGet, "/v1/bookmarks/"+folder.ID+"/children", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), leaf.ID)

	rec = env.do(t, http.MethodPatch, "/v1/bookmarks/"+leaf.ID, `{"title":"Renamed"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "Renamed")

	rec = env.do(t, http.MethodPost, "/v1/bookmarks/"+leaf.ID+"/move", `{"parent_id":"2"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodDelete, "/v1/bookmarks/"+folder.ID, "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, 5, env.queue.Len())

	kinds := make([]archive.EventKind, 0, 5)
	for env.queue.Len() > 0 {
		evt, err := env.queue.Dequeue(context.Background())
		require.NoError(t, err)
		kinds = append(kinds, evt.Kind)
	}
	assert.Equal(t, []archive.EventKind{
		archive.EventBookmarkCreated,
		archive.EventBookmarkCreated,
		archive.EventBookmarkChanged,
		archive.EventBookmarkMoved,
		archive.EventBookmarkRemoved,
	}, kinds)
}

func TestServer_BookmarkErrors(t *testing.T) {
	env := newTestEnv(t, config.Config{})

	rec := env.do(t, http.MethodGet, "/v1/bookmarks/999", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodDelete, "/v1/bookmarks/"+bookmarks.BarID, "")
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/bookmarks/"+bookmarks.BarID+"/move", `{}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/bookmarks", `{"parent_id":"1","title":"Leaf","url":"`+storyURL+`"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var leaf archive.Bookmark
	require.NoError(t, json.Unmarshal(decodeBody(t, rec)["bookmark"], &leaf))

	rec = env.do(t, http.MethodPost, "/v1/bookmarks", `{"parent_id":"`+leaf.ID+`","title":"Child"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCaptureStatus(t *testing.T) {
	t.Parallel()

	assert.Equal(t, http.StatusServiceUnavailable, captureStatus(capture.ErrCaptureUnavailable))
	assert.Equal(t, http.StatusNotFound, captureStatus(browser.ErrTabNotFound))
	assert.Equal(t, http.StatusGatewayTimeout, captureStatus(context.DeadlineExceeded))
	assert.Equal(t, http.StatusInternalServerError, captureStatus(assert.AnError))
}
