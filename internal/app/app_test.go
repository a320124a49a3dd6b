package app_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/bookmark-archiver/internal/app"
	"github.com/JakeFAU/bookmark-archiver/internal/archive"
	"github.com/JakeFAU/bookmark-archiver/internal/config"
	"github.com/JakeFAU/bookmark-archiver/internal/submit"
)

func testConfig(t *testing.T, archiveOrgURL string) config.Config {
	t.Helper()
	return config.Config{
		Server: config.ServerConfig{Port: 8080},
		Archive: config.ArchiveConfig{
			ArchiveDir:       "Archive",
			Services:         []string{submit.ArchiveOrg},
			BookmarkServices: []string{submit.ArchiveOrg},
			ArchiveBookmarks: true,
			Extension:        "mhtml",
		},
		Guard:     config.GuardConfig{WaitTimeoutSeconds: 1},
		Capture:   config.CaptureConfig{PagePollMs: 10, PageTimeoutSeconds: 1, DownloadPollMs: 10, DownloadTimeoutSeconds: 1},
		Submit:    config.SubmitConfig{TimeoutSeconds: 5, ArchiveOrgURL: archiveOrgURL},
		Status:    config.StatusConfig{Backend: config.BackendMemory},
		Downloads: config.DownloadsConfig{BaseDir: t.TempDir()},
		Events:    config.EventsConfig{QueueDepth: 16, Workers: 2, MaxAttempts: 2},
	}
}

func TestNewServesHealth(t *testing.T) {
	cfg := testConfig(t, "")
	a, err := app.New(context.Background(), cfg, app.Options{Registerer: prometheus.NewRegistry()})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, a.Close(context.Background())) })

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/tabs", strings.NewReader(`{"url":"https://example.com"}`)))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code, "browser is disabled")
}

func TestBookmarkCreatedIsArchivedByWorkers(t *testing.T) {
	var hits atomic.Int32
	archiveOrg := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/save/") {
			hits.Add(1)
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(archiveOrg.Close)

	cfg := testConfig(t, archiveOrg.URL)
	a, err := app.New(context.Background(), cfg, app.Options{Registerer: prometheus.NewRegistry()})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, a.Close(context.Background())) })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		a.RunWorkers(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	rec := httptest.NewRecorder()
	body := `{"parent_id":"1","title":"Story","url":"https://example.com/story"}`
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/bookmarks", strings.NewReader(body)))
	require.Equal(t, http.StatusCreated, rec.Code)

	require.Eventually(t, func() bool {
		rec, err := a.Store().Get(context.Background(), "https://example.com/story")
		return err == nil && rec.State() == archive.StateRemoteOnly
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, int32(1), hits.Load())
}

func TestNewImportsBookmarks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Bookmarks")
	require.NoError(t, os.WriteFile(path, []byte(`{"roots":{
		"bookmark_bar":{"type":"folder","name":"Bookmarks bar","children":[
			{"type":"url","name":"Go","url":"https://go.dev/"}
		]},
		"other":{"type":"folder","name":"Other bookmarks","children":[]}
	}}`), 0o600))

	cfg := testConfig(t, "")
	cfg.Bookmarks.ImportFile = path
	a, err := app.New(context.Background(), cfg, app.Options{Registerer: prometheus.NewRegistry()})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, a.Close(context.Background())) })

	hits, err := a.Bookmarks().Search(context.Background(), "https://go.dev/")
	require.NoError(t, err)
	require.Len(t, hits, 1)
}

func TestNewFailsOnMissingImport(t *testing.T) {
	cfg := testConfig(t, "")
	cfg.Bookmarks.ImportFile = filepath.Join(t.TempDir(), "missing")
	_, err := app.New(context.Background(), cfg, app.Options{Registerer: prometheus.NewRegistry()})
	require.Error(t, err)
}

func TestOpenStoreBackends(t *testing.T) {
	ctx := context.Background()

	cfg := testConfig(t, "")
	cfg.Status = config.StatusConfig{Backend: config.BackendSQLite, Path: filepath.Join(t.TempDir(), "archiver.db")}
	store, closeStore, err := app.OpenStore(ctx, cfg, nil)
	require.NoError(t, err)
	require.NoError(t, store.SetRemote(ctx, "https://example.com", "https://archive.is/abc"))
	require.NoError(t, closeStore())

	store, closeStore, err = app.OpenStore(ctx, cfg, nil)
	require.NoError(t, err)
	rec, err := store.Get(ctx, "https://example.com")
	require.NoError(t, err)
	assert.Equal(t, "https://archive.is/abc", rec.RemoteLink)
	require.NoError(t, closeStore())

	cfg.Status.Backend = "redis"
	_, _, err = app.OpenStore(ctx, cfg, nil)
	require.Error(t, err)
}
