// Package app wires the archiver's long-lived services together and owns
// their lifecycle: the status store, host bookmark tree and tabs, capture
// and reconcile engine, notifier hub, event workers and HTTP surface.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/bookmark-archiver/internal/api"
	"github.com/JakeFAU/bookmark-archiver/internal/archive"
	"github.com/JakeFAU/bookmark-archiver/internal/bookmarks"
	"github.com/JakeFAU/bookmark-archiver/internal/browser"
	"github.com/JakeFAU/bookmark-archiver/internal/capture"
	"github.com/JakeFAU/bookmark-archiver/internal/clock/system"
	"github.com/JakeFAU/bookmark-archiver/internal/config"
	"github.com/JakeFAU/bookmark-archiver/internal/dispatcher"
	"github.com/JakeFAU/bookmark-archiver/internal/folderpath"
	"github.com/JakeFAU/bookmark-archiver/internal/guard"
	"github.com/JakeFAU/bookmark-archiver/internal/id/uuid"
	"github.com/JakeFAU/bookmark-archiver/internal/metrics"
	"github.com/JakeFAU/bookmark-archiver/internal/progress"
	"github.com/JakeFAU/bookmark-archiver/internal/progress/sinks"
	memorypublisher "github.com/JakeFAU/bookmark-archiver/internal/publisher/memory"
	pubsubpublisher "github.com/JakeFAU/bookmark-archiver/internal/publisher/pubsub"
	queueMemory "github.com/JakeFAU/bookmark-archiver/internal/queue/memory"
	"github.com/JakeFAU/bookmark-archiver/internal/reconcile"
	"github.com/JakeFAU/bookmark-archiver/internal/status"
	"github.com/JakeFAU/bookmark-archiver/internal/storage/gcs"
	"github.com/JakeFAU/bookmark-archiver/internal/storage/local"
	"github.com/JakeFAU/bookmark-archiver/internal/storage/memory"
	"github.com/JakeFAU/bookmark-archiver/internal/storage/postgres"
	"github.com/JakeFAU/bookmark-archiver/internal/storage/sqlite"
	"github.com/JakeFAU/bookmark-archiver/internal/submit"
	"github.com/JakeFAU/bookmark-archiver/internal/telemetry"
	"github.com/JakeFAU/bookmark-archiver/internal/worker"
)

const (
	shutdownTimeout     = 10 * time.Second
	memoryNotifications = 512
)

// Options carry process-level collaborators.
type Options struct {
	Logger *zap.Logger
	// Registerer receives the notifier collectors; defaults to the global
	// Prometheus registry.
	Registerer prometheus.Registerer
}

// App holds every service of a running archiver.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	store      *status.Store
	tree       *bookmarks.Tree
	queue      *queueMemory.Queue
	hub        *progress.Hub
	badges     *sinks.BadgeSink
	capture    *capture.Dispatcher
	reconciler *reconcile.Reconciler
	dispatch   *dispatcher.Dispatcher
	server     *api.Server

	closers []func(context.Context) error
}

// OpenStore opens the configured KV backend and builds the status store on
// top of it, running the settings migration. The returned func closes the
// backend.
func OpenStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (*status.Store, func() error, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var (
		kv      archive.KV
		closeKV = func() error { return nil }
	)
	switch cfg.Status.Backend {
	case config.BackendMemory:
		kv = memory.NewKV()
	case config.BackendSQLite:
		db, err := sqlite.Open(ctx, sqlite.Config{Path: cfg.Status.Path, Table: cfg.Status.Table})
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite status store: %w", err)
		}
		kv, closeKV = db, db.Close
	case config.BackendPostgres:
		db, err := postgres.Open(ctx, postgres.Config{DSN: cfg.Status.DSN, Table: cfg.Status.Table})
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres status store: %w", err)
		}
		kv = db
		closeKV = func() error {
			db.Close()
			return nil
		}
	default:
		return nil, nil, fmt.Errorf("unknown status backend %q", cfg.Status.Backend)
	}
	logger.Info("status store opened", zap.String("backend", cfg.Status.Backend))

	store, err := status.New(kv, cfg.Archive.Settings(), logger.Named("status"))
	if err != nil {
		_ = closeKV()
		return nil, nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = closeKV()
		return nil, nil, err
	}
	return store, closeKV, nil
}

// New builds every service. Partially built services are released when
// construction fails.
func New(ctx context.Context, cfg config.Config, opts Options) (_ *App, err error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()

	a := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			if closeErr := a.Close(context.Background()); closeErr != nil {
				logger.Warn("release partially built app", zap.Error(closeErr))
			}
		}
	}()

	shutdownTracing, err := telemetry.InitTracerProvider(ctx, cfg.Telemetry, logger.Named("trace"))
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	a.onClose(func(ctx context.Context) error { return shutdownTracing(ctx) })

	store, closeStore, err := OpenStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.store = store
	a.onClose(func(context.Context) error { return closeStore() })

	ids := uuid.NewUUIDGenerator()
	clock := system.New()
	a.queue = queueMemory.NewQueue(cfg.Events.QueueDepth)

	a.tree = bookmarks.New(bookmarks.Options{Events: a.queue, Clock: clock, Logger: logger.Named("bookmarks")})
	if path := cfg.Bookmarks.ImportFile; path != "" {
		if err := importBookmarks(a.tree, path, logger); err != nil {
			return nil, err
		}
	}

	var tabs archive.TabHost
	apiTabs := archive.TabHost(browser.NewNoop())
	if cfg.Browser.Enabled {
		host, err := browser.NewChromedp(browser.Config{
			MaxParallel:       cfg.Browser.MaxParallel,
			UserAgent:         cfg.Browser.UserAgent,
			NavigationTimeout: cfg.Browser.NavTimeout(),
		}, browser.Options{IDs: ids, Events: a.queue, Logger: logger.Named("browser")})
		if err != nil {
			return nil, fmt.Errorf("start browser: %w", err)
		}
		a.onClose(func(context.Context) error {
			host.Close()
			return nil
		})
		tabs, apiTabs = host, host
	} else {
		logger.Info("browser disabled; local captures are unavailable")
	}

	downloads, err := local.NewDownloader(local.Config{BaseDir: cfg.Downloads.BaseDir}, ids, logger.Named("downloads"))
	if err != nil {
		return nil, fmt.Errorf("prepare downloads: %w", err)
	}

	mirror, err := a.openMirror(ctx)
	if err != nil {
		return nil, err
	}

	publisher, topic, err := a.openPublisher(ctx)
	if err != nil {
		return nil, err
	}

	promSink, err := sinks.NewPrometheusSink(opts.Registerer)
	if err != nil {
		return nil, err
	}
	a.badges = sinks.NewBadgeSink()
	a.hub = progress.NewHub(progress.Config{
		Clock:  clock,
		IDs:    ids,
		Logger: logger.Named("progress"),
	},
		sinks.NewLogSink(logger.Named("notifier")),
		promSink,
		a.badges,
		sinks.NewPublisherSink(publisher, topic, logger.Named("notifier")),
	)

	g := guard.New(guard.Config{WaitTimeout: cfg.Guard.WaitTimeout(), Logger: logger.Named("guard")})
	submitter := submit.New(submit.Config{
		UserAgent:      cfg.Submit.UserAgent,
		Timeout:        cfg.Submit.Timeout(),
		RatePerSecond:  cfg.Submit.RatePerSecond,
		Burst:          cfg.Submit.Burst,
		ArchiveIsURL:   cfg.Submit.ArchiveIsURL,
		ArchiveOrgURL:  cfg.Submit.ArchiveOrgURL,
		WebCitationURL: cfg.Submit.WebCitationURL,
		Logger:         logger.Named("submit"),
	})

	var downloader archive.Downloader = downloads
	a.capture, err = capture.New(capture.Config{
		PagePoll:        cfg.Capture.PagePoll(),
		PageTimeout:     cfg.Capture.PageTimeout(),
		DownloadPoll:    cfg.Capture.DownloadPoll(),
		DownloadTimeout: cfg.Capture.DownloadTimeout(),
		Extension:       cfg.Archive.Extension,
		MirrorPrefix:    cfg.Capture.MirrorPrefix,
	}, capture.Deps{
		Store:     store,
		Guard:     g,
		Paths:     folderpath.New(a.tree),
		Submitter: submitter,
		Tabs:      tabs,
		Downloads: downloader,
		Mirror:    mirror,
		Emitter:   a.hub,
		Logger:    logger.Named("capture"),
	})
	if err != nil {
		return nil, err
	}

	a.reconciler, err = reconcile.New(reconcile.Deps{
		Store:     store,
		Guard:     g,
		Bookmarks: a.tree,
		Capture:   a.capture,
		Tabs:      tabs,
		Downloads: downloader,
		Emitter:   a.hub,
		Logger:    logger.Named("reconcile"),
	})
	if err != nil {
		return nil, err
	}

	workers := make([]*worker.Worker, 0, cfg.Events.Workers)
	for i := 0; i < cfg.Events.Workers; i++ {
		workers = append(workers, worker.New(a.queue, a.reconciler, worker.Config{
			MaxAttempts: cfg.Events.MaxAttempts,
			RetryDelay:  cfg.Guard.Backoff(),
		}, logger.Named("worker").With(zap.Int("index", i))))
	}
	a.dispatch = dispatcher.New(a.queue, workers)

	a.server = api.NewServer(api.Deps{
		Store:     store,
		Capture:   a.capture,
		Bookmarks: a.tree,
		Tabs:      apiTabs,
		Badges:    a.badges,
		Services:  submitter,
	}, cfg, logger.Named("api"))

	logger.Info("archiver services initialized",
		zap.Bool("browser", cfg.Browser.Enabled),
		zap.Bool("mirror", mirror != nil),
		zap.Int("workers", cfg.Events.Workers),
	)
	return a, nil
}

func importBookmarks(tree *bookmarks.Tree, path string, logger *zap.Logger) error {
	f, err := os.Open(path) //nolint:gosec // path comes from operator config
	if err != nil {
		return fmt.Errorf("open bookmarks file: %w", err)
	}
	defer func() { _ = f.Close() }()
	n, err := tree.LoadChromeJSON(f)
	if err != nil {
		return fmt.Errorf("import bookmarks: %w", err)
	}
	logger.Info("bookmarks imported", zap.String("path", path), zap.Int("nodes", n))
	return nil
}

func (a *App) openMirror(ctx context.Context) (archive.BlobStore, error) {
	switch {
	case a.cfg.Mirror.GCSBucket != "":
		store, client, err := gcs.Open(ctx, gcs.Config{Bucket: a.cfg.Mirror.GCSBucket}, a.logger)
		if err != nil {
			return nil, fmt.Errorf("open snapshot mirror: %w", err)
		}
		a.onClose(func(context.Context) error { return client.Close() })
		a.logger.Info("mirroring snapshots to gcs", zap.String("bucket", a.cfg.Mirror.GCSBucket))
		return store, nil
	case a.cfg.Mirror.LocalDir != "":
		store, err := local.New(local.Config{BaseDir: a.cfg.Mirror.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("open snapshot mirror: %w", err)
		}
		return store, nil
	default:
		return nil, nil
	}
}

func (a *App) openPublisher(ctx context.Context) (archive.Publisher, string, error) {
	if a.cfg.PubSub.TopicName == "" {
		return memorypublisher.New(memoryNotifications), "archive-events", nil
	}
	client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, "", fmt.Errorf("create pubsub client: %w", err)
	}
	pub := pubsubpublisher.New(client, a.cfg.PubSub.TopicName)
	a.onClose(func(context.Context) error {
		pub.Stop()
		return client.Close()
	})
	return pub, a.cfg.PubSub.TopicName, nil
}

func (a *App) onClose(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

// Handler exposes the HTTP surface.
func (a *App) Handler() http.Handler {
	return a.server.Handler()
}

// Store exposes the status store.
func (a *App) Store() *status.Store {
	return a.store
}

// Bookmarks exposes the host bookmark tree.
func (a *App) Bookmarks() *bookmarks.Tree {
	return a.tree
}

// Badges exposes the badge table.
func (a *App) Badges() *sinks.BadgeSink {
	return a.badges
}

// RunWorkers consumes host events until ctx ends or the queue closes.
func (a *App) RunWorkers(ctx context.Context) {
	a.dispatch.Run(ctx)
}

// Run serves HTTP and processes host events until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	workersDone := make(chan struct{})
	go func() {
		defer close(workersDone)
		a.logger.Info("event workers started")
		a.RunWorkers(ctx)
	}()

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err, ok := <-serveErr:
		if ok {
			runErr = fmt.Errorf("http server: %w", err)
		}
	}
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	a.queue.Close()
	<-workersDone
	return runErr
}

// Close releases every service in reverse construction order.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.queue != nil {
		a.queue.Close()
	}
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close notifier: %w", err))
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
