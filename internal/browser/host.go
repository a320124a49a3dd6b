// Package browser is the host tab primitive: a headless Chrome driven by
// chromedp that opens pages, reports their load state and captures them as
// MHTML snapshots.
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/bookmark-archiver/internal/archive"
)

var (
	// ErrDisabled is returned by hosts that cannot open pages.
	ErrDisabled = errors.New("browser: tab host disabled")
	// ErrTabNotFound is returned for unknown tab IDs.
	ErrTabNotFound = errors.New("browser: tab not found")
)

// Config controls the headless browser.
type Config struct {
	// MaxParallel caps open tabs; zero means unlimited.
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
}

// Options carry the collaborators of a Host.
type Options struct {
	IDs    archive.IDGenerator
	Events archive.EventSink
	Logger *zap.Logger
}

// Host implements archive.TabHost on top of one headless Chrome process.
// Every tab is a chromedp target living until CloseTab or Close.
type Host struct {
	cfg     Config
	limiter chan struct{}
	ids     archive.IDGenerator
	events  archive.EventSink
	logger  *zap.Logger

	allocCtx      context.Context
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	mu   sync.RWMutex
	tabs map[string]*tab
}

type tab struct {
	ctx        context.Context
	cancel     context.CancelFunc
	background bool

	mu   sync.RWMutex
	info archive.Tab
}

func (t *tab) snapshot() archive.Tab {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.info
}

// NewChromedp starts the browser allocator. Chrome itself is launched on the
// first OpenTab.
func NewChromedp(cfg Config, opts Options) (*Host, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if opts.IDs == nil {
		return nil, errors.New("browser: id generator is required")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	execOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), execOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	return &Host{
		cfg:           cfg,
		limiter:       limiter,
		ids:           opts.IDs,
		events:        opts.Events,
		logger:        logger,
		allocCtx:      allocCtx,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		tabs:          make(map[string]*tab),
	}, nil
}

// Close shuts every tab and the browser down.
func (h *Host) Close() {
	h.mu.Lock()
	for id, t := range h.tabs {
		t.cancel()
		delete(h.tabs, id)
	}
	h.mu.Unlock()
	h.browserCancel()
	h.allocCancel()
}

// OpenTab opens url in a new tab and starts loading it. Foreground tabs
// publish EventTabComplete once loaded; background tabs never do, their
// opener drives them.
func (h *Host) OpenTab(ctx context.Context, url string, background bool) (archive.Tab, error) {
	if err := h.acquire(ctx); err != nil {
		return archive.Tab{}, err
	}
	id, err := h.ids.NewID()
	if err != nil {
		h.release()
		return archive.Tab{}, fmt.Errorf("tab id: %w", err)
	}
	tabCtx, tabCancel := chromedp.NewContext(h.browserCtx)
	t := &tab{
		ctx:        tabCtx,
		cancel:     tabCancel,
		background: background,
		info:       archive.Tab{ID: id, URL: url, Status: archive.TabLoading},
	}
	h.mu.Lock()
	h.tabs[id] = t
	h.mu.Unlock()

	go h.load(t, url)
	return t.snapshot(), nil
}

func (h *Host) load(t *tab, url string) {
	navCtx, cancel := context.WithTimeout(t.ctx, h.cfg.NavigationTimeout)
	defer cancel()

	var title, location string
	actions := []chromedp.Action{
		h.setupAction(),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Title(&title),
		chromedp.Location(&location),
	}
	if err := chromedp.Run(navCtx, actions...); err != nil {
		h.logger.Warn("page load failed", zap.String("url", url), zap.Error(err))
		return
	}

	t.mu.Lock()
	t.info.Title = title
	if location != "" {
		t.info.URL = location
	}
	t.info.Status = archive.TabComplete
	info := t.info
	t.mu.Unlock()

	if t.background || h.events == nil {
		return
	}
	if err := h.events.Enqueue(t.ctx, archive.Event{Kind: archive.EventTabComplete, Tab: info}); err != nil {
		h.logger.Warn("tab event dropped", zap.String("tab_id", info.ID), zap.Error(err))
	}
}

func (h *Host) setupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if h.cfg.UserAgent == "" {
			return nil
		}
		if err := emulation.SetUserAgentOverride(h.cfg.UserAgent).Do(ctx); err != nil {
			return fmt.Errorf("set user-agent: %w", err)
		}
		return nil
	})
}

// Tab returns the current state of tab id.
func (h *Host) Tab(_ context.Context, id string) (archive.Tab, error) {
	t, err := h.lookup(id)
	if err != nil {
		return archive.Tab{}, err
	}
	return t.snapshot(), nil
}

// FindTab returns an open tab showing url.
func (h *Host) FindTab(_ context.Context, url string) (archive.Tab, bool, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, t := range h.tabs {
		if info := t.snapshot(); info.URL == url {
			return info, true, nil
		}
	}
	return archive.Tab{}, false, nil
}

// CloseTab closes tab id and frees its slot.
func (h *Host) CloseTab(_ context.Context, id string) error {
	h.mu.Lock()
	t, ok := h.tabs[id]
	delete(h.tabs, id)
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrTabNotFound, id)
	}
	t.cancel()
	h.release()
	return nil
}

// Capture serialises the page in tab id as MHTML.
func (h *Host) Capture(ctx context.Context, id string) ([]byte, error) {
	t, err := h.lookup(id)
	if err != nil {
		return nil, err
	}
	runCtx, cancel := context.WithCancel(t.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var snapshot string
	err = chromedp.Run(runCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		data, err := page.CaptureSnapshot().WithFormat(page.CaptureSnapshotFormatMhtml).Do(ctx)
		if err != nil {
			return fmt.Errorf("capture snapshot: %w", err)
		}
		snapshot = data
		return nil
	}))
	if err != nil {
		return nil, fmt.Errorf("chromedp run: %w", err)
	}
	return []byte(snapshot), nil
}

func (h *Host) lookup(id string) (*tab, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	t, ok := h.tabs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTabNotFound, id)
	}
	return t, nil
}

func (h *Host) acquire(ctx context.Context) error {
	if h.limiter == nil {
		return nil
	}
	select {
	case h.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("tab slot wait canceled: %w", ctx.Err())
	}
}

func (h *Host) release() {
	if h.limiter == nil {
		return
	}
	select {
	case <-h.limiter:
	default:
	}
}
