package browser

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/JakeFAU/bookmark-archiver/internal/archive"
)

// Page is the scripted content of a URL served by Memory.
type Page struct {
	Title string
	Body  []byte
}

// Memory is an in-process tab host over scripted pages. Tabs stay loading
// until Complete is called unless auto-complete is on.
type Memory struct {
	mu           sync.Mutex
	pages        map[string]Page
	tabs         map[string]*memoryTab
	next         int
	autoComplete bool
	captureErr   error
	captures     map[string]int
	opened       int
	closed       int
	events       archive.EventSink
}

type memoryTab struct {
	info       archive.Tab
	background bool
}

// NewMemory returns an empty host. events may be nil.
func NewMemory(events archive.EventSink) *Memory {
	return &Memory{
		pages:    make(map[string]Page),
		tabs:     make(map[string]*memoryTab),
		captures: make(map[string]int),
		events:   events,
	}
}

// AddPage scripts the title and snapshot body served for url.
func (m *Memory) AddPage(url string, page Page) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pages[url] = page
}

// SetAutoComplete makes new tabs load instantly.
func (m *Memory) SetAutoComplete(on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.autoComplete = on
}

// FailCaptures makes every Capture return err until reset with nil.
func (m *Memory) FailCaptures(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.captureErr = err
}

// Captures returns how many snapshots of url were taken.
func (m *Memory) Captures(url string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.captures[url]
}

// Counts returns the number of tabs opened and closed so far.
func (m *Memory) Counts() (opened, closed int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opened, m.closed
}

// OpenTab opens url in a new tab.
func (m *Memory) OpenTab(ctx context.Context, url string, background bool) (archive.Tab, error) {
	m.mu.Lock()
	m.next++
	m.opened++
	t := &memoryTab{
		info:       archive.Tab{ID: strconv.Itoa(m.next), URL: url, Status: archive.TabLoading},
		background: background,
	}
	m.tabs[t.info.ID] = t
	auto := m.autoComplete
	m.mu.Unlock()

	if auto {
		if err := m.Complete(ctx, t.info.ID); err != nil {
			return archive.Tab{}, err
		}
	}
	return m.Tab(ctx, t.info.ID)
}

// Complete finishes loading tab id and publishes EventTabComplete for
// foreground tabs.
func (m *Memory) Complete(ctx context.Context, id string) error {
	m.mu.Lock()
	t, ok := m.tabs[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTabNotFound, id)
	}
	t.info.Status = archive.TabComplete
	t.info.Title = m.pages[t.info.URL].Title
	info, background := t.info, t.background
	m.mu.Unlock()

	if background || m.events == nil {
		return nil
	}
	return m.events.Enqueue(ctx, archive.Event{Kind: archive.EventTabComplete, Tab: info})
}

// Tab returns the state of tab id.
func (m *Memory) Tab(_ context.Context, id string) (archive.Tab, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tabs[id]
	if !ok {
		return archive.Tab{}, fmt.Errorf("%w: %s", ErrTabNotFound, id)
	}
	return t.info, nil
}

// FindTab returns an open tab showing url.
func (m *Memory) FindTab(_ context.Context, url string) (archive.Tab, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tabs {
		if t.info.URL == url {
			return t.info, true, nil
		}
	}
	return archive.Tab{}, false, nil
}

// CloseTab closes tab id.
func (m *Memory) CloseTab(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tabs[id]; !ok {
		return fmt.Errorf("%w: %s", ErrTabNotFound, id)
	}
	delete(m.tabs, id)
	m.closed++
	return nil
}

// Capture returns the scripted body of the tab's page.
func (m *Memory) Capture(_ context.Context, id string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tabs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTabNotFound, id)
	}
	if m.captureErr != nil {
		return nil, m.captureErr
	}
	m.captures[t.info.URL]++
	if body := m.pages[t.info.URL].Body; body != nil {
		return append([]byte(nil), body...), nil
	}
	return []byte("MIME-Version: 1.0\r\nSnapshot-Content-Location: " + t.info.URL + "\r\n"), nil
}
