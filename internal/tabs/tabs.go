// Package tabs owns tab lifecycle for the target portal: find-or-create,
// page-ready signalling, in-flight slots and deferred closing. The Tab and
// Driver interfaces decouple the orchestrator and agent from the concrete
// browser backend.
package tabs

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// ErrNoElement is returned by DOM operations when the selector matches
// nothing. Callers treat it as a definite not-found, never as a crash.
var ErrNoElement = errors.New("no element matches selector")

// Tab is one open page in the managed browser.
type Tab interface {
	// ID is the process-local tab identifier sessions are keyed by.
	ID() int

	// URL returns the tab's current location.
	URL(ctx context.Context) (string, error)

	// Navigate loads the URL and returns once the page load completes.
	Navigate(ctx context.Context, url string) error

	// Exists reports whether the selector currently matches an element.
	Exists(ctx context.Context, selector string) (bool, error)

	// Click clicks the first element matching the selector, or returns
	// ErrNoElement.
	Click(ctx context.Context, selector string) error

	// ClickByText clicks the first element matching selector whose text
	// content matches the regular expression pattern. Returns false when
	// no candidate matched.
	ClickByText(ctx context.Context, selector, pattern string) (bool, error)

	// Fill sets the value of the input matching the selector.
	Fill(ctx context.Context, selector, value string) error

	// Close closes the tab.
	Close(ctx context.Context) error
}

// Driver is the browser backend the manager drives.
type Driver interface {
	// FindTab returns an open tab whose URL starts with urlPrefix.
	FindTab(ctx context.Context, urlPrefix string) (Tab, bool, error)

	// CreateTab opens a new tab at the given URL.
	CreateTab(ctx context.Context, url string) (Tab, error)
}

// Manager implements find-or-create over a Driver and tracks open tabs.
type Manager struct {
	driver Driver
	slot   *semaphore.Weighted

	mu   sync.Mutex
	open map[int]Tab
}

// NewManager creates a tab manager. The weighted-1 slot enforces at most
// one in-flight automation run against the target at a time.
func NewManager(driver Driver) *Manager {
	return &Manager{
		driver: driver,
		slot:   semaphore.NewWeighted(1),
		open:   make(map[int]Tab),
	}
}

// TryAcquire claims the single in-flight slot without blocking.
func (m *Manager) TryAcquire() bool {
	return m.slot.TryAcquire(1)
}

// Release frees the in-flight slot.
func (m *Manager) Release() {
	m.slot.Release(1)
}

// FindOrCreate reuses an open tab pointed at the target site, navigating it
// to targetURL, or creates a new one. A failed reuse falls back to creating
// a fresh tab rather than failing the operation.
func (m *Manager) FindOrCreate(ctx context.Context, urlPrefix, targetURL string) (Tab, error) {
	tab, found, err := m.driver.FindTab(ctx, urlPrefix)
	if err != nil {
		log.Printf("⚠️ Tab lookup failed, creating a new tab: %v", err)
		found = false
	}

	if found {
		if err := tab.Navigate(ctx, targetURL); err != nil {
			log.Printf("⚠️ Reused tab navigation failed, creating a new tab: %v", err)
			found = false
		}
	}

	if !found {
		tab, err = m.driver.CreateTab(ctx, targetURL)
		if err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	m.open[tab.ID()] = tab
	m.mu.Unlock()

	return tab, nil
}

// Get returns a tracked tab by id.
func (m *Manager) Get(tabID int) (Tab, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tab, ok := m.open[tabID]
	return tab, ok
}

// CloseAfter closes the tab after a grace delay, so a human watching the
// run can see the result before it disappears.
func (m *Manager) CloseAfter(tabID int, grace time.Duration) {
	m.mu.Lock()
	tab, ok := m.open[tabID]
	if ok {
		delete(m.open, tabID)
	}
	m.mu.Unlock()

	if !ok {
		return
	}

	time.AfterFunc(grace, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := tab.Close(ctx); err != nil {
			log.Printf("⚠️ Failed to close tab %d: %v", tabID, err)
		}
	})
}

// Forget stops tracking a tab without closing it (failure inspection).
func (m *Manager) Forget(tabID int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.open, tabID)
}
