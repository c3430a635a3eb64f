package browser

import (
	"context"
	"fmt"
	"sync"

	"github.com/playwright-community/playwright-go"

	"github.com/bitcrane/portalsync/pkg/logging"
)

// Session is a single logged-in portal browsing session: one browser, one
// context, and however many windows the portal opens. Windows are exposed
// as opaque string handles so callers never touch Playwright pages directly.
type Session struct {
	browser playwright.Browser
	context playwright.BrowserContext
	log     *logging.Logger

	mu       sync.Mutex
	pages    map[string]playwright.Page
	handleOf map[playwright.Page]string
	order    []string
	active   string
	nextID   int

	downloadDir string
	timeout     float64

	// downloads tracks in-flight native downloads so the session is not
	// torn down mid-transfer.
	downloads sync.WaitGroup
}

// register assigns a handle to a page and starts tracking it. Pages opened
// by the context (e.g. notes windows) arrive here via the OnPage event.
func (s *Session) register(page playwright.Page) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if handle, ok := s.handleOf[page]; ok {
		return handle
	}

	s.nextID++
	handle := fmt.Sprintf("window-%d", s.nextID)
	s.pages[handle] = page
	s.handleOf[page] = handle
	s.order = append(s.order, handle)

	if s.downloadDir != "" {
		dir := s.downloadDir
		page.OnDownload(func(download playwright.Download) {
			s.downloads.Add(1)
			// SaveAs blocks until the transfer completes; keep it off
			// the event dispatch goroutine.
			go s.completeDownload(dir, download)
		})
	}

	page.OnClose(func(closed playwright.Page) {
		s.forget(closed)
	})

	return handle
}

// forget drops a closed page from the handle table.
func (s *Session) forget(page playwright.Page) {
	s.mu.Lock()
	defer s.mu.Unlock()

	handle, ok := s.handleOf[page]
	if !ok {
		return
	}
	delete(s.pages, handle)
	delete(s.handleOf, page)
	for i, h := range s.order {
		if h == handle {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	if s.active == handle {
		s.active = ""
	}
}

// completeDownload persists one native download and retires it from the
// in-flight set. Playwright's download artifacts are GUID-named until saved,
// so a failure here means the product file was never written; it has to be
// surfaced in the run log.
func (s *Session) completeDownload(dir string, download downloadArtifact) {
	defer s.downloads.Done()
	if err := saveDownload(dir, download); err != nil {
		s.log.Errorf("download lost: %v", err)
	}
}

// WaitDownloads blocks until every in-flight native download has been
// persisted or ctx is cancelled. Call this before closing the session;
// closing the browser aborts any transfer still running.
func (s *Session) WaitDownloads(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.downloads.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// activePage returns the page behind the active handle.
func (s *Session) activePage() (playwright.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active == "" {
		return nil, fmt.Errorf("no active window")
	}
	page, ok := s.pages[s.active]
	if !ok {
		return nil, fmt.Errorf("active window %q no longer exists", s.active)
	}
	return page, nil
}

// Navigate loads url in the active window and waits for the load event.
func (s *Session) Navigate(url string) error {
	page, err := s.activePage()
	if err != nil {
		return err
	}

	waitUntil := playwright.WaitUntilStateLoad
	if _, err := page.Goto(url, playwright.PageGotoOptions{WaitUntil: waitUntil}); err != nil {
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	return nil
}

// CurrentURL returns the URL of the active window, or "" if there is none.
func (s *Session) CurrentURL() string {
	page, err := s.activePage()
	if err != nil {
		return ""
	}
	return page.URL()
}

// PageHTML returns the full rendered HTML of the active window.
func (s *Session) PageHTML() (string, error) {
	page, err := s.activePage()
	if err != nil {
		return "", err
	}
	content, err := page.Content()
	if err != nil {
		return "", fmt.Errorf("failed to read page source: %w", err)
	}
	return content, nil
}

// ElementHTML returns the inner HTML of the first element matching selector
// in the active window.
func (s *Session) ElementHTML(selector string) (string, error) {
	page, err := s.activePage()
	if err != nil {
		return "", err
	}

	element, err := page.QuerySelector(selector)
	if err != nil {
		return "", fmt.Errorf("selector query failed: %w", err)
	}
	if element == nil {
		return "", fmt.Errorf("no element found matching selector: %s", selector)
	}

	html, err := element.InnerHTML()
	if err != nil {
		return "", fmt.Errorf("failed to read element HTML: %w", err)
	}
	return html, nil
}

// Click clicks the first element matching selector in the active window.
// A timeout of 0 uses the session default.
func (s *Session) Click(selector string, timeoutMs float64) error {
	page, err := s.activePage()
	if err != nil {
		return err
	}

	opts := playwright.PageClickOptions{}
	if timeoutMs > 0 {
		opts.Timeout = &timeoutMs
	}
	if err := page.Click(selector, opts); err != nil {
		return fmt.Errorf("click failed: %w", err)
	}
	return nil
}

// Handles returns the open window handles in the order they were opened.
func (s *Session) Handles() ([]string, error) {
	// Sweep the context for pages that appeared without an OnPage event
	// (defensively cheap; normally a no-op).
	for _, page := range s.context.Pages() {
		s.register(page)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	handles := make([]string, len(s.order))
	copy(handles, s.order)
	return handles, nil
}

// ActiveHandle returns the handle of the currently active window.
func (s *Session) ActiveHandle() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Activate switches the active window to handle and brings it to the front.
func (s *Session) Activate(handle string) error {
	s.mu.Lock()
	page, ok := s.pages[handle]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("window %q not found", handle)
	}

	if err := page.BringToFront(); err != nil {
		return fmt.Errorf("failed to focus window %q: %w", handle, err)
	}
	if err := page.WaitForLoadState(); err != nil {
		return fmt.Errorf("window %q did not finish loading: %w", handle, err)
	}

	s.mu.Lock()
	s.active = handle
	s.mu.Unlock()
	return nil
}

// CloseWindow closes the window behind handle. Closing the active window
// leaves the session without an active handle until Activate is called.
func (s *Session) CloseWindow(handle string) error {
	s.mu.Lock()
	page, ok := s.pages[handle]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("window %q not found", handle)
	}

	if err := page.Close(); err != nil {
		return fmt.Errorf("failed to close window %q: %w", handle, err)
	}
	s.forget(page)
	return nil
}

// Close tears down all windows, the context, and the browser.
func (s *Session) Close() error {
	s.mu.Lock()
	pages := make([]playwright.Page, 0, len(s.pages))
	for _, page := range s.pages {
		pages = append(pages, page)
	}
	s.pages = make(map[string]playwright.Page)
	s.handleOf = make(map[playwright.Page]string)
	s.order = nil
	s.active = ""
	s.mu.Unlock()

	for _, page := range pages {
		_ = page.Close() // Ignore errors, continue cleanup
	}
	_ = s.context.Close() // Ignore errors, continue cleanup
	if err := s.browser.Close(); err != nil {
		return fmt.Errorf("failed to close browser: %w", err)
	}
	return nil
}
