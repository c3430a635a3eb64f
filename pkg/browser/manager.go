package browser

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/playwright-community/playwright-go"

	"github.com/bitcrane/portalsync/pkg/logging"
)

// Manager owns the Playwright runtime. The tool drives exactly one portal
// session at a time, so the manager's job is the driver lifecycle: install,
// run, launch, stop.
type Manager struct {
	playwright  *playwright.Playwright
	initialized bool
}

// NewManager creates a new browser manager.
func NewManager() *Manager {
	return &Manager{}
}

// Initialize installs (if needed) and starts the Playwright driver.
// This must be called before opening a session.
func (m *Manager) Initialize() error {
	if m.initialized {
		return nil
	}

	// Discard driver output so install progress does not pollute the CLI.
	opts := &playwright.RunOptions{
		Verbose: false,
		Stdout:  io.Discard,
		Stderr:  io.Discard,
	}

	if err := playwright.Install(opts); err != nil {
		return fmt.Errorf("failed to install playwright: %w", err)
	}

	pw, err := playwright.Run(opts)
	if err != nil {
		return fmt.Errorf("failed to start playwright: %w", err)
	}

	m.playwright = pw
	m.initialized = true
	return nil
}

// OpenSession launches a browser and returns a session wrapping it.
func (m *Manager) OpenSession(opts Options) (*Session, error) {
	if !m.initialized {
		return nil, fmt.Errorf("browser manager not initialized")
	}

	if opts.Viewport == nil {
		opts.Viewport = &Viewport{
			Width:  DefaultViewportWidth,
			Height: DefaultViewportHeight,
		}
	}
	if opts.Timeout == 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger, _ = logging.NewLogger("browser")
	}

	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless: &opts.Headless,
	}
	if opts.BinaryPath != "" {
		launchOpts.ExecutablePath = &opts.BinaryPath
	}
	if opts.DownloadDir != "" {
		launchOpts.DownloadsPath = &opts.DownloadDir
	}
	browser, err := m.playwright.Chromium.Launch(launchOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	acceptDownloads := true
	contextOpts := playwright.BrowserNewContextOptions{
		AcceptDownloads: &acceptDownloads,
		Viewport: &playwright.Size{
			Width:  opts.Viewport.Width,
			Height: opts.Viewport.Height,
		},
	}
	context, err := browser.NewContext(contextOpts)
	if err != nil {
		browser.Close()
		return nil, fmt.Errorf("failed to create context: %w", err)
	}

	session := &Session{
		browser:     browser,
		context:     context,
		log:         opts.Logger,
		pages:       make(map[string]playwright.Page),
		handleOf:    make(map[playwright.Page]string),
		downloadDir: opts.DownloadDir,
		timeout:     opts.Timeout,
	}

	// Track every page the context opens, including notes windows spawned
	// by clicks, so they show up as window handles.
	context.OnPage(func(page playwright.Page) {
		session.register(page)
	})

	page, err := context.NewPage()
	if err != nil {
		context.Close()
		browser.Close()
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	page.SetDefaultTimeout(opts.Timeout)

	handle := session.register(page)
	session.mu.Lock()
	session.active = handle
	session.mu.Unlock()

	return session, nil
}

// Shutdown stops the Playwright driver. Sessions must be closed first.
func (m *Manager) Shutdown() error {
	if !m.initialized || m.playwright == nil {
		return nil
	}
	if err := m.playwright.Stop(); err != nil {
		return fmt.Errorf("failed to stop playwright: %w", err)
	}
	m.initialized = false
	return nil
}

// downloadArtifact is the slice of playwright.Download that saving needs.
type downloadArtifact interface {
	SuggestedFilename() string
	URL() string
	SaveAs(path string) error
}

// saveDownload persists a native download under dir with its suggested
// filename. SaveAs blocks until the transfer completes.
func saveDownload(dir string, download downloadArtifact) error {
	name := download.SuggestedFilename()
	if name == "" {
		name = filepath.Base(download.URL())
	}
	if err := download.SaveAs(filepath.Join(dir, name)); err != nil {
		return fmt.Errorf("failed to save download %q: %w", name, err)
	}
	return nil
}
