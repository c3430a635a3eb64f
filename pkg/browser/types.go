package browser

import "github.com/bitcrane/portalsync/pkg/logging"

// Options configures the portal browser session.
type Options struct {
	// BinaryPath optionally points at a specific Chromium binary.
	// Empty means the Playwright-managed browser.
	BinaryPath string

	// Headless controls whether the browser runs without a visible window.
	// Interactive portal logins need a visible window.
	Headless bool

	// DownloadDir is where native downloads are saved.
	DownloadDir string

	// Viewport sets the initial viewport size.
	Viewport *Viewport

	// Timeout sets the default timeout for page operations (in milliseconds).
	Timeout float64

	// Logger overrides the session's own component logger. Used by tests.
	Logger *logging.Logger
}

// Viewport represents the browser viewport dimensions.
type Viewport struct {
	Width  int
	Height int
}

// Default values for session options.
const (
	DefaultTimeout        = 30000.0 // 30 seconds in milliseconds
	DefaultViewportWidth  = 1280
	DefaultViewportHeight = 720
)
