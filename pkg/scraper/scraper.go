// Package scraper reads update listings off a vendor support portal through
// a browser session and downloads release notes or raw update packages.
//
// Control flow is strictly sequential: establish the session, read a
// category's catalog once, then fetch releases one at a time. The browser
// session is the only shared state, and every fetch restores focus to the
// main window before returning so the next operation starts from a known
// place.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bitcrane/portalsync/pkg/logging"
)

// Driver is the browser surface the scraper needs. *browser.Session
// implements it; tests substitute fakes.
type Driver interface {
	Navigate(url string) error
	CurrentURL() string
	PageHTML() (string, error)
	ElementHTML(selector string) (string, error)
	Click(selector string, timeoutMs float64) error
	Handles() ([]string, error)
	ActiveHandle() string
	Activate(handle string) error
	CloseWindow(handle string) error
}

// CookieStore is implemented by drivers that can persist authentication
// cookies across runs. Drivers without it simply log in interactively
// every run.
type CookieStore interface {
	SaveCookies(path string) error
	RestoreCookies(path string) error
}

// Sentinel errors callers branch on.
var (
	// ErrUnknownSection means the requested section does not exist in the
	// category's catalog.
	ErrUnknownSection = errors.New("section not present in catalog")

	// ErrStaleAction means an action ref was used while a different
	// category's page was displayed.
	ErrStaleAction = errors.New("action ref does not belong to the displayed category page")

	// ErrNoNotesWindow means the notes window never opened after the click.
	ErrNoNotesWindow = errors.New("no notes window appeared")

	// ErrAuthExpired means navigation kept redirecting to the login page
	// through every re-authentication attempt.
	ErrAuthExpired = errors.New("still redirected to login page")
)

// Portal and behavior defaults.
const (
	DefaultBaseURL       = "https://support.paloaltonetworks.com"
	DefaultLoginIndexURL = DefaultBaseURL + "/Support/Index"
	DefaultSSOURL        = "https://identity.paloaltonetworks.com/idp/startSSO.ping?PartnerSpId=supportCSP&TargetResource=" + DefaultBaseURL

	// DefaultGridSelector is where the portal renders the update table.
	DefaultGridSelector = "#Grid table tbody"

	DefaultLoginWait        = 60 * time.Second
	DefaultPollInterval     = 2 * time.Second
	DefaultWindowWait       = 10 * time.Second
	DefaultMaxAuthAttempts  = 3
	DefaultMaxClickAttempts = 10
	DefaultClickBackoff     = 250 * time.Millisecond
	DefaultClickTimeoutMs   = 5000.0
)

// Options configures a Scraper. Zero values take the defaults above.
type Options struct {
	// BaseURL is the portal root.
	BaseURL string

	// LoginIndexURL is where unauthenticated navigations land.
	LoginIndexURL string

	// SSOURL starts the interactive login flow.
	SSOURL string

	// DownloadDir receives saved notes pages and native downloads.
	DownloadDir string

	// CookieFile persists authentication cookies across runs.
	// Empty disables persistence.
	CookieFile string

	// GridSelector locates the update grid body on category pages.
	GridSelector string

	// Policy selects what the catalog retains per section.
	Policy CatalogPolicy

	// LoginWait bounds how long to wait for an out-of-band interactive
	// login to complete.
	LoginWait time.Duration

	// PollInterval paces the login and window waits.
	PollInterval time.Duration

	// WindowWait bounds how long to wait for a notes window to open.
	WindowWait time.Duration

	// MaxAuthAttempts bounds login-redirect retries per navigation.
	MaxAuthAttempts int

	// MaxClickAttempts bounds retries of an intercepted click.
	MaxClickAttempts int

	// ClickBackoff is the initial delay between click retries; it doubles
	// per attempt.
	ClickBackoff time.Duration

	// ClickTimeoutMs is the per-attempt click timeout.
	ClickTimeoutMs float64

	// Logger overrides the scraper's own component logger. Used by tests.
	Logger *logging.Logger
}

// Scraper drives one portal session. It is not safe for concurrent use;
// the whole tool is single-threaded by design.
type Scraper struct {
	driver Driver
	log    *logging.Logger

	baseURL       string
	loginIndexURL string
	ssoURL        string
	downloadDir   string
	cookieFile    string
	gridSelector  string
	policy        CatalogPolicy

	loginWait        time.Duration
	pollInterval     time.Duration
	windowWait       time.Duration
	maxAuthAttempts  int
	maxClickAttempts int
	clickBackoff     time.Duration
	clickTimeoutMs   float64

	catalogs map[string]Catalog

	// mainHandle is the canonical window; focus always returns to it.
	mainHandle string

	// onUpdatePage is the category whose page is currently displayed,
	// or "" before the first catalog read.
	onUpdatePage string
}

// New creates a Scraper over driver.
func New(driver Driver, opts Options) *Scraper {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.LoginIndexURL == "" {
		opts.LoginIndexURL = DefaultLoginIndexURL
	}
	if opts.SSOURL == "" {
		opts.SSOURL = DefaultSSOURL
	}
	if opts.GridSelector == "" {
		opts.GridSelector = DefaultGridSelector
	}
	if opts.LoginWait <= 0 {
		opts.LoginWait = DefaultLoginWait
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.WindowWait <= 0 {
		opts.WindowWait = DefaultWindowWait
	}
	if opts.MaxAuthAttempts <= 0 {
		opts.MaxAuthAttempts = DefaultMaxAuthAttempts
	}
	if opts.MaxClickAttempts <= 0 {
		opts.MaxClickAttempts = DefaultMaxClickAttempts
	}
	if opts.ClickBackoff <= 0 {
		opts.ClickBackoff = DefaultClickBackoff
	}
	if opts.ClickTimeoutMs <= 0 {
		opts.ClickTimeoutMs = DefaultClickTimeoutMs
	}
	if opts.Logger == nil {
		opts.Logger, _ = logging.NewLogger("scraper")
	}

	return &Scraper{
		driver:           driver,
		log:              opts.Logger,
		baseURL:          strings.TrimRight(opts.BaseURL, "/"),
		loginIndexURL:    opts.LoginIndexURL,
		ssoURL:           opts.SSOURL,
		downloadDir:      opts.DownloadDir,
		cookieFile:       opts.CookieFile,
		gridSelector:     opts.GridSelector,
		policy:           opts.Policy,
		loginWait:        opts.LoginWait,
		pollInterval:     opts.PollInterval,
		windowWait:       opts.WindowWait,
		maxAuthAttempts:  opts.MaxAuthAttempts,
		maxClickAttempts: opts.MaxClickAttempts,
		clickBackoff:     opts.ClickBackoff,
		clickTimeoutMs:   opts.ClickTimeoutMs,
		catalogs:         make(map[string]Catalog),
	}
}

// updatesURL returns the listing page URL for a category.
func (s *Scraper) updatesURL(category string) string {
	return fmt.Sprintf("%s/Updates/%sUpdates/", s.baseURL, category)
}

// needsLogin reports whether url is one of the unauthenticated pages the
// portal redirects to.
func (s *Scraper) needsLogin(url string) bool {
	if url == "" {
		return false
	}
	return strings.HasPrefix(url, s.loginIndexURL) || strings.HasPrefix(url, s.ssoURL)
}

// EstablishSession loads the portal and makes sure it is authenticated.
// Stored cookies are restored first; if the portal still lands on the login
// page, the SSO flow is opened and the session waits (bounded by LoginWait)
// for the operator to complete the multi-factor login in the browser window.
//
// An elapsed wait is logged but not returned as an error: the catalog
// reader detects the login redirect on its next navigation and retries,
// which is where the bounded failure surfaces.
func (s *Scraper) EstablishSession(ctx context.Context) error {
	if err := s.driver.Navigate(s.baseURL); err != nil {
		return fmt.Errorf("failed to reach portal: %w", err)
	}

	if store, ok := s.driver.(CookieStore); ok && s.cookieFile != "" {
		if err := store.RestoreCookies(s.cookieFile); err != nil {
			s.log.Warnf("could not restore cookies from %s: %v", s.cookieFile, err)
		} else if err := s.driver.Navigate(s.baseURL); err != nil {
			return fmt.Errorf("failed to reload portal with cookies: %w", err)
		}
	}

	if !s.needsLogin(s.driver.CurrentURL()) {
		s.log.Debugf("session already authenticated")
		return nil
	}

	s.log.Infof("cookies expired or do not yet exist, please log in (waiting up to %s)", s.loginWait)
	if err := s.driver.Navigate(s.ssoURL); err != nil {
		return fmt.Errorf("failed to open login flow: %w", err)
	}

	err := WaitFor(ctx, s.loginWait, s.pollInterval, func() (bool, error) {
		return !s.needsLogin(s.driver.CurrentURL()), nil
	})
	switch {
	case errors.Is(err, ErrWaitTimeout):
		s.log.Warnf("login wait of %s elapsed without authentication", s.loginWait)
		return nil
	case err != nil:
		return err
	}

	s.log.Infof("finished logging in")
	if store, ok := s.driver.(CookieStore); ok && s.cookieFile != "" {
		if err := store.SaveCookies(s.cookieFile); err != nil {
			s.log.Warnf("could not save cookies to %s: %v", s.cookieFile, err)
		}
	}
	return nil
}

// showUpdatePage navigates to category's listing page, re-establishing the
// session when the portal bounces the navigation to the login page. After
// MaxAuthAttempts consecutive bounces it gives up with ErrAuthExpired.
func (s *Scraper) showUpdatePage(ctx context.Context, category string) error {
	url := s.updatesURL(category)

	for attempt := 1; ; attempt++ {
		if err := s.driver.Navigate(url); err != nil {
			return fmt.Errorf("failed to open %s updates page: %w", category, err)
		}
		if !s.needsLogin(s.driver.CurrentURL()) {
			break
		}
		if attempt >= s.maxAuthAttempts {
			return fmt.Errorf("%w after %d attempts for %s updates", ErrAuthExpired, attempt, category)
		}

		s.log.Infof("redirected to login opening %s updates, re-establishing session", category)
		if err := s.EstablishSession(ctx); err != nil {
			return err
		}
	}

	s.mainHandle = s.driver.ActiveHandle()
	s.onUpdatePage = category
	return nil
}

// ReadCatalog loads and caches the release catalog for category. Once a
// category has been read, later calls are no-ops and do not navigate.
func (s *Scraper) ReadCatalog(ctx context.Context, category string) error {
	if _, ok := s.catalogs[category]; ok && s.onUpdatePage == category {
		return nil
	}

	if err := s.showUpdatePage(ctx, category); err != nil {
		return err
	}

	if _, ok := s.catalogs[category]; ok {
		// Cached from an earlier read; only the page needed refreshing.
		return nil
	}

	bodyHTML, err := s.driver.ElementHTML(s.gridSelector)
	if err != nil {
		return fmt.Errorf("failed to read %s update grid: %w", category, err)
	}

	catalog, err := ParseGrid(category, s.gridSelector, bodyHTML, s.policy)
	if err != nil {
		return fmt.Errorf("failed to parse %s update grid: %w", category, err)
	}

	s.catalogs[category] = catalog
	s.log.Infof("finished reading %d sections of %s updates", len(catalog), category)
	return nil
}

// Catalog returns the cached catalog for category, if it has been read.
func (s *Scraper) Catalog(category string) (Catalog, bool) {
	catalog, ok := s.catalogs[category]
	return catalog, ok
}

// sectionReleases looks up the cached releases for category/section,
// reading the catalog first if needed.
func (s *Scraper) sectionReleases(ctx context.Context, category, section string) ([]Release, error) {
	if err := s.ReadCatalog(ctx, category); err != nil {
		return nil, err
	}

	releases, ok := s.catalogs[category][section]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrUnknownSection, category, section)
	}
	if len(releases) == 0 {
		return nil, fmt.Errorf("%w: %s/%s has no releases", ErrUnknownSection, category, section)
	}
	return releases, nil
}

// FetchOne downloads the latest release under category/section: its notes
// page when wantNotes is set, the raw update package otherwise.
func (s *Scraper) FetchOne(ctx context.Context, category, section string, wantNotes bool) error {
	s.log.Infof("downloading the latest %s %s from %s", category, fetchKind(wantNotes), section)

	releases, err := s.sectionReleases(ctx, category, section)
	if err != nil {
		return err
	}

	latest, _ := Latest(releases)
	return s.downloadRelease(ctx, category, section, latest, wantNotes)
}

// FetchAll downloads every cached release under category/section. It is
// only meaningful under PolicyHistory; under PolicyLatest the catalog holds
// a single release per section.
func (s *Scraper) FetchAll(ctx context.Context, category, section string, wantNotes bool) error {
	s.log.Infof("downloading all %s %s from %s", category, fetchKind(wantNotes), section)

	releases, err := s.sectionReleases(ctx, category, section)
	if err != nil {
		return err
	}

	for _, release := range releases {
		if err := s.downloadRelease(ctx, category, section, release, wantNotes); err != nil {
			return err
		}
	}
	return nil
}

// downloadRelease performs the download sequence for one release: click the
// action control (retrying through overlay interception), and for notes
// switch to the window that opened, save its rendered HTML, close it, and
// return focus to the main window. Raw downloads are left to the browser's
// native download handling and the shutdown drain.
func (s *Scraper) downloadRelease(ctx context.Context, category, section string, release Release, wantNotes bool) error {
	s.log.Debugf("downloading %s %s %s version %s", category, section, fetchKind(wantNotes), release.Version)

	ref := release.Download
	if wantNotes {
		ref = release.Notes
	}
	if !ref.Valid() {
		return fmt.Errorf("release %s has no %s control", release.Version, fetchKind(wantNotes))
	}
	if ref.Category != s.onUpdatePage {
		return fmt.Errorf("%w: ref is for %s, displaying %s", ErrStaleAction, ref.Category, s.onUpdatePage)
	}

	// Whatever happens below, the next operation starts from the main window.
	defer func() {
		if s.mainHandle != "" && s.driver.ActiveHandle() != s.mainHandle {
			_ = s.driver.Activate(s.mainHandle)
		}
	}()

	if err := s.clickWithRetry(ctx, ref.Selector); err != nil {
		return fmt.Errorf("failed to trigger %s for %s/%s %s: %w",
			fetchKind(wantNotes), category, section, release.Version, err)
	}

	if !wantNotes {
		// The native download is in flight; DrainDownloads waits for it
		// before the session closes.
		return nil
	}

	var notesHandle string
	err := WaitFor(ctx, s.windowWait, s.pollInterval, func() (bool, error) {
		handles, err := s.driver.Handles()
		if err != nil {
			return false, err
		}
		for _, handle := range handles {
			if handle != s.mainHandle {
				notesHandle = handle
				return true, nil
			}
		}
		return false, nil
	})
	if errors.Is(err, ErrWaitTimeout) {
		return fmt.Errorf("%w for %s/%s %s", ErrNoNotesWindow, category, section, release.Version)
	}
	if err != nil {
		return err
	}

	if err := s.driver.Activate(notesHandle); err != nil {
		return fmt.Errorf("failed to switch to notes window: %w", err)
	}

	html, err := s.driver.PageHTML()
	if err != nil {
		return fmt.Errorf("failed to read notes page: %w", err)
	}

	name := ReleaseFileName(category, section, release.Version)
	if err := os.WriteFile(filepath.Join(s.downloadDir, name), []byte(html), 0644); err != nil {
		return fmt.Errorf("failed to save notes: %w", err)
	}
	s.log.Debugf("saved %s", name)

	if err := s.driver.CloseWindow(notesHandle); err != nil {
		return fmt.Errorf("failed to close notes window: %w", err)
	}
	if err := s.driver.Activate(s.mainHandle); err != nil {
		return fmt.Errorf("failed to return to main window: %w", err)
	}
	return nil
}

// ReleaseFileName returns the on-disk name for a saved notes page.
func ReleaseFileName(category, section, version string) string {
	return fmt.Sprintf("Updates_%s_%s_%s.html", category, section, version)
}

func fetchKind(wantNotes bool) string {
	if wantNotes {
		return "release notes"
	}
	return "raw update"
}
