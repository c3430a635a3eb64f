package scraper

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitcrane/portalsync/pkg/logging"
)

// fakeDriver implements Driver in memory. One handle ("main") exists up
// front; clicks optionally open notes windows.
type fakeDriver struct {
	loginURL        string
	redirectToLogin int

	url         string
	navigations []string

	gridHTML string

	clicks      []string
	clickErrs   []error
	openOnClick bool
	notesHTML   string
	nextNotes   int

	handleList  []string
	active      string
	activations []string
	closed      []string
}

func newFakeDriver(gridHTML string) *fakeDriver {
	return &fakeDriver{
		loginURL:   "https://portal.test/login",
		gridHTML:   gridHTML,
		notesHTML:  "<html><body>release notes</body></html>",
		handleList: []string{"main"},
		active:     "main",
	}
}

func (d *fakeDriver) Navigate(url string) error {
	d.navigations = append(d.navigations, url)
	if d.redirectToLogin > 0 {
		d.redirectToLogin--
		d.url = d.loginURL
		return nil
	}
	d.url = url
	return nil
}

func (d *fakeDriver) CurrentURL() string { return d.url }

func (d *fakeDriver) PageHTML() (string, error) { return d.notesHTML, nil }

func (d *fakeDriver) ElementHTML(string) (string, error) { return d.gridHTML, nil }

func (d *fakeDriver) Click(selector string, _ float64) error {
	d.clicks = append(d.clicks, selector)
	if len(d.clickErrs) > 0 {
		err := d.clickErrs[0]
		d.clickErrs = d.clickErrs[1:]
		if err != nil {
			return err
		}
	}
	if d.openOnClick {
		d.nextNotes++
		d.handleList = append(d.handleList, fmt.Sprintf("notes-%d", d.nextNotes))
	}
	return nil
}

func (d *fakeDriver) Handles() ([]string, error) {
	return append([]string(nil), d.handleList...), nil
}

func (d *fakeDriver) ActiveHandle() string { return d.active }

func (d *fakeDriver) Activate(handle string) error {
	for _, h := range d.handleList {
		if h == handle {
			d.active = handle
			d.activations = append(d.activations, handle)
			return nil
		}
	}
	return fmt.Errorf("window %q not found", handle)
}

func (d *fakeDriver) CloseWindow(handle string) error {
	for i, h := range d.handleList {
		if h == handle {
			d.handleList = append(d.handleList[:i], d.handleList[i+1:]...)
			d.closed = append(d.closed, handle)
			if d.active == handle {
				d.active = ""
			}
			return nil
		}
	}
	return fmt.Errorf("window %q not found", handle)
}

func newTestScraper(t *testing.T, driver *fakeDriver, policy CatalogPolicy) *Scraper {
	t.Helper()
	return New(driver, Options{
		BaseURL:          "https://portal.test",
		LoginIndexURL:    "https://portal.test/login",
		SSOURL:           "https://portal.test/sso",
		DownloadDir:      t.TempDir(),
		Policy:           policy,
		LoginWait:        50 * time.Millisecond,
		PollInterval:     5 * time.Millisecond,
		WindowWait:       100 * time.Millisecond,
		MaxClickAttempts: 3,
		ClickBackoff:     time.Millisecond,
		Logger:           logging.Nop(),
	})
}

func TestReadCatalog_NavigatesOnceAndCaches(t *testing.T) {
	driver := newFakeDriver(syntheticGrid())
	s := newTestScraper(t, driver, PolicyHistory)
	ctx := context.Background()

	require.NoError(t, s.ReadCatalog(ctx, "Dynamic"))
	require.NoError(t, s.ReadCatalog(ctx, "Dynamic"))

	assert.Equal(t, []string{"https://portal.test/Updates/DynamicUpdates/"}, driver.navigations)

	catalog, ok := s.Catalog("Dynamic")
	require.True(t, ok)
	assert.Len(t, catalog, 2)
}

func TestReadCatalog_RetriesThroughLoginRedirect(t *testing.T) {
	driver := newFakeDriver(syntheticGrid())
	driver.redirectToLogin = 1
	s := newTestScraper(t, driver, PolicyHistory)

	require.NoError(t, s.ReadCatalog(context.Background(), "Software"))

	// First attempt bounced to login, session re-established, second
	// attempt landed.
	assert.Equal(t, []string{
		"https://portal.test/Updates/SoftwareUpdates/",
		"https://portal.test",
		"https://portal.test/Updates/SoftwareUpdates/",
	}, driver.navigations)

	_, ok := s.Catalog("Software")
	assert.True(t, ok)
}

func TestReadCatalog_BoundedAuthRetries(t *testing.T) {
	driver := newFakeDriver(syntheticGrid())
	driver.redirectToLogin = 100 // never recovers
	s := newTestScraper(t, driver, PolicyHistory)

	err := s.ReadCatalog(context.Background(), "Software")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAuthExpired)
}

func TestFetchOne_SavesNotesWithDeterministicName(t *testing.T) {
	grid := groupRow("GlobalProtect Agent Bundle") + dataRow("5.1.2", "2020-03-10")
	driver := newFakeDriver(grid)
	driver.openOnClick = true
	s := newTestScraper(t, driver, PolicyHistory)

	require.NoError(t, s.FetchOne(context.Background(), "Software", "GlobalProtect Agent Bundle", true))

	path := filepath.Join(s.downloadDir, "Updates_Software_GlobalProtect Agent Bundle_5.1.2.html")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, driver.notesHTML, string(data))

	// The excursion closed the notes window and came home.
	assert.Equal(t, []string{"notes-1"}, driver.closed)
	assert.Equal(t, "main", driver.ActiveHandle())
}

func TestFetchOne_SelectsLatestByDate(t *testing.T) {
	driver := newFakeDriver(syntheticGrid())
	s := newTestScraper(t, driver, PolicyHistory)

	require.NoError(t, s.FetchOne(context.Background(), "Dynamic", "A", false))

	// v2 (2021-06-01) sits in the third grid row; its download cell is
	// the sixth.
	require.Len(t, driver.clicks, 1)
	assert.Equal(t, DefaultGridSelector+" > tr:nth-child(3) > td:nth-child(6)", driver.clicks[0])
}

func TestFetchOne_RawDownloadKeepsFocusOnMain(t *testing.T) {
	driver := newFakeDriver(syntheticGrid())
	s := newTestScraper(t, driver, PolicyHistory)

	require.NoError(t, s.FetchOne(context.Background(), "Dynamic", "B", false))

	assert.Equal(t, "main", driver.ActiveHandle())
	assert.Empty(t, driver.closed)

	entries, err := os.ReadDir(s.downloadDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "raw downloads are the browser's, not the scraper's")
}

func TestFetchOne_UnknownSection(t *testing.T) {
	driver := newFakeDriver(syntheticGrid())
	s := newTestScraper(t, driver, PolicyHistory)

	err := s.FetchOne(context.Background(), "Dynamic", "Nope", false)
	assert.ErrorIs(t, err, ErrUnknownSection)
}

func TestFetchOne_NoNotesWindow(t *testing.T) {
	driver := newFakeDriver(syntheticGrid())
	// openOnClick stays false: the click lands but no window opens.
	s := newTestScraper(t, driver, PolicyHistory)

	err := s.FetchOne(context.Background(), "Dynamic", "A", true)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoNotesWindow)
	assert.Equal(t, "main", driver.ActiveHandle())
}

func TestFetchAll_DownloadsEveryRelease(t *testing.T) {
	driver := newFakeDriver(syntheticGrid())
	driver.openOnClick = true
	s := newTestScraper(t, driver, PolicyHistory)

	require.NoError(t, s.FetchAll(context.Background(), "Dynamic", "A", true))

	entries, err := os.ReadDir(s.downloadDir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	assert.ElementsMatch(t, []string{
		"Updates_Dynamic_A_v1.html",
		"Updates_Dynamic_A_v2.html",
	}, names)

	assert.Equal(t, "main", driver.ActiveHandle())
	assert.Len(t, driver.closed, 2)
}

func TestClickWithRetry_RecoversFromInterception(t *testing.T) {
	intercepted := errors.New(`click failed: <div class="blockUI"> intercepts pointer events`)

	driver := newFakeDriver(syntheticGrid())
	driver.clickErrs = []error{intercepted, intercepted, nil}
	s := newTestScraper(t, driver, PolicyHistory)

	require.NoError(t, s.FetchOne(context.Background(), "Dynamic", "B", false))
	assert.Len(t, driver.clicks, 3)
}

func TestClickWithRetry_BoundedAttempts(t *testing.T) {
	intercepted := errors.New("element click intercepted")

	driver := newFakeDriver(syntheticGrid())
	driver.clickErrs = []error{intercepted, intercepted, intercepted}
	s := newTestScraper(t, driver, PolicyHistory)

	err := s.FetchOne(context.Background(), "Dynamic", "B", false)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrClickObstructed)
	assert.Len(t, driver.clicks, 3)
}

func TestClickWithRetry_OtherErrorsPropagate(t *testing.T) {
	driver := newFakeDriver(syntheticGrid())
	driver.clickErrs = []error{errors.New("target crashed")}
	s := newTestScraper(t, driver, PolicyHistory)

	err := s.FetchOne(context.Background(), "Dynamic", "B", false)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrClickObstructed)
	assert.Len(t, driver.clicks, 1)
}

func TestEstablishSession_AlreadyAuthenticated(t *testing.T) {
	driver := newFakeDriver(syntheticGrid())
	s := newTestScraper(t, driver, PolicyHistory)

	require.NoError(t, s.EstablishSession(context.Background()))
	assert.Equal(t, []string{"https://portal.test"}, driver.navigations)
}

func TestEstablishSession_LoginWaitElapses(t *testing.T) {
	driver := newFakeDriver(syntheticGrid())
	driver.redirectToLogin = 1000 // operator never logs in
	s := newTestScraper(t, driver, PolicyHistory)

	// An elapsed wait is not an error here; the failure surfaces on the
	// next catalog read.
	require.NoError(t, s.EstablishSession(context.Background()))
	assert.True(t, strings.HasSuffix(driver.navigations[len(driver.navigations)-1], "/sso"))
}

func TestDownloadRelease_RejectsStaleActionRef(t *testing.T) {
	driver := newFakeDriver(syntheticGrid())
	s := newTestScraper(t, driver, PolicyHistory)
	ctx := context.Background()

	require.NoError(t, s.ReadCatalog(ctx, "Dynamic"))
	catalog, _ := s.Catalog("Dynamic")
	release := catalog["A"][0]

	// A ref scoped to a page that is not the one displayed must be
	// refused before anything is clicked.
	release.Download.Category = "Software"
	release.Notes.Category = "Software"

	err := s.downloadRelease(ctx, "Software", "A", release, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStaleAction)
	assert.Empty(t, driver.clicks)
	assert.Equal(t, "main", driver.ActiveHandle())
}

func TestReleaseFileName(t *testing.T) {
	name := ReleaseFileName("Software", "GlobalProtect Agent Bundle", "5.1.2")
	assert.Equal(t, "Updates_Software_GlobalProtect Agent Bundle_5.1.2.html", name)
}
