// Package main provides the portalsync command, which downloads the latest
// release notes and update packages for a configured list of products off
// the vendor support portal.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/bitcrane/portalsync/pkg/browser"
	"github.com/bitcrane/portalsync/pkg/config"
	"github.com/bitcrane/portalsync/pkg/logging"
	"github.com/bitcrane/portalsync/pkg/scraper"
)

const version = "0.1.0" // Version of the portalsync tool

// cliFlags holds the command line overrides applied on top of the settings
// file.
type cliFlags struct {
	SettingsPath string
	DownloadDir  string
	BinaryPath   string
	LoginWait    string
	Verbosity    string
	Headless     bool
	ShowVersion  bool
}

func main() {
	flags := parseFlags()

	if flags.ShowVersion {
		fmt.Printf("portalsync v%s\n", version)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")
		cancel()
	}()

	if err := run(ctx, flags); err != nil {
		cancel()
		log.Fatalf("portalsync error: %v", err)
	}
}

// parseFlags parses command line flags and environment variables.
func parseFlags() *cliFlags {
	flags := &cliFlags{}

	flag.StringVar(&flags.SettingsPath, "settings", envOr("PORTALSYNC_SETTINGS", "portalsync.yaml"), "Path to the settings file")
	flag.StringVar(&flags.DownloadDir, "download-dir", os.Getenv("PORTALSYNC_DOWNLOAD_DIR"), "Download directory (overrides settings)")
	flag.StringVar(&flags.BinaryPath, "browser-binary", os.Getenv("PORTALSYNC_BROWSER_BINARY"), "Path to the browser binary (overrides settings)")
	flag.StringVar(&flags.LoginWait, "login-wait", os.Getenv("PORTALSYNC_LOGIN_WAIT"), "How long to wait for interactive login, e.g. 90s (overrides settings)")
	flag.StringVar(&flags.Verbosity, "verbosity", os.Getenv("PORTALSYNC_VERBOSITY"), "Log verbosity: quiet, normal, verbose, debug (overrides settings)")
	flag.BoolVar(&flags.Headless, "headless", false, "Run the browser headless (stored cookies must already be valid)")
	flag.BoolVar(&flags.ShowVersion, "version", false, "Show version and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "portalsync - download support portal updates\n\n")
		fmt.Fprintf(os.Stderr, "Usage: portalsync [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  PORTALSYNC_SETTINGS         Path to the settings file\n")
		fmt.Fprintf(os.Stderr, "  PORTALSYNC_DOWNLOAD_DIR     Download directory\n")
		fmt.Fprintf(os.Stderr, "  PORTALSYNC_BROWSER_BINARY   Path to the browser binary\n")
		fmt.Fprintf(os.Stderr, "  PORTALSYNC_LOGIN_WAIT       Interactive login wait duration\n")
		fmt.Fprintf(os.Stderr, "  PORTALSYNC_VERBOSITY        Log verbosity\n")
	}

	flag.Parse()
	return flags
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func run(ctx context.Context, flags *cliFlags) error {
	settings, err := config.Load(flags.SettingsPath)
	if err != nil {
		return err
	}
	applyOverrides(settings, flags)

	logging.SetVerbosity(settings.Logging.Verbosity)
	logger, logErr := logging.NewLogger("main")
	if logErr != nil {
		fmt.Fprintf(os.Stderr, "file logging unavailable: %v\n", logErr)
	}
	defer logger.Close()

	if err := os.MkdirAll(settings.Downloads.Dir, 0755); err != nil {
		return fmt.Errorf("failed to create download directory: %w", err)
	}

	manager := browser.NewManager()
	if err := manager.Initialize(); err != nil {
		return err
	}
	defer manager.Shutdown()

	session, err := manager.OpenSession(browser.Options{
		BinaryPath:  settings.Browser.BinaryPath,
		Headless:    settings.Browser.Headless,
		DownloadDir: settings.Downloads.Dir,
	})
	if err != nil {
		return err
	}
	defer session.Close()

	policy := scraper.PolicyHistory
	if settings.Portal.CatalogPolicy == "latest" {
		policy = scraper.PolicyLatest
	}

	scr := scraper.New(session, scraper.Options{
		BaseURL:     settings.Portal.BaseURL,
		DownloadDir: settings.Downloads.Dir,
		CookieFile:  settings.Portal.CookieFile,
		Policy:      policy,
		LoginWait:   settings.LoginWaitDuration(),
	})

	if err := scr.EstablishSession(ctx); err != nil {
		return err
	}

	// One product failing should not abort the rest of the run.
	failures := 0
	for _, product := range settings.Products {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		var fetchErr error
		if product.All {
			fetchErr = scr.FetchAll(ctx, product.Category, product.Section, product.Notes)
		} else {
			fetchErr = scr.FetchOne(ctx, product.Category, product.Section, product.Notes)
		}
		if fetchErr != nil {
			failures++
			logger.Errorf("fetch %s/%s failed: %v", product.Category, product.Section, fetchErr)
			fmt.Fprintf(os.Stderr, "fetch %s/%s failed: %v\n", product.Category, product.Section, fetchErr)
		}
	}

	// Let in-flight native downloads finish before the browser goes away:
	// the session knows its own transfers, and the marker poll covers any
	// partial files other writers leave in the directory.
	if err := session.WaitDownloads(ctx); err != nil {
		return fmt.Errorf("waiting for downloads to finish: %w", err)
	}
	drain := scraper.Drain{
		Dir:      settings.Downloads.Dir,
		Markers:  settings.Downloads.IncompleteMarkers,
		Interval: settings.DrainIntervalDuration(),
	}
	if err := drain.Wait(ctx); err != nil {
		return fmt.Errorf("waiting for downloads to finish: %w", err)
	}

	if failures > 0 {
		return fmt.Errorf("%d of %d products failed", failures, len(settings.Products))
	}

	logger.Infof("finished %d products", len(settings.Products))
	return nil
}

// applyOverrides layers command line flags over the loaded settings.
func applyOverrides(settings *config.Settings, flags *cliFlags) {
	if flags.DownloadDir != "" {
		settings.Downloads.Dir = flags.DownloadDir
	}
	if flags.BinaryPath != "" {
		settings.Browser.BinaryPath = flags.BinaryPath
	}
	if flags.LoginWait != "" {
		settings.Portal.LoginWait = flags.LoginWait
	}
	if flags.Verbosity != "" {
		settings.Logging.Verbosity = flags.Verbosity
	}
	if flags.Headless {
		settings.Browser.Headless = true
	}
}
