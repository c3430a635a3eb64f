// Package config holds the portalsync settings file: browser, portal, and
// download options plus the product manifest the run walks through.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Settings is the top-level configuration for a portalsync run.
type Settings struct {
	// Browser configuration
	Browser BrowserSettings `yaml:"browser"`

	// Portal configuration
	Portal PortalSettings `yaml:"portal"`

	// Download handling
	Downloads DownloadSettings `yaml:"downloads"`

	// Logging configuration
	Logging LoggingSettings `yaml:"logging"`

	// Products to fetch, in order
	Products []Product `yaml:"products"`
}

// BrowserSettings configures the browser the portal is driven with.
type BrowserSettings struct {
	// BinaryPath optionally points at a specific Chromium binary
	BinaryPath string `yaml:"binary_path"`

	// Headless runs the browser without a window; interactive login
	// requires a visible one
	Headless bool `yaml:"headless"`
}

// PortalSettings configures the support portal endpoints and login wait.
type PortalSettings struct {
	// BaseURL is the portal root; empty uses the scraper default
	BaseURL string `yaml:"base_url"`

	// LoginWait bounds the interactive login wait, as a duration string
	// (e.g. "90s"). Unparseable values fall back to the default.
	LoginWait string `yaml:"login_wait"`

	// CookieFile persists authentication cookies across runs;
	// empty disables persistence
	CookieFile string `yaml:"cookie_file"`

	// CatalogPolicy is "history" (default) or "latest"
	CatalogPolicy string `yaml:"catalog_policy"`
}

// DownloadSettings configures where downloads land and how shutdown waits
// for them.
type DownloadSettings struct {
	// Dir receives saved notes pages and raw update packages
	Dir string `yaml:"dir"`

	// DrainInterval paces the shutdown drain poll, as a duration string
	DrainInterval string `yaml:"drain_interval"`

	// IncompleteMarkers are glob patterns for in-flight download names;
	// nil uses the built-in Chromium/Firefox markers
	IncompleteMarkers []string `yaml:"incomplete_markers"`
}

// LoggingSettings configures log output.
type LoggingSettings struct {
	// Verbosity is one of: quiet, normal, verbose, debug
	Verbosity string `yaml:"verbosity"`
}

// Product is one entry of the fetch manifest.
type Product struct {
	// Category is the update listing to read (e.g. "Dynamic", "Software")
	Category string `yaml:"category"`

	// Section is the group within the listing (e.g. a hardware platform)
	Section string `yaml:"section"`

	// Notes fetches the release notes page instead of the raw files
	Notes bool `yaml:"notes"`

	// All fetches every cached release instead of only the latest
	All bool `yaml:"all"`
}

// Defaults substituted for missing or unparseable values.
const (
	DefaultLoginWait     = 60 * time.Second
	DefaultDrainInterval = time.Second
	DefaultDownloadDir   = "contentpacks"
)

// Load reads the settings file at path over the defaults. A missing file
// yields the defaults; a malformed file is an error.
func Load(path string) (*Settings, error) {
	settings := DefaultSettings()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return settings, nil
		}
		return nil, fmt.Errorf("failed to read settings file: %w", err)
	}

	if err := yaml.Unmarshal(data, settings); err != nil {
		return nil, fmt.Errorf("failed to parse settings file %s: %w", path, err)
	}

	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return settings, nil
}

// Validate checks the parts of the settings that must be well formed.
// Scalar values with safe fallbacks (durations, verbosity names) are
// validated here but substituted by their accessors, not rejected.
func (s *Settings) Validate() error {
	if s.Downloads.Dir == "" {
		return fmt.Errorf("download directory is required")
	}

	switch s.Portal.CatalogPolicy {
	case "", "history", "latest":
	default:
		return fmt.Errorf("invalid catalog_policy: %s (must be 'history' or 'latest')", s.Portal.CatalogPolicy)
	}

	for i, product := range s.Products {
		if product.Category == "" || product.Section == "" {
			return fmt.Errorf("product %d: category and section are required", i)
		}
	}

	return nil
}

// LoginWaitDuration returns the configured login wait, substituting the
// default for missing or unparseable values.
func (s *Settings) LoginWaitDuration() time.Duration {
	d, err := time.ParseDuration(s.Portal.LoginWait)
	if err != nil || d <= 0 {
		return DefaultLoginWait
	}
	return d
}

// DrainIntervalDuration returns the configured drain poll interval,
// substituting the default for missing or unparseable values.
func (s *Settings) DrainIntervalDuration() time.Duration {
	d, err := time.ParseDuration(s.Downloads.DrainInterval)
	if err != nil || d <= 0 {
		return DefaultDrainInterval
	}
	return d
}

// DefaultSettings returns the configuration used when no settings file
// exists: raw updates for the stock product list into ./contentpacks.
func DefaultSettings() *Settings {
	return &Settings{
		Browser: BrowserSettings{
			Headless: false, // interactive login needs a window
		},
		Portal: PortalSettings{
			CookieFile:    "cookies.json",
			CatalogPolicy: "history",
		},
		Downloads: DownloadSettings{
			Dir: DefaultDownloadDir,
		},
		Logging: LoggingSettings{
			Verbosity: "normal",
		},
		Products: DefaultProducts(),
	}
}

// DefaultProducts is the stock manifest: the latest raw update for every
// supported platform.
func DefaultProducts() []Product {
	sections := []struct {
		category string
		section  string
	}{
		{"Dynamic", "Apps"},
		{"Dynamic", "WF-500 Content"},
		{"Software", "PAN-OS for the PA-200 Platform"},
		{"Software", "PAN-OS for the PA-220 Platform"},
		{"Software", "PAN-OS for the PA-500 Platform"},
		{"Software", "PAN-OS for the PA-800 Platform"},
		{"Software", "PAN-OS for the PA-2000 Platform"},
		{"Software", "PAN-OS for the PA-3000 Platform"},
		{"Software", "PAN-OS for the PA-3200 Platform"},
		{"Software", "PAN-OS for the PA-4000 Platform"},
		{"Software", "PAN-OS for the PA-5000 Platform"},
		{"Software", "PAN-OS for the PA-5200 Platform"},
		{"Software", "PAN-OS for the PA-7000 Platform"},
		{"Software", "PAN-OS for the PA-7000b Platform"},
		{"Software", "PAN-OS for VM-Series"},
		{"Software", "PAN-OS for VM-Series Base Images"},
		{"Software", "PAN-OS for VM-Series NSX Base Images"},
		{"Software", "PAN-OS for VM-Series SDX Base Images"},
		{"Software", "PAN-OS for VM-Series KVM Base Images"},
		{"Software", "PAN-OS for VM-Series Hyper-V Base Image"},
		{"Software", "GlobalProtect Agent Bundle"},
		{"Software", "Panorama M Images"},
		{"Software", "WF-500 Appliance Updates"},
	}

	products := make([]Product, 0, len(sections))
	for _, s := range sections {
		products = append(products, Product{Category: s.category, Section: s.section})
	}
	return products
}
