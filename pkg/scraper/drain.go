package scraper

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gobwas/glob"
)

// DefaultIncompleteMarkers matches the transient names Chromium and Firefox
// give in-flight downloads.
var DefaultIncompleteMarkers = []string{
	"*.crdownload",
	"*.part",
	"*Unconfirmed*",
	"*.download",
}

// DefaultDrainInterval paces the drain's fallback polling.
const DefaultDrainInterval = time.Second

// Drain waits for native downloads to finish by watching the download
// directory until no filename matches an incomplete-download marker. The
// browser gives no completion signal, so this is an approximation: it
// returns when the transient files are gone, bounded only by ctx.
type Drain struct {
	// Dir is the download directory to watch.
	Dir string

	// Markers are glob patterns for incomplete-download filenames.
	// Nil means DefaultIncompleteMarkers.
	Markers []string

	// Interval paces polling when no directory events arrive.
	Interval time.Duration

	// list overrides directory listing in tests. Nil means os.ReadDir.
	list func(dir string) ([]string, error)
}

// Wait blocks until the directory holds no incomplete downloads or ctx is
// cancelled. Directory change events wake the check early; a ticker covers
// renames the watcher misses.
func (d *Drain) Wait(ctx context.Context) error {
	markers := d.Markers
	if markers == nil {
		markers = DefaultIncompleteMarkers
	}
	globs := make([]glob.Glob, 0, len(markers))
	for _, marker := range markers {
		g, err := glob.Compile(marker)
		if err != nil {
			return fmt.Errorf("invalid incomplete-download marker %q: %w", marker, err)
		}
		globs = append(globs, g)
	}

	interval := d.Interval
	if interval <= 0 {
		interval = DefaultDrainInterval
	}

	var events chan fsnotify.Event
	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		defer watcher.Close()
		if err := watcher.Add(d.Dir); err == nil {
			events = watcher.Events
		}
	}
	// With no watcher the ticker alone paces the loop.

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		pending, err := d.pending(globs)
		if err != nil {
			return err
		}
		if !pending {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-events:
		case <-ticker.C:
		}
	}
}

// pending reports whether any filename in the directory matches an
// incomplete-download marker.
func (d *Drain) pending(globs []glob.Glob) (bool, error) {
	names, err := d.listNames()
	if err != nil {
		return false, err
	}

	for _, name := range names {
		base := filepath.Base(name)
		for _, g := range globs {
			if g.Match(base) {
				return true, nil
			}
		}
	}
	return false, nil
}

func (d *Drain) listNames() ([]string, error) {
	if d.list != nil {
		return d.list(d.Dir)
	}

	entries, err := os.ReadDir(d.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list download directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	return names, nil
}
