package scraper

// CatalogPolicy selects what a catalog retains for sections that list more
// than one historical release.
type CatalogPolicy int

const (
	// PolicyHistory keeps every release row seen under a section.
	// This is the default: FetchAll is meaningful, and FetchOne selects
	// the latest by date rather than trusting the portal's row order.
	PolicyHistory CatalogPolicy = iota

	// PolicyLatest keeps only the most recently seen row per section,
	// overwriting earlier ones. With the portal's latest-first row order
	// this retains the newest release at the cost of all history.
	PolicyLatest
)

// ActionRef is a clickable control on a category's update page. It is a
// positional selector, not a live element, so it stays usable whenever the
// originating category page is displayed and is rejected otherwise.
type ActionRef struct {
	// Category is the update page the selector is scoped to.
	Category string

	// Selector addresses the control within the update grid.
	Selector string
}

// Valid reports whether the ref points at anything.
func (r ActionRef) Valid() bool {
	return r.Selector != ""
}

// Release is one row of an update listing: a downloadable version with its
// date and the controls that open its notes or start its download.
type Release struct {
	Version  string
	Date     string
	Notes    ActionRef
	Download ActionRef
}

// Catalog holds the releases read from one category's update page,
// grouped by section name. Once built for a category it is never mutated.
type Catalog map[string][]Release

// Latest returns the release with the greatest date. Portal dates are ISO
// formatted, so lexical comparison is chronological. Ties resolve to the
// first release encountered.
func Latest(releases []Release) (Release, bool) {
	if len(releases) == 0 {
		return Release{}, false
	}

	latest := releases[0]
	for _, rel := range releases[1:] {
		if rel.Date > latest.Date {
			latest = rel
		}
	}
	return latest, true
}
