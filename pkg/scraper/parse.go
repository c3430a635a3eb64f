package scraper

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// The update grid renders two kinds of rows: grouping rows carrying the
// section name, and data rows carrying one release each. Data rows include
// hidden columns (style display:none) that must be excluded before the
// fixed offsets below apply.
const (
	groupingRowClass = "k-grouping-row"

	versionColumn  = 1
	dateColumn     = 2
	notesColumn    = 3
	downloadColumn = 4
)

// ParseGrid parses the inner HTML of a category's update grid body into a
// Catalog. gridSelector anchors the action selectors built for each row, so
// it must be the same selector the body HTML was read from.
func ParseGrid(category, gridSelector, bodyHTML string, policy CatalogPolicy) (Catalog, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader("<table><tbody>" + bodyHTML + "</tbody></table>"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse update grid: %w", err)
	}

	catalog := Catalog{}
	section := ""
	var rowErr error

	doc.Find("tbody > tr").EachWithBreak(func(i int, row *goquery.Selection) bool {
		rowIndex := i + 1 // nth-child is 1-based

		if class, _ := row.Attr("class"); strings.Contains(class, groupingRowClass) {
			section = sectionName(row)
			if _, ok := catalog[section]; !ok {
				catalog[section] = nil
			}
			return true
		}

		// Rows above the first grouping row belong to no section.
		if section == "" {
			return true
		}

		release, err := parseDataRow(category, gridSelector, rowIndex, row)
		if err != nil {
			rowErr = fmt.Errorf("row %d in section %q: %w", rowIndex, section, err)
			return false
		}

		switch policy {
		case PolicyLatest:
			catalog[section] = []Release{release}
		default:
			catalog[section] = append(catalog[section], release)
		}
		return true
	})
	if rowErr != nil {
		return nil, rowErr
	}

	return catalog, nil
}

// sectionName extracts the section label from a grouping row. The label is
// the trailing text of the row's paragraph, after any markup the grid nests
// in front of it.
func sectionName(row *goquery.Selection) string {
	p := row.Find("td p").First()
	html, err := p.Html()
	if err != nil || html == "" {
		return strings.TrimSpace(p.Text())
	}
	if idx := strings.LastIndex(html, ">"); idx >= 0 {
		html = html[idx+1:]
	}
	return strings.TrimSpace(html)
}

// parseDataRow extracts one release from a data row. Offsets index the
// visible columns; action selectors address the absolute cell positions so
// they resolve against the live page, hidden cells included.
func parseDataRow(category, gridSelector string, rowIndex int, row *goquery.Selection) (Release, error) {
	type cell struct {
		position  int // 1-based among all cells, hidden included
		selection *goquery.Selection
	}

	var visible []cell
	row.Find("td").Each(func(i int, td *goquery.Selection) {
		style, _ := td.Attr("style")
		if hiddenStyle(style) {
			return
		}
		visible = append(visible, cell{position: i + 1, selection: td})
	})

	if len(visible) <= downloadColumn {
		return Release{}, fmt.Errorf("%d visible columns, want at least %d", len(visible), downloadColumn+1)
	}

	cellSelector := func(c cell) string {
		return fmt.Sprintf("%s > tr:nth-child(%d) > td:nth-child(%d)", gridSelector, rowIndex, c.position)
	}

	return Release{
		Version: strings.TrimSpace(visible[versionColumn].selection.Text()),
		Date:    strings.TrimSpace(visible[dateColumn].selection.Text()),
		Notes: ActionRef{
			Category: category,
			Selector: cellSelector(visible[notesColumn]),
		},
		Download: ActionRef{
			Category: category,
			Selector: cellSelector(visible[downloadColumn]),
		},
	}, nil
}

// hiddenStyle reports whether an inline style hides the cell.
func hiddenStyle(style string) bool {
	return strings.Contains(strings.ReplaceAll(style, " ", ""), "display:none")
}
