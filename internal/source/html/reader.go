// Package html reads one <table> of an HTML document as CSV-like records.
//
// The first row of the table is the header, whether its cells are th or td.
// Cell text is whitespace-collapsed. A colspan repeats the cell text across
// the spanned columns so records stay aligned with the header.
package html

import (
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/cockroachdb/errors"
)

// DefaultSelector picks tables when Options.Selector is blank.
const DefaultSelector = "table"

// maxColspan bounds colspan so a hostile attribute cannot blow up a record.
const maxColspan = 1000

// ErrNoTable is returned when the selector matches no table.
var ErrNoTable = errors.New("no matching table")

// Options controls Open.
type Options struct {
	// Selector is a CSS selector; the Index-th matching table is read.
	Selector string
	Index    int
	// Match is an optional regular expression applied to every data cell.
	// With a capture group, group 1 is kept; otherwise the full match.
	// Cells that do not match become blank. Header cells are never filtered.
	Match string
}

// Reader yields the rows of one table. It satisfies dataset.RecordReader.
type Reader struct {
	rows [][]string
	next int
}

// Open parses the document in r and loads the selected table.
func Open(r io.Reader, opt Options) (*Reader, error) {
	re, err := compileOptionalRegex(opt.Match)
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, errors.Wrap(err, "parse html")
	}

	selector := strings.TrimSpace(opt.Selector)
	if selector == "" {
		selector = DefaultSelector
	}
	tables := doc.Find(selector).FilterFunction(func(_ int, s *goquery.Selection) bool {
		return goquery.NodeName(s) == "table"
	})
	if opt.Index < 0 || opt.Index >= tables.Length() {
		return nil, errors.WithHint(
			errors.Wrapf(ErrNoTable, "selector %q index %d (%d tables matched)", selector, opt.Index, tables.Length()),
			"selectors must match <table> elements; use --table-index to pick among several")
	}

	return &Reader{rows: tableRows(tables.Eq(opt.Index), re)}, nil
}

// Read returns the next row, or io.EOF after the last one.
func (r *Reader) Read() ([]string, error) {
	if r.next >= len(r.rows) {
		return nil, io.EOF
	}
	rec := r.rows[r.next]
	r.next++
	return rec, nil
}

// Records returns the number of rows read so far, header included.
func (r *Reader) Records() int { return r.next }

// tableRows collects rows that belong to table itself, skipping rows of
// nested tables and rows without cells.
func tableRows(table *goquery.Selection, re *regexp.Regexp) [][]string {
	var rows [][]string
	table.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		if !tr.Closest("table").IsSelection(table) {
			return
		}
		var rec []string
		tr.ChildrenFiltered("th,td").Each(func(_ int, c *goquery.Selection) {
			v := cellText(c)
			if len(rows) > 0 {
				v = applyRegexFilter(v, re)
			}
			for n := colspan(c); n > 0; n-- {
				rec = append(rec, v)
			}
		})
		if len(rec) > 0 {
			rows = append(rows, rec)
		}
	})
	return rows
}

func cellText(c *goquery.Selection) string {
	return strings.Join(strings.Fields(c.Text()), " ")
}

func colspan(c *goquery.Selection) int {
	v, ok := c.Attr("colspan")
	if !ok {
		return 1
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n < 1 {
		return 1
	}
	return min(n, maxColspan)
}

func compileOptionalRegex(pattern string) (*regexp.Regexp, error) {
	if strings.TrimSpace(pattern) == "" {
		return nil, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid cell match %q", pattern)
	}
	return re, nil
}

// applyRegexFilter returns group 1 of the first match, the full match when
// re has no groups, or "" when re does not match.
func applyRegexFilter(value string, re *regexp.Regexp) string {
	if value == "" || re == nil {
		return value
	}
	sm := re.FindStringSubmatch(value)
	if len(sm) == 0 {
		return ""
	}
	if len(sm) > 1 {
		return sm[1]
	}
	return sm[0]
}
