// Package dataset holds classified CSV data in columnar form.
//
// A Dataset is built once from a header row plus data rows, then profiled
// and handed to the code generator. Generated DataFrame constructors read a
// Dataset at runtime through ColumnBySanitized.
//
// Invariants:
//   - Column value slices are never mutated after construction; View shares
//     them without copying.
//   - Raw column names are not deduplicated. Lookups return the first match.
//   - Column lengths are not checked against each other. Row i of a column
//     lines up with row i of another only because New fills every column
//     from one pass over the rows.
//   - Any column insertion or removal bumps Version and drops all attached
//     profiles.
//
// Concurrency:
//   - Dataset is safe for concurrent use. Writers (Push, Remove) exclude all
//     readers; profilers work on a View snapshot.
package dataset

import (
	"io"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/AliothCancer/typed-csv/internal/sanitize"
	"github.com/AliothCancer/typed-csv/pkg/cell"
)

var (
	// ErrColumnNotFound is returned when no column matches a lookup.
	ErrColumnNotFound = errors.New("column not found")

	// ErrNoHeader is returned by New when the reader yields no header row.
	ErrNoHeader = errors.New("input has no header row")

	// ErrStaleProfile is returned when a profile computed for an older
	// dataset version is attached.
	ErrStaleProfile = errors.New("profile is stale: dataset columns changed")
)

// RecordReader yields one record per call and io.EOF at the end.
// *encoding/csv.Reader satisfies it.
type RecordReader interface {
	Read() ([]string, error)
}

// ColumnName carries the raw header text and its sanitized identifier.
type ColumnName struct {
	Raw       string `json:"raw"`
	Sanitized string `json:"sanitized"`
}

// NewColumnName sanitizes raw once and keeps both forms.
func NewColumnName(raw string) ColumnName {
	return ColumnName{Raw: raw, Sanitized: sanitize.Identifier(raw)}
}

// Column is one named, ordered sequence of classified values.
type Column struct {
	Name   ColumnName   `json:"name"`
	Values []cell.Value `json:"values"`
}

// Dataset is the columnar store.
type Dataset struct {
	mu       sync.RWMutex
	columns  []Column
	nulls    cell.NullSentinels
	profiles []*ColumnProfile
	version  uint64
}

// NewEmpty returns a dataset without columns.
func NewEmpty(nulls cell.NullSentinels) *Dataset {
	return &Dataset{nulls: nulls}
}

// New reads a header row and all data rows from r and classifies every cell.
//
// Rows shorter than the header leave the trailing columns shorter. Rows with
// more fields than the header cannot be placed and fail the whole read.
func New(r RecordReader, nulls cell.NullSentinels) (*Dataset, error) {
	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrNoHeader
		}
		return nil, errors.Wrap(err, "read header")
	}

	ds := &Dataset{nulls: nulls}
	ds.columns = make([]Column, len(header))
	for i, h := range header {
		ds.columns[i] = Column{Name: NewColumnName(h)}
	}

	row := 0
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		row++
		if err != nil {
			return nil, errors.Wrapf(err, "read row %d", row)
		}
		if len(rec) > len(ds.columns) {
			return nil, errors.Newf("row %d has %d fields, header has %d", row, len(rec), len(ds.columns))
		}
		for i, raw := range rec {
			ds.columns[i].Values = append(ds.columns[i].Values, cell.Classify(raw, nulls))
		}
	}
	ds.profiles = make([]*ColumnProfile, len(ds.columns))
	return ds, nil
}

// NullSentinels returns the sentinel set used during classification.
func (d *Dataset) NullSentinels() cell.NullSentinels {
	return d.nulls
}

// Len returns the number of columns.
func (d *Dataset) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.columns)
}

// Version changes whenever columns are inserted or removed.
func (d *Dataset) Version() uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.version
}

// Names returns the column names in declaration order.
func (d *Dataset) Names() []ColumnName {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]ColumnName, len(d.columns))
	for i, c := range d.columns {
		out[i] = c.Name
	}
	return out
}

// Push appends a column. Values are owned by the dataset afterwards.
func (d *Dataset) Push(rawName string, values []cell.Value) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.columns = append(d.columns, Column{Name: NewColumnName(rawName), Values: values})
	d.invalidateLocked()
}

// Remove deletes the first column whose raw name equals rawName and returns it.
func (d *Dataset) Remove(rawName string) (Column, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, c := range d.columns {
		if c.Name.Raw != rawName {
			continue
		}
		d.columns = append(d.columns[:i:i], d.columns[i+1:]...)
		d.invalidateLocked()
		return c, nil
	}
	return Column{}, errors.Wrapf(ErrColumnNotFound, "remove %q", rawName)
}

// ColumnBySanitized returns the first column whose sanitized name equals
// name exactly. Generated constructors resolve their columns with it.
func (d *Dataset) ColumnBySanitized(name string) (Column, error) {
	return d.View().BySanitized(name)
}

// View returns a read-only snapshot of the current columns.
func (d *Dataset) View() View {
	d.mu.RLock()
	defer d.mu.RUnlock()
	cols := make([]Column, len(d.columns))
	copy(cols, d.columns)
	return View{Columns: cols, Version: d.version}
}

func (d *Dataset) invalidateLocked() {
	d.version++
	d.profiles = make([]*ColumnProfile, len(d.columns))
}

// View is an immutable snapshot of a dataset's columns at one version.
type View struct {
	Columns []Column
	Version uint64
}

// FindContaining returns the first column whose raw name is contained in
// query. An exact name always matches, but so does any column whose name is
// a substring of the query: with columns "a" and "ab", the query "ab"
// selects "a".
func (v View) FindContaining(query string) (int, Column, error) {
	for i, c := range v.Columns {
		if strings.Contains(query, c.Name.Raw) {
			return i, c, nil
		}
	}
	return -1, Column{}, errors.Wrapf(ErrColumnNotFound, "no column named %q", query)
}

// BySanitized returns the first column whose sanitized name equals name.
func (v View) BySanitized(name string) (Column, error) {
	for _, c := range v.Columns {
		if c.Name.Sanitized == name {
			return c, nil
		}
	}
	return Column{}, errors.Wrapf(ErrColumnNotFound, "no column with identifier %q", name)
}
