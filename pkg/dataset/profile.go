package dataset

import (
	"github.com/cockroachdb/errors"

	"github.com/AliothCancer/typed-csv/pkg/cell"
)

// NullVariantName is the raw and sanitized text of the Null variant.
const NullVariantName = "Null"

// Counts holds total occurrences per kind in one column.
type Counts struct {
	Empties int `json:"empties"`
	Nulls   int `json:"nulls"`
	Strings int `json:"strings"`
	Floats  int `json:"floats"`
	Ints    int `json:"ints"`
}

// Total is the number of values counted.
func (c Counts) Total() int {
	return c.Empties + c.Nulls + c.Strings + c.Floats + c.Ints
}

// Add counts one value.
func (c *Counts) Add(v cell.Value) {
	switch v.Kind {
	case cell.KindString:
		c.Strings++
	case cell.KindInteger:
		c.Ints++
	case cell.KindFloat:
		c.Floats++
	case cell.KindNull:
		c.Nulls++
	case cell.KindEmpty:
		c.Empties++
	}
}

// Variant is one distinct value of a column.
type Variant struct {
	Raw       string     `json:"raw"`
	Sanitized string     `json:"sanitized"`
	Value     cell.Value `json:"value"`
}

// ColumnProfile describes one column at one dataset version.
//
// UniqueValues is sorted by cell.Compare, holds no two equal values and
// always holds exactly one Null variant. Profiles are never updated in
// place; a dataset change makes them stale and they are recomputed.
type ColumnProfile struct {
	Column       ColumnName `json:"column"`
	Index        int        `json:"index"`
	Version      uint64     `json:"version"`
	Counts       Counts     `json:"counts"`
	UniqueValues []Variant  `json:"unique_values"`
}

// HasKindOnly reports whether every unique value has one of the given
// kinds or is Null/Empty.
func (p *ColumnProfile) HasKindOnly(k cell.Kind) bool {
	for _, v := range p.UniqueValues {
		switch v.Value.Kind {
		case k, cell.KindNull, cell.KindEmpty:
		default:
			return false
		}
	}
	return true
}

// AttachProfiles stores profiles computed from the view at version.
//
// The whole set is rejected with ErrStaleProfile when the dataset changed
// after the view was taken.
func (d *Dataset) AttachProfiles(version uint64, profiles ...*ColumnProfile) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if version != d.version {
		return errors.Wrapf(ErrStaleProfile, "profiles at version %d, dataset at %d", version, d.version)
	}
	if d.profiles == nil {
		d.profiles = make([]*ColumnProfile, len(d.columns))
	}
	for _, p := range profiles {
		if p == nil {
			continue
		}
		if p.Version != version {
			return errors.Wrapf(ErrStaleProfile, "column %q profiled at version %d", p.Column.Raw, p.Version)
		}
		if p.Index < 0 || p.Index >= len(d.columns) {
			return errors.Newf("profile for %q has index %d outside %d columns", p.Column.Raw, p.Index, len(d.columns))
		}
		d.profiles[p.Index] = p
	}
	return nil
}

// Profiles returns attached profiles aligned with the columns. Entries are
// nil for columns not profiled since the last change.
func (d *Dataset) Profiles() []*ColumnProfile {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*ColumnProfile, len(d.columns))
	copy(out, d.profiles)
	return out
}

// Profiled reports whether every column has an up-to-date profile.
func (d *Dataset) Profiled() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if len(d.profiles) != len(d.columns) {
		return false
	}
	for _, p := range d.profiles {
		if p == nil {
			return false
		}
	}
	return true
}
