package profile

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/AliothCancer/typed-csv/pkg/cell"
	"github.com/AliothCancer/typed-csv/pkg/dataset"
)

// FormatColumn renders one profile for humans: identifier, non-zero kind
// counts and the distinct values in profile order.
func FormatColumn(p *dataset.ColumnProfile) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Name: %s\n\nTypes:", p.Column.Sanitized)

	counts := []struct {
		label string
		n     int
	}{
		{"Empties", p.Counts.Empties},
		{"Nulls", p.Counts.Nulls},
		{"Strings", p.Counts.Strings},
		{"Floats", p.Counts.Floats},
		{"Ints", p.Counts.Ints},
	}
	for _, c := range counts {
		if c.n == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n\t%s: %d", c.label, c.n)
	}

	b.WriteString("\n\nUnique Values:")
	for _, v := range p.UniqueValues {
		fmt.Fprintf(&b, "\n\t%s\t%s\t%s", v.Value.Kind, v.Raw, v.Sanitized)
	}
	return b.String()
}

// uniquenessRow is one line of the uniqueness table.
type uniquenessRow struct {
	col      string
	distinct int
	rows     int
	ratio    float64
}

// FormatUniqueness renders a distinct-value table sorted by ratio.
//
// The denominator is the number of meaningful values in the column (neither
// Null nor Empty); the numerator excludes the Null variant. Columns with no
// meaningful values are omitted.
func FormatUniqueness(profiles []*dataset.ColumnProfile) string {
	rows := make([]uniquenessRow, 0, len(profiles))
	for _, p := range profiles {
		if p == nil {
			continue
		}
		den := p.Counts.Ints + p.Counts.Floats + p.Counts.Strings
		if den <= 0 {
			continue
		}
		d := 0
		for _, v := range p.UniqueValues {
			if v.Value.Kind != cell.KindNull && v.Value.Kind != cell.KindEmpty {
				d++
			}
		}
		rows = append(rows, uniquenessRow{
			col:      p.Column.Sanitized,
			distinct: d,
			rows:     den,
			ratio:    float64(d) / float64(den),
		})
	}
	if len(rows) == 0 {
		return "uniqueness: no values profiled"
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].ratio == rows[j].ratio {
			return rows[i].col < rows[j].col
		}
		return rows[i].ratio < rows[j].ratio
	})

	var b strings.Builder
	fmt.Fprintf(&b, "uniqueness report:\tcolumns=%d\n", len(rows))
	fmt.Fprintf(&b, "%-15s\t%-7s\t%-7s\tratio\n", "col", "unique", "rows")
	for _, r := range rows {
		fmt.Fprintf(&b, "%-15s\t%-7d\t%-7d\t%.1f%%\n", r.col, r.distinct, r.rows, r.ratio*100)
	}
	return strings.TrimRight(b.String(), "\n")
}

// WriteReport writes every column block followed by the uniqueness table.
func WriteReport(w io.Writer, profiles []*dataset.ColumnProfile) error {
	for _, p := range profiles {
		if p == nil {
			continue
		}
		if _, err := fmt.Fprintf(w, "%s\n\n", FormatColumn(p)); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintln(w, FormatUniqueness(profiles))
	return err
}
