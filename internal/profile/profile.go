// Package profile computes per-column statistics and distinct value sets.
//
// A profile is built from an immutable dataset.View, so profiling never
// observes a dataset undergoing column insertion or removal. Columns are
// read-independent; All profiles them in parallel and attaches the results
// only if the dataset is still at the version that was snapshotted.
package profile

import (
	"context"
	"runtime"
	"sort"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"

	"github.com/AliothCancer/typed-csv/internal/sanitize"
	"github.com/AliothCancer/typed-csv/pkg/cell"
	"github.com/AliothCancer/typed-csv/pkg/dataset"
)

// Profile builds the profile of the column selected by name.
//
// Empty values are counted but never listed as a distinct value: Empty and
// Null are synonyms downstream, so the single Null variant stands for both.
//
// The column is found with View.FindContaining: the first column whose raw
// name is contained in name wins, which is not always the exact match.
// Lookup failure wraps dataset.ErrColumnNotFound.
func Profile(view dataset.View, name string) (*dataset.ColumnProfile, error) {
	idx, col, err := view.FindContaining(name)
	if err != nil {
		return nil, err
	}
	return profileColumn(view.Version, idx, col), nil
}

func profileColumn(version uint64, idx int, col dataset.Column) *dataset.ColumnProfile {
	values := make([]cell.Value, len(col.Values))
	copy(values, col.Values)
	sort.SliceStable(values, func(i, j int) bool {
		return cell.Compare(values[i], values[j]) < 0
	})

	p := &dataset.ColumnProfile{
		Column:  col.Name,
		Index:   idx,
		Version: version,
	}

	hasNull := false
	for i, v := range values {
		p.Counts.Add(v)
		if v.Kind == cell.KindEmpty || (i > 0 && v.Equal(values[i-1])) {
			continue
		}
		if v.Kind == cell.KindNull {
			hasNull = true
		}
		p.UniqueValues = append(p.UniqueValues, variantOf(v))
	}
	if !hasNull {
		p.UniqueValues = append(p.UniqueValues, variantOf(cell.Null()))
	}
	return p
}

// variantOf derives display and identifier text for a distinct value.
// Floats get no identifier here; the code generator decides how to label
// a float that ends up in a categorical enum.
func variantOf(v cell.Value) dataset.Variant {
	switch v.Kind {
	case cell.KindString, cell.KindInteger:
		raw := v.String()
		return dataset.Variant{Raw: raw, Sanitized: sanitize.Identifier(raw), Value: v}
	case cell.KindFloat:
		return dataset.Variant{Raw: v.String(), Value: v}
	default:
		return dataset.Variant{Raw: dataset.NullVariantName, Sanitized: dataset.NullVariantName, Value: cell.Null()}
	}
}

// Options controls All.
type Options struct {
	// Workers bounds concurrent column profiling. Zero or less uses
	// runtime.GOMAXPROCS(0); 1 profiles sequentially.
	Workers int
}

func (o Options) limit() int {
	if o.Workers <= 0 {
		return runtime.GOMAXPROCS(0)
	}
	return o.Workers
}

// All profiles every column of ds and attaches the profiles.
//
// Columns are addressed by position, not by name: with columns "id" and
// "user_id" a name lookup for "user_id" would select "id" (see Profile),
// while All gives every column its own profile.
//
// Errors:
//   - dataset.ErrStaleProfile if ds changed while profiling.
//   - ctx.Err() if ctx is cancelled before all columns are done.
func All(ctx context.Context, ds *dataset.Dataset, opt Options) ([]*dataset.ColumnProfile, error) {
	view := ds.View()
	out := make([]*dataset.ColumnProfile, len(view.Columns))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opt.limit())

	for i, col := range view.Columns {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out[i] = profileColumn(view.Version, i, col)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if err := ds.AttachProfiles(view.Version, out...); err != nil {
		return nil, errors.Wrap(err, "attach profiles")
	}
	return out, nil
}
