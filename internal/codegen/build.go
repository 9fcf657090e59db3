package codegen

import (
	"go/token"
	"sort"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/AliothCancer/typed-csv/internal/sanitize"
	"github.com/AliothCancer/typed-csv/pkg/cell"
	"github.com/AliothCancer/typed-csv/pkg/dataset"
)

var (
	// ErrFloatCategory is returned under FloatLabelsStrict when a float
	// value reaches a categorical enumeration.
	ErrFloatCategory = errors.New("float value in categorical column")

	// ErrNameCollision is returned when two generated names coincide, for
	// example two headers that sanitize to the same identifier.
	ErrNameCollision = errors.New("generated names collide")

	// ErrInvalidIdentifier is returned when a sanitized name is not a valid
	// Go identifier.
	ErrInvalidIdentifier = errors.New("invalid generated identifier")
)

// FloatLabels selects how float values in a categorical column are named.
type FloatLabels string

const (
	// FloatLabelsDecimal labels a float with its canonical decimal text and
	// names it by sanitizing that text ("21.4" becomes TwoOne_Four).
	FloatLabelsDecimal FloatLabels = "decimal"
	// FloatLabelsStrict rejects floats in categorical columns with
	// ErrFloatCategory.
	FloatLabelsStrict FloatLabels = "strict"
)

// ParseFloatLabels maps a configuration string to a policy. Blank selects
// FloatLabelsDecimal.
func ParseFloatLabels(s string) (FloatLabels, error) {
	switch FloatLabels(strings.ToLower(strings.TrimSpace(s))) {
	case "", FloatLabelsDecimal:
		return FloatLabelsDecimal, nil
	case FloatLabelsStrict:
		return FloatLabelsStrict, nil
	default:
		return "", errors.Newf("unknown float label policy %q (want decimal or strict)", s)
	}
}

// Options controls Build.
type Options struct {
	FloatLabels FloatLabels
}

// reserved are the fixed top-level names of every generated file.
var reserved = []string{
	ColumnTypeName,
	"Parse" + ColumnTypeName,
	"All" + ColumnTypeName + "s",
	ContainerTypeName,
	"New" + ContainerTypeName,
}

// Build assembles the artifact for all columns of view.
//
// profiles must be aligned with view.Columns and computed from the same
// version, otherwise the result wraps dataset.ErrStaleProfile.
//
// Errors:
//   - ErrFloatCategory under FloatLabelsStrict.
//   - ErrNameCollision when generated names coincide. All collisions are
//     listed, not just the first. A column whose field name equals a
//     DataFrame method (Values, Columns) collides too.
//   - ErrInvalidIdentifier when sanitizing leaves something that is not a
//     Go identifier (for example a header of only dropped characters).
func Build(view dataset.View, profiles []*dataset.ColumnProfile, opt Options) (*Artifact, error) {
	if len(profiles) != len(view.Columns) {
		return nil, errors.Wrapf(dataset.ErrStaleProfile, "%d profiles for %d columns", len(profiles), len(view.Columns))
	}
	if opt.FloatLabels == "" {
		opt.FloatLabels = FloatLabelsDecimal
	}

	a := &Artifact{
		Columns:   ColumnsSpec{Name: ColumnTypeName},
		Container: ContainerSpec{Name: ContainerTypeName},
		Version:   view.Version,
	}
	names := newNameSet()
	for _, r := range reserved {
		names.add(r, "generated "+r)
	}
	members := newNameSet()
	for _, m := range []string{ValuesMethodName, ColumnsMethodName} {
		members.add(m, "generated method "+ContainerTypeName+"."+m)
	}

	for i, col := range view.Columns {
		p := profiles[i]
		if p == nil {
			return nil, errors.Wrapf(dataset.ErrStaleProfile, "column %q is not profiled", col.Name.Raw)
		}
		if p.Version != view.Version || p.Index != i {
			return nil, errors.Wrapf(dataset.ErrStaleProfile, "profile of column %q does not match the view", col.Name.Raw)
		}

		d := Decide(p)
		typeName := exported(col.Name.Sanitized)
		origin := "column " + quote(col.Name.Raw)

		enum := EnumSpec{Name: typeName, RawName: col.Name.Raw, Shape: d.Shape, Mixed: d.Mixed}
		if d.Shape == ShapeCategorical {
			vs, err := variantsOf(typeName, col.Name.Raw, p.UniqueValues, opt.FloatLabels)
			if err != nil {
				return nil, err
			}
			enum.Variants = vs
			labels := newNameSet()
			for _, v := range vs {
				names.add(v.Const, origin+" value "+quote(v.Label))
				labels.add(v.Label, quote(v.Label))
			}
			if msg := labels.collisions(); len(msg) > 0 {
				return nil, collisionError(msg)
			}
		}
		names.add(typeName, origin)
		members.add(typeName, origin)
		names.add("Parse"+typeName, origin)

		colConst := ColumnTypeName + typeName
		names.add(colConst, origin)

		a.Enums = append(a.Enums, enum)
		a.Columns.Columns = append(a.Columns.Columns, ColumnConst{
			Const:     colConst,
			RawName:   col.Name.Raw,
			Sanitized: col.Name.Sanitized,
		})
		a.Container.Fields = append(a.Container.Fields, FieldSpec{
			Name:      typeName,
			RawName:   col.Name.Raw,
			Sanitized: col.Name.Sanitized,
			Enum:      typeName,
			Shape:     d.Shape,
			Arms:      armsFor(d.Shape, p.UniqueValues),
		})
	}

	if bad := names.invalid(); len(bad) > 0 {
		return nil, errors.WithHint(
			errors.Wrapf(ErrInvalidIdentifier, "%s", strings.Join(bad, "; ")),
			"rename the affected headers or values in the input")
	}
	if msg := append(names.collisions(), members.collisions()...); len(msg) > 0 {
		return nil, collisionError(msg)
	}

	a.Fingerprint = fingerprint(a)
	return a, nil
}

// variantsOf lists the enumeration constants of a categorical column, one
// per distinct value in profile order. The profile always ends with Null.
func variantsOf(typeName, rawColumn string, uv []dataset.Variant, policy FloatLabels) ([]VariantSpec, error) {
	out := make([]VariantSpec, 0, len(uv))
	for _, v := range uv {
		ident, label := v.Sanitized, v.Raw
		switch v.Value.Kind {
		case cell.KindFloat:
			if policy == FloatLabelsStrict {
				return nil, errors.WithHint(
					errors.Wrapf(ErrFloatCategory, "column %q value %s", rawColumn, v.Raw),
					"use float_labels=decimal to label floats by their decimal text")
			}
			ident = sanitize.Identifier(v.Raw)
		case cell.KindNull, cell.KindEmpty:
			ident, label = dataset.NullVariantName, dataset.NullVariantName
		}
		out = append(out, VariantSpec{
			Ident: ident,
			Const: typeName + ident,
			Label: label,
			Kind:  v.Value.Kind,
		})
	}
	return out, nil
}

// armsFor derives the constructor's switch arms from the profile.
//
// Arms are written in profile order; the first value of each kind writes
// the arm for that kind and later values reuse it. Null and Empty share one
// arm. Numeric shapes store the payload; categorical columns parse the
// value's display text.
func armsFor(shape Shape, uv []dataset.Variant) []ArmSpec {
	var arms []ArmSpec
	seen := make(map[cell.Kind]bool, 4)
	for _, v := range uv {
		k := v.Value.Kind
		if k == cell.KindEmpty {
			k = cell.KindNull
		}
		if seen[k] {
			continue
		}
		seen[k] = true

		switch k {
		case cell.KindNull:
			arms = append(arms, ArmSpec{Kinds: []cell.Kind{cell.KindNull, cell.KindEmpty}, Action: ArmNull})
		case cell.KindInteger:
			if shape == ShapeInteger {
				arms = append(arms, ArmSpec{Kinds: []cell.Kind{k}, Action: ArmWrapInt})
			} else {
				arms = append(arms, ArmSpec{Kinds: []cell.Kind{k}, Action: ArmParse})
			}
		case cell.KindFloat:
			if shape == ShapeFloat {
				arms = append(arms, ArmSpec{Kinds: []cell.Kind{k}, Action: ArmWrapFloat})
			} else {
				arms = append(arms, ArmSpec{Kinds: []cell.Kind{k}, Action: ArmParse})
			}
		default:
			arms = append(arms, ArmSpec{Kinds: []cell.Kind{k}, Action: ArmParse})
		}
	}
	return arms
}

// nameSet records where each generated name came from.
type nameSet struct {
	order   []string
	origins map[string][]string
}

func newNameSet() *nameSet {
	return &nameSet{origins: make(map[string][]string)}
}

func (s *nameSet) add(name, origin string) {
	if _, ok := s.origins[name]; !ok {
		s.order = append(s.order, name)
	}
	s.origins[name] = append(s.origins[name], origin)
}

func (s *nameSet) collisions() []string {
	var out []string
	for _, n := range s.order {
		if o := s.origins[n]; len(o) > 1 {
			out = append(out, n+" <- "+strings.Join(o, ", "))
		}
	}
	return out
}

func (s *nameSet) invalid() []string {
	var out []string
	for _, n := range s.order {
		if !token.IsIdentifier(n) {
			out = append(out, quote(n)+" <- "+strings.Join(s.origins[n], ", "))
		}
	}
	sort.Strings(out)
	return out
}

func collisionError(msg []string) error {
	return errors.WithHint(
		errors.Wrapf(ErrNameCollision, "%s", strings.Join(msg, "; ")),
		"rename the affected headers or values so their identifiers differ")
}

func quote(s string) string {
	return strconv.Quote(s)
}
