package codegen

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/AliothCancer/typed-csv/pkg/cell"
	"github.com/AliothCancer/typed-csv/pkg/dataset"
)

// Generated top-level names that do not depend on the input.
const (
	ColumnTypeName    = "Column"
	ContainerTypeName = "DataFrame"

	// Methods of the container; no field may share their names.
	ValuesMethodName  = "Values"
	ColumnsMethodName = "Columns"
)

// ArmAction says how the generated constructor turns a runtime value of the
// arm's kinds into the column type.
type ArmAction string

const (
	// ArmWrapInt stores the integer payload.
	ArmWrapInt ArmAction = "wrap_int"
	// ArmWrapFloat stores the float payload.
	ArmWrapFloat ArmAction = "wrap_float"
	// ArmParse parses the value's display text with the column's Parse func.
	ArmParse ArmAction = "parse"
	// ArmNull yields the column's Null variant.
	ArmNull ArmAction = "null"
)

// VariantSpec is one constant of a categorical enumeration.
type VariantSpec struct {
	// Ident is the sanitized identifier of the value.
	Ident string `json:"ident"`
	// Const is the generated Go constant name.
	Const string `json:"const"`
	// Label is the text the Parse func accepts and String returns.
	Label string    `json:"label"`
	Kind  cell.Kind `json:"kind"`
}

// EnumSpec is the generated type of one column.
type EnumSpec struct {
	Name     string        `json:"name"`
	RawName  string        `json:"raw_name"`
	Shape    Shape         `json:"shape"`
	Mixed    bool          `json:"mixed,omitempty"`
	Variants []VariantSpec `json:"variants,omitempty"`
}

// Categorical reports whether the enum lists its values.
func (e EnumSpec) Categorical() bool { return e.Shape == ShapeCategorical }

// NullConst is the Go name of the Null variant of a categorical enum.
func (e EnumSpec) NullConst() string { return e.Name + dataset.NullVariantName }

// ColumnConst is one constant of the generated Column enumeration.
type ColumnConst struct {
	Const     string `json:"const"`
	RawName   string `json:"raw_name"`
	Sanitized string `json:"sanitized"`
}

// ColumnsSpec is the generated enumeration of column names.
type ColumnsSpec struct {
	Name    string        `json:"name"`
	Columns []ColumnConst `json:"columns"`
}

// ArmSpec is one case of the generated constructor's switch on cell.Kind.
type ArmSpec struct {
	Kinds  []cell.Kind `json:"kinds"`
	Action ArmAction   `json:"action"`
}

// FieldSpec is one DataFrame field.
type FieldSpec struct {
	Name      string    `json:"name"`
	RawName   string    `json:"raw_name"`
	Sanitized string    `json:"sanitized"`
	Enum      string    `json:"enum"`
	Shape     Shape     `json:"shape"`
	Arms      []ArmSpec `json:"arms"`
}

// ContainerSpec is the generated row container and its constructor.
type ContainerSpec struct {
	Name   string      `json:"name"`
	Fields []FieldSpec `json:"fields"`
}

// Artifact is the intermediate representation of everything generated for
// one dataset, in output order.
type Artifact struct {
	Enums       []EnumSpec    `json:"enums"`
	Columns     ColumnsSpec   `json:"columns"`
	Container   ContainerSpec `json:"container"`
	Fingerprint string        `json:"fingerprint"`
	// Version is the dataset version the artifact was built from.
	Version uint64 `json:"version"`
}

// HasNumeric reports whether any column has an integer or float shape.
func (a *Artifact) HasNumeric() bool {
	for _, e := range a.Enums {
		if !e.Categorical() {
			return true
		}
	}
	return false
}

// Enum returns the enum with the given Go name.
func (a *Artifact) Enum(name string) (EnumSpec, bool) {
	for _, e := range a.Enums {
		if e.Name == name {
			return e, true
		}
	}
	return EnumSpec{}, false
}

// exported turns a sanitized identifier into an exported Go name.
// Lower-case initials are upper-cased; initials without case ('_', CJK
// letters) get an "X" prefix.
func exported(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	switch {
	case s == "":
		return "X"
	case unicode.IsUpper(r):
		return s
	case unicode.IsLower(r):
		return string(unicode.ToUpper(r)) + s[size:]
	default:
		return "X" + s
	}
}

// fingerprint hashes the canonical form of the artifact.
//
// Components are separated by the ASCII unit separator (0x1f) and records
// by the record separator (0x1e); Version is not part of the hash, so the
// same input always yields the same fingerprint.
func fingerprint(a *Artifact) string {
	const (
		us = "\x1f"
		rs = "\x1e"
	)
	var b strings.Builder
	for _, e := range a.Enums {
		b.WriteString("enum" + us + e.Name + us + e.RawName + us + string(e.Shape) + us + strconv.FormatBool(e.Mixed))
		for _, v := range e.Variants {
			b.WriteString(us + v.Const + "=" + v.Label + ":" + v.Kind.String())
		}
		b.WriteString(rs)
	}
	for _, c := range a.Columns.Columns {
		b.WriteString("column" + us + c.Const + us + c.RawName + us + c.Sanitized + rs)
	}
	for _, f := range a.Container.Fields {
		b.WriteString("field" + us + f.Name + us + f.Enum + us + f.Sanitized)
		for _, arm := range f.Arms {
			b.WriteString(us + string(arm.Action))
			for _, k := range arm.Kinds {
				b.WriteString("," + k.String())
			}
		}
		b.WriteString(rs)
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
