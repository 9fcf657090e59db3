// Package codegen decides a typed shape for every profiled column and
// renders the result as source code.
//
// The pipeline per column is Decide, then Build assembles the intermediate
// representation (Artifact) for the whole dataset, then a Renderer writes it.
// Generator drives the pipeline and tracks each column's Stage.
package codegen

import (
	"github.com/AliothCancer/typed-csv/pkg/cell"
	"github.com/AliothCancer/typed-csv/pkg/dataset"
)

// Shape is the representation chosen for one column.
type Shape string

const (
	// ShapeInteger is {Integer(int64), Null}.
	ShapeInteger Shape = "integer"
	// ShapeFloat is {Float(float64), Null}.
	ShapeFloat Shape = "float"
	// ShapeCategorical is a closed enumeration of observed values plus Null.
	ShapeCategorical Shape = "categorical"
)

// Decision is the outcome of Decide for one column.
type Decision struct {
	Shape Shape `json:"shape"`
	// Mixed is set when the column holds more than one of Integer, Float
	// and String. Such columns fall back to ShapeCategorical.
	Mixed bool `json:"mixed,omitempty"`
}

// Decide picks the shape of a profiled column.
//
// Rules are tried in order: all Integer, all Float, all String, otherwise
// mixed. Null and Empty never count against a rule, so a column holding
// only Null/Empty becomes ShapeInteger. A column of integer-looking strings
// stays categorical because the rule looks at the classified kind, not at
// whether the text parses.
func Decide(p *dataset.ColumnProfile) Decision {
	switch {
	case p.HasKindOnly(cell.KindInteger):
		return Decision{Shape: ShapeInteger}
	case p.HasKindOnly(cell.KindFloat):
		return Decision{Shape: ShapeFloat}
	case p.HasKindOnly(cell.KindString):
		return Decision{Shape: ShapeCategorical}
	default:
		return Decision{Shape: ShapeCategorical, Mixed: true}
	}
}
