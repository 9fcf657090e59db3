package codegen

import (
	"bytes"
	"encoding/json"
	"go/format"
	"go/token"
	"io"
	"strconv"
	"strings"
	"text/template"

	"github.com/cockroachdb/errors"

	"github.com/AliothCancer/typed-csv/pkg/cell"
)

// Import paths of the runtime packages generated code depends on.
const (
	DefaultDatasetImport = "github.com/AliothCancer/typed-csv/pkg/dataset"
	DefaultCellImport    = "github.com/AliothCancer/typed-csv/pkg/cell"
	DefaultPackage       = "dataframe"
)

// Renderer writes an artifact in some output format.
type Renderer interface {
	Render(w io.Writer, a *Artifact) error
}

// NewRenderer returns the renderer for format "go" or "json".
func NewRenderer(format, pkg string) (Renderer, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "go":
		return GoRenderer{Package: pkg}, nil
	case "json":
		return JSONRenderer{}, nil
	default:
		return nil, errors.Newf("unknown render format %q (want go or json)", format)
	}
}

// JSONRenderer writes the artifact as indented JSON.
type JSONRenderer struct{}

func (JSONRenderer) Render(w io.Writer, a *Artifact) error {
	b, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal artifact")
	}
	b = append(b, '\n')
	_, err = w.Write(b)
	return err
}

// GoRenderer writes gofmt-formatted Go source: one type per column, the
// Column enumeration, the DataFrame container and NewDataFrame.
type GoRenderer struct {
	// Package is the package clause. Defaults to DefaultPackage.
	Package string
	// DatasetImport and CellImport override the runtime import paths.
	DatasetImport string
	CellImport    string
}

type goVariant struct {
	Const string
	Label string
	Cases string
}

type goEnum struct {
	Name      string
	RawName   string
	Numeric   bool
	Mixed     bool
	GoType    string
	ParseCall string
	Variants  []goVariant
}

type goArm struct {
	Cases string
	Body  string
}

type goField struct {
	Name      string
	Column    string
	RawName   string
	Sanitized string
	Enum      string
	Arms      []goArm
}

type goFile struct {
	Package       string
	DatasetImport string
	CellImport    string
	NeedStrconv   bool
	NeedCell      bool
	Fingerprint   string
	Enums         []goEnum
	Columns       ColumnsSpec
	Container     string
	Fields        []goField
	Values        string
	ColumnsMethod string
}

var goTemplate = template.Must(template.New("go").Funcs(template.FuncMap{
	"quote": strconv.Quote,
}).Parse(goSource))

// Render implements Renderer.
func (r GoRenderer) Render(w io.Writer, a *Artifact) error {
	src, err := r.Source(a)
	if err != nil {
		return err
	}
	_, err = w.Write(src)
	return err
}

// Source returns the formatted Go source for a.
func (r GoRenderer) Source(a *Artifact) ([]byte, error) {
	f, err := r.file(a)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := goTemplate.Execute(&buf, f); err != nil {
		return nil, errors.Wrap(err, "execute go template")
	}
	out, err := format.Source(buf.Bytes())
	if err != nil {
		return nil, errors.Wrap(err, "format generated source")
	}
	return out, nil
}

func (r GoRenderer) file(a *Artifact) (goFile, error) {
	f := goFile{
		Package:       r.Package,
		DatasetImport: r.DatasetImport,
		CellImport:    r.CellImport,
		NeedStrconv:   a.HasNumeric(),
		NeedCell:      len(a.Container.Fields) > 0,
		Fingerprint:   a.Fingerprint,
		Columns:       a.Columns,
		Container:     a.Container.Name,
		Values:        ValuesMethodName,
		ColumnsMethod: ColumnsMethodName,
	}
	if f.Package == "" {
		f.Package = DefaultPackage
	}
	if !token.IsIdentifier(f.Package) {
		return goFile{}, errors.Newf("invalid package name %q", f.Package)
	}
	if f.DatasetImport == "" {
		f.DatasetImport = DefaultDatasetImport
	}
	if f.CellImport == "" {
		f.CellImport = DefaultCellImport
	}

	for _, e := range a.Enums {
		ge := goEnum{Name: e.Name, RawName: e.RawName, Mixed: e.Mixed}
		switch e.Shape {
		case ShapeInteger:
			ge.Numeric, ge.GoType, ge.ParseCall = true, "int64", "strconv.ParseInt(s, 10, 64)"
		case ShapeFloat:
			ge.Numeric, ge.GoType, ge.ParseCall = true, "float64", "strconv.ParseFloat(s, 64)"
		default:
			for _, v := range e.Variants {
				cases := strconv.Quote(v.Label)
				if v.Kind == cell.KindNull || v.Kind == cell.KindEmpty {
					cases += `, ""`
				}
				ge.Variants = append(ge.Variants, goVariant{Const: v.Const, Label: v.Label, Cases: cases})
			}
		}
		f.Enums = append(f.Enums, ge)
	}

	if len(a.Container.Fields) != len(a.Columns.Columns) {
		return goFile{}, errors.Newf("%d fields for %d columns", len(a.Container.Fields), len(a.Columns.Columns))
	}
	for i, fs := range a.Container.Fields {
		e, ok := a.Enum(fs.Enum)
		if !ok {
			return goFile{}, errors.Newf("field %s refers to unknown enum %s", fs.Name, fs.Enum)
		}
		gf := goField{Name: fs.Name, Column: a.Columns.Columns[i].Const, RawName: fs.RawName, Sanitized: fs.Sanitized, Enum: fs.Enum}
		for _, arm := range fs.Arms {
			gf.Arms = append(gf.Arms, goArm{Cases: kindCases(arm.Kinds), Body: armBody(e, fs.RawName, arm.Action)})
		}
		f.Fields = append(f.Fields, gf)
	}
	return f, nil
}

func kindCases(kinds []cell.Kind) string {
	parts := make([]string, len(kinds))
	for i, k := range kinds {
		parts[i] = "cell." + kindConst(k)
	}
	return strings.Join(parts, ", ")
}

func kindConst(k cell.Kind) string {
	switch k {
	case cell.KindString:
		return "KindString"
	case cell.KindInteger:
		return "KindInteger"
	case cell.KindFloat:
		return "KindFloat"
	case cell.KindNull:
		return "KindNull"
	default:
		return "KindEmpty"
	}
}

func armBody(e EnumSpec, rawColumn string, action ArmAction) string {
	switch action {
	case ArmWrapInt:
		return "x = " + e.Name + "{Value: v.Int}"
	case ArmWrapFloat:
		return "x = " + e.Name + "{Value: v.Float}"
	case ArmNull:
		if e.Categorical() {
			return "x = " + e.NullConst()
		}
		return "x = " + e.Name + "{Null: true}"
	default:
		return "p, err := Parse" + e.Name + "(v.String())\n" +
			"if err != nil {\n" +
			"return nil, fmt.Errorf(\"column %s row %d: %w\", " + strconv.Quote(rawColumn) + ", row, err)\n" +
			"}\n" +
			"x = p"
	}
}

const goSource = `// Code generated by csvtypes. DO NOT EDIT.
// Fingerprint: {{.Fingerprint}}

package {{.Package}}

import (
	"fmt"
{{- if .NeedStrconv}}
	"strconv"
{{- end}}
{{if .NeedCell}}
	{{quote .CellImport}}
{{- end}}
	{{quote .DatasetImport}}
)
{{range .Enums}}{{$e := .}}
{{if .Numeric}}
// {{.Name}} is a value of column {{quote .RawName}}.
type {{.Name}} struct {
	Value {{.GoType}}
	Null  bool
}

// Parse{{.Name}} parses one cell of column {{quote .RawName}}.
// Blank text and "Null" yield a Null value.
func Parse{{.Name}}(s string) ({{.Name}}, error) {
	if s == "" || s == "Null" {
		return {{.Name}}{Null: true}, nil
	}
	v, err := {{.ParseCall}}
	if err != nil {
		return {{.Name}}{}, fmt.Errorf("parse {{.Name}}: %w", err)
	}
	return {{.Name}}{Value: v}, nil
}
{{else}}
// {{.Name}} enumerates the values of column {{quote .RawName}}.
{{- if .Mixed}}
// The column mixes value kinds; every value is labelled by its text.
{{- end}}
type {{.Name}} int

const (
{{- range $i, $v := .Variants}}
	{{$v.Const}}{{if eq $i 0}} {{$e.Name}} = iota{{end}}
{{- end}}
)

func (v {{.Name}}) String() string {
	switch v {
{{- range .Variants}}
	case {{.Const}}:
		return {{quote .Label}}
{{- end}}
	}
	return fmt.Sprintf("{{.Name}}(%d)", int(v))
}

// Parse{{.Name}} maps a label to its constant. Blank text yields {{$e.Name}}Null.
func Parse{{.Name}}(s string) ({{.Name}}, error) {
	switch s {
{{- range .Variants}}
	case {{.Cases}}:
		return {{.Const}}, nil
{{- end}}
	}
	return 0, fmt.Errorf("parse {{.Name}}: unknown value %q", s)
}
{{end}}
{{- end}}

// {{.Columns.Name}} names a column of the input.
type {{.Columns.Name}} int

const (
{{- range $i, $c := .Columns.Columns}}
	{{$c.Const}}{{if eq $i 0}} {{$.Columns.Name}} = iota{{end}}
{{- end}}
)

// String returns the column's header text.
func (c {{.Columns.Name}}) String() string {
	switch c {
{{- range .Columns.Columns}}
	case {{.Const}}:
		return {{quote .RawName}}
{{- end}}
	}
	return fmt.Sprintf("Column(%d)", int(c))
}

// Parse{{.Columns.Name}} maps header text to its Column.
func Parse{{.Columns.Name}}(s string) ({{.Columns.Name}}, error) {
	switch s {
{{- range .Columns.Columns}}
	case {{quote .RawName}}:
		return {{.Const}}, nil
{{- end}}
	}
	return 0, fmt.Errorf("unknown column %q", s)
}

// All{{.Columns.Name}}s lists the columns in input order.
func All{{.Columns.Name}}s() []{{.Columns.Name}} {
	return []{{.Columns.Name}}{
{{- range .Columns.Columns}}
		{{.Const}},
{{- end}}
	}
}

// {{.Container}} holds every column of the input.
type {{.Container}} struct {
{{- range .Fields}}
	{{.Name}} []{{.Enum}}
{{- end}}
}

// New{{.Container}} converts a classified dataset. A value of a kind that
// was never observed while generating is a fatal mismatch and panics.
func New{{.Container}}(ds *dataset.Dataset) (*{{.Container}}, error) {
	df := &{{.Container}}{}
{{- range .Fields}}{{$f := .}}
	{
		col, err := ds.ColumnBySanitized({{quote .Sanitized}})
		if err != nil {
			return nil, err
		}
		df.{{.Name}} = make([]{{.Enum}}, 0, len(col.Values))
		for row, v := range col.Values {
			var x {{.Enum}}
			switch v.Kind {
{{- range .Arms}}
			case {{.Cases}}:
				{{.Body}}
{{- end}}
			default:
				panic(fmt.Sprintf("column %s row %d: unexpected %s value", {{quote $f.RawName}}, row, v.Kind))
			}
			df.{{.Name}} = append(df.{{.Name}}, x)
		}
	}
{{- end}}
	return df, nil
}

// {{.Values}} returns the values of column c as the slice of its field,
// such as []T for a column of type T, or nil for an unknown column.
func (df *{{.Container}}) {{.Values}}(c {{.Columns.Name}}) any {
	switch c {
{{- range .Fields}}
	case {{.Column}}:
		return df.{{.Name}}
{{- end}}
	}
	return nil
}

// {{.ColumnsMethod}} returns the values of every column in input order.
func (df *{{.Container}}) {{.ColumnsMethod}}() []any {
	return []any{
{{- range .Fields}}
		df.{{.Name}},
{{- end}}
	}
}
`

var (
	_ Renderer = GoRenderer{}
	_ Renderer = JSONRenderer{}
)
