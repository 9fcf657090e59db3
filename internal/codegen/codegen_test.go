package codegen

import (
	"bytes"
	"context"
	"encoding/json"
	"go/ast"
	"go/importer"
	"go/parser"
	"go/token"
	"go/types"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/AliothCancer/typed-csv/internal/metrics"
	"github.com/AliothCancer/typed-csv/internal/profile"
	"github.com/AliothCancer/typed-csv/pkg/cell"
	"github.com/AliothCancer/typed-csv/pkg/dataset"
)

type col struct {
	name   string
	values []cell.Value
}

func newDataset(cols ...col) *dataset.Dataset {
	ds := dataset.NewEmpty(nil)
	for _, c := range cols {
		ds.Push(c.name, c.values)
	}
	return ds
}

func profiled(t *testing.T, cols ...col) (dataset.View, []*dataset.ColumnProfile) {
	t.Helper()
	ds := newDataset(cols...)
	ps, err := profile.All(context.Background(), ds, profile.Options{})
	require.NoError(t, err)
	return ds.View(), ps
}

// The source importer caches type-checked packages and is not safe for
// concurrent use.
var (
	checkMu   sync.Mutex
	checkFset = token.NewFileSet()
	checkImp  types.Importer
)

// typeCheck type-checks generated source against the real cell and dataset
// packages.
func typeCheck(t *testing.T, name string, src []byte) *types.Package {
	t.Helper()
	if testing.Short() {
		t.Skip("type-checking generated source loads dependencies from source")
	}

	checkMu.Lock()
	defer checkMu.Unlock()
	if checkImp == nil {
		checkImp = importer.ForCompiler(checkFset, "source", nil)
	}
	f, err := parser.ParseFile(checkFset, name, src, parser.AllErrors)
	require.NoError(t, err, "generated source:\n%s", src)
	conf := types.Config{Importer: checkImp}
	pkg, err := conf.Check("generated/"+f.Name.Name, checkFset, []*ast.File{f}, nil)
	require.NoError(t, err, "generated source:\n%s", src)
	return pkg
}

// mixedDataset has one column of each shape plus a mixed one.
func mixedDataset() []col {
	return []col{
		{"id", []cell.Value{cell.Int(1), cell.Int(2), cell.Int(3)}},
		{"sepal length (cm)", []cell.Value{cell.Float(5.1), cell.Null(), cell.Float(4.9)}},
		{"target", []cell.Value{cell.Str("Iris-setosa"), cell.Str("Iris-virginica"), cell.Empty()}},
		{"mixed_data", []cell.Value{cell.Int(10), cell.Float(21.4), cell.Str("Hello")}},
	}
}

func TestDecide(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		values []cell.Value
		want   Decision
	}{
		{name: "integers", values: []cell.Value{cell.Int(10), cell.Int(10), cell.Int(20), cell.Null(), cell.Empty()}, want: Decision{Shape: ShapeInteger}},
		{name: "floats", values: []cell.Value{cell.Float(1.5), cell.Empty()}, want: Decision{Shape: ShapeFloat}},
		{name: "strings", values: []cell.Value{cell.Str("Hello"), cell.Str("hello"), cell.Null()}, want: Decision{Shape: ShapeCategorical}},
		{name: "only_null_and_empty", values: []cell.Value{cell.Null(), cell.Empty()}, want: Decision{Shape: ShapeInteger}},
		{name: "no_values", values: nil, want: Decision{Shape: ShapeInteger}},
		{name: "int_and_float", values: []cell.Value{cell.Int(1), cell.Float(1.5)}, want: Decision{Shape: ShapeCategorical, Mixed: true}},
		{name: "int_and_string", values: []cell.Value{cell.Int(1), cell.Str("a")}, want: Decision{Shape: ShapeCategorical, Mixed: true}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, ps := profiled(t, col{"c", tt.values})
			assert.Equal(t, tt.want, Decide(ps[0]))
		})
	}
}

func TestBuild_CategoricalVariants(t *testing.T) {
	t.Parallel()

	view, ps := profiled(t, col{"greeting", []cell.Value{
		cell.Str("Hello"), cell.Str("Hello"), cell.Str("hello"),
		cell.Null(), cell.Null(), cell.Empty(), cell.Empty(),
	}})

	a, err := Build(view, ps, Options{})
	require.NoError(t, err)
	require.Len(t, a.Enums, 1)

	e := a.Enums[0]
	assert.Equal(t, "Greeting", e.Name)
	assert.Equal(t, ShapeCategorical, e.Shape)
	require.Len(t, e.Variants, 3)
	assert.Equal(t, VariantSpec{Ident: "Hello", Const: "GreetingHello", Label: "Hello", Kind: cell.KindString}, e.Variants[0])
	assert.Equal(t, VariantSpec{Ident: "hello", Const: "Greetinghello", Label: "hello", Kind: cell.KindString}, e.Variants[1])
	assert.Equal(t, "GreetingNull", e.Variants[2].Const)
	assert.Equal(t, "GreetingNull", e.NullConst())
}

func TestBuild_ArmsFollowFirstOccurrencePerKind(t *testing.T) {
	t.Parallel()

	view, ps := profiled(t, mixedDataset()...)
	a, err := Build(view, ps, Options{})
	require.NoError(t, err)

	fields := a.Container.Fields
	require.Len(t, fields, 4)

	null := ArmSpec{Kinds: []cell.Kind{cell.KindNull, cell.KindEmpty}, Action: ArmNull}
	assert.Equal(t, []ArmSpec{{Kinds: []cell.Kind{cell.KindInteger}, Action: ArmWrapInt}, null}, fields[0].Arms)
	assert.Equal(t, []ArmSpec{{Kinds: []cell.Kind{cell.KindFloat}, Action: ArmWrapFloat}, null}, fields[1].Arms)
	assert.Equal(t, []ArmSpec{{Kinds: []cell.Kind{cell.KindString}, Action: ArmParse}, null}, fields[2].Arms)
	assert.Equal(t, []ArmSpec{
		{Kinds: []cell.Kind{cell.KindString}, Action: ArmParse},
		{Kinds: []cell.Kind{cell.KindInteger}, Action: ArmParse},
		{Kinds: []cell.Kind{cell.KindFloat}, Action: ArmParse},
		null,
	}, fields[3].Arms)

	assert.Equal(t, "Sepal_length_cm", fields[1].Name)
	assert.Equal(t, "sepal_length_cm", fields[1].Sanitized)
	assert.Equal(t, "ColumnSepal_length_cm", a.Columns.Columns[1].Const)
	assert.True(t, a.Enums[3].Mixed)
}

func TestBuild_FloatLabels(t *testing.T) {
	t.Parallel()

	cols := []col{{"m", []cell.Value{cell.Int(10), cell.Float(21.4)}}}

	view, ps := profiled(t, cols...)
	a, err := Build(view, ps, Options{FloatLabels: FloatLabelsDecimal})
	require.NoError(t, err)
	vs := a.Enums[0].Variants
	require.Len(t, vs, 3)
	assert.Equal(t, VariantSpec{Ident: "OneZero", Const: "MOneZero", Label: "10", Kind: cell.KindInteger}, vs[0])
	assert.Equal(t, VariantSpec{Ident: "TwoOne_Four", Const: "MTwoOne_Four", Label: "21.4", Kind: cell.KindFloat}, vs[1])

	_, err = Build(view, ps, Options{FloatLabels: FloatLabelsStrict})
	require.ErrorIs(t, err, ErrFloatCategory)
	assert.Contains(t, err.Error(), "21.4")
}

// Every value of a mixed column reaches a variant: parse arms receive the
// value's display text, which must be a label the generated Parse func
// accepts and String returns.
func TestBuild_MixedColumnValuesRoundTrip(t *testing.T) {
	t.Parallel()

	values := []cell.Value{
		cell.Int(10), cell.Float(21.4), cell.Str("Hello"), cell.Null(),
		cell.Empty(), cell.Int(-3), cell.Str("hello"), cell.Float(0.5),
	}
	view, ps := profiled(t, col{"mix", values})
	a, err := Build(view, ps, Options{})
	require.NoError(t, err)

	e, f := a.Enums[0], a.Container.Fields[0]
	require.True(t, e.Mixed)
	labels := make(map[string]VariantSpec, len(e.Variants))
	for _, v := range e.Variants {
		labels[v.Label] = v
		if v.Kind != cell.KindNull {
			assert.Equal(t, v.Kind, cell.Classify(v.Label, nil).Kind, "label %q", v.Label)
		}
	}

	for _, v := range values {
		action, ok := armAction(f.Arms, v.Kind)
		require.True(t, ok, "no arm for %s", v.Kind)
		switch action {
		case ArmParse:
			got, ok := labels[v.String()]
			require.True(t, ok, "no variant labelled %q", v.String())
			assert.Equal(t, v.Kind, got.Kind)
		case ArmNull:
			assert.Contains(t, labels, dataset.NullVariantName)
		default:
			t.Fatalf("unexpected %s arm for a categorical column", action)
		}
	}

	src, err := GoRenderer{}.Source(a)
	require.NoError(t, err)
	typeCheck(t, "mix.go", src)
	out := string(src)
	for label, v := range labels {
		assert.Contains(t, out, "case "+v.Const+":\n\t\treturn "+quote(label), "String of %s", v.Const)
		assert.Regexp(t, `case `+regexp.QuoteMeta(quote(label))+`(, "")?:\s+return `+v.Const, out, "Parse of %q", label)
	}
}

func armAction(arms []ArmSpec, k cell.Kind) (ArmAction, bool) {
	for _, arm := range arms {
		for _, ak := range arm.Kinds {
			if ak == k {
				return arm.Action, true
			}
		}
	}
	return "", false
}

func TestBuild_NameCollisions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cols []col
	}{
		{name: "headers_sanitize_alike", cols: []col{{"a b", nil}, {"a_b", nil}}},
		{name: "values_sanitize_alike", cols: []col{{"c", []cell.Value{cell.Str("x y"), cell.Str("x-y")}}}},
		{name: "reserved_type_name", cols: []col{{"DataFrame", nil}}},
		{name: "string_Null_vs_null_variant", cols: []col{{"c", []cell.Value{cell.Str("Null")}}}},
		{name: "field_shadows_values_method", cols: []col{{"values", nil}}},
		{name: "field_shadows_columns_method", cols: []col{{"columns", nil}}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			view, ps := profiled(t, tt.cols...)
			_, err := Build(view, ps, Options{})
			require.ErrorIs(t, err, ErrNameCollision)
		})
	}
}

func TestBuild_NonDigitNumeralsAreDropped(t *testing.T) {
	t.Parallel()

	// "²" and "Ⅻ" are numbers to unicode but not Go identifier runes.
	view, ps := profiled(t, col{"x²", nil}, col{"Ⅻy", []cell.Value{cell.Str("½a")}})
	a, err := Build(view, ps, Options{})
	require.NoError(t, err)
	assert.Equal(t, "X", a.Enums[0].Name)
	assert.Equal(t, "Y", a.Enums[1].Name)
	assert.Equal(t, "Ya", a.Enums[1].Variants[0].Const)
}

func TestNameSet_Invalid(t *testing.T) {
	t.Parallel()

	names := newNameSet()
	names.add("Ok", "column a")
	names.add("x²", "column b")
	names.add("func", "column c")
	assert.Equal(t, []string{`"func" <- column c`, `"x²" <- column b`}, names.invalid())
}

func TestBuild_StaleProfiles(t *testing.T) {
	t.Parallel()

	ds := newDataset(col{"a", []cell.Value{cell.Int(1)}})
	ps, err := profile.All(context.Background(), ds, profile.Options{})
	require.NoError(t, err)

	ds.Push("b", nil)
	_, err = Build(ds.View(), ps, Options{})
	require.ErrorIs(t, err, dataset.ErrStaleProfile)
}

func TestBuild_FingerprintIsStable(t *testing.T) {
	t.Parallel()

	view1, ps1 := profiled(t, mixedDataset()...)
	view2, ps2 := profiled(t, mixedDataset()...)

	a1, err := Build(view1, ps1, Options{})
	require.NoError(t, err)
	a2, err := Build(view2, ps2, Options{})
	require.NoError(t, err)
	assert.Len(t, a1.Fingerprint, 64)
	assert.Equal(t, a1.Fingerprint, a2.Fingerprint)

	view3, ps3 := profiled(t, col{"id", []cell.Value{cell.Int(1)}})
	a3, err := Build(view3, ps3, Options{})
	require.NoError(t, err)
	assert.NotEqual(t, a1.Fingerprint, a3.Fingerprint)
}

func TestExported(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"":          "X",
		"age":       "Age",
		"Age":       "Age",
		"_id":       "X_id",
		"éclair":    "Éclair",
		"名前":        "X名前",
		"NOneZero":  "NOneZero",
		"sepal_len": "Sepal_len",
	}
	for in, want := range tests {
		assert.Equal(t, want, exported(in), "exported(%q)", in)
	}
}

func TestParseFloatLabels(t *testing.T) {
	t.Parallel()

	got, err := ParseFloatLabels("")
	require.NoError(t, err)
	assert.Equal(t, FloatLabelsDecimal, got)

	got, err = ParseFloatLabels(" Strict ")
	require.NoError(t, err)
	assert.Equal(t, FloatLabelsStrict, got)

	_, err = ParseFloatLabels("round")
	require.Error(t, err)
}

func TestGoRenderer_ProducesTypeCheckedSource(t *testing.T) {
	t.Parallel()

	view, ps := profiled(t, mixedDataset()...)
	a, err := Build(view, ps, Options{})
	require.NoError(t, err)

	src, err := GoRenderer{Package: "iris"}.Source(a)
	require.NoError(t, err)

	pkg := typeCheck(t, "iris.go", src)
	for _, name := range []string{"ParseId", "ParseSepal_length_cm", "ParseTarget", "ParseMixed_data", "ParseColumn", "NewDataFrame"} {
		assert.NotNil(t, pkg.Scope().Lookup(name), name)
	}
	df := pkg.Scope().Lookup("DataFrame")
	require.NotNil(t, df)
	ms := types.NewMethodSet(types.NewPointer(df.Type()))
	values := ms.Lookup(pkg, "Values")
	require.NotNil(t, values)
	assert.Equal(t, "func(c generated/iris.Column) any", values.Type().String())
	columns := ms.Lookup(pkg, "Columns")
	require.NotNil(t, columns)
	assert.Equal(t, "func() []any", columns.Type().String())

	out := string(src)
	for _, want := range []string{
		"// Code generated by csvtypes. DO NOT EDIT.",
		"package iris",
		`"strconv"`,
		`"github.com/AliothCancer/typed-csv/pkg/cell"`,
		"type Id struct {",
		"func ParseSepal_length_cm(s string) (Sepal_length_cm, error) {",
		"type Target int",
		"TargetIris_setosa Target = iota",
		`case "Null", "":`,
		"type Mixed_data int",
		`return "21.4"`,
		"ColumnId Column = iota",
		`return "sepal length (cm)"`,
		"func AllColumns() []Column {",
		"type DataFrame struct {",
		"func NewDataFrame(ds *dataset.Dataset) (*DataFrame, error) {",
		`ds.ColumnBySanitized("sepal_length_cm")`,
		"case cell.KindNull, cell.KindEmpty:",
		"x = Id{Value: v.Int}",
		"x = Sepal_length_cm{Null: true}",
		"x = TargetNull",
		"p, err := ParseMixed_data(v.String())",
		"panic(fmt.Sprintf(",
		"// Fingerprint: " + a.Fingerprint,
		"func (df *DataFrame) Values(c Column) any {",
		"case ColumnMixed_data:\n\t\treturn df.Mixed_data",
		"func (df *DataFrame) Columns() []any {",
	} {
		assert.Contains(t, out, want)
	}
	assert.Regexp(t, `Target\s+\[\]Target`, out)
}

func TestGoRenderer_CategoricalOnlyOmitsStrconv(t *testing.T) {
	t.Parallel()

	view, ps := profiled(t, col{"c", []cell.Value{cell.Str("a")}})
	a, err := Build(view, ps, Options{})
	require.NoError(t, err)

	src, err := GoRenderer{}.Source(a)
	require.NoError(t, err)
	typeCheck(t, "x.go", src)
	assert.NotContains(t, string(src), `"strconv"`)
	assert.Contains(t, string(src), "package dataframe")
}

func TestGoRenderer_EmptyDataset(t *testing.T) {
	t.Parallel()

	a, err := Build(dataset.View{}, nil, Options{})
	require.NoError(t, err)

	src, err := GoRenderer{}.Source(a)
	require.NoError(t, err)
	typeCheck(t, "x.go", src)
	assert.NotContains(t, string(src), "pkg/cell")
}

func TestGoRenderer_RejectsBadPackage(t *testing.T) {
	t.Parallel()

	_, err := GoRenderer{Package: "not a name"}.Source(&Artifact{})
	require.Error(t, err)
}

func TestJSONRenderer(t *testing.T) {
	t.Parallel()

	view, ps := profiled(t, mixedDataset()...)
	a, err := Build(view, ps, Options{})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, JSONRenderer{}.Render(&buf, a))

	var got struct {
		Enums []struct {
			Name  string `json:"name"`
			Shape string `json:"shape"`
		} `json:"enums"`
		Container struct {
			Fields []struct {
				Arms []struct {
					Kinds  []string `json:"kinds"`
					Action string   `json:"action"`
				} `json:"arms"`
			} `json:"fields"`
		} `json:"container"`
		Fingerprint string `json:"fingerprint"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "integer", got.Enums[0].Shape)
	assert.Equal(t, "categorical", got.Enums[3].Shape)
	assert.Equal(t, []string{"null", "empty"}, got.Container.Fields[0].Arms[1].Kinds)
	assert.Equal(t, a.Fingerprint, got.Fingerprint)
	assert.True(t, strings.HasSuffix(buf.String(), "}\n"))
}

func TestNewRenderer(t *testing.T) {
	t.Parallel()

	r, err := NewRenderer("json", "")
	require.NoError(t, err)
	assert.IsType(t, JSONRenderer{}, r)

	r, err = NewRenderer("", "pkg")
	require.NoError(t, err)
	assert.Equal(t, GoRenderer{Package: "pkg"}, r)

	_, err = NewRenderer("rust", "")
	require.Error(t, err)
}

func TestGenerator_RunTracksStagesAndWarnsOncePerMixedColumn(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	m := metrics.NewMemory()
	g := NewGenerator(GeneratorConfig{Workers: 2, Logger: zap.New(core), Metrics: m})

	ds := newDataset(mixedDataset()...)
	a, err := g.Run(context.Background(), ds)
	require.NoError(t, err)
	require.NotNil(t, a)

	assert.Equal(t, []Stage{StageEmitted, StageEmitted, StageEmitted, StageEmitted}, g.Stages())

	warns := logs.FilterLevelExact(zapcore.WarnLevel).All()
	require.Len(t, warns, 1)
	assert.Equal(t, "mixed_data", warns[0].ContextMap()["column"])

	assert.Equal(t, 3.0, m.Counter(metrics.RowsTotal))
	assert.Equal(t, 4.0, m.Counter(metrics.ColumnsTotal))
	assert.Equal(t, 2.0, m.Counter(metrics.Key(metrics.ColumnsTotal, "shape", "categorical")))
	assert.Equal(t, 1.0, m.Counter(metrics.MixedColumnsTotal))
	assert.Len(t, m.Observations(metrics.Key(metrics.StageDurationSeconds, "stage", "build")), 1)

	// A second run over the same dataset starts over and reaches the same end.
	a2, err := g.Run(context.Background(), ds)
	require.NoError(t, err)
	assert.Equal(t, a.Fingerprint, a2.Fingerprint)
	assert.Len(t, logs.FilterLevelExact(zapcore.WarnLevel).All(), 2)
}

func TestGenerator_BuildErrorLeavesColumnsDecided(t *testing.T) {
	t.Parallel()

	g := NewGenerator(GeneratorConfig{Build: Options{FloatLabels: FloatLabelsStrict}})
	ds := newDataset(col{"m", []cell.Value{cell.Int(1), cell.Float(1.5)}})

	_, err := g.Run(context.Background(), ds)
	require.ErrorIs(t, err, ErrFloatCategory)
	assert.Equal(t, []Stage{StageTypeDecided}, g.Stages())
}

func TestGenerator_DatasetChangeResetsStages(t *testing.T) {
	t.Parallel()

	g := NewGenerator(GeneratorConfig{})
	ds := newDataset(col{"a", []cell.Value{cell.Int(1)}})
	_, err := g.Run(context.Background(), ds)
	require.NoError(t, err)

	ds.Push("b", []cell.Value{cell.Str("x")})
	_, err = g.Run(context.Background(), ds)
	require.NoError(t, err)
	assert.Equal(t, []Stage{StageEmitted, StageEmitted}, g.Stages())
}

func TestGenerator_AdvanceOnlyForward(t *testing.T) {
	t.Parallel()

	g := NewGenerator(GeneratorConfig{})
	g.sync(1, 1)
	require.NoError(t, g.advance(0, StageProfiled))
	require.ErrorIs(t, g.advance(0, StageEmitted), ErrStageOrder)
	require.ErrorIs(t, g.advance(0, StageProfiled), ErrStageOrder)
	require.Error(t, g.advance(3, StageProfiled))
	assert.Equal(t, "profiled", g.Stages()[0].String())
}
