package catalog

import (
	"context"
	"database/sql/driver"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AliothCancer/typed-csv/internal/codegen"
	"github.com/AliothCancer/typed-csv/pkg/cell"
)

var testDialect = Dialect{
	Name:        "test",
	Placeholder: QuestionPlaceholder,
	Create:      []string{"CREATE TABLE a (x INT)", "CREATE TABLE b (y INT)"},
}

func sampleArtifact() *codegen.Artifact {
	return &codegen.Artifact{
		Enums: []codegen.EnumSpec{
			{Name: "Id", RawName: "id", Shape: codegen.ShapeInteger},
			{Name: "Target", RawName: "target", Shape: codegen.ShapeCategorical, Mixed: true, Variants: []codegen.VariantSpec{
				{Ident: "setosa", Const: "Targetsetosa", Label: "setosa", Kind: cell.KindString},
				{Ident: "Null", Const: "TargetNull", Label: "Null", Kind: cell.KindNull},
			}},
		},
		Container: codegen.ContainerSpec{Name: codegen.ContainerTypeName, Fields: []codegen.FieldSpec{
			{Name: "Id", RawName: "id", Sanitized: "id", Enum: "Id", Shape: codegen.ShapeInteger},
			{Name: "Target", RawName: "target", Sanitized: "target", Enum: "Target", Shape: codegen.ShapeCategorical},
		}},
		Fingerprint: "abc123",
	}
}

func TestFromArtifact(t *testing.T) {
	t.Parallel()

	s, err := FromArtifact("iris", sampleArtifact())
	require.NoError(t, err)

	assert.Equal(t, "iris", s.Dataset)
	assert.Equal(t, "abc123", s.Fingerprint)
	require.Len(t, s.Columns, 2)
	assert.Equal(t, Column{Position: 0, RawName: "id", Sanitized: "id", TypeName: "Id", Shape: "integer"}, s.Columns[0])
	assert.True(t, s.Columns[1].Mixed)
	assert.Equal(t, []Variant{
		{Ordinal: 0, Ident: "setosa", Const: "Targetsetosa", Label: "setosa", Kind: "string"},
		{Ordinal: 1, Ident: "Null", Const: "TargetNull", Label: "Null", Kind: "null"},
	}, s.Columns[1].Variants)
}

func TestFromArtifact_Errors(t *testing.T) {
	t.Parallel()

	_, err := FromArtifact(" ", sampleArtifact())
	require.Error(t, err)
	assert.NotEmpty(t, errors.GetAllHints(err))

	a := sampleArtifact()
	a.Container.Fields[0].Enum = "Missing"
	_, err = FromArtifact("iris", a)
	require.Error(t, err)
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	opened := 0
	Register("registry-test", func(_ context.Context, cfg Config) (Catalog, error) {
		opened++
		assert.Equal(t, "dsn", cfg.DSN)
		return nil, errors.New("boom")
	})
	assert.Contains(t, Kinds(), "registry-test")

	_, err := New(context.Background(), Config{Kind: "registry-test", DSN: "dsn"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open registry-test catalog")
	assert.Equal(t, 1, opened)

	_, err = New(context.Background(), Config{})
	require.Error(t, err)
	_, err = New(context.Background(), Config{Kind: "nope"})
	require.Error(t, err)

	assert.Panics(t, func() { Register("registry-test", func(context.Context, Config) (Catalog, error) { return nil, nil }) })
	assert.Panics(t, func() { Register("", func(context.Context, Config) (Catalog, error) { return nil, nil }) })
	assert.Panics(t, func() { Register("nil-factory", nil) })
}

func TestDialect_SQL(t *testing.T) {
	t.Parallel()

	pg := Dialect{Placeholder: DollarPlaceholder}
	assert.Equal(t, "INSERT INTO t (a, b) VALUES ($1, $2), ($3, $4)", pg.InsertSQL("t", []string{"a", "b"}, 2))
	assert.Equal(t, "DELETE FROM t WHERE dataset = $1", pg.DeleteSQL("t"))

	ms := Dialect{Placeholder: AtPlaceholder}
	assert.Equal(t, "INSERT INTO t (a) VALUES (@p1), (@p2)", ms.InsertSQL("t", []string{"a"}, 2))

	ds, cols, vars := testDialect.LoadQueries()
	assert.Equal(t, "SELECT fingerprint, saved_at FROM csvtypes_datasets WHERE dataset = ?", ds)
	assert.Equal(t, "SELECT column_index, raw_name, sanitized, type_name, shape, mixed FROM csvtypes_columns WHERE dataset = ? ORDER BY column_index", cols)
	assert.Contains(t, vars, "ORDER BY column_index, variant_index")
}

func TestChunk(t *testing.T) {
	t.Parallel()

	rows := [][]any{{1, 2}, {3, 4}, {5, 6}}
	tests := []struct {
		name      string
		maxParams int
		want      []int
	}{
		{name: "unbounded", maxParams: 0, want: []int{3}},
		{name: "two_per_chunk", maxParams: 5, want: []int{2, 1}},
		{name: "at_least_one_row", maxParams: 1, want: []int{1, 1, 1}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var got []int
			for _, c := range chunk(rows, 2, tt.maxParams) {
				got = append(got, len(c))
			}
			assert.Equal(t, tt.want, got)
		})
	}
	assert.Nil(t, chunk(nil, 2, 10))
}

func TestSaveStatements_ChunkedInserts(t *testing.T) {
	t.Parallel()

	s, err := FromArtifact("iris", sampleArtifact())
	require.NoError(t, err)
	s.SavedAt = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	d := Dialect{Placeholder: AtPlaceholder, MaxParams: 7}
	stmts := d.SaveStatements(s)
	// 3 deletes, dataset row, 2 column chunks (7 params each), 2 variant chunks.
	require.Len(t, stmts, 8)
	assert.Equal(t, "DELETE FROM csvtypes_variants WHERE dataset = @p1", stmts[0].SQL)
	assert.Equal(t, []any{"iris", "abc123", "2026-01-02T03:04:05Z"}, stmts[3].Args)
	assert.Equal(t, []any{"iris", int64(1), "target", "target", "Target", "categorical", int64(1)}, stmts[5].Args)
	assert.Equal(t, []any{"iris", int64(1), int64(1), "Null", "TargetNull", "Null", "null"}, stmts[7].Args)
}

func newMock(t *testing.T) (*SQLCatalog, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	c := NewSQL(db, testDialect)
	c.now = func() time.Time { return time.Date(2026, 10, 17, 0, 0, 0, 0, time.UTC) }
	t.Cleanup(func() {
		c.Close()
	})
	return c, mock
}

func TestSQLCatalog_EnsureSchema(t *testing.T) {
	t.Parallel()

	c, mock := newMock(t)
	mock.ExpectExec("CREATE TABLE a (x INT)").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE b (y INT)").WillReturnError(errors.New("denied"))

	err := c.EnsureSchema(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "denied")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLCatalog_SaveSchema(t *testing.T) {
	t.Parallel()

	c, mock := newMock(t)
	s, err := FromArtifact("iris", sampleArtifact())
	require.NoError(t, err)

	mock.ExpectBegin()
	for _, st := range testDialect.SaveStatements(Schema{Dataset: s.Dataset, Fingerprint: s.Fingerprint, SavedAt: c.now(), Columns: s.Columns}) {
		mock.ExpectExec(st.SQL).WithArgs(toDriverArgs(st.Args)...).WillReturnResult(sqlmock.NewResult(0, 1))
	}
	mock.ExpectCommit()

	require.NoError(t, c.SaveSchema(context.Background(), s))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLCatalog_SaveSchemaRollsBack(t *testing.T) {
	t.Parallel()

	c, mock := newMock(t)
	s, err := FromArtifact("iris", sampleArtifact())
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec(testDialect.DeleteSQL(VariantsTable)).WillReturnError(errors.New("locked"))
	mock.ExpectRollback()

	err = c.SaveSchema(context.Background(), s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `save schema "iris"`)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLCatalog_LoadSchema(t *testing.T) {
	t.Parallel()

	c, mock := newMock(t)
	qDataset, qColumns, qVariants := testDialect.LoadQueries()

	mock.ExpectQuery(qDataset).WithArgs("iris").
		WillReturnRows(sqlmock.NewRows([]string{"fingerprint", "saved_at"}).AddRow("abc123", "2026-10-17T00:00:00Z"))
	mock.ExpectQuery(qColumns).WithArgs("iris").
		WillReturnRows(sqlmock.NewRows([]string{"column_index", "raw_name", "sanitized", "type_name", "shape", "mixed"}).
			AddRow(int64(0), "id", "id", "Id", "integer", int64(0)).
			AddRow(int64(1), "target", "target", "Target", "categorical", int64(1)))
	mock.ExpectQuery(qVariants).WithArgs("iris").
		WillReturnRows(sqlmock.NewRows([]string{"column_index", "variant_index", "ident", "const_name", "label", "kind"}).
			AddRow(int64(1), int64(0), "setosa", "Targetsetosa", "setosa", "string").
			AddRow(int64(1), int64(1), "Null", "TargetNull", "Null", "null"))

	got, err := c.LoadSchema(context.Background(), "iris")
	require.NoError(t, err)

	want, err := FromArtifact("iris", sampleArtifact())
	require.NoError(t, err)
	want.SavedAt = time.Date(2026, 10, 17, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, want, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLCatalog_LoadSchemaNotFound(t *testing.T) {
	t.Parallel()

	c, mock := newMock(t)
	qDataset, _, _ := testDialect.LoadQueries()
	mock.ExpectQuery(qDataset).WithArgs("nope").WillReturnRows(sqlmock.NewRows([]string{"fingerprint", "saved_at"}))

	_, err := c.LoadSchema(context.Background(), "nope")
	assert.True(t, errors.Is(err, ErrSchemaNotFound))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAssembler_OrphanVariant(t *testing.T) {
	t.Parallel()

	a, err := NewAssembler("x", "f", "2026-10-17T00:00:00Z")
	require.NoError(t, err)
	require.Error(t, a.AddVariant(3, 0, "a", "A", "a", "string"))

	_, err = NewAssembler("x", "f", "yesterday")
	require.Error(t, err)
}

func toDriverArgs(args []any) []driver.Value {
	out := make([]driver.Value, len(args))
	for i, a := range args {
		out[i] = a
	}
	return out
}
