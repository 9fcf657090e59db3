package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// Catalog table names.
const (
	DatasetsTable = "csvtypes_datasets"
	ColumnsTable  = "csvtypes_columns"
	VariantsTable = "csvtypes_variants"
)

var (
	datasetCols = []string{"dataset", "fingerprint", "saved_at"}
	columnCols  = []string{"dataset", "column_index", "raw_name", "sanitized", "type_name", "shape", "mixed"}
	variantCols = []string{"dataset", "column_index", "variant_index", "ident", "const_name", "label", "kind"}
)

// Dialect holds what differs between SQL backends.
type Dialect struct {
	Name string
	// Placeholder renders the n-th (1-based) bind parameter.
	Placeholder func(n int) string
	// Create lists idempotent DDL statements run by EnsureSchema.
	Create []string
	// MaxParams bounds bind parameters per statement; inserts are chunked
	// to stay under it. Zero means unbounded.
	MaxParams int
}

// QuestionPlaceholder renders "?" (SQLite).
func QuestionPlaceholder(int) string { return "?" }

// DollarPlaceholder renders "$n" (Postgres).
func DollarPlaceholder(n int) string { return fmt.Sprintf("$%d", n) }

// AtPlaceholder renders "@pn" (SQL Server).
func AtPlaceholder(n int) string { return fmt.Sprintf("@p%d", n) }

// InsertSQL builds one multi-row INSERT for rows rows of len(columns)
// parameters each.
func (d Dialect) InsertSQL(table string, columns []string, rows int) string {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(table)
	b.WriteString(" (")
	b.WriteString(strings.Join(columns, ", "))
	b.WriteString(") VALUES ")

	p := 1
	for i := 0; i < rows; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			b.WriteString(d.Placeholder(p))
			p++
		}
		b.WriteString(")")
	}
	return b.String()
}

// DeleteSQL removes every row of table stored under one dataset name.
func (d Dialect) DeleteSQL(table string) string {
	return "DELETE FROM " + table + " WHERE dataset = " + d.Placeholder(1)
}

// SelectSQL reads columns of table for one dataset name in the given order.
func (d Dialect) SelectSQL(table string, columns []string, orderBy string) string {
	q := "SELECT " + strings.Join(columns[1:], ", ") + " FROM " + table + " WHERE dataset = " + d.Placeholder(1)
	if orderBy != "" {
		q += " ORDER BY " + orderBy
	}
	return q
}

// chunk splits rows so no statement binds more than maxParams parameters.
func chunk(rows [][]any, width, maxParams int) [][][]any {
	if len(rows) == 0 {
		return nil
	}
	per := len(rows)
	if maxParams > 0 && width > 0 {
		per = max(1, maxParams/width)
	}
	var out [][][]any
	for start := 0; start < len(rows); start += per {
		out = append(out, rows[start:min(start+per, len(rows))])
	}
	return out
}

func flatten(rows [][]any) []any {
	var out []any
	for _, r := range rows {
		out = append(out, r...)
	}
	return out
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// datasetRow, columnRows and variantRows turn a schema into insert rows in
// the order of datasetCols, columnCols and variantCols.
func datasetRow(s Schema) []any {
	return []any{s.Dataset, s.Fingerprint, s.SavedAt.UTC().Format(time.RFC3339Nano)}
}

func columnRows(s Schema) [][]any {
	rows := make([][]any, 0, len(s.Columns))
	for _, c := range s.Columns {
		rows = append(rows, []any{s.Dataset, int64(c.Position), c.RawName, c.Sanitized, c.TypeName, c.Shape, boolInt(c.Mixed)})
	}
	return rows
}

func variantRows(s Schema) [][]any {
	var rows [][]any
	for _, c := range s.Columns {
		for _, v := range c.Variants {
			rows = append(rows, []any{s.Dataset, int64(c.Position), int64(v.Ordinal), v.Ident, v.Const, v.Label, v.Kind})
		}
	}
	return rows
}

// Statement is one SQL text with its arguments.
type Statement struct {
	SQL  string
	Args []any
}

// SaveStatements returns the statements SaveSchema runs inside one
// transaction: deletes child tables first, then inserts parent first.
func (d Dialect) SaveStatements(s Schema) []Statement {
	out := []Statement{
		{SQL: d.DeleteSQL(VariantsTable), Args: []any{s.Dataset}},
		{SQL: d.DeleteSQL(ColumnsTable), Args: []any{s.Dataset}},
		{SQL: d.DeleteSQL(DatasetsTable), Args: []any{s.Dataset}},
		{SQL: d.InsertSQL(DatasetsTable, datasetCols, 1), Args: datasetRow(s)},
	}
	for _, c := range chunk(columnRows(s), len(columnCols), d.MaxParams) {
		out = append(out, Statement{SQL: d.InsertSQL(ColumnsTable, columnCols, len(c)), Args: flatten(c)})
	}
	for _, c := range chunk(variantRows(s), len(variantCols), d.MaxParams) {
		out = append(out, Statement{SQL: d.InsertSQL(VariantsTable, variantCols, len(c)), Args: flatten(c)})
	}
	return out
}

// Assembler builds a Schema from the three select queries. Backends feed it
// scanned rows.
type Assembler struct {
	s     Schema
	byPos map[int]int
}

// LoadQueries returns the dataset, column and variant queries for LoadSchema.
func (d Dialect) LoadQueries() (dataset, columns, variants string) {
	return d.SelectSQL(DatasetsTable, datasetCols, ""),
		d.SelectSQL(ColumnsTable, columnCols, "column_index"),
		d.SelectSQL(VariantsTable, variantCols, "column_index, variant_index")
}

// NewAssembler starts a schema from its dataset row.
func NewAssembler(dataset, fingerprint, savedAt string) (*Assembler, error) {
	ts, err := time.Parse(time.RFC3339Nano, savedAt)
	if err != nil {
		return nil, errors.Wrapf(err, "catalog: saved_at of %q", dataset)
	}
	return &Assembler{
		s:     Schema{Dataset: dataset, Fingerprint: fingerprint, SavedAt: ts},
		byPos: map[int]int{},
	}, nil
}

// AddColumn appends a column row.
func (l *Assembler) AddColumn(position int64, raw, sanitized, typeName, shape string, mixed int64) {
	l.byPos[int(position)] = len(l.s.Columns)
	l.s.Columns = append(l.s.Columns, Column{
		Position:  int(position),
		RawName:   raw,
		Sanitized: sanitized,
		TypeName:  typeName,
		Shape:     shape,
		Mixed:     mixed != 0,
	})
}

// AddVariant attaches a variant row to its column.
func (l *Assembler) AddVariant(position, ordinal int64, ident, constName, label, kind string) error {
	i, ok := l.byPos[int(position)]
	if !ok {
		return errors.Newf("catalog: variant %q of %q refers to missing column %d", label, l.s.Dataset, position)
	}
	c := &l.s.Columns[i]
	c.Variants = append(c.Variants, Variant{Ordinal: int(ordinal), Ident: ident, Const: constName, Label: label, Kind: kind})
	return nil
}

// Schema returns the assembled schema.
func (l *Assembler) Schema() Schema { return l.s }

// SQLCatalog implements Catalog on database/sql. The SQLite and SQL Server
// backends use it with their own Dialect.
type SQLCatalog struct {
	db  *sql.DB
	d   Dialect
	now func() time.Time
}

// NewSQL wraps an open database.
func NewSQL(db *sql.DB, d Dialect) *SQLCatalog {
	return &SQLCatalog{db: db, d: d, now: time.Now}
}

// Close closes the database.
func (c *SQLCatalog) Close() {
	if c == nil || c.db == nil {
		return
	}
	_ = c.db.Close()
}

// EnsureSchema runs the dialect's DDL.
func (c *SQLCatalog) EnsureSchema(ctx context.Context) error {
	for _, stmt := range c.d.Create {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrapf(err, "%s: ensure catalog tables", c.d.Name)
		}
	}
	return nil
}

// SaveSchema replaces the rows stored under s.Dataset.
func (c *SQLCatalog) SaveSchema(ctx context.Context, s Schema) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if s.SavedAt.IsZero() {
		s.SavedAt = c.now()
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrapf(err, "%s: begin", c.d.Name)
	}
	defer func() { _ = tx.Rollback() }()

	for _, st := range c.d.SaveStatements(s) {
		if _, err := tx.ExecContext(ctx, st.SQL, st.Args...); err != nil {
			return errors.Wrapf(err, "%s: save schema %q", c.d.Name, s.Dataset)
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrapf(err, "%s: commit", c.d.Name)
	}
	return nil
}

// LoadSchema reads the schema stored under dataset.
func (c *SQLCatalog) LoadSchema(ctx context.Context, dataset string) (Schema, error) {
	qDataset, qColumns, qVariants := c.d.LoadQueries()

	var fingerprint, savedAt string
	err := c.db.QueryRowContext(ctx, qDataset, dataset).Scan(&fingerprint, &savedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Schema{}, errors.Wrapf(ErrSchemaNotFound, "dataset %q", dataset)
	}
	if err != nil {
		return Schema{}, errors.Wrapf(err, "%s: load dataset %q", c.d.Name, dataset)
	}
	l, err := NewAssembler(dataset, fingerprint, savedAt)
	if err != nil {
		return Schema{}, err
	}

	rows, err := c.db.QueryContext(ctx, qColumns, dataset)
	if err != nil {
		return Schema{}, errors.Wrapf(err, "%s: load columns", c.d.Name)
	}
	for rows.Next() {
		var pos, mixed int64
		var raw, sanitized, typeName, shape string
		if err := rows.Scan(&pos, &raw, &sanitized, &typeName, &shape, &mixed); err != nil {
			_ = rows.Close()
			return Schema{}, errors.Wrap(err, "scan column")
		}
		l.AddColumn(pos, raw, sanitized, typeName, shape, mixed)
	}
	if err := closeRows(rows); err != nil {
		return Schema{}, err
	}

	rows, err = c.db.QueryContext(ctx, qVariants, dataset)
	if err != nil {
		return Schema{}, errors.Wrapf(err, "%s: load variants", c.d.Name)
	}
	for rows.Next() {
		var pos, ord int64
		var ident, constName, label, kind string
		if err := rows.Scan(&pos, &ord, &ident, &constName, &label, &kind); err != nil {
			_ = rows.Close()
			return Schema{}, errors.Wrap(err, "scan variant")
		}
		if err := l.AddVariant(pos, ord, ident, constName, label, kind); err != nil {
			_ = rows.Close()
			return Schema{}, err
		}
	}
	if err := closeRows(rows); err != nil {
		return Schema{}, err
	}
	return l.Schema(), nil
}

func closeRows(rows *sql.Rows) error {
	err := rows.Err()
	if cerr := rows.Close(); err == nil {
		err = cerr
	}
	return err
}

var _ Catalog = (*SQLCatalog)(nil)
