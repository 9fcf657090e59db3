// Package postgres registers the "postgres" catalog backend on a pgx
// connection pool.
package postgres

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/AliothCancer/typed-csv/internal/catalog"
)

func init() {
	catalog.Register("postgres", New)
}

// Dialect is the Postgres flavour of the catalog tables.
var Dialect = catalog.Dialect{
	Name:        "postgres",
	Placeholder: catalog.DollarPlaceholder,
	// The wire protocol carries the parameter count as uint16.
	MaxParams: 65535,
	Create: []string{
		`CREATE TABLE IF NOT EXISTS ` + catalog.DatasetsTable + ` (
	dataset text NOT NULL PRIMARY KEY,
	fingerprint text NOT NULL,
	saved_at text NOT NULL
)`,
		`CREATE TABLE IF NOT EXISTS ` + catalog.ColumnsTable + ` (
	dataset text NOT NULL,
	column_index bigint NOT NULL,
	raw_name text NOT NULL,
	sanitized text NOT NULL,
	type_name text NOT NULL,
	shape text NOT NULL,
	mixed bigint NOT NULL DEFAULT 0,
	PRIMARY KEY (dataset, column_index)
)`,
		`CREATE TABLE IF NOT EXISTS ` + catalog.VariantsTable + ` (
	dataset text NOT NULL,
	column_index bigint NOT NULL,
	variant_index bigint NOT NULL,
	ident text NOT NULL,
	const_name text NOT NULL,
	label text NOT NULL,
	kind text NOT NULL,
	PRIMARY KEY (dataset, column_index, variant_index)
)`,
	},
}

var now = time.Now

// pool is the part of *pgxpool.Pool the catalog uses.
type pool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Catalog implements catalog.Catalog for Postgres.
type Catalog struct {
	pool pool
}

// New creates a pool for cfg.DSN and verifies it with a ping.
func New(ctx context.Context, cfg catalog.Config) (catalog.Catalog, error) {
	p, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, err
	}
	return &Catalog{pool: p}, nil
}

// Close closes the connection pool.
func (c *Catalog) Close() {
	c.pool.Close()
}

// EnsureSchema creates the catalog tables if they do not exist.
func (c *Catalog) EnsureSchema(ctx context.Context) error {
	for _, stmt := range Dialect.Create {
		if _, err := c.pool.Exec(ctx, stmt); err != nil {
			return errors.Wrap(err, "postgres: ensure catalog tables")
		}
	}
	return nil
}

// SaveSchema replaces the rows stored under s.Dataset. All statements are
// sent as one batch inside a transaction.
func (c *Catalog) SaveSchema(ctx context.Context, s catalog.Schema) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if s.SavedAt.IsZero() {
		s.SavedAt = now()
	}

	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "postgres: begin")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	b := &pgx.Batch{}
	for _, st := range Dialect.SaveStatements(s) {
		b.Queue(st.SQL, st.Args...)
	}
	if err := tx.SendBatch(ctx, b).Close(); err != nil {
		return errors.Wrapf(err, "postgres: save schema %q", s.Dataset)
	}
	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "postgres: commit")
	}
	return nil
}

// LoadSchema reads the schema stored under dataset.
func (c *Catalog) LoadSchema(ctx context.Context, dataset string) (catalog.Schema, error) {
	qDataset, qColumns, qVariants := Dialect.LoadQueries()

	var fingerprint, savedAt string
	err := c.pool.QueryRow(ctx, qDataset, dataset).Scan(&fingerprint, &savedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return catalog.Schema{}, errors.Wrapf(catalog.ErrSchemaNotFound, "dataset %q", dataset)
	}
	if err != nil {
		return catalog.Schema{}, errors.Wrapf(err, "postgres: load dataset %q", dataset)
	}
	a, err := catalog.NewAssembler(dataset, fingerprint, savedAt)
	if err != nil {
		return catalog.Schema{}, err
	}

	rows, err := c.pool.Query(ctx, qColumns, dataset)
	if err != nil {
		return catalog.Schema{}, errors.Wrap(err, "postgres: load columns")
	}
	var (
		pos, mixed                      int64
		raw, sanitized, typeName, shape string
	)
	_, err = pgx.ForEachRow(rows, []any{&pos, &raw, &sanitized, &typeName, &shape, &mixed}, func() error {
		a.AddColumn(pos, raw, sanitized, typeName, shape, mixed)
		return nil
	})
	if err != nil {
		return catalog.Schema{}, errors.Wrap(err, "postgres: scan columns")
	}

	rows, err = c.pool.Query(ctx, qVariants, dataset)
	if err != nil {
		return catalog.Schema{}, errors.Wrap(err, "postgres: load variants")
	}
	var (
		ord                           int64
		ident, constName, label, kind string
	)
	_, err = pgx.ForEachRow(rows, []any{&pos, &ord, &ident, &constName, &label, &kind}, func() error {
		return a.AddVariant(pos, ord, ident, constName, label, kind)
	})
	if err != nil {
		return catalog.Schema{}, errors.Wrap(err, "postgres: scan variants")
	}
	return a.Schema(), nil
}

var _ catalog.Catalog = (*Catalog)(nil)
