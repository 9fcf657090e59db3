// Package sqlite registers the "sqlite" catalog backend (modernc.org/sqlite,
// no cgo).
package sqlite

import (
	"context"
	"database/sql"

	_ "modernc.org/sqlite"

	"github.com/AliothCancer/typed-csv/internal/catalog"
)

func init() {
	catalog.Register("sqlite", New)
}

// Dialect is the SQLite flavour of the catalog tables. SQLite has no
// timestamp type; saved_at is RFC3339Nano text.
var Dialect = catalog.Dialect{
	Name:        "sqlite",
	Placeholder: catalog.QuestionPlaceholder,
	// SQLITE_MAX_VARIABLE_NUMBER defaults to 32766 in modern builds.
	MaxParams: 32766,
	Create: []string{
		`CREATE TABLE IF NOT EXISTS ` + catalog.DatasetsTable + ` (
	dataset TEXT NOT NULL PRIMARY KEY,
	fingerprint TEXT NOT NULL,
	saved_at TEXT NOT NULL
)`,
		`CREATE TABLE IF NOT EXISTS ` + catalog.ColumnsTable + ` (
	dataset TEXT NOT NULL,
	column_index INTEGER NOT NULL,
	raw_name TEXT NOT NULL,
	sanitized TEXT NOT NULL,
	type_name TEXT NOT NULL,
	shape TEXT NOT NULL,
	mixed INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (dataset, column_index)
)`,
		`CREATE TABLE IF NOT EXISTS ` + catalog.VariantsTable + ` (
	dataset TEXT NOT NULL,
	column_index INTEGER NOT NULL,
	variant_index INTEGER NOT NULL,
	ident TEXT NOT NULL,
	const_name TEXT NOT NULL,
	label TEXT NOT NULL,
	kind TEXT NOT NULL,
	PRIMARY KEY (dataset, column_index, variant_index)
)`,
	},
}

// New opens the SQLite database at cfg.DSN and verifies it with a ping.
//
// The pool is limited to one connection so ":memory:" databases are not
// split across connections.
func New(ctx context.Context, cfg catalog.Config) (catalog.Catalog, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return catalog.NewSQL(db, Dialect), nil
}
