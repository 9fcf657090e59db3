// Package mssql registers the "mssql" catalog backend for Microsoft SQL
// Server through database/sql and the go-mssqldb "sqlserver" driver.
package mssql

import (
	"context"
	"database/sql"

	_ "github.com/microsoft/go-mssqldb"

	"github.com/AliothCancer/typed-csv/internal/catalog"
)

func init() {
	catalog.Register("mssql", New)
}

// createIfMissing wraps a CREATE TABLE so it only runs when the table is
// absent. SQL Server has no CREATE TABLE IF NOT EXISTS.
func createIfMissing(table, body string) string {
	return "IF OBJECT_ID(N'" + table + "', N'U') IS NULL\nCREATE TABLE " + table + " (\n" + body + "\n)"
}

// Dialect is the SQL Server flavour of the catalog tables.
var Dialect = catalog.Dialect{
	Name:        "mssql",
	Placeholder: catalog.AtPlaceholder,
	// SQL Server accepts at most 2100 parameters per request.
	MaxParams: 2000,
	Create: []string{
		createIfMissing(catalog.DatasetsTable, `	dataset NVARCHAR(200) NOT NULL PRIMARY KEY,
	fingerprint NVARCHAR(64) NOT NULL,
	saved_at NVARCHAR(40) NOT NULL`),
		createIfMissing(catalog.ColumnsTable, `	dataset NVARCHAR(200) NOT NULL,
	column_index BIGINT NOT NULL,
	raw_name NVARCHAR(MAX) NOT NULL,
	sanitized NVARCHAR(MAX) NOT NULL,
	type_name NVARCHAR(400) NOT NULL,
	shape NVARCHAR(20) NOT NULL,
	mixed BIGINT NOT NULL DEFAULT 0,
	CONSTRAINT PK_csvtypes_columns PRIMARY KEY (dataset, column_index)`),
		createIfMissing(catalog.VariantsTable, `	dataset NVARCHAR(200) NOT NULL,
	column_index BIGINT NOT NULL,
	variant_index BIGINT NOT NULL,
	ident NVARCHAR(MAX) NOT NULL,
	const_name NVARCHAR(MAX) NOT NULL,
	label NVARCHAR(MAX) NOT NULL,
	kind NVARCHAR(20) NOT NULL,
	CONSTRAINT PK_csvtypes_variants PRIMARY KEY (dataset, column_index, variant_index)`),
	},
}

// New opens cfg.DSN with the "sqlserver" driver and verifies it with a ping.
func New(ctx context.Context, cfg catalog.Config) (catalog.Catalog, error) {
	db, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(8)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return catalog.NewSQL(db, Dialect), nil
}
