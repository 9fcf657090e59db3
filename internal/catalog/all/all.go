// Package all registers every catalog backend with the catalog factory.
package all

import (
	_ "github.com/AliothCancer/typed-csv/internal/catalog/mssql"
	_ "github.com/AliothCancer/typed-csv/internal/catalog/postgres"
	_ "github.com/AliothCancer/typed-csv/internal/catalog/sqlite"
)
