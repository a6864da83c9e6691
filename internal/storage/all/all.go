// Package all links every storage backend and the drivers they need.
package all

import (
	_ "github.com/microsoft/go-mssqldb" // sqlserver driver

	_ "tabload/internal/storage/duckdb"
	_ "tabload/internal/storage/mssql"
	_ "tabload/internal/storage/postgres"
	_ "tabload/internal/storage/sqlite"
)
