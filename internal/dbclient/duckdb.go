package dbclient

import (
	"mdjira/internal/domain"

	_ "github.com/duckdb/duckdb-go/v2"
)

// buildDuckDBDSN returns the database file path. An empty host opens an
// in-memory database.
func buildDuckDBDSN(conn *domain.DestinationConnection) string {
	return conn.Host
}
