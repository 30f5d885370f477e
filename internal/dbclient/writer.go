package dbclient

import (
	"fmt"

	"mdjira/internal/domain"
	"mdjira/internal/etl"
)

// NewWriter creates the destination for the given connection.
// The password must be provided separately (from SecretStore).
func NewWriter(conn *domain.DestinationConnection, password string) (etl.Destination, error) {
	switch conn.Driver {
	case domain.DestinationDriverDuckDB, "":
		return openSQLWriter(domain.DestinationDriverDuckDB, "duckdb", buildDuckDBDSN(conn))
	case domain.DestinationDriverSQLite:
		return openSQLWriter(conn.Driver, "sqlite", buildSQLiteDSN(conn))
	case domain.DestinationDriverMySQL:
		return openSQLWriter(conn.Driver, "mysql", buildMySQLDSN(conn, password))
	case domain.DestinationDriverPostgres:
		return openSQLWriter(conn.Driver, "postgres", buildPostgresDSN(conn, password))
	case domain.DestinationDriverMongoDB:
		return newMongoWriter(conn, password)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", conn.Driver)
	}
}
