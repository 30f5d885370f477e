package dbclient

import (
	"mdjira/internal/domain"

	_ "modernc.org/sqlite"
)

// buildSQLiteDSN opens the file in WAL mode with a busy timeout.
func buildSQLiteDSN(conn *domain.DestinationConnection) string {
	return conn.Host + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
}
