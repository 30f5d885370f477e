package domain

// DestinationDriver represents the engine issues are merge-written into.
type DestinationDriver string

const (
	DestinationDriverDuckDB   DestinationDriver = "duckdb"
	DestinationDriverPostgres DestinationDriver = "postgres"
	DestinationDriverMySQL    DestinationDriver = "mysql"
	DestinationDriverSQLite   DestinationDriver = "sqlite"
	DestinationDriverMongoDB  DestinationDriver = "mongodb"
)

// DestinationConnection holds the metadata for connecting to the destination.
// The password is read separately from the SecretStore.
type DestinationConnection struct {
	Name      string            `json:"name" yaml:"name"`
	Driver    DestinationDriver `json:"driver" yaml:"driver"`
	Host      string            `json:"host" yaml:"host"`         // hostname, file path (duckdb/sqlite) or mongodb:// URI
	Port      int               `json:"port" yaml:"port"`         // 0 for file-backed drivers
	Database  string            `json:"database" yaml:"database"` // db name or empty for file-backed drivers
	Username  string            `json:"username" yaml:"username"`
	SSLMode   string            `json:"sslMode" yaml:"ssl_mode"`
	ExtraJSON string            `json:"extraJson" yaml:"extra_json"` // driver-specific options
}

// IsFileBacked reports whether Host is a local database file.
func (c *DestinationConnection) IsFileBacked() bool {
	return c.Driver == DestinationDriverDuckDB || c.Driver == DestinationDriverSQLite
}
