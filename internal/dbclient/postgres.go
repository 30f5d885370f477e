package dbclient

import (
	"encoding/json"
	"net"
	"net/url"
	"strconv"

	"mdjira/internal/domain"

	_ "github.com/lib/pq"
)

// buildPostgresDSN constructs a postgres:// URL from a DestinationConnection.
func buildPostgresDSN(conn *domain.DestinationConnection, password string) string {
	port := conn.Port
	if port == 0 {
		port = 5432
	}
	sslMode := conn.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	q := url.Values{}
	q.Set("sslmode", sslMode)
	for k, v := range extraParams(conn) {
		q.Set(k, v)
	}
	u := url.URL{
		Scheme:   "postgres",
		Host:     net.JoinHostPort(conn.Host, strconv.Itoa(port)),
		Path:     "/" + conn.Database,
		RawQuery: q.Encode(),
	}
	if conn.Username != "" {
		u.User = url.UserPassword(conn.Username, password)
	}
	return u.String()
}

// extraParams decodes ExtraJSON as flat driver options.
// Malformed JSON is ignored; the connection is still attempted.
func extraParams(conn *domain.DestinationConnection) map[string]string {
	if conn.ExtraJSON == "" || conn.ExtraJSON == "{}" {
		return nil
	}
	var extras map[string]string
	if json.Unmarshal([]byte(conn.ExtraJSON), &extras) != nil {
		return nil
	}
	return extras
}
