package metastore

import (
	"fmt"
	"strconv"
	"strings"
)

// Driver identifies the relational backend a store runs against.
type Driver string

const (
	// DriverSQLite uses SQLite via mattn/go-sqlite3 (single-node, default).
	DriverSQLite Driver = "sqlite"

	// DriverPostgres uses PostgreSQL via jackc/pgx.
	DriverPostgres Driver = "postgres"
)

// sqlDriverName maps a Driver to the name it is registered under in
// database/sql.
func (d Driver) sqlDriverName() (string, error) {
	switch d {
	case DriverSQLite:
		return "sqlite3", nil
	case DriverPostgres:
		return "pgx", nil
	default:
		return "", fmt.Errorf("unsupported driver %q", d)
	}
}

// Rebind converts a query written with ? placeholders into the backend's
// native placeholder style. SQLite keeps ?, PostgreSQL uses $1..$n.
//
// Queries in this package never contain a literal ? outside of a
// placeholder position, so a plain scan is sufficient.
func (d Driver) Rebind(query string) string {
	if d != DriverPostgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// forUpdateSuffix returns the clause appended to a locking read.
//
// PostgreSQL takes a row-level exclusive lock with FOR UPDATE. SQLite has
// no row locks; the store opens its locking transactions as immediate
// write transactions instead (see Open), which serializes writers on the
// database write lock and gives the same mutual exclusion, so the suffix
// is empty there.
func (d Driver) forUpdateSuffix() string {
	if d == DriverPostgres {
		return " FOR UPDATE"
	}
	return ""
}
