package sqlstore

import (
	"fmt"
	"strings"
)

// Dialect selects the SQL flavor of the schema.
type Dialect string

const (
	// DialectMySQL targets MySQL 8.0+.
	DialectMySQL Dialect = "mysql"
	// DialectSQLite targets SQLite 3 through modernc.org/sqlite.
	DialectSQLite Dialect = "sqlite"
)

// ParseDialect parses a dialect name.
func ParseDialect(value string) (Dialect, error) {
	switch Dialect(strings.ToLower(strings.TrimSpace(value))) {
	case DialectMySQL, "":
		return DialectMySQL, nil
	case DialectSQLite, "sqlite3":
		return DialectSQLite, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownDialect, value)
	}
}

// DriverName returns the database/sql driver registered for the dialect.
func (d Dialect) DriverName() string {
	if d == DialectSQLite {
		return "sqlite"
	}

	return "mysql"
}
