package sqlstore

import (
	"fmt"
	"strings"
)

const logTableSuffix = "_log"

// sanitizeTableName accepts identifiers, optionally schema-qualified on MySQL.
func sanitizeTableName(name string, dialect Dialect) (string, error) {
	if name == "" {
		return "", ErrTableNameRequired
	}
	parts := strings.Split(name, ".")
	if len(parts) > 1 && dialect == DialectSQLite {
		return "", fmt.Errorf("%w: %s (sqlite tables cannot be schema-qualified)", ErrInvalidTableName, name)
	}
	for _, part := range parts {
		if part == "" {
			return "", fmt.Errorf("%w: %s", ErrInvalidTableName, name)
		}
		for _, r := range part {
			if r == '_' || (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
				continue
			}

			return "", fmt.Errorf("%w: %s", ErrInvalidTableName, name)
		}
	}

	return name, nil
}

func logTableName(table string) string {
	return table + logTableSuffix
}

// indexName derives an index identifier that is unique per table.
func indexName(table, suffix string) string {
	return "idx_" + strings.ReplaceAll(table, ".", "_") + "_" + suffix
}
