package sqlstore

import "fmt"

const mysqlQueueTemplate = `CREATE TABLE IF NOT EXISTS %s (
	id BINARY(16) NOT NULL,
	priority SMALLINT NOT NULL DEFAULT 2,
	is_mass BOOLEAN NOT NULL DEFAULT FALSE,
	deferred_at BIGINT NULL,
	from_address VARCHAR(320) NOT NULL,
	recipients TEXT NOT NULL,
	subject VARCHAR(998) NOT NULL DEFAULT '',
	message_data LONGBLOB NOT NULL,
	enqueued_at BIGINT NOT NULL,
	PRIMARY KEY (id),
	INDEX %s (is_mass, deferred_at, priority, enqueued_at, id)
);`

const mysqlLogTemplate = `CREATE TABLE IF NOT EXISTS %s (
	id BIGINT NOT NULL AUTO_INCREMENT,
	message_id BINARY(16) NOT NULL,
	priority SMALLINT NOT NULL,
	is_mass BOOLEAN NOT NULL DEFAULT FALSE,
	from_address VARCHAR(320) NOT NULL,
	recipients TEXT NOT NULL,
	subject VARCHAR(998) NOT NULL DEFAULT '',
	enqueued_at BIGINT NOT NULL,
	result SMALLINT NOT NULL,
	log_message VARCHAR(1024) NOT NULL DEFAULT '',
	attempted_at BIGINT NOT NULL,
	PRIMARY KEY (id),
	INDEX %s (result, attempted_at)
);`

const sqliteQueueTemplate = `CREATE TABLE IF NOT EXISTS %s (
	id BLOB NOT NULL PRIMARY KEY,
	priority INTEGER NOT NULL DEFAULT 2,
	is_mass INTEGER NOT NULL DEFAULT 0,
	deferred_at INTEGER NULL,
	from_address TEXT NOT NULL,
	recipients TEXT NOT NULL,
	subject TEXT NOT NULL DEFAULT '',
	message_data BLOB NOT NULL,
	enqueued_at INTEGER NOT NULL
);`

const sqliteLogTemplate = `CREATE TABLE IF NOT EXISTS %s (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	message_id BLOB NOT NULL,
	priority INTEGER NOT NULL,
	is_mass INTEGER NOT NULL DEFAULT 0,
	from_address TEXT NOT NULL,
	recipients TEXT NOT NULL,
	subject TEXT NOT NULL DEFAULT '',
	enqueued_at INTEGER NOT NULL,
	result INTEGER NOT NULL,
	log_message TEXT NOT NULL DEFAULT '',
	attempted_at INTEGER NOT NULL
);`

const sqliteIndexTemplate = `CREATE INDEX IF NOT EXISTS %s ON %s (%s);`

const (
	queueIndexColumns = "is_mass, deferred_at, priority, enqueued_at, id"
	logIndexColumns   = "result, attempted_at"
	queueIndexSuffix  = "queue"
	logIndexSuffix    = "result"
)

// Schema returns the statements creating the queue and log tables, in order.
func Schema(dialect Dialect, table string) ([]string, error) {
	name, err := sanitizeTableName(table, dialect)
	if err != nil {
		return nil, err
	}
	logName := logTableName(name)

	switch dialect {
	case DialectMySQL:
		return []string{
			fmt.Sprintf(mysqlQueueTemplate, name, indexName(name, queueIndexSuffix)),
			fmt.Sprintf(mysqlLogTemplate, logName, indexName(logName, logIndexSuffix)),
		}, nil
	case DialectSQLite:
		return []string{
			fmt.Sprintf(sqliteQueueTemplate, name),
			fmt.Sprintf(sqliteIndexTemplate, indexName(name, queueIndexSuffix), name, queueIndexColumns),
			fmt.Sprintf(sqliteLogTemplate, logName),
			fmt.Sprintf(sqliteIndexTemplate, indexName(logName, logIndexSuffix), logName, logIndexColumns),
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDialect, dialect)
	}
}
