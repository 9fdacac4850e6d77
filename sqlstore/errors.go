package sqlstore

import "errors"

var (
	// ErrDBRequired is returned when a nil *sql.DB is provided.
	ErrDBRequired = errors.New("mailer sqlstore: db is required")
	// ErrExecutorRequired is returned when enqueue is called with a nil executor.
	ErrExecutorRequired = errors.New("mailer sqlstore: executor is required")
	// ErrTableNameRequired is returned when the table name is empty.
	ErrTableNameRequired = errors.New("mailer sqlstore: table name is required")
	// ErrInvalidTableName is returned when the table name has disallowed characters.
	ErrInvalidTableName = errors.New("mailer sqlstore: invalid table name")
	// ErrUnknownDialect is returned for dialects other than mysql and sqlite.
	ErrUnknownDialect = errors.New("mailer sqlstore: unknown dialect")
	// ErrPurgeBeforeRequired is returned when a log purge has no cutoff.
	ErrPurgeBeforeRequired = errors.New("mailer sqlstore: purge before time is required")
	// ErrPurgeRetentionInvalid is returned when the purge retention is not positive.
	ErrPurgeRetentionInvalid = errors.New("mailer sqlstore: purge retention must be positive")
	// ErrLockerRequired is returned when a maintainer has no locker.
	ErrLockerRequired = errors.New("mailer sqlstore: locker is required")
)
