// Package sqlstore keeps the mail queue and its delivery log in SQL tables.
//
// Two dialects are supported: MySQL 8.0+ through go-sql-driver/mysql and
// SQLite through modernc.org/sqlite. Both share one query set; timestamps are
// stored as unix microseconds and recipients as a JSON array so the schemas
// stay portable.
//
// Store implements mailer.Store and mailer.LogSink. Drains select with plain
// reads because the mode lock already serializes them. Use Enqueue with a
// transaction to queue mail atomically with application writes.
//
// MySQLLocker provides a mailer.Locker on MySQL advisory locks, and
// PurgeMaintainer trims the delivery log periodically.
package sqlstore
