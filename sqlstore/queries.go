package sqlstore

import (
	"fmt"

	"github.com/velmie/mailer"
)

const (
	messageColumns = "id, priority, is_mass, deferred_at, from_address, recipients, subject, message_data, enqueued_at"
	logColumns     = "message_id, priority, is_mass, from_address, recipients, subject, enqueued_at, result, log_message, attempted_at"
)

type queries struct {
	insert       string
	insertLog    string
	markDeferred string
	delete       string
	purgeLog     string
	purgeLogAll  string
	queueStats   string
	logStats     string
	table        string
}

func newQueries(table string) queries {
	logTable := logTableName(table)

	return queries{
		insert: fmt.Sprintf(
			"INSERT INTO %s (%s) VALUES (?, ?, ?, NULL, ?, ?, ?, ?, ?)",
			table,
			messageColumns,
		),
		insertLog: fmt.Sprintf(
			"INSERT INTO %s (%s) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
			logTable,
			logColumns,
		),
		markDeferred: fmt.Sprintf("UPDATE %s SET deferred_at = ? WHERE id = ?", table),
		delete:       fmt.Sprintf("DELETE FROM %s WHERE id = ?", table),
		purgeLog:     fmt.Sprintf("DELETE FROM %s WHERE attempted_at < ? AND result = ?", logTable),
		purgeLogAll:  fmt.Sprintf("DELETE FROM %s WHERE attempted_at < ?", logTable),
		queueStats: fmt.Sprintf(
			"SELECT is_mass, priority, CASE WHEN deferred_at IS NULL THEN 0 ELSE 1 END, COUNT(*) "+
				"FROM %s GROUP BY is_mass, priority, CASE WHEN deferred_at IS NULL THEN 0 ELSE 1 END "+
				"ORDER BY is_mass, priority",
			table,
		),
		logStats: fmt.Sprintf("SELECT result, COUNT(*) FROM %s GROUP BY result ORDER BY result", logTable),
		table:    table,
	}
}

// where renders the filter. Any priority matches the three send tiers only.
func where(f mailer.Filter) (string, []any) {
	clause := "is_mass = ?"
	args := []any{f.Mass}
	if f.Deferred {
		clause += " AND deferred_at IS NOT NULL"
	} else {
		clause += " AND deferred_at IS NULL"
	}
	if f.Priority == mailer.PriorityAny {
		clause += " AND priority BETWEEN ? AND ?"
		args = append(args, int(mailer.PriorityHigh), int(mailer.PriorityLow))
	} else {
		clause += " AND priority = ?"
		args = append(args, int(f.Priority))
	}

	return clause, args
}

func (q queries) list(f mailer.Filter, limit int) (string, []any) {
	clause, args := where(f)
	query := fmt.Sprintf(
		"SELECT %s FROM %s WHERE %s ORDER BY enqueued_at ASC, id ASC",
		messageColumns,
		q.table,
		clause,
	)
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	return query, args
}

func (q queries) count(f mailer.Filter) (string, []any) {
	clause, args := where(f)

	return fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", q.table, clause), args
}

// retry renders the requeue statement. A limit picks the oldest deferrals
// through a derived table, which both MySQL and SQLite accept.
func (q queries) retry(opts RetryOptions) (string, []any) {
	clause := "deferred_at IS NOT NULL"
	var args []any
	if opts.Mass != nil {
		clause += " AND is_mass = ?"
		args = append(args, *opts.Mass)
	}
	if opts.Limit <= 0 {
		return fmt.Sprintf("UPDATE %s SET deferred_at = NULL WHERE %s", q.table, clause), args
	}

	return fmt.Sprintf(
		"UPDATE %s SET deferred_at = NULL WHERE id IN "+
			"(SELECT id FROM (SELECT id FROM %s WHERE %s ORDER BY deferred_at ASC, id ASC LIMIT ?) AS picked)",
		q.table, q.table, clause,
	), append(args, opts.Limit)
}
