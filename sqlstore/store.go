package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/velmie/mailer"
)

const maxErrorLen = 1024

// Executor allows enqueuing within an existing transaction.
type Executor interface {
	// ExecContext executes a statement with the provided context.
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Store implements the mail queue and delivery log on SQL tables.
type Store struct {
	db      *sql.DB
	cfg     Config
	queries queries
	table   string
}

var (
	_ mailer.Store   = (*Store)(nil)
	_ mailer.LogSink = (*Store)(nil)
)

// NewStore constructs a store with validated configuration.
func NewStore(db *sql.DB, opts ...Option) (*Store, error) {
	if db == nil {
		return nil, ErrDBRequired
	}

	var cfg Config
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg = cfg.withDefaults()
	if cfg.Dialect != DialectMySQL && cfg.Dialect != DialectSQLite {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDialect, cfg.Dialect)
	}

	table, err := sanitizeTableName(cfg.Table, cfg.Dialect)
	if err != nil {
		return nil, err
	}

	return &Store{
		db:      db,
		cfg:     cfg,
		queries: newQueries(table),
		table:   table,
	}, nil
}

// MustNewStore constructs a store or panics on error.
func MustNewStore(db *sql.DB, opts ...Option) *Store {
	store, err := NewStore(db, opts...)
	if err != nil {
		panic(err)
	}

	return store
}

// Table returns the queue table name.
func (s *Store) Table() string {
	return s.table
}

// Migrate creates the queue and log tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	stmts, err := Schema(s.cfg.Dialect, s.table)
	if err != nil {
		return err
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("mailer sqlstore: migrate failed: %w", err)
		}
	}

	return nil
}

// Enqueue validates and composes entry, then inserts it using exec
// (a transaction, the *sql.DB, or a *sql.Conn).
func (s *Store) Enqueue(ctx context.Context, exec Executor, entry mailer.Entry) (mailer.ID, error) {
	if exec == nil {
		return mailer.ID{}, ErrExecutorRequired
	}
	if err := entry.Validate(); err != nil {
		return mailer.ID{}, err
	}

	id := entry.ID
	if id.IsZero() {
		var err error
		id, err = s.cfg.Generator.New()
		if err != nil {
			return mailer.ID{}, fmt.Errorf("mailer sqlstore: generate id failed: %w", err)
		}
	}

	now := s.cfg.Clock.Now()
	data, err := mailer.Compose(entry, now)
	if err != nil {
		return mailer.ID{}, err
	}
	recipients, err := json.Marshal(entry.To)
	if err != nil {
		return mailer.ID{}, fmt.Errorf("mailer sqlstore: encode recipients failed: %w", err)
	}

	_, err = exec.ExecContext(
		ctx,
		s.queries.insert,
		id,
		int(entry.EffectivePriority()),
		entry.Mass,
		entry.From,
		string(recipients),
		entry.Subject,
		data,
		toMicros(now),
	)
	if err != nil {
		return mailer.ID{}, fmt.Errorf("mailer sqlstore: insert failed: %w", err)
	}

	return id, nil
}

// List implements mailer.Store.
func (s *Store) List(ctx context.Context, f mailer.Filter, limit int) ([]mailer.Message, error) {
	query, args := s.queries.list(f, limit)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("mailer sqlstore: select failed: %w", err)
	}
	defer rows.Close()

	var msgs []mailer.Message
	for rows.Next() {
		var (
			msg        mailer.Message
			priority   int
			deferredAt sql.NullInt64
			recipients string
			enqueuedAt int64
		)
		if err := rows.Scan(
			&msg.ID,
			&priority,
			&msg.Mass,
			&deferredAt,
			&msg.From,
			&recipients,
			&msg.Subject,
			&msg.Data,
			&enqueuedAt,
		); err != nil {
			return nil, fmt.Errorf("mailer sqlstore: scan failed: %w", err)
		}
		if err := json.Unmarshal([]byte(recipients), &msg.To); err != nil {
			return nil, fmt.Errorf("mailer sqlstore: decode recipients of %s failed: %w", msg.ID, err)
		}
		msg.Priority = mailer.Priority(priority)
		msg.Deferred = deferredAt.Valid
		msg.EnqueuedAt = fromMicros(enqueuedAt)
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("mailer sqlstore: rows failed: %w", err)
	}

	return msgs, nil
}

// Count implements mailer.Store.
func (s *Store) Count(ctx context.Context, f mailer.Filter) (int, error) {
	query, args := s.queries.count(f)
	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("mailer sqlstore: count failed: %w", err)
	}

	return count, nil
}

// MarkDeferred implements mailer.Store. The deferral time is kept for operators.
func (s *Store) MarkDeferred(ctx context.Context, id mailer.ID) error {
	if _, err := s.db.ExecContext(ctx, s.queries.markDeferred, toMicros(s.cfg.Clock.Now()), id); err != nil {
		return fmt.Errorf("mailer sqlstore: defer update failed: %w", err)
	}

	return nil
}

// Delete implements mailer.Store.
func (s *Store) Delete(ctx context.Context, id mailer.ID) error {
	if _, err := s.db.ExecContext(ctx, s.queries.delete, id); err != nil {
		return fmt.Errorf("mailer sqlstore: delete failed: %w", err)
	}

	return nil
}

// Append implements mailer.LogSink.
func (s *Store) Append(ctx context.Context, entry mailer.LogEntry) error {
	recipients, err := json.Marshal(entry.To)
	if err != nil {
		return fmt.Errorf("mailer sqlstore: encode recipients failed: %w", err)
	}

	_, err = s.db.ExecContext(
		ctx,
		s.queries.insertLog,
		entry.MessageID,
		int(entry.Priority),
		entry.Mass,
		entry.From,
		string(recipients),
		entry.Subject,
		toMicros(entry.EnqueuedAt),
		int(entry.Result),
		truncateError(entry.Error),
		toMicros(entry.AttemptedAt),
	)
	if err != nil {
		return fmt.Errorf("mailer sqlstore: log insert failed: %w", err)
	}

	return nil
}

func toMicros(t time.Time) int64 {
	return t.UTC().UnixMicro()
}

func fromMicros(us int64) time.Time {
	return time.UnixMicro(us).UTC()
}

func truncateError(msg string) string {
	if utf8.RuneCountInString(msg) <= maxErrorLen {
		return msg
	}

	return string([]rune(msg)[:maxErrorLen])
}
