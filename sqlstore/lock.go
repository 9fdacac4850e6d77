package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/velmie/mailer"
)

const (
	defaultLockPrefix = "mailer:"
	// MySQL rejects advisory lock names longer than 64 characters.
	maxLockNameLen = 64
)

// ErrLockNameTooLong is returned when prefix and name exceed the MySQL limit.
var ErrLockNameTooLong = errors.New("mailer sqlstore: lock name exceeds 64 characters")

// MySQLLocker implements mailer.Locker with GET_LOCK advisory locks.
//
// Each held lock pins one pooled connection, since MySQL ties advisory locks
// to the session. A crashed process releases its locks when its session ends.
type MySQLLocker struct {
	db     *sql.DB
	prefix string
}

// NewMySQLLocker returns a locker using db. An empty prefix defaults to "mailer:".
func NewMySQLLocker(db *sql.DB, prefix string) (*MySQLLocker, error) {
	if db == nil {
		return nil, ErrDBRequired
	}
	if prefix == "" {
		prefix = defaultLockPrefix
	}

	return &MySQLLocker{db: db, prefix: prefix}, nil
}

// Acquire implements mailer.Locker.
func (l *MySQLLocker) Acquire(ctx context.Context, name string, wait time.Duration) (mailer.Lock, error) {
	key := l.prefix + name
	if len(key) > maxLockNameLen {
		return nil, fmt.Errorf("%w: %s", ErrLockNameTooLong, key)
	}

	conn, err := l.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("mailer sqlstore: lock conn failed: %w", err)
	}

	var got sql.NullInt64
	if err := conn.QueryRowContext(ctx, "SELECT GET_LOCK(?, ?)", key, getLockTimeout(wait)).Scan(&got); err != nil {
		_ = conn.Close()

		return nil, fmt.Errorf("mailer sqlstore: acquire lock %s failed: %w", key, err)
	}
	if !got.Valid {
		_ = conn.Close()

		return nil, fmt.Errorf("mailer sqlstore: acquire lock %s failed: server returned NULL", key)
	}
	if got.Int64 == 0 {
		_ = conn.Close()
		if wait < 0 {
			return nil, mailer.ErrLockHeld
		}

		return nil, mailer.ErrLockTimeout
	}

	return &mysqlLock{conn: conn, key: key}, nil
}

// getLockTimeout maps the mailer wait policy onto GET_LOCK seconds:
// no wait is 0, forever is -1, bounds round up to whole seconds.
func getLockTimeout(wait time.Duration) int64 {
	switch {
	case wait < 0:
		return 0
	case wait == 0:
		return -1
	default:
		return int64(math.Ceil(wait.Seconds()))
	}
}

type mysqlLock struct {
	mu       sync.Mutex
	conn     *sql.Conn
	key      string
	released bool
}

func (k *mysqlLock) Release(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.released {
		return nil
	}
	k.released = true

	var released sql.NullInt64
	queryErr := k.conn.QueryRowContext(ctx, "SELECT RELEASE_LOCK(?)", k.key).Scan(&released)
	if queryErr != nil {
		queryErr = fmt.Errorf("mailer sqlstore: release lock %s failed: %w", k.key, queryErr)
	}

	return errors.Join(queryErr, k.conn.Close())
}
