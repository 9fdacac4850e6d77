package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/velmie/mailer"
)

const (
	defaultPurgeEvery    = time.Hour
	defaultPurgeLockName = "mailer_purge_log"
)

// PurgeOptions selects log entries to delete.
type PurgeOptions struct {
	// Before removes entries attempted before this time (required).
	Before time.Time
	// Result restricts the purge to one outcome. Zero removes every outcome.
	Result mailer.Result
}

// RetryOptions selects deferred messages to requeue.
type RetryOptions struct {
	// Mass restricts the requeue to one mode when set.
	Mass *bool
	// Limit caps the number of messages requeued, oldest deferral first.
	// Zero requeues all of them.
	Limit int
}

// QueueStat is the number of queued messages sharing mode, tier and deferral.
type QueueStat struct {
	Mass     bool
	Priority mailer.Priority
	Deferred bool
	Count    int
}

// RetryDeferred clears the deferred flag of the selected messages so the next
// drain retries them. It returns the number of messages requeued.
func (s *Store) RetryDeferred(ctx context.Context, opts RetryOptions) (int64, error) {
	query, args := s.queries.retry(opts)
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("mailer sqlstore: retry deferred failed: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mailer sqlstore: retry deferred rows failed: %w", err)
	}

	return affected, nil
}

// PurgeLog deletes log entries older than opts.Before.
func (s *Store) PurgeLog(ctx context.Context, opts PurgeOptions) (int64, error) {
	if opts.Before.IsZero() {
		return 0, ErrPurgeBeforeRequired
	}

	var (
		res sql.Result
		err error
	)
	if opts.Result == 0 {
		res, err = s.db.ExecContext(ctx, s.queries.purgeLogAll, toMicros(opts.Before))
	} else {
		res, err = s.db.ExecContext(ctx, s.queries.purgeLog, toMicros(opts.Before), int(opts.Result))
	}
	if err != nil {
		return 0, fmt.Errorf("mailer sqlstore: purge log failed: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mailer sqlstore: purge log rows failed: %w", err)
	}

	return affected, nil
}

// QueueStats reports queue sizes grouped by mode, tier and deferral.
func (s *Store) QueueStats(ctx context.Context) ([]QueueStat, error) {
	rows, err := s.db.QueryContext(ctx, s.queries.queueStats)
	if err != nil {
		return nil, fmt.Errorf("mailer sqlstore: queue stats failed: %w", err)
	}
	defer rows.Close()

	var stats []QueueStat
	for rows.Next() {
		var (
			stat     QueueStat
			priority int
			deferred int
		)
		if err := rows.Scan(&stat.Mass, &priority, &deferred, &stat.Count); err != nil {
			return nil, fmt.Errorf("mailer sqlstore: scan failed: %w", err)
		}
		stat.Priority = mailer.Priority(priority)
		stat.Deferred = deferred != 0
		stats = append(stats, stat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("mailer sqlstore: rows failed: %w", err)
	}

	return stats, nil
}

// LogStats reports the number of log entries per result.
func (s *Store) LogStats(ctx context.Context) (map[mailer.Result]int, error) {
	rows, err := s.db.QueryContext(ctx, s.queries.logStats)
	if err != nil {
		return nil, fmt.Errorf("mailer sqlstore: log stats failed: %w", err)
	}
	defer rows.Close()

	stats := make(map[mailer.Result]int)
	for rows.Next() {
		var result, count int
		if err := rows.Scan(&result, &count); err != nil {
			return nil, fmt.Errorf("mailer sqlstore: scan failed: %w", err)
		}
		stats[mailer.Result(result)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("mailer sqlstore: rows failed: %w", err)
	}

	return stats, nil
}

// PurgeMaintainerConfig controls periodic log purging.
type PurgeMaintainerConfig struct {
	// Retention removes entries older than now-retention (required).
	Retention time.Duration
	// CheckEvery is the interval between purge runs.
	CheckEvery time.Duration
	// Result restricts purging to one outcome. Zero purges every outcome.
	Result mailer.Result
	// Locker keeps concurrent maintainers from purging at once (required).
	Locker mailer.Locker
	// LockName defaults to mailer_purge_log.
	LockName string
	Clock    mailer.Clock
	Logger   mailer.Logger
}

// PurgeMaintainer periodically trims the delivery log.
type PurgeMaintainer struct {
	store *Store
	cfg   PurgeMaintainerConfig
}

// NewPurgeMaintainer creates a maintainer with defaults applied.
func NewPurgeMaintainer(store *Store, cfg PurgeMaintainerConfig) (*PurgeMaintainer, error) {
	if store == nil {
		return nil, ErrDBRequired
	}
	if cfg.Retention <= 0 {
		return nil, ErrPurgeRetentionInvalid
	}
	if cfg.Locker == nil {
		return nil, ErrLockerRequired
	}
	if cfg.CheckEvery <= 0 {
		cfg.CheckEvery = defaultPurgeEvery
	}
	if cfg.LockName == "" {
		cfg.LockName = defaultPurgeLockName
	}
	if cfg.Clock == nil {
		cfg.Clock = mailer.SystemClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = mailer.NopLogger{}
	}

	return &PurgeMaintainer{store: store, cfg: cfg}, nil
}

// Run purges once immediately and then every CheckEvery until ctx is canceled.
func (m *PurgeMaintainer) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.CheckEvery)
	defer ticker.Stop()

	if _, err := m.Ensure(ctx); err != nil {
		m.cfg.Logger.Warn("mailer log purge failed", "err", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := m.Ensure(ctx); err != nil {
				m.cfg.Logger.Warn("mailer log purge failed", "err", err)
			}
		}
	}
}

// Ensure executes a single purge pass. It is a no-op while another
// maintainer holds the purge lock.
func (m *PurgeMaintainer) Ensure(ctx context.Context) (purged int64, err error) {
	lock, err := m.cfg.Locker.Acquire(ctx, m.cfg.LockName, mailer.NoWait)
	if errors.Is(err, mailer.ErrLockHeld) {
		m.cfg.Logger.Debug("mailer log purge lock held by another process")

		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("mailer sqlstore: acquire purge lock failed: %w", err)
	}
	defer func() {
		err = errors.Join(err, lock.Release(context.WithoutCancel(ctx)))
	}()

	before := m.cfg.Clock.Now().Add(-m.cfg.Retention)
	purged, err = m.store.PurgeLog(ctx, PurgeOptions{Before: before, Result: m.cfg.Result})
	if err != nil {
		return 0, err
	}
	if purged > 0 {
		m.cfg.Logger.Info("mailer log purged", "entries", purged, "before", before)
	}

	return purged, nil
}
