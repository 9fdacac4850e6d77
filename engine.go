package mailer

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Summary reports the outcome of one drain.
type Summary struct {
	Mode     Mode
	Sent     int
	Deferred int
	// Elapsed is the time spent holding the lock.
	Elapsed time.Duration
	// LockDenied is set when another drain of the same mode held the lock.
	LockDenied bool
	// BudgetExhausted is set when a mass drain stopped after its last batch.
	BudgetExhausted bool
}

// String formats the summary the way drains report it.
func (s Summary) String() string {
	return fmt.Sprintf("%d sent; %d deferred; done in %.2f seconds", s.Sent, s.Deferred, s.Elapsed.Seconds())
}

// Engine drains the queue through a Transport under a per-mode exclusion lock.
//
// An Engine is safe to share between goroutines: each drain call owns its
// scheduler and connection, and the lock serializes drains of the same mode.
type Engine struct {
	store     Store
	logs      LogSink
	transport Transport
	locker    Locker
	cfg       Config
}

// NewEngine constructs an Engine with defaults and optional settings.
// The configuration is validated once here.
func NewEngine(store Store, logs LogSink, transport Transport, locker Locker, opts ...Option) (*Engine, error) {
	switch {
	case store == nil:
		return nil, ErrNilStore
	case logs == nil:
		return nil, ErrNilLogSink
	case transport == nil:
		return nil, ErrNilTransport
	case locker == nil:
		return nil, ErrNilLocker
	}

	var cfg Config
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Engine{
		store:     store,
		logs:      logs,
		transport: transport,
		locker:    locker,
		cfg:       cfg,
	}, nil
}

// DrainNormal sends every eligible non-mass message.
func (e *Engine) DrainNormal(ctx context.Context) (Summary, error) {
	return e.drain(ctx, ModeNormal)
}

// DrainMass sends mass messages in throttled batches until the queue is empty
// or the attempt budget is spent.
func (e *Engine) DrainMass(ctx context.Context) (Summary, error) {
	return e.drain(ctx, ModeMass)
}

// Drain runs the drain of the given mode.
func (e *Engine) Drain(ctx context.Context, mode Mode) (Summary, error) {
	return e.drain(ctx, mode)
}

func (e *Engine) drain(ctx context.Context, mode Mode) (Summary, error) {
	lock, err := e.acquire(ctx, mode)
	if err != nil {
		return Summary{Mode: mode}, err
	}
	if lock == nil {
		e.cfg.Metrics.AddLockDenied(mode)

		return Summary{Mode: mode, LockDenied: true}, nil
	}

	start := e.cfg.Clock.Now()
	summary, err := e.runLocked(ctx, mode, lock)
	summary.Elapsed = e.cfg.Clock.Now().Sub(start)

	e.cfg.Metrics.ObserveDrainDuration(mode, summary.Elapsed)
	e.cfg.Metrics.AddSent(mode, summary.Sent)
	e.cfg.Metrics.AddDeferred(mode, summary.Deferred)
	if err != nil {
		e.cfg.Metrics.AddFailed(mode, 1)

		return summary, err
	}

	e.cfg.Logger.Info("drain finished",
		"mode", mode.String(),
		"sent", summary.Sent,
		"deferred", summary.Deferred,
		"seconds", summary.Elapsed.Seconds(),
	)
	e.recordQueued(ctx, mode)

	return summary, nil
}

// acquire returns a nil lock and nil error when the lock is busy.
func (e *Engine) acquire(ctx context.Context, mode Mode) (Lock, error) {
	name := mode.LockName()
	e.cfg.Logger.Debug("acquiring lock", "lock", name)

	lock, err := e.locker.Acquire(ctx, name, e.cfg.LockWait)
	switch {
	case err == nil:
		e.cfg.Logger.Debug("lock acquired", "lock", name)

		return lock, nil
	case errors.Is(err, ErrLockHeld):
		e.cfg.Logger.Debug("lock already in place, quitting", "lock", name)

		return nil, nil
	case errors.Is(err, ErrLockTimeout):
		e.cfg.Logger.Debug("waiting for the lock timed out, quitting", "lock", name)

		return nil, nil
	default:
		return nil, fmt.Errorf("mailer: acquire lock %s: %w", name, err)
	}
}

func (e *Engine) runLocked(ctx context.Context, mode Mode, lock Lock) (summary Summary, err error) {
	defer func() {
		name := mode.LockName()
		e.cfg.Logger.Debug("releasing lock", "lock", name)
		if releaseErr := lock.Release(context.WithoutCancel(ctx)); releaseErr != nil {
			err = errors.Join(err, fmt.Errorf("mailer: release lock %s: %w", name, releaseErr))

			return
		}
		e.cfg.Logger.Debug("lock released", "lock", name)
	}()

	return e.run(ctx, mode)
}

func (e *Engine) run(ctx context.Context, mode Mode) (Summary, error) {
	summary := Summary{Mode: mode}
	scheduler := NewScheduler(e.store, mode.Mass(), e.cfg.HighBatch)
	creds := e.cfg.Credentials
	if mode == ModeMass {
		creds = e.cfg.Mass.Credentials
	}

	var conn Conn
	defer func() {
		e.discard(conn)
	}()

	processed := 0
	attempts := e.cfg.Mass.Attempts
	for {
		msg, ok, err := scheduler.Next(ctx)
		if err != nil {
			return summary, fmt.Errorf("mailer: next message: %w", err)
		}
		if !ok {
			return summary, nil
		}

		conn, err = e.deliver(ctx, mode, conn, creds, msg, &summary)
		if err != nil {
			return summary, err
		}
		if mode != ModeMass {
			continue
		}

		processed++
		if processed < e.cfg.Mass.BatchSize {
			continue
		}
		attempts--
		e.cfg.Logger.Debug("mass batch processed",
			"messages", processed,
			"attempts_left", attempts,
			"sleep", e.cfg.Mass.Interval.String(),
		)
		processed = 0
		if attempts == 0 {
			summary.BudgetExhausted = true
			e.cfg.Logger.Info("mass attempt budget exhausted, remaining messages wait for the next run")

			return summary, nil
		}
		if err := e.cfg.Sleep(ctx, e.cfg.Mass.Interval); err != nil {
			return summary, fmt.Errorf("mailer: mass batch pause: %w", err)
		}
	}
}

// deliver sends msg, reusing conn when possible. It returns the connection to
// use for the next message, nil after a failure.
func (e *Engine) deliver(ctx context.Context, mode Mode, conn Conn, creds *Credentials, msg Message, summary *Summary) (Conn, error) {
	e.cfg.Logger.Info("sending message",
		"mode", mode.String(),
		"id", msg.ID,
		"subject", msg.Subject,
		"to", msg.Recipients(),
	)

	var err error
	if conn == nil {
		conn, err = e.transport.Open(ctx, creds)
		if err != nil {
			conn = nil
		}
	}
	if err == nil {
		err = conn.Send(ctx, msg)
	}

	if err == nil {
		if err := e.logs.Append(ctx, NewLogEntry(msg, ResultSent, nil, e.cfg.Clock.Now())); err != nil {
			return conn, fmt.Errorf("mailer: log sent message %s: %w", msg.ID, err)
		}
		if err := e.store.Delete(ctx, msg.ID); err != nil {
			return conn, fmt.Errorf("mailer: delete sent message %s: %w", msg.ID, err)
		}
		summary.Sent++

		return conn, nil
	}

	if ctx.Err() != nil || e.cfg.FailureClassifier(ctx, mode, err) != FailureDefer {
		e.logFailure(ctx, msg, err)

		return conn, fmt.Errorf("mailer: send message %s: %w", msg.ID, err)
	}

	// The failure may have left the session unusable; the next message gets a fresh one.
	e.discard(conn)

	if markErr := e.store.MarkDeferred(ctx, msg.ID); markErr != nil {
		return nil, fmt.Errorf("mailer: defer message %s: %w", msg.ID, markErr)
	}
	e.cfg.Logger.Info("message deferred due to failure", "mode", mode.String(), "id", msg.ID, "err", err)
	if logErr := e.logs.Append(ctx, NewLogEntry(msg, ResultDeferred, err, e.cfg.Clock.Now())); logErr != nil {
		return nil, fmt.Errorf("mailer: log deferred message %s: %w", msg.ID, logErr)
	}
	summary.Deferred++

	return nil, nil
}

func (e *Engine) logFailure(ctx context.Context, msg Message, err error) {
	entry := NewLogEntry(msg, ResultFailed, err, e.cfg.Clock.Now())
	if logErr := e.logs.Append(context.WithoutCancel(ctx), entry); logErr != nil {
		e.cfg.Logger.Warn("failed to log aborted message", "id", msg.ID, "err", logErr)
	}
}

func (e *Engine) discard(conn Conn) {
	if conn == nil {
		return
	}
	if err := conn.Close(); err != nil {
		e.cfg.Logger.Debug("closing transport connection failed", "err", err)
	}
}

func (e *Engine) recordQueued(ctx context.Context, mode Mode) {
	count, err := e.store.Count(ctx, Filter{Mass: mode.Mass()})
	if err != nil {
		e.cfg.Logger.Warn("queue count failed", "mode", mode.String(), "err", err)

		return
	}
	e.cfg.Metrics.SetQueued(mode, count)
}
