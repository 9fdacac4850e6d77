package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"

	"github.com/velmie/mailer"
	"github.com/velmie/mailer/internal/config"
	"github.com/velmie/mailer/internal/logging"
	"github.com/velmie/mailer/lock"
	"github.com/velmie/mailer/openmetrics"
	"github.com/velmie/mailer/sqlstore"
	"github.com/velmie/mailer/transport"
)

// runtime holds the resources shared by the commands.
type runtime struct {
	cfg     config.Config
	logger  *slog.Logger
	stdout  io.Writer
	db      *sql.DB
	store   *sqlstore.Store
	metrics *openmetrics.Recorder
	closers []func() error
}

func newRuntime(c *cli.Context) (*runtime, error) {
	cfg, err := config.Load(c.StringSlice(flagEnvFile)...)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(c.App.ErrWriter, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}

	dialect, err := sqlstore.ParseDialect(cfg.DB.Driver)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(dialect.DriverName(), cfg.DB.DSN)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if dialect == sqlstore.DialectSQLite {
		db.SetMaxOpenConns(1)
	}
	rt := &runtime{
		cfg:     cfg,
		logger:  logger,
		stdout:  c.App.Writer,
		db:      db,
		metrics: openmetrics.NewRecorder(),
		closers: []func() error{db.Close},
	}

	rt.store, err = sqlstore.NewStore(db, cfg.StoreOptions(mailer.SystemClock{})...)
	if err != nil {
		return nil, errors.Join(err, rt.Close())
	}

	return rt, nil
}

// Close releases resources in reverse order.
func (r *runtime) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		errs = append(errs, r.closers[i]())
	}
	r.closers = nil

	return errors.Join(errs...)
}

func (r *runtime) locker() (mailer.Locker, error) {
	switch r.cfg.LockBackend {
	case config.LockRedis:
		opts, err := redis.ParseURL(r.cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client := redis.NewClient(opts)
		r.closers = append(r.closers, client.Close)

		return lock.NewRedisLocker(client, lock.WithTTL(r.cfg.RedisLockTTL))
	case config.LockMySQL:
		return sqlstore.NewMySQLLocker(r.db, "")
	default:
		return lock.NewFileLocker(r.cfg.LockDir,
			lock.WithStaleAfter(r.cfg.LockStaleAfter),
			lock.WithFileLogger(r.logger),
		)
	}
}

func (r *runtime) engine() (*mailer.Engine, error) {
	opts, err := r.cfg.EngineOptions(r.logger, r.metrics)
	if err != nil {
		return nil, err
	}
	locker, err := r.locker()
	if err != nil {
		return nil, fmt.Errorf("init locker: %w", err)
	}
	tr, err := transport.New(r.cfg.EmailBackend, transport.Settings{
		SMTP:   r.cfg.SMTPConfig(r.logger),
		Output: r.stdout,
		Logger: r.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("init transport: %w", err)
	}

	return mailer.NewEngine(r.store, r.store, tr, locker, opts...)
}

// drain runs one drain and pushes metrics when a gateway is configured.
func (r *runtime) drain(ctx context.Context, engine *mailer.Engine, mode mailer.Mode) (mailer.Summary, error) {
	summary, err := engine.Drain(ctx, mode)
	if r.cfg.PushgatewayURL != "" {
		if pushErr := r.metrics.Push(context.WithoutCancel(ctx), r.cfg.PushgatewayURL, "mailer_"+mode.String()); pushErr != nil {
			r.logger.Warn("metrics push failed", "error", pushErr)
		}
	}

	return summary, err
}
