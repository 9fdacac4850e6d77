package main

import (
	"context"
	"errors"
	"time"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/velmie/mailer"
	"github.com/velmie/mailer/sqlstore"
)

func pausedMessage(mode mailer.Mode) string {
	if mode == mailer.ModeMass {
		return "mass sending is paused, quitting."
	}

	return "sending is paused, quitting."
}

func sendAction(mode mailer.Mode) cli.ActionFunc {
	return func(c *cli.Context) (err error) {
		rt, err := newRuntime(c)
		if err != nil {
			return err
		}
		defer func() {
			err = errors.Join(err, rt.Close())
		}()

		if rt.cfg.PauseSend {
			rt.logger.Info(pausedMessage(mode))

			return nil
		}

		engine, err := rt.engine()
		if err != nil {
			return err
		}
		_, err = rt.drain(c.Context, engine, mode)

		return err
	}
}

func loopAction(c *cli.Context) (err error) {
	rt, err := newRuntime(c)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, rt.Close())
	}()

	if rt.cfg.PauseSend {
		rt.logger.Info(pausedMessage(mailer.ModeNormal))

		return nil
	}

	engine, err := rt.engine()
	if err != nil {
		return err
	}

	massEvery := c.Duration(flagMassEvery)
	if massEvery <= 0 {
		massEvery = rt.cfg.EmptyQueueSleep
	}

	g, ctx := errgroup.WithContext(c.Context)
	g.Go(func() error {
		return rt.drainLoop(ctx, engine, mailer.ModeNormal, rt.cfg.EmptyQueueSleep)
	})
	g.Go(func() error {
		return rt.drainLoop(ctx, engine, mailer.ModeMass, massEvery)
	})
	if rt.cfg.PurgeRetention > 0 {
		locker, err := rt.locker()
		if err != nil {
			return err
		}
		maintainer, err := sqlstore.NewPurgeMaintainer(rt.store, sqlstore.PurgeMaintainerConfig{
			Retention:  rt.cfg.PurgeRetention,
			CheckEvery: rt.cfg.PurgeEvery,
			Result:     mailer.ResultSent,
			Locker:     locker,
			Logger:     rt.logger,
		})
		if err != nil {
			return err
		}
		g.Go(func() error {
			return maintainer.Run(ctx)
		})
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		rt.logger.Info("send loop stopped")

		return nil
	}

	return err
}

// drainLoop drains mode whenever its queue has eligible mail and sleeps for
// idle otherwise. Failed drains are logged and retried after idle.
func (r *runtime) drainLoop(ctx context.Context, engine *mailer.Engine, mode mailer.Mode, idle time.Duration) error {
	filter := mailer.Filter{Mass: mode.Mass()}
	for {
		queued, err := r.store.Count(ctx, filter)
		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case err != nil:
			r.logger.Error("queue count failed", "mode", mode.String(), "error", err)
		case queued > 0:
			summary, err := r.drain(ctx, engine, mode)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err != nil {
				r.logger.Error("drain failed", "mode", mode.String(), "error", err)
			} else if mode == mailer.ModeNormal && !summary.LockDenied && summary.Sent+summary.Deferred > 0 {
				continue
			}
		}

		r.logger.Debug("sleeping before checking queue again", "mode", mode.String(), "sleep", idle)
		if err := mailer.Sleep(ctx, idle); err != nil {
			return err
		}
	}
}
