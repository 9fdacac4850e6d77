package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/velmie/mailer"
	"github.com/velmie/mailer/sqlstore"
)

func retryAction(c *cli.Context) (err error) {
	rt, err := newRuntime(c)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, rt.Close())
	}()

	opts := sqlstore.RetryOptions{Limit: c.Int(flagLimit)}
	switch mode := strings.ToLower(c.String(flagMode)); mode {
	case "all", "":
	case "normal", "mass":
		mass := mode == "mass"
		opts.Mass = &mass
	default:
		return fmt.Errorf("unknown mode %q, want normal, mass or all", mode)
	}

	requeued, err := rt.store.RetryDeferred(c.Context, opts)
	if err != nil {
		return err
	}
	rt.logger.Info("deferred messages requeued", "count", requeued)
	fmt.Fprintf(c.App.Writer, "%d message(s) retried\n", requeued)

	return nil
}

func purgeAction(c *cli.Context) (err error) {
	rt, err := newRuntime(c)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, rt.Close())
	}()

	days := c.Int(flagDays)
	if days < 0 {
		return fmt.Errorf("days must not be negative, got %d", days)
	}
	opts := sqlstore.PurgeOptions{
		Before: mailer.SystemClock{}.Now().Add(-time.Duration(days) * 24 * time.Hour),
		Result: mailer.ResultSent,
	}
	if c.Bool(flagAll) {
		opts.Result = 0
	}

	purged, err := rt.store.PurgeLog(c.Context, opts)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "%d log entries deleted\n", purged)

	return nil
}

func enqueueAction(c *cli.Context) (err error) {
	rt, err := newRuntime(c)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, rt.Close())
	}()

	priority, err := mailer.ParsePriority(c.String("priority"))
	if err != nil {
		return err
	}
	body := c.String("body")
	if body == "-" {
		data, err := io.ReadAll(stdin(c))
		if err != nil {
			return fmt.Errorf("read body: %w", err)
		}
		body = string(data)
	}

	id, err := rt.store.Enqueue(c.Context, rt.db, mailer.Entry{
		From:     c.String("from"),
		To:       c.StringSlice("to"),
		Subject:  c.String("subject"),
		Body:     body,
		Priority: priority,
		Mass:     c.Bool("mass"),
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, id)

	return nil
}

func statusAction(c *cli.Context) (err error) {
	rt, err := newRuntime(c)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, rt.Close())
	}()

	queue, err := rt.store.QueueStats(c.Context)
	if err != nil {
		return err
	}
	results, err := rt.store.LogStats(c.Context)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "MODE\tPRIORITY\tSTATE\tMESSAGES")
	for _, st := range queue {
		mode, state := mailer.ModeNormal, "queued"
		if st.Mass {
			mode = mailer.ModeMass
		}
		if st.Deferred {
			state = "deferred"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", mode, st.Priority, state, st.Count)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "RESULT\tLOG ENTRIES")
	for _, result := range []mailer.Result{mailer.ResultSent, mailer.ResultFailed, mailer.ResultDeferred} {
		fmt.Fprintf(w, "%s\t%d\n", result, results[result])
	}

	return w.Flush()
}

func migrateAction(c *cli.Context) (err error) {
	rt, err := newRuntime(c)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, rt.Close())
	}()

	if c.Bool(flagDryRun) {
		dialect, err := sqlstore.ParseDialect(rt.cfg.DB.Driver)
		if err != nil {
			return err
		}
		stmts, err := sqlstore.Schema(dialect, rt.store.Table())
		if err != nil {
			return err
		}
		for _, stmt := range stmts {
			fmt.Fprintf(c.App.Writer, "%s;\n", stmt)
		}

		return nil
	}

	if err := rt.store.Migrate(c.Context); err != nil {
		return err
	}
	rt.logger.Info("schema ready", "table", rt.store.Table())

	return nil
}

func stdin(c *cli.Context) io.Reader {
	if c.App.Reader != nil {
		return c.App.Reader
	}

	return os.Stdin
}
