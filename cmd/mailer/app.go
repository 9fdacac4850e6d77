package main

import (
	"io"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/velmie/mailer"
)

const (
	flagEnvFile   = "env-file"
	flagMassEvery = "mass-every"
	flagMode      = "mode"
	flagLimit     = "limit"
	flagDays      = "days"
	flagAll       = "all"
	flagDryRun    = "dry-run"
)

func newApp(stdout, stderr io.Writer) *cli.App {
	app := cli.NewApp()
	app.Name = "mailer"
	app.Usage = "priority mail queue worker"
	app.Description = `Drains the persisted mail queue through the configured email backend.

High priority mail is sent before medium, medium before low. Each drain
mode holds its own lock, so overlapping cron runs of the same mode quit
early while normal and mass drains may run side by side.`
	app.Writer = stdout
	app.ErrWriter = stderr
	app.Flags = []cli.Flag{
		&cli.StringSliceFlag{
			Name:  flagEnvFile,
			Usage: "dotenv `FILE` to load before reading the environment (default: ./.env if present)",
		},
	}
	app.Commands = []*cli.Command{
		{
			Name:   "send",
			Usage:  "Do one pass through the queue, sending regular mail",
			Action: sendAction(mailer.ModeNormal),
		},
		{
			Name:   "send-mass",
			Usage:  "Do one throttled pass through the queue, sending mass mail",
			Action: sendAction(mailer.ModeMass),
		},
		{
			Name:  "loop",
			Usage: "Keep draining until interrupted",
			Flags: []cli.Flag{
				&cli.DurationFlag{
					Name:  flagMassEvery,
					Value: time.Minute,
					Usage: "pause between mass drains",
				},
			},
			Action: loopAction,
		},
		{
			Name:  "retry-deferred",
			Usage: "Requeue deferred messages",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: flagMode, Value: "all", Usage: "normal, mass or all"},
				&cli.IntFlag{Name: flagLimit, Usage: "requeue at most this many, oldest first (0 for all)"},
			},
			Action: retryAction,
		},
		{
			Name:  "purge-log",
			Usage: "Delete old delivery log entries",
			Flags: []cli.Flag{
				&cli.IntFlag{Name: flagDays, Value: 7, Usage: "keep entries newer than this many days"},
				&cli.BoolFlag{Name: flagAll, Usage: "purge every result, not only sent mail"},
			},
			Action: purgeAction,
		},
		{
			Name:      "enqueue",
			Usage:     "Queue a plain text message",
			ArgsUsage: " ",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "from", Required: true},
				&cli.StringSliceFlag{Name: "to", Required: true},
				&cli.StringFlag{Name: "subject"},
				&cli.StringFlag{Name: "body", Usage: "message body, - reads stdin"},
				&cli.StringFlag{Name: "priority", Value: "medium", Usage: "high, medium or low"},
				&cli.BoolFlag{Name: "mass"},
			},
			Action: enqueueAction,
		},
		{
			Name:   "status",
			Usage:  "Show queue and log counts",
			Action: statusAction,
		},
		{
			Name:  "migrate",
			Usage: "Create the queue and log tables",
			Flags: []cli.Flag{
				&cli.BoolFlag{Name: flagDryRun, Usage: "print the statements instead of running them"},
			},
			Action: migrateAction,
		},
	}

	return app
}
