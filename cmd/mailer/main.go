// Command mailer drains the mail queue and administers it.
//
// Run `mailer send` and `mailer send-mass` from cron, or `mailer loop` as a
// long-running worker. Settings come from MAILER_* environment variables and
// optional dotenv files.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := newApp(os.Stdout, os.Stderr)
	if err := app.RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "mailer:", err)
		stop()
		os.Exit(1)
	}
}
