//go:build integration

package main

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/velmie/mailer"
	"github.com/velmie/mailer/internal/testutil"
	"github.com/velmie/mailer/sqlstore"
)

func TestSendCLIContainer(t *testing.T) {
	ctx := context.Background()
	env := testutil.NewEnv(t, ctx)
	db := env.StartMySQL(t, ctx)
	smtp := env.StartSMTP(t, ctx)

	store, err := sqlstore.NewStore(db.DB)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	tx, err := db.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin tx: %v", err)
	}
	for _, p := range []mailer.Priority{mailer.PriorityLow, mailer.PriorityHigh, mailer.PriorityMedium} {
		if _, err := store.Enqueue(ctx, tx, mailer.Entry{
			From:     "noreply@example.com",
			To:       []string{"user@example.com"},
			Subject:  p.String(),
			Body:     "hello",
			Priority: p,
		}); err != nil {
			_ = tx.Rollback()
			t.Fatalf("enqueue: %v", err)
		}
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	bin := testutil.BuildBinary(t, ".")
	vars := map[string]string{
		"MAILER_DB_DRIVER":           "mysql",
		"MAILER_DB_DSN":              db.DSN,
		"MAILER_LOCK_BACKEND":        "mysql",
		"MAILER_EMAIL_BACKEND":       "smtp",
		"MAILER_SMTP_HOST":           "smtp",
		"MAILER_SMTP_PORT":           "1025",
		"MAILER_SMTP_USERNAME":       "app",
		"MAILER_SMTP_PASSWORD":       "secret",
		"MAILER_MASS_USERNAME":       "bulk",
		"MAILER_MASS_PASSWORD":       "secret",
		"MAILER_MASS_QUEUE_SIZE":     "10",
		"MAILER_MASS_QUEUE_INTERVAL": "1",
		"MAILER_MASS_QUEUE_ATTEMPTS": "1",
		"MAILER_LOG_FORMAT":          "json",
	}
	code, logs := env.RunCLI(t, ctx, bin, vars, []string{"send"})
	if code != 0 {
		t.Fatalf("send exit code %d logs: %s", code, logs)
	}

	queued, err := store.Count(ctx, mailer.Filter{})
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if queued != 0 {
		t.Fatalf("queued = %d, want 0", queued)
	}
	stats, err := store.LogStats(ctx)
	if err != nil {
		t.Fatalf("log stats: %v", err)
	}
	if stats[mailer.ResultSent] != 3 {
		t.Fatalf("sent log entries = %d, want 3", stats[mailer.ResultSent])
	}

	if total := mailpitTotal(t, ctx, smtp.APIURL); total != 3 {
		t.Fatalf("mailpit received %d messages, want 3", total)
	}
}

func mailpitTotal(t *testing.T, ctx context.Context, apiURL string) int {
	t.Helper()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL+"/api/v1/messages", nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("query mailpit: %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		Total int `json:"total"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode mailpit response: %v", err)
	}

	return body.Total
}
