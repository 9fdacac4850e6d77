package sqlstore

import (
	"errors"
	"strings"
	"testing"
)

func TestSchemaMySQL(t *testing.T) {
	stmts, err := Schema(DialectMySQL, "mailer_message")
	if err != nil {
		t.Fatalf("schema: %v", err)
	}
	if len(stmts) != 2 {
		t.Fatalf("expected queue and log statements, got %d", len(stmts))
	}
	if !strings.Contains(stmts[0], "message_data LONGBLOB") {
		t.Fatalf("expected LONGBLOB message data in queue schema")
	}
	if !strings.Contains(stmts[0], "INDEX idx_mailer_message_queue (is_mass, deferred_at, priority, enqueued_at, id)") {
		t.Fatalf("expected drain index in queue schema")
	}
	if !strings.Contains(stmts[1], "CREATE TABLE IF NOT EXISTS mailer_message_log") {
		t.Fatalf("expected log table")
	}
}

func TestSchemaSQLite(t *testing.T) {
	stmts, err := Schema(DialectSQLite, "outgoing")
	if err != nil {
		t.Fatalf("schema: %v", err)
	}
	if len(stmts) != 4 {
		t.Fatalf("expected tables and indexes, got %d statements", len(stmts))
	}
	if !strings.Contains(stmts[1], "CREATE INDEX IF NOT EXISTS idx_outgoing_queue ON outgoing") {
		t.Fatalf("unexpected index statement: %s", stmts[1])
	}
	if !strings.Contains(stmts[2], "id INTEGER PRIMARY KEY AUTOINCREMENT") {
		t.Fatalf("expected autoincrement log id")
	}
}

func TestSchemaRejectsUnknownDialect(t *testing.T) {
	if _, err := Schema("oracle", "mailer_message"); !errors.Is(err, ErrUnknownDialect) {
		t.Fatalf("expected ErrUnknownDialect, got %v", err)
	}
	if _, err := Schema(DialectMySQL, "bad name"); !errors.Is(err, ErrInvalidTableName) {
		t.Fatalf("expected ErrInvalidTableName, got %v", err)
	}
}
