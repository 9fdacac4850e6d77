package mailer

import "context"

// Filter selects queued messages.
type Filter struct {
	// Priority restricts the query to one tier. PriorityAny matches all tiers.
	Priority Priority
	Mass     bool
	Deferred bool
}

// Store holds queued messages.
//
// The engine only mutates messages through MarkDeferred and Delete, and only
// while it holds the exclusion lock of the drain mode.
type Store interface {
	// List returns up to limit messages matching f, oldest enqueue time first
	// (ties broken by id).
	List(ctx context.Context, f Filter, limit int) ([]Message, error)
	// Count returns the number of messages matching f.
	Count(ctx context.Context, f Filter) (int, error)
	// MarkDeferred sets the deferred flag, leaving the message queued.
	MarkDeferred(ctx context.Context, id ID) error
	// Delete removes a message after a confirmed send.
	Delete(ctx context.Context, id ID) error
}

// LogSink records delivery outcomes.
type LogSink interface {
	// Append stores a log entry. Entries are never updated.
	Append(ctx context.Context, entry LogEntry) error
}

// LogSinkFunc adapts a function to LogSink.
type LogSinkFunc func(ctx context.Context, entry LogEntry) error

// Append implements LogSink.
func (fn LogSinkFunc) Append(ctx context.Context, entry LogEntry) error {
	return fn(ctx, entry)
}
