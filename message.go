package mailer

import (
	"strings"
	"time"
)

// Message is a queued outbound message.
type Message struct {
	ID         ID
	Priority   Priority
	Mass       bool
	EnqueuedAt time.Time
	Deferred   bool
	From       string
	To         []string
	Subject    string
	// Data is the composed RFC 5322 message (headers and body).
	Data []byte
}

// Recipients returns the recipient list joined for logging.
func (m Message) Recipients() string {
	return strings.Join(m.To, ", ")
}

// LogEntry is an append-only record of a delivery attempt.
// It copies the message fields it needs so it can outlive the message.
type LogEntry struct {
	MessageID   ID
	Priority    Priority
	Mass        bool
	From        string
	To          []string
	Subject     string
	EnqueuedAt  time.Time
	Result      Result
	Error       string
	AttemptedAt time.Time
}

// NewLogEntry builds a log entry for msg.
func NewLogEntry(msg Message, result Result, err error, at time.Time) LogEntry {
	entry := LogEntry{
		MessageID:   msg.ID,
		Priority:    msg.Priority,
		Mass:        msg.Mass,
		From:        msg.From,
		To:          msg.To,
		Subject:     msg.Subject,
		EnqueuedAt:  msg.EnqueuedAt,
		Result:      result,
		AttemptedAt: at,
	}
	if err != nil {
		entry.Error = err.Error()
	}

	return entry
}
