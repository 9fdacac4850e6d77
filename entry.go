package mailer

import (
	"fmt"

	"github.com/emersion/go-message/mail"
)

// Entry describes a new message to be queued.
type Entry struct {
	// ID is optional, if zero, the store generator assigns a UUID v7.
	ID ID
	// From is the envelope and header sender.
	From string
	// To lists the envelope and header recipients.
	To      []string
	Subject string
	// Body is the plain text body composed into Data when Data is empty.
	Body string
	// Data is an already composed RFC 5322 message. When set, Body is ignored.
	Data []byte
	// Priority defaults to PriorityMedium when zero.
	Priority Priority
	// Mass routes the message to the throttled mass drain.
	Mass bool
}

// Validate checks required fields and address syntax.
func (e Entry) Validate() error {
	if e.From == "" {
		return ErrSenderRequired
	}
	if len(e.To) == 0 {
		return ErrRecipientsRequired
	}
	if len(e.Data) == 0 && e.Body == "" {
		return ErrContentRequired
	}
	if e.Priority != PriorityAny && !e.Priority.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidPriority, e.Priority)
	}
	if _, err := mail.ParseAddress(e.From); err != nil {
		return fmt.Errorf("%w: from %q: %w", ErrInvalidAddress, e.From, err)
	}
	for _, to := range e.To {
		if _, err := mail.ParseAddress(to); err != nil {
			return fmt.Errorf("%w: to %q: %w", ErrInvalidAddress, to, err)
		}
	}

	return nil
}

// EffectivePriority returns the tier the entry is queued in.
func (e Entry) EffectivePriority() Priority {
	if e.Priority == PriorityAny {
		return PriorityMedium
	}

	return e.Priority
}
