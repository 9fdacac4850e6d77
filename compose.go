package mailer

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-message/mail"
)

// Compose renders the entry as an RFC 5322 message. Entries carrying Data are
// returned as is.
func Compose(e Entry, at time.Time) ([]byte, error) {
	if len(e.Data) > 0 {
		return e.Data, nil
	}

	from, err := mail.ParseAddress(e.From)
	if err != nil {
		return nil, fmt.Errorf("%w: from %q: %w", ErrInvalidAddress, e.From, err)
	}
	to := make([]*mail.Address, 0, len(e.To))
	for _, raw := range e.To {
		addr, err := mail.ParseAddress(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: to %q: %w", ErrInvalidAddress, raw, err)
		}
		to = append(to, addr)
	}

	var h mail.Header
	h.SetDate(at)
	h.SetAddressList("From", []*mail.Address{from})
	h.SetAddressList("To", to)
	h.SetSubject(e.Subject)
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	if err := h.GenerateMessageID(); err != nil {
		return nil, fmt.Errorf("mailer: generate message id: %w", err)
	}

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("mailer: compose message: %w", err)
	}
	if _, err := io.WriteString(w, e.Body); err != nil {
		return nil, fmt.Errorf("mailer: write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("mailer: compose message: %w", err)
	}

	return buf.Bytes(), nil
}
