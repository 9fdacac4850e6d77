package smtpconn

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/emersion/go-smtp"

	"github.com/velmie/mailer"
)

type conn struct {
	mu      sync.Mutex
	client  *smtp.Client
	netConn net.Conn
	logger  mailer.Logger
	closed  bool
}

// Send runs one MAIL/RCPT/DATA transaction. Refused recipients are skipped as
// long as at least one is accepted.
func (c *conn) Send(ctx context.Context, msg mailer.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return mailer.NewTransportError(mailer.FailureNetwork, net.ErrClosed)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	stop := context.AfterFunc(ctx, func() {
		_ = c.netConn.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	if err := c.client.Mail(msg.From, &smtp.MailOptions{}); err != nil {
		return classify(mailer.FailureSenderRefused, err)
	}

	var refused []error
	for _, to := range msg.To {
		err := c.client.Rcpt(to, &smtp.RcptOptions{})
		if err == nil {
			continue
		}
		var smtpErr *smtp.SMTPError
		if !errors.As(err, &smtpErr) {
			return classify(mailer.FailureRecipientsRefused, err)
		}
		refused = append(refused, fmt.Errorf("%s: %w", to, err))
	}
	if len(refused) == len(msg.To) {
		_ = c.client.Reset()

		return mailer.NewTransportError(mailer.FailureRecipientsRefused, errors.Join(refused...))
	}
	if len(refused) > 0 {
		c.logger.Warn("some recipients refused", "message_id", msg.ID.String(), "error", errors.Join(refused...))
	}

	wc, err := c.client.Data()
	if err != nil {
		return classify(mailer.FailureData, err)
	}
	if _, err := wc.Write(msg.Data); err != nil {
		_ = wc.Close()

		return classify(mailer.FailureData, err)
	}
	if err := wc.Close(); err != nil {
		return classify(mailer.FailureData, err)
	}

	return nil
}

// Close sends QUIT and closes the socket. It is safe to call more than once.
func (c *conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	if err := c.client.Quit(); err != nil {
		_ = c.client.Close()

		return fmt.Errorf("mailer smtpconn: quit: %w", err)
	}

	return nil
}

var _ mailer.Conn = (*conn)(nil)
