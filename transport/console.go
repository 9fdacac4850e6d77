package transport

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/velmie/mailer"
)

const consoleSeparator = "----------------------------------------------------------------------"

// Console writes each message to a writer instead of sending it.
type Console struct {
	mu  sync.Mutex
	out io.Writer
}

// NewConsole returns a console transport writing to out.
func NewConsole(out io.Writer) *Console {
	return &Console{out: out}
}

// Open implements mailer.Transport. Credentials are ignored.
func (c *Console) Open(context.Context, *mailer.Credentials) (mailer.Conn, error) {
	return consoleConn{console: c}, nil
}

func (c *Console) write(msg mailer.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := fmt.Fprintf(c.out, "%s\nMessage-Queue-Id: %s\nEnvelope-From: %s\nEnvelope-To: %s\n\n%s\n%s\n",
		consoleSeparator, msg.ID, msg.From, msg.Recipients(), msg.Data, consoleSeparator)
	if err != nil {
		return mailer.NewTransportError(mailer.FailureNetwork, err)
	}

	return nil
}

type consoleConn struct {
	console *Console
}

func (c consoleConn) Send(ctx context.Context, msg mailer.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return c.console.write(msg)
}

func (consoleConn) Close() error {
	return nil
}

// Dummy accepts every message and drops it.
type Dummy struct{}

// Open implements mailer.Transport.
func (Dummy) Open(context.Context, *mailer.Credentials) (mailer.Conn, error) {
	return dummyConn{}, nil
}

type dummyConn struct{}

func (dummyConn) Send(ctx context.Context, _ mailer.Message) error {
	return ctx.Err()
}

func (dummyConn) Close() error {
	return nil
}

var (
	_ mailer.Transport = (*Console)(nil)
	_ mailer.Transport = Dummy{}
)
