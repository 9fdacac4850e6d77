package mailer

import "context"

// Credentials authenticate a transport connection.
type Credentials struct {
	Username string
	Password string
}

// Transport opens connections to the outbound mail service.
type Transport interface {
	// Open establishes a connection. A nil creds uses the transport defaults.
	// Failures should wrap ErrConnectFailed in a *TransportError.
	Open(ctx context.Context, creds *Credentials) (Conn, error)
}

// Conn is one transport session. It may be reused for many messages until a
// send fails, after which the engine closes it and opens a new one.
type Conn interface {
	// Send delivers one composed message.
	Send(ctx context.Context, msg Message) error
	// Close ends the session.
	Close() error
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, creds *Credentials) (Conn, error)

// Open implements Transport.
func (fn TransportFunc) Open(ctx context.Context, creds *Credentials) (Conn, error) {
	return fn(ctx, creds)
}
