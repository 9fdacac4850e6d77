package smtpconn

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/velmie/mailer"
)

const (
	defaultPort              = 25
	defaultHELO              = "localhost"
	defaultConnectTimeout    = 30 * time.Second
	defaultCommandTimeout    = 5 * time.Minute
	defaultSubmissionTimeout = 12 * time.Minute
)

var (
	// ErrHostRequired is returned when a Transport has no relay host.
	ErrHostRequired = errors.New("mailer smtpconn: host is required")
	// ErrInvalidPort is returned for ports outside 1..65535.
	ErrInvalidPort = errors.New("mailer smtpconn: port is invalid")
	// ErrUnknownTLSMode is returned for unsupported TLS modes.
	ErrUnknownTLSMode = errors.New("mailer smtpconn: unknown tls mode")
	// ErrStartTLSUnsupported is returned when STARTTLS is required but not offered.
	ErrStartTLSUnsupported = errors.New("mailer smtpconn: server does not offer STARTTLS")
	// ErrAuthUnsupported is returned when credentials are set but AUTH is not offered.
	ErrAuthUnsupported = errors.New("mailer smtpconn: server does not offer AUTH")
)

// TLSMode selects how the connection is secured.
type TLSMode string

const (
	// TLSNone sends in plain text.
	TLSNone TLSMode = "none"
	// TLSStartTLS upgrades the session with STARTTLS after EHLO.
	TLSStartTLS TLSMode = "starttls"
	// TLSImplicit performs the TLS handshake right after dialing.
	TLSImplicit TLSMode = "implicit"
)

// ParseTLSMode parses a TLS mode name. An empty string means TLSNone.
func ParseTLSMode(s string) (TLSMode, error) {
	switch mode := TLSMode(strings.ToLower(strings.TrimSpace(s))); mode {
	case "":
		return TLSNone, nil
	case TLSNone, TLSStartTLS, TLSImplicit:
		return mode, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownTLSMode, s)
	}
}

// Dialer opens the TCP connection. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Config describes the relay and session settings.
type Config struct {
	Host string
	Port int
	TLS  TLSMode
	// TLSConfig is cloned for every connection. ServerName defaults to Host.
	TLSConfig *tls.Config
	// HELO is the name sent with EHLO.
	HELO              string
	ConnectTimeout    time.Duration
	CommandTimeout    time.Duration
	SubmissionTimeout time.Duration
	// Credentials are used when Open receives nil. An empty username skips AUTH.
	Credentials *mailer.Credentials
	Dialer      Dialer
	Logger      mailer.Logger
}

// Option configures a Transport.
type Option func(*Config)

// WithTLS sets the TLS mode and an optional client TLS config.
func WithTLS(mode TLSMode, cfg *tls.Config) Option {
	return func(c *Config) {
		c.TLS = mode
		c.TLSConfig = cfg
	}
}

// WithHELO sets the EHLO name.
func WithHELO(name string) Option {
	return func(c *Config) {
		c.HELO = name
	}
}

// WithTimeouts sets the connect and per-command timeouts. Zero keeps the default.
func WithTimeouts(connect, command time.Duration) Option {
	return func(c *Config) {
		c.ConnectTimeout = connect
		c.CommandTimeout = command
	}
}

// WithCredentials sets the default credentials.
func WithCredentials(creds *mailer.Credentials) Option {
	return func(c *Config) {
		c.Credentials = creds
	}
}

// WithDialer replaces the TCP dialer.
func WithDialer(d Dialer) Option {
	return func(c *Config) {
		c.Dialer = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger mailer.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

func (c Config) withDefaults() Config {
	if c.Port == 0 {
		c.Port = defaultPort
	}
	if c.TLS == "" {
		c.TLS = TLSNone
	}
	if c.HELO == "" {
		c.HELO = defaultHELO
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = defaultConnectTimeout
	}
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = defaultCommandTimeout
	}
	if c.SubmissionTimeout <= 0 {
		c.SubmissionTimeout = defaultSubmissionTimeout
	}
	if c.Dialer == nil {
		c.Dialer = &net.Dialer{}
	}
	if c.Logger == nil {
		c.Logger = mailer.NopLogger{}
	}

	return c
}

// Validate checks the relay settings.
func (c Config) Validate() error {
	if c.Host == "" {
		return ErrHostRequired
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPort, c.Port)
	}
	if _, err := ParseTLSMode(string(c.TLS)); err != nil {
		return err
	}

	return nil
}

// Transport opens SMTP sessions to one relay.
type Transport struct {
	cfg  Config
	addr string
}

// New returns a Transport for host:port.
func New(host string, port int, opts ...Option) (*Transport, error) {
	cfg := Config{Host: host, Port: port}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	return NewFromConfig(cfg)
}

// NewFromConfig returns a Transport for cfg.
func NewFromConfig(cfg Config) (*Transport, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Transport{
		cfg:  cfg,
		addr: net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
	}, nil
}

// Addr returns the relay address.
func (t *Transport) Addr() string {
	return t.addr
}

// Open implements mailer.Transport.
func (t *Transport) Open(ctx context.Context, creds *mailer.Credentials) (mailer.Conn, error) {
	if creds == nil {
		creds = t.cfg.Credentials
	}

	dialCtx, cancel := context.WithTimeout(ctx, t.cfg.ConnectTimeout)
	defer cancel()

	netConn, err := t.cfg.Dialer.DialContext(dialCtx, "tcp", t.addr)
	if err != nil {
		return nil, connectError(mailer.FailureNetwork, err)
	}
	if t.cfg.TLS == TLSImplicit {
		tlsConn := tls.Client(netConn, t.tlsConfig())
		if err := tlsConn.HandshakeContext(dialCtx); err != nil {
			_ = netConn.Close()

			return nil, connectError(mailer.FailureNetwork, err)
		}
		netConn = tlsConn
	}

	stop := context.AfterFunc(dialCtx, func() {
		_ = netConn.SetDeadline(time.Unix(1, 0))
	})
	cl, err := t.session(netConn, creds)
	stop()
	if err != nil {
		return nil, err
	}
	_ = netConn.SetDeadline(time.Time{})

	t.cfg.Logger.Debug("smtp connection opened", "addr", t.addr, "tls", string(t.cfg.TLS))

	return &conn{client: cl, netConn: netConn, logger: t.cfg.Logger}, nil
}

// session greets the relay, upgrades to TLS when configured and
// authenticates. The client is closed on failure.
func (t *Transport) session(netConn net.Conn, creds *mailer.Credentials) (*smtp.Client, error) {
	var cl *smtp.Client
	if t.cfg.TLS == TLSStartTLS {
		// The EHLO before STARTTLS uses go-smtp's default name; the
		// configured HELO is sent on the encrypted session.
		var err error
		cl, err = smtp.NewClientStartTLS(netConn, t.tlsConfig())
		if err != nil {
			_ = netConn.Close()

			return nil, startTLSError(err)
		}
	} else {
		cl = smtp.NewClient(netConn)
	}
	cl.CommandTimeout = t.cfg.CommandTimeout
	cl.SubmissionTimeout = t.cfg.SubmissionTimeout

	if err := t.handshake(cl, creds); err != nil {
		_ = cl.Close()

		return nil, err
	}

	return cl, nil
}

func (t *Transport) handshake(cl *smtp.Client, creds *mailer.Credentials) error {
	if err := cl.Hello(t.cfg.HELO); err != nil {
		return connectError(kindOf(err, mailer.FailureNetwork), err)
	}

	if creds == nil || creds.Username == "" {
		return nil
	}
	if ok, _ := cl.Extension("AUTH"); !ok {
		return connectError(mailer.FailureAuthentication, ErrAuthUnsupported)
	}
	if err := cl.Auth(sasl.NewPlainClient("", creds.Username, creds.Password)); err != nil {
		return connectError(kindOf(err, mailer.FailureAuthentication), err)
	}

	return nil
}

func (t *Transport) tlsConfig() *tls.Config {
	var cfg *tls.Config
	if t.cfg.TLSConfig != nil {
		cfg = t.cfg.TLSConfig.Clone()
	} else {
		cfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	if cfg.ServerName == "" {
		cfg.ServerName = t.cfg.Host
	}

	return cfg
}

var _ mailer.Transport = (*Transport)(nil)
