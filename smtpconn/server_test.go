package smtpconn_test

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"io"
	"math/big"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/stretchr/testify/require"
)

type received struct {
	From     string
	To       []string
	Data     []byte
	AuthUser string
	AuthPass string
	TLS      bool
	HELO     string
}

type backend struct {
	mu       sync.Mutex
	messages []received
	sessions int

	authErr error
	mailErr error
	rcptErr map[string]error
	dataErr error
}

func (b *backend) NewSession(c *smtp.Conn) (smtp.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sessions++
	_, isTLS := c.TLSConnectionState()

	return &session{backend: b, tls: isTLS, helo: c.Hostname()}, nil
}

func (b *backend) received() []received {
	b.mu.Lock()
	defer b.mu.Unlock()

	return append([]received(nil), b.messages...)
}

func (b *backend) sessionCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.sessions
}

type session struct {
	backend *backend
	tls     bool
	helo    string
	user    string
	pass    string
	msg     received
}

func (s *session) AuthMechanisms() []string {
	return []string{sasl.Plain}
}

func (s *session) Auth(string) (sasl.Server, error) {
	return sasl.NewPlainServer(func(_, username, password string) error {
		if s.backend.authErr != nil {
			return s.backend.authErr
		}
		s.user = username
		s.pass = password

		return nil
	}), nil
}

func (s *session) Mail(from string, _ *smtp.MailOptions) error {
	if s.backend.mailErr != nil {
		return s.backend.mailErr
	}
	s.msg = received{From: from}

	return nil
}

func (s *session) Rcpt(to string, _ *smtp.RcptOptions) error {
	if err := s.backend.rcptErr[to]; err != nil {
		return err
	}
	s.msg.To = append(s.msg.To, to)

	return nil
}

func (s *session) Data(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if s.backend.dataErr != nil {
		return s.backend.dataErr
	}

	s.msg.Data = data
	s.msg.AuthUser = s.user
	s.msg.AuthPass = s.pass
	s.msg.TLS = s.tls
	s.msg.HELO = s.helo

	s.backend.mu.Lock()
	s.backend.messages = append(s.backend.messages, s.msg)
	s.backend.mu.Unlock()

	return nil
}

func (s *session) Reset() {
	s.msg = received{}
}

func (s *session) Logout() error {
	return nil
}

type serverMode int

const (
	plainServer serverMode = iota
	startTLSServer
	implicitTLSServer
)

// startServer runs an in-process SMTP server and returns its host, port and a
// client TLS config trusting its certificate.
func startServer(t *testing.T, be *backend, mode serverMode) (string, int, *tls.Config) {
	t.Helper()

	serverTLS, clientTLS := testCertificates(t)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	if mode == implicitTLSServer {
		l = tls.NewListener(l, serverTLS)
	}

	s := smtp.NewServer(be)
	s.Domain = "localhost"
	s.AllowInsecureAuth = true
	s.ReadTimeout = 10 * time.Second
	s.WriteTimeout = 10 * time.Second
	if mode == startTLSServer {
		s.TLSConfig = serverTLS
	}

	go func() {
		_ = s.Serve(l)
	}()
	t.Cleanup(func() {
		_ = s.Close()
	})

	host, portStr, err := net.SplitHostPort(l.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	return host, port, clientTLS
}

func testCertificates(t *testing.T) (*tls.Config, *tls.Config) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{Organization: []string{"mailer test"}},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1")},
		DNSNames:              []string{"localhost"},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	pool := x509.NewCertPool()
	pool.AddCert(cert)

	server := &tls.Config{
		Certificates: []tls.Certificate{{Certificate: [][]byte{der}, PrivateKey: key, Leaf: cert}},
		MinVersion:   tls.VersionTLS12,
	}
	client := &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}

	return server, client
}
