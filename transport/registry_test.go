package transport

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/velmie/mailer"
	"github.com/velmie/mailer/smtpconn"
)

func TestRegistryBuiltins(t *testing.T) {
	r := NewRegistry()
	require.Equal(t, []string{BackendConsole, BackendDummy, BackendSMTP}, r.Names())

	tr, err := r.New(" SMTP ", Settings{SMTP: smtpconn.Config{Host: "mail.example.com", Port: 587}})
	require.NoError(t, err)
	smtp, ok := tr.(*smtpconn.Transport)
	require.True(t, ok)
	require.Equal(t, "mail.example.com:587", smtp.Addr())

	_, err = r.New(BackendSMTP, Settings{})
	require.ErrorIs(t, err, smtpconn.ErrHostRequired)

	_, err = r.New("carrier-pigeon", Settings{})
	require.ErrorIs(t, err, ErrUnknownBackend)
}

func TestRegistryRegister(t *testing.T) {
	r := NewRegistry()
	called := false
	factory := func(Settings) (mailer.Transport, error) {
		called = true
		return Dummy{}, nil
	}

	require.ErrorIs(t, r.Register("custom", nil), ErrNilFactory)
	require.NoError(t, r.Register("Custom", factory))
	require.ErrorIs(t, r.Register("custom", factory), ErrBackendExists)
	require.ErrorIs(t, r.Register(BackendDummy, factory), ErrBackendExists)

	_, err := r.New("custom", Settings{})
	require.NoError(t, err)
	require.True(t, called)
}

func TestConsoleWritesMessages(t *testing.T) {
	var out bytes.Buffer
	tr, err := New(BackendConsole, Settings{Output: &out})
	require.NoError(t, err)

	ctx := context.Background()
	conn, err := tr.Open(ctx, &mailer.Credentials{Username: "ignored"})
	require.NoError(t, err)
	require.NoError(t, conn.Send(ctx, mailer.Message{
		ID:   mailer.ID{0x01},
		From: "noreply@example.com",
		To:   []string{"a@example.com", "b@example.com"},
		Data: []byte("Subject: Hi\r\n\r\nhello"),
	}))
	require.NoError(t, conn.Close())

	got := out.String()
	require.Contains(t, got, "Envelope-From: noreply@example.com")
	require.Contains(t, got, "Envelope-To: a@example.com, b@example.com")
	require.Contains(t, got, "Subject: Hi")
	require.Contains(t, got, "Message-Queue-Id: "+mailer.ID{0x01}.String())
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) {
	return 0, errors.New("disk full")
}

func TestConsoleWriteFailureIsNetworkKind(t *testing.T) {
	conn, err := NewConsole(failingWriter{}).Open(context.Background(), nil)
	require.NoError(t, err)

	err = conn.Send(context.Background(), mailer.Message{})
	kind, ok := mailer.KindOf(err)
	require.True(t, ok)
	require.Equal(t, mailer.FailureNetwork, kind)
}

func TestDummyDiscards(t *testing.T) {
	tr, err := New(BackendDummy, Settings{})
	require.NoError(t, err)
	conn, err := tr.Open(context.Background(), nil)
	require.NoError(t, err)
	require.NoError(t, conn.Send(context.Background(), mailer.Message{}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, conn.Send(ctx, mailer.Message{}), context.Canceled)
	require.NoError(t, conn.Close())
}
