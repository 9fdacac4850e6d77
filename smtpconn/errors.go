package smtpconn

import (
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/emersion/go-smtp"

	"github.com/velmie/mailer"
)

// Reply codes that mean the session needs (other) credentials.
const (
	codeAuthRequired = 530
	codeAuthFailed   = 535
)

// classify maps err onto a failure kind. SMTP replies keep the kind of the
// command that failed; everything else broke the session and is a network
// failure.
func classify(kind mailer.FailureKind, err error) error {
	return mailer.NewTransportError(kindOf(err, kind), err)
}

func kindOf(err error, replyKind mailer.FailureKind) mailer.FailureKind {
	var smtpErr *smtp.SMTPError
	if !errors.As(err, &smtpErr) {
		return mailer.FailureNetwork
	}
	switch smtpErr.Code {
	case codeAuthRequired, codeAuthFailed:
		return mailer.FailureAuthentication
	}

	return replyKind
}

func connectError(kind mailer.FailureKind, err error) error {
	return mailer.NewTransportError(kind, fmt.Errorf("%w: %w", mailer.ErrConnectFailed, err))
}

// startTLSError classifies a failed STARTTLS setup. go-smtp reports a relay
// without the STARTTLS extension as a plain error, so anything that is neither
// an SMTP reply nor an I/O failure means the upgrade is not offered.
func startTLSError(err error) error {
	var (
		smtpErr *smtp.SMTPError
		netErr  net.Error
	)
	switch {
	case errors.As(err, &smtpErr):
		return connectError(kindOf(err, mailer.FailureNetwork), err)
	case errors.As(err, &netErr), errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, net.ErrClosed):
		return connectError(mailer.FailureNetwork, err)
	default:
		return connectError(mailer.FailureNetwork, fmt.Errorf("%w: %w", ErrStartTLSUnsupported, err))
	}
}
