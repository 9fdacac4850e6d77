package mailer

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// FailureKind names the transport failure classes the engine knows about.
type FailureKind int

const (
	// FailureNetwork covers socket, dial and TLS errors.
	FailureNetwork FailureKind = iota + 1
	// FailureSenderRefused means the server rejected MAIL FROM.
	FailureSenderRefused
	// FailureRecipientsRefused means the server rejected every RCPT TO.
	FailureRecipientsRefused
	// FailureAuthentication means the server rejected the credentials.
	FailureAuthentication
	// FailureData means the server rejected the message content after DATA.
	FailureData
)

// String returns a short kind name.
func (k FailureKind) String() string {
	switch k {
	case FailureNetwork:
		return "network error"
	case FailureSenderRefused:
		return "sender refused"
	case FailureRecipientsRefused:
		return "recipients refused"
	case FailureAuthentication:
		return "authentication error"
	case FailureData:
		return "data error"
	default:
		return fmt.Sprintf("failure(%d)", int(k))
	}
}

// TransportError is a classified transport failure.
type TransportError struct {
	Kind FailureKind
	Err  error
}

// NewTransportError wraps err with kind.
func NewTransportError(kind FailureKind, err error) *TransportError {
	return &TransportError{Kind: kind, Err: err}
}

func (e *TransportError) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}

	return e.Kind.String() + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// KindOf returns the failure kind carried by err, if any.
func KindOf(err error) (FailureKind, bool) {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Kind, true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && !isContextErr(err) {
		return FailureNetwork, true
	}

	return 0, false
}

// FailureAction defines how a failed message should be handled.
type FailureAction int

const (
	// FailureAbort stops the drain and propagates the error.
	FailureAbort FailureAction = iota
	// FailureDefer marks the message deferred and continues with the next one.
	FailureDefer
)

// FailureClassifier decides whether a send failure defers the message.
type FailureClassifier func(ctx context.Context, mode Mode, err error) FailureAction

// DefaultFailureClassifier defers network, sender, recipient and
// authentication failures in both modes. Data rejections are deferred only in
// mass mode; in normal mode they abort the drain.
func DefaultFailureClassifier(_ context.Context, mode Mode, err error) FailureAction {
	kind, ok := KindOf(err)
	if !ok {
		return FailureAbort
	}

	switch kind {
	case FailureNetwork, FailureSenderRefused, FailureRecipientsRefused, FailureAuthentication:
		return FailureDefer
	case FailureData:
		if mode == ModeMass {
			return FailureDefer
		}
	}

	return FailureAbort
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
