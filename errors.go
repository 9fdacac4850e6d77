package mailer

import "errors"

var (
	// ErrNilStore indicates that the engine was constructed without a Store.
	ErrNilStore = errors.New("mailer store is required")
	// ErrNilLogSink indicates that the engine was constructed without a LogSink.
	ErrNilLogSink = errors.New("mailer log sink is required")
	// ErrNilTransport indicates that the engine was constructed without a Transport.
	ErrNilTransport = errors.New("mailer transport is required")
	// ErrNilLocker indicates that the engine was constructed without a Locker.
	ErrNilLocker = errors.New("mailer locker is required")
	// ErrInvalidConfig wraps configuration validation failures.
	ErrInvalidConfig = errors.New("mailer config is invalid")
	// ErrLockHeld is returned by a Locker when the lock is held and no wait was requested.
	ErrLockHeld = errors.New("mailer lock already held")
	// ErrLockTimeout is returned by a Locker when the wait bound elapsed.
	ErrLockTimeout = errors.New("mailer lock wait timed out")
	// ErrConnectFailed indicates that the transport could not open a connection.
	ErrConnectFailed = errors.New("mailer transport connect failed")
	// ErrSenderRequired is returned when Entry.From is empty.
	ErrSenderRequired = errors.New("mailer sender is required")
	// ErrRecipientsRequired is returned when Entry.To is empty.
	ErrRecipientsRequired = errors.New("mailer at least one recipient is required")
	// ErrContentRequired is returned when an Entry has neither raw data nor a body.
	ErrContentRequired = errors.New("mailer message content is required")
	// ErrInvalidPriority is returned for priorities outside high/medium/low.
	ErrInvalidPriority = errors.New("mailer priority is invalid")
	// ErrInvalidAddress is returned when an address cannot be parsed.
	ErrInvalidAddress = errors.New("mailer address is invalid")
	// ErrInvalidID is returned when parsing or scanning an ID fails.
	ErrInvalidID = errors.New("mailer id is invalid")
)
