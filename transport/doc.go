// Package transport selects a mailer.Transport by backend name.
//
// The smtp backend relays through smtpconn. The console backend writes every
// composed message to a writer, which is handy in development. The dummy
// backend accepts and discards everything.
package transport
