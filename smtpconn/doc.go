// Package smtpconn delivers queued mail over SMTP.
//
// Transport implements mailer.Transport on emersion/go-smtp. Each Open dials
// the relay, optionally wraps the socket in TLS (implicit or STARTTLS) and
// authenticates with SASL PLAIN. The returned connection is reused by the
// drain for many messages until a send fails.
//
// SMTP replies and socket errors are mapped onto mailer failure kinds, so the
// drain can tell a refused recipient from a broken session.
package smtpconn
