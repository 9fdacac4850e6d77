// Package mailer drains a persisted outbound mail queue through an SMTP-like transport.
//
// Typical flow:
//  1. Producers enqueue messages with a priority (high, medium, low) and an optional mass flag,
//     using a storage-specific writer (see the sqlstore package).
//  2. A scheduler (cron, systemd timer, or the mailer command) periodically invokes
//     Engine.DrainNormal or Engine.DrainMass.
//  3. Each drain takes a named exclusion lock, pulls messages in priority order from a Scheduler,
//     sends them over a lazily opened transport connection and records the outcome:
//     sent messages are logged and deleted, transport failures are logged and deferred.
//
// Mass drains use their own lock, credentials and a batch/sleep/attempt budget so bulk mail
// is throttled independently of regular traffic.
package mailer
