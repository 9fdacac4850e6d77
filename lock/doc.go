// Package lock provides mailer.Locker implementations.
//
// FileLocker keeps one artifact per lock name in a shared directory, so it
// excludes drains on a single host or on hosts sharing that directory.
// RedisLocker stores the same names as Redis keys for multi-host deployments.
// A MySQL advisory locker lives in the sqlstore package.
package lock
