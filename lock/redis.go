package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/velmie/mailer"
)

const (
	defaultKeyPrefix = "mailer:lock:"
	ownerTokenBytes  = 16
)

// ErrClientRequired is returned when a RedisLocker has no client.
var ErrClientRequired = errors.New("mailer lock: redis client is required")

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

// RedisLocker excludes drains through SET NX keys.
//
// A non-zero TTL bounds how long a crashed owner can block other drains. It
// must exceed the longest expected drain, including mass pauses, since the
// key is not extended while held.
type RedisLocker struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	poll   time.Duration
}

// RedisOption configures a RedisLocker.
type RedisOption func(*RedisLocker)

// WithKeyPrefix sets the key prefix. Defaults to "mailer:lock:".
func WithKeyPrefix(prefix string) RedisOption {
	return func(l *RedisLocker) {
		l.prefix = prefix
	}
}

// WithTTL sets the key expiry. Zero keeps the key until released.
func WithTTL(ttl time.Duration) RedisOption {
	return func(l *RedisLocker) {
		l.ttl = ttl
	}
}

// WithRedisPollInterval sets how often a waiting Acquire retries.
func WithRedisPollInterval(d time.Duration) RedisOption {
	return func(l *RedisLocker) {
		l.poll = d
	}
}

// NewRedisLocker returns a locker backed by client.
func NewRedisLocker(client redis.UniversalClient, opts ...RedisOption) (*RedisLocker, error) {
	if client == nil {
		return nil, ErrClientRequired
	}

	l := &RedisLocker{client: client, prefix: defaultKeyPrefix, poll: defaultPollInterval}
	for _, opt := range opts {
		opt(l)
	}

	return l, nil
}

// Key returns the Redis key of the named lock.
func (l *RedisLocker) Key(name string) string {
	return l.prefix + name
}

// Acquire implements mailer.Locker.
func (l *RedisLocker) Acquire(ctx context.Context, name string, wait time.Duration) (mailer.Lock, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}

	token, err := newToken()
	if err != nil {
		return nil, err
	}
	key := l.Key(name)

	err = acquireWithin(ctx, wait, l.poll, func(ctx context.Context) (bool, error) {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return false, fmt.Errorf("mailer lock: set %s: %w", key, err)
		}

		return ok, nil
	})
	if err != nil {
		return nil, err
	}

	return &redisLock{client: l.client, key: key, token: token}, nil
}

type redisLock struct {
	mu       sync.Mutex
	client   redis.UniversalClient
	key      string
	token    string
	released bool
}

func (k *redisLock) Release(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.released {
		return nil
	}

	if err := releaseScript.Run(ctx, k.client, []string{k.key}, k.token).Err(); err != nil {
		return fmt.Errorf("mailer lock: release %s: %w", k.key, err)
	}
	k.released = true

	return nil
}

func newToken() (string, error) {
	b := make([]byte, ownerTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("mailer lock: owner token: %w", err)
	}

	return hex.EncodeToString(b), nil
}
