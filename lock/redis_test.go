package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/velmie/mailer"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return mr, client
}

func TestNewRedisLockerRequiresClient(t *testing.T) {
	_, err := NewRedisLocker(nil)
	require.ErrorIs(t, err, ErrClientRequired)
}

func TestRedisLockerExcludes(t *testing.T) {
	mr, client := setupTestRedis(t)
	locker, err := NewRedisLocker(client)
	require.NoError(t, err)
	ctx := context.Background()

	held, err := locker.Acquire(ctx, mailer.LockNameNormal, mailer.NoWait)
	require.NoError(t, err)
	require.True(t, mr.Exists("mailer:lock:send_mail"))

	_, err = locker.Acquire(ctx, mailer.LockNameNormal, mailer.NoWait)
	require.ErrorIs(t, err, mailer.ErrLockHeld)

	require.NoError(t, held.Release(ctx))
	require.False(t, mr.Exists("mailer:lock:send_mail"))
	require.NoError(t, held.Release(ctx))
}

func TestRedisLockerTimeout(t *testing.T) {
	_, client := setupTestRedis(t)
	locker, err := NewRedisLocker(client, WithRedisPollInterval(5*time.Millisecond))
	require.NoError(t, err)

	held, err := locker.Acquire(context.Background(), mailer.LockNameMass, mailer.NoWait)
	require.NoError(t, err)
	defer held.Release(context.Background())

	_, err = locker.Acquire(context.Background(), mailer.LockNameMass, 25*time.Millisecond)
	require.ErrorIs(t, err, mailer.ErrLockTimeout)
}

func TestRedisLockerWaitsForRelease(t *testing.T) {
	_, client := setupTestRedis(t)
	locker, err := NewRedisLocker(client, WithRedisPollInterval(5*time.Millisecond))
	require.NoError(t, err)

	held, err := locker.Acquire(context.Background(), mailer.LockNameMass, mailer.NoWait)
	require.NoError(t, err)
	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = held.Release(context.Background())
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	next, err := locker.Acquire(ctx, mailer.LockNameMass, mailer.WaitForever)
	require.NoError(t, err)
	require.NoError(t, next.Release(ctx))
}

func TestRedisLockerTTLExpiry(t *testing.T) {
	mr, client := setupTestRedis(t)
	locker, err := NewRedisLocker(client, WithTTL(time.Minute), WithKeyPrefix("test:"))
	require.NoError(t, err)
	ctx := context.Background()

	stale, err := locker.Acquire(ctx, mailer.LockNameNormal, mailer.NoWait)
	require.NoError(t, err)
	require.Equal(t, time.Minute, mr.TTL("test:send_mail"))

	mr.FastForward(2 * time.Minute)

	fresh, err := locker.Acquire(ctx, mailer.LockNameNormal, mailer.NoWait)
	require.NoError(t, err)

	// The expired owner must not delete the new owner's key.
	require.NoError(t, stale.Release(ctx))
	require.True(t, mr.Exists("test:send_mail"))
	require.NoError(t, fresh.Release(ctx))
	require.False(t, mr.Exists("test:send_mail"))
}

func TestRedisLockerWithoutTTLNeverExpires(t *testing.T) {
	mr, client := setupTestRedis(t)
	locker, err := NewRedisLocker(client)
	require.NoError(t, err)
	ctx := context.Background()

	held, err := locker.Acquire(ctx, mailer.LockNameMass, mailer.NoWait)
	require.NoError(t, err)
	require.Zero(t, mr.TTL("mailer:lock:send_mass_mail"))

	// A long mass run: many hours of batch pauses.
	mr.FastForward(24 * time.Hour)

	_, err = locker.Acquire(ctx, mailer.LockNameMass, mailer.NoWait)
	require.ErrorIs(t, err, mailer.ErrLockHeld)
	require.NoError(t, held.Release(ctx))
}

func TestRedisLockerUnavailable(t *testing.T) {
	mr, client := setupTestRedis(t)
	locker, err := NewRedisLocker(client)
	require.NoError(t, err)
	mr.Close()

	_, err = locker.Acquire(context.Background(), mailer.LockNameNormal, mailer.NoWait)
	require.Error(t, err)
	require.NotErrorIs(t, err, mailer.ErrLockHeld)
}
