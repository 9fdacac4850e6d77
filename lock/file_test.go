package lock

import (
	"context"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/velmie/mailer"
)

type offsetClock struct {
	offset time.Duration
}

func (c offsetClock) Now() time.Time {
	return time.Now().Add(c.offset)
}

func newTestFileLocker(t *testing.T, opts ...FileOption) *FileLocker {
	t.Helper()

	opts = append([]FileOption{WithPollInterval(5 * time.Millisecond)}, opts...)
	locker, err := NewFileLocker(t.TempDir(), opts...)
	require.NoError(t, err)

	return locker
}

func TestNewFileLockerRequiresDir(t *testing.T) {
	_, err := NewFileLocker("")
	require.ErrorIs(t, err, ErrDirRequired)
}

func TestFileLockerExcludes(t *testing.T) {
	locker := newTestFileLocker(t)
	ctx := context.Background()

	held, err := locker.Acquire(ctx, mailer.LockNameNormal, mailer.NoWait)
	require.NoError(t, err)

	_, err = locker.Acquire(ctx, mailer.LockNameNormal, mailer.NoWait)
	require.ErrorIs(t, err, mailer.ErrLockHeld)

	other, err := locker.Acquire(ctx, mailer.LockNameMass, mailer.NoWait)
	require.NoError(t, err, "locks of different modes are independent")
	require.NoError(t, other.Release(ctx))

	require.NoError(t, held.Release(ctx))
	_, statErr := os.Stat(locker.Path(mailer.LockNameNormal))
	require.True(t, os.IsNotExist(statErr), "release removes the artifact")

	again, err := locker.Acquire(ctx, mailer.LockNameNormal, mailer.NoWait)
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}

func TestFileLockerArtifactRecordsOwner(t *testing.T) {
	locker := newTestFileLocker(t)
	held, err := locker.Acquire(context.Background(), mailer.LockNameNormal, mailer.NoWait)
	require.NoError(t, err)
	defer held.Release(context.Background())

	data, err := os.ReadFile(locker.Path(mailer.LockNameNormal))
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(string(data), strconv.Itoa(os.Getpid())+"\n"))
}

func TestFileLockerConcurrentNoWait(t *testing.T) {
	locker := newTestFileLocker(t)
	const workers = 16

	var (
		wg    sync.WaitGroup
		wins  int32
		start = make(chan struct{})
		locks = make(chan mailer.Lock, workers)
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			held, err := locker.Acquire(context.Background(), mailer.LockNameNormal, mailer.NoWait)
			if err == nil {
				atomic.AddInt32(&wins, 1)
				locks <- held
			}
		}()
	}
	close(start)
	wg.Wait()
	close(locks)

	require.Equal(t, int32(1), wins)
	for held := range locks {
		require.NoError(t, held.Release(context.Background()))
	}
}

func TestFileLockerTimeout(t *testing.T) {
	locker := newTestFileLocker(t)
	held, err := locker.Acquire(context.Background(), mailer.LockNameNormal, mailer.NoWait)
	require.NoError(t, err)
	defer held.Release(context.Background())

	started := time.Now()
	_, err = locker.Acquire(context.Background(), mailer.LockNameNormal, 30*time.Millisecond)
	require.ErrorIs(t, err, mailer.ErrLockTimeout)
	require.GreaterOrEqual(t, time.Since(started), 30*time.Millisecond)
}

func TestFileLockerWaitsForRelease(t *testing.T) {
	locker := newTestFileLocker(t)
	held, err := locker.Acquire(context.Background(), mailer.LockNameNormal, mailer.NoWait)
	require.NoError(t, err)

	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = held.Release(context.Background())
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	next, err := locker.Acquire(ctx, mailer.LockNameNormal, mailer.WaitForever)
	require.NoError(t, err)
	require.NoError(t, next.Release(ctx))
}

func TestFileLockerWaitHonorsContext(t *testing.T) {
	locker := newTestFileLocker(t)
	held, err := locker.Acquire(context.Background(), mailer.LockNameNormal, mailer.NoWait)
	require.NoError(t, err)
	defer held.Release(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = locker.Acquire(ctx, mailer.LockNameNormal, mailer.WaitForever)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFileLockReleaseIsIdempotent(t *testing.T) {
	locker := newTestFileLocker(t)
	held, err := locker.Acquire(context.Background(), mailer.LockNameNormal, mailer.NoWait)
	require.NoError(t, err)

	require.NoError(t, held.Release(context.Background()))

	// A second owner takes the lock; the stale handle must not remove its artifact.
	next, err := locker.Acquire(context.Background(), mailer.LockNameNormal, mailer.NoWait)
	require.NoError(t, err)
	require.NoError(t, held.Release(context.Background()))

	_, err = locker.Acquire(context.Background(), mailer.LockNameNormal, mailer.NoWait)
	require.ErrorIs(t, err, mailer.ErrLockHeld)
	require.NoError(t, next.Release(context.Background()))
}

func TestFileLockerBreaksStaleArtifact(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/" + mailer.LockNameMass + fileLockSuffix
	require.NoError(t, os.WriteFile(path, []byte("1\nghost\n"), fileLockPerm))

	fresh, err := NewFileLocker(dir, WithStaleAfter(time.Hour))
	require.NoError(t, err)
	_, err = fresh.Acquire(context.Background(), mailer.LockNameMass, mailer.NoWait)
	require.ErrorIs(t, err, mailer.ErrLockHeld, "young artifacts are respected")

	later, err := NewFileLocker(dir, WithStaleAfter(time.Hour), WithFileClock(offsetClock{offset: 2 * time.Hour}))
	require.NoError(t, err)
	held, err := later.Acquire(context.Background(), mailer.LockNameMass, mailer.NoWait)
	require.NoError(t, err)
	require.NoError(t, held.Release(context.Background()))
}

func TestFileLockerRejectsPathNames(t *testing.T) {
	locker := newTestFileLocker(t)
	for _, name := range []string{"", "..", "../etc/passwd", "a/b"} {
		_, err := locker.Acquire(context.Background(), name, mailer.NoWait)
		require.ErrorIs(t, err, ErrInvalidName, name)
	}
}

type warnHook struct {
	mailer.NopLogger
	onWarn func(msg string)
}

func (h warnHook) Warn(msg string, _ ...any) {
	h.onWarn(msg)
}

func TestFileLockerConcurrentStaleBreakHasOneWinner(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/" + mailer.LockNameMass + fileLockSuffix
	require.NoError(t, os.WriteFile(path, []byte("1\nghost\nold\n"), fileLockPerm))
	stale := offsetClock{offset: 2 * time.Hour}

	first, err := NewFileLocker(dir, WithStaleAfter(time.Hour), WithFileClock(stale))
	require.NoError(t, err)

	var (
		once     sync.Once
		firstErr error
		firstOK  bool
	)
	second, err := NewFileLocker(dir, WithStaleAfter(time.Hour), WithFileClock(stale),
		WithFileLogger(warnHook{onWarn: func(msg string) {
			if msg != "breaking stale lock" {
				return
			}
			// The second locker has judged the artifact stale and is about to
			// remove it; the first locker competes for the same artifact now.
			once.Do(func() {
				held, err := first.Acquire(context.Background(), mailer.LockNameMass, mailer.NoWait)
				firstErr = err
				if err == nil {
					firstOK = true
					_ = held.Release(context.Background())
				}
			})
		}}),
	)
	require.NoError(t, err)

	held, err := second.Acquire(context.Background(), mailer.LockNameMass, mailer.NoWait)
	require.NoError(t, err)
	require.False(t, firstOK, "both lockers hold %s", mailer.LockNameMass)
	require.ErrorIs(t, firstErr, mailer.ErrLockHeld)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NotContains(t, string(data), "ghost")
	require.NoError(t, held.Release(context.Background()))
	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err))
}

func TestFileLockReleaseKeepsForeignArtifact(t *testing.T) {
	locker := newTestFileLocker(t)
	held, err := locker.Acquire(context.Background(), mailer.LockNameMass, mailer.NoWait)
	require.NoError(t, err)

	// Another process broke the artifact as stale and took the lock.
	path := locker.Path(mailer.LockNameMass)
	require.NoError(t, os.WriteFile(path, []byte("2\nother\nforeign-token\n"), fileLockPerm))

	require.NoError(t, held.Release(context.Background()))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "foreign-token")

	_, err = locker.Acquire(context.Background(), mailer.LockNameMass, mailer.NoWait)
	require.ErrorIs(t, err, mailer.ErrLockHeld)
}

func TestFileLockerRecoversAbandonedGuard(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/" + mailer.LockNameMass + fileLockSuffix
	require.NoError(t, os.WriteFile(path, []byte("1\nghost\nold\n"), fileLockPerm))
	guard := path + guardSuffix
	require.NoError(t, os.WriteFile(guard, nil, fileLockPerm))
	old := time.Now().Add(-2 * abandonedGuardAge)
	require.NoError(t, os.Chtimes(guard, old, old))

	locker, err := NewFileLocker(dir,
		WithStaleAfter(time.Hour),
		WithFileClock(offsetClock{offset: 2 * time.Hour}),
		WithPollInterval(5*time.Millisecond),
	)
	require.NoError(t, err)

	held, err := locker.Acquire(context.Background(), mailer.LockNameMass, time.Second)
	require.NoError(t, err)
	require.NoError(t, held.Release(context.Background()))

	_, err = os.Stat(guard)
	require.True(t, os.IsNotExist(err))
}
