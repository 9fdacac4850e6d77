package lock

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/velmie/mailer"
)

const (
	fileLockSuffix    = ".lock"
	guardSuffix       = ".guard"
	fileLockPerm      = 0o644
	dirPerm           = 0o755
	ownerTokenLine    = 2
	abandonedGuardAge = time.Minute
	releaseGuardWait  = 10 * time.Second
)

var (
	// ErrDirRequired is returned when a FileLocker has no directory.
	ErrDirRequired = errors.New("mailer lock: directory is required")
	// ErrInvalidName is returned for lock names that are not plain identifiers.
	ErrInvalidName = errors.New("mailer lock: invalid lock name")
)

// FileLocker excludes drains through lock artifacts in a directory.
//
// A lock is held while <dir>/<name>.lock exists. The artifact is created with
// O_EXCL, which makes acquisition atomic on local filesystems. It records the
// owner pid, host and a random owner token.
//
// Artifacts are only ever removed while holding <dir>/<name>.lock.guard, so a
// stale artifact checked under the guard is still the one that gets removed,
// and a release never deletes an artifact created by another owner.
type FileLocker struct {
	dir        string
	poll       time.Duration
	staleAfter time.Duration
	clock      mailer.Clock
	logger     mailer.Logger
}

// FileOption configures a FileLocker.
type FileOption func(*FileLocker)

// WithPollInterval sets how often a waiting Acquire retries.
func WithPollInterval(d time.Duration) FileOption {
	return func(l *FileLocker) {
		l.poll = d
	}
}

// WithStaleAfter lets Acquire break artifacts older than d, left behind by a
// crashed process. Zero keeps artifacts until they are released.
func WithStaleAfter(d time.Duration) FileOption {
	return func(l *FileLocker) {
		l.staleAfter = d
	}
}

// WithFileClock sets the clock used for staleness checks.
func WithFileClock(clock mailer.Clock) FileOption {
	return func(l *FileLocker) {
		l.clock = clock
	}
}

// WithFileLogger sets the logger.
func WithFileLogger(logger mailer.Logger) FileOption {
	return func(l *FileLocker) {
		l.logger = logger
	}
}

// NewFileLocker creates dir if needed and returns a locker rooted there.
func NewFileLocker(dir string, opts ...FileOption) (*FileLocker, error) {
	if dir == "" {
		return nil, ErrDirRequired
	}
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, fmt.Errorf("mailer lock: create dir: %w", err)
	}

	l := &FileLocker{dir: dir, poll: defaultPollInterval}
	for _, opt := range opts {
		opt(l)
	}
	if l.clock == nil {
		l.clock = mailer.SystemClock{}
	}
	if l.logger == nil {
		l.logger = mailer.NopLogger{}
	}

	return l, nil
}

// Path returns the artifact path of the named lock.
func (l *FileLocker) Path(name string) string {
	return filepath.Join(l.dir, name+fileLockSuffix)
}

// Acquire implements mailer.Locker.
func (l *FileLocker) Acquire(ctx context.Context, name string, wait time.Duration) (mailer.Lock, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	path := l.Path(name)

	var token string
	err := acquireWithin(ctx, wait, l.poll, func(ctx context.Context) (bool, error) {
		var (
			ok  bool
			err error
		)
		token, ok, err = l.take(ctx, path)

		return ok, err
	})
	if err != nil {
		return nil, err
	}

	return &fileLock{locker: l, path: path, token: token}, nil
}

// take creates the artifact, breaking a stale one first when allowed.
func (l *FileLocker) take(ctx context.Context, path string) (string, bool, error) {
	token, ok, err := l.create(path)
	if ok || err != nil {
		return token, ok, err
	}
	broken, err := l.breakStale(ctx, path)
	if !broken || err != nil {
		return "", false, err
	}

	return l.create(path)
}

func (l *FileLocker) create(path string) (string, bool, error) {
	token, err := newToken()
	if err != nil {
		return "", false, err
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, fileLockPerm)
	if errors.Is(err, fs.ErrExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("mailer lock: create %s: %w", path, err)
	}

	host, _ := os.Hostname()
	_, writeErr := f.WriteString(strconv.Itoa(os.Getpid()) + "\n" + host + "\n" + token + "\n")
	closeErr := f.Close()
	if err := errors.Join(writeErr, closeErr); err != nil {
		_ = os.Remove(path)

		return "", false, fmt.Errorf("mailer lock: write %s: %w", path, err)
	}

	return token, true, nil
}

// breakStale removes an expired artifact under the guard and reports whether
// the path is free for another exclusive create. A busy guard means another
// process is breaking or releasing the lock right now.
func (l *FileLocker) breakStale(ctx context.Context, path string) (bool, error) {
	if l.staleAfter <= 0 {
		return false, nil
	}

	var broken bool
	err := l.withGuard(ctx, path, mailer.NoWait, func() error {
		info, err := os.Stat(path)
		if errors.Is(err, fs.ErrNotExist) {
			broken = true

			return nil
		}
		if err != nil {
			return fmt.Errorf("mailer lock: stat %s: %w", path, err)
		}
		age := l.clock.Now().Sub(info.ModTime())
		if age < l.staleAfter {
			return nil
		}

		l.logger.Warn("breaking stale lock", "path", path, "age", age.String())
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("mailer lock: remove stale %s: %w", path, err)
		}
		broken = true

		return nil
	})
	if errors.Is(err, mailer.ErrLockHeld) {
		return false, nil
	}

	return broken, err
}

// withGuard runs fn while holding the guard file of path.
func (l *FileLocker) withGuard(ctx context.Context, path string, wait time.Duration, fn func() error) error {
	guard := path + guardSuffix
	err := acquireWithin(ctx, wait, l.poll, func(context.Context) (bool, error) {
		return l.createGuard(guard)
	})
	if err != nil {
		return err
	}
	defer func() {
		_ = os.Remove(guard)
	}()

	return fn()
}

func (l *FileLocker) createGuard(guard string) (bool, error) {
	f, err := os.OpenFile(guard, os.O_WRONLY|os.O_CREATE|os.O_EXCL, fileLockPerm)
	if err == nil {
		return true, f.Close()
	}
	if !errors.Is(err, fs.ErrExist) {
		return false, fmt.Errorf("mailer lock: create guard %s: %w", guard, err)
	}

	// A guard is held for a stat and a remove. One this old belongs to a
	// process that died in between.
	info, statErr := os.Stat(guard)
	if statErr == nil && time.Since(info.ModTime()) > abandonedGuardAge {
		l.logger.Warn("removing abandoned lock guard", "path", guard)
		_ = os.Remove(guard)
	}

	return false, nil
}

// readOwner returns the owner token recorded in the artifact at path.
func readOwner(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) < ownerTokenLine+1 {
		return "", nil
	}

	return lines[ownerTokenLine], nil
}

type fileLock struct {
	mu       sync.Mutex
	locker   *FileLocker
	path     string
	token    string
	released bool
}

// Release removes the artifact if it still carries this lock's token. An
// artifact taken over by another owner, after a stale break, is left alone.
func (k *fileLock) Release(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.released {
		return nil
	}

	err := k.locker.withGuard(ctx, k.path, releaseGuardWait, func() error {
		owner, err := readOwner(k.path)
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("mailer lock: read %s: %w", k.path, err)
		}
		if owner != k.token {
			k.locker.logger.Warn("lock artifact has another owner, leaving it", "path", k.path)

			return nil
		}
		if err := os.Remove(k.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("mailer lock: remove %s: %w", k.path, err)
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("mailer lock: release %s: %w", k.path, err)
	}
	k.released = true

	return nil
}

func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty", ErrInvalidName)
	}
	for _, r := range name {
		if r == '_' || r == '-' || r == '.' || r == ':' || (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			continue
		}

		return fmt.Errorf("%w: %s", ErrInvalidName, name)
	}
	if name == "." || name == ".." {
		return fmt.Errorf("%w: %s", ErrInvalidName, name)
	}

	return nil
}
