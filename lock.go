package mailer

import (
	"context"
	"time"
)

// Locker provides named, process-external mutual exclusion.
type Locker interface {
	// Acquire takes the named lock.
	//
	// wait < 0 fails immediately with ErrLockHeld when the lock is held,
	// wait == 0 waits until the lock is free or ctx is done,
	// wait > 0 fails with ErrLockTimeout once the bound elapses.
	Acquire(ctx context.Context, name string, wait time.Duration) (Lock, error)
}

// Lock is an acquired lock handle.
type Lock interface {
	// Release gives the lock up. Calling it more than once is a no-op.
	Release(ctx context.Context) error
}
