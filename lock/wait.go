package lock

import (
	"context"
	"time"

	"github.com/velmie/mailer"
)

const defaultPollInterval = 100 * time.Millisecond

type tryFunc func(ctx context.Context) (bool, error)

// acquireWithin calls try until it reports success, following the
// mailer.Locker wait policy between attempts.
func acquireWithin(ctx context.Context, wait, poll time.Duration, try tryFunc) error {
	ok, err := try(ctx)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	if wait < 0 {
		return mailer.ErrLockHeld
	}
	if poll <= 0 {
		poll = defaultPollInterval
	}

	var deadline <-chan time.Time
	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		deadline = timer.C
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return mailer.ErrLockTimeout
		case <-ticker.C:
			ok, err := try(ctx)
			if err != nil {
				return err
			}
			if ok {
				return nil
			}
		}
	}
}
