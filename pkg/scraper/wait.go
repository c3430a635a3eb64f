package scraper

import (
	"context"
	"errors"
	"time"
)

// ErrWaitTimeout is returned by WaitFor when the condition never held.
var ErrWaitTimeout = errors.New("condition not met before timeout")

// WaitFor polls cond every interval until it reports true, the timeout
// elapses, or ctx is cancelled. The condition is checked once immediately.
// A condition error aborts the wait and is returned as-is.
func WaitFor(ctx context.Context, timeout, interval time.Duration, cond func() (bool, error)) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		ok, err := cond()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return ErrWaitTimeout
		case <-ticker.C:
		}
	}
}
