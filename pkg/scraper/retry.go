package scraper

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrClickObstructed is returned when a click stayed intercepted by an
// overlaying element through every retry attempt.
var ErrClickObstructed = errors.New("click intercepted by overlaying element")

// clickWithRetry clicks selector in the active window, retrying with
// doubling backoff while the click is intercepted by portal overlays.
// Any other click failure is returned immediately.
func (s *Scraper) clickWithRetry(ctx context.Context, selector string) error {
	backoff := s.clickBackoff

	for attempt := 1; attempt <= s.maxClickAttempts; attempt++ {
		err := s.driver.Click(selector, s.clickTimeoutMs)
		if err == nil {
			return nil
		}
		if !isInterceptedClick(err) {
			return err
		}

		s.log.Debugf("click on %s intercepted (attempt %d/%d), retrying in %s",
			selector, attempt, s.maxClickAttempts, backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	return fmt.Errorf("%w: %s after %d attempts", ErrClickObstructed, selector, s.maxClickAttempts)
}

// isInterceptedClick recognizes the driver errors raised when another
// element sits on top of the click target.
func isInterceptedClick(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "intercepts pointer events") ||
		strings.Contains(msg, "element click intercepted")
}
