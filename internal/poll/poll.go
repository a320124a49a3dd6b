// Package poll provides the wait-until primitive used for page-load and
// download completion checks.
package poll

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrTimeout is returned when the condition is still false at the deadline.
var ErrTimeout = errors.New("poll: condition not met before timeout")

// Condition reports whether the awaited state was reached. A non-nil error
// stops polling immediately.
type Condition func(ctx context.Context) (bool, error)

// Until checks cond right away and then every interval until it holds, it
// errors, the timeout elapses or ctx ends. A zero timeout waits on ctx only.
func Until(ctx context.Context, interval, timeout time.Duration, cond Condition) error {
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		done, err := cond(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		select {
		case <-ticker.C:
		case <-deadline:
			return fmt.Errorf("%w (%s)", ErrTimeout, timeout)
		case <-ctx.Done():
			return fmt.Errorf("poll canceled: %w", ctx.Err())
		}
	}
}
