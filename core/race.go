package orchestration

import (
	"context"
	"fmt"
	"time"
)

// callWithTimeout runs call on its own goroutine and returns whichever comes
// first: the call result, the timeout (ErrTimeout) or ctx cancellation.
//
// Once a decision is made the call's context is cancelled and the abandoned
// result is dropped into a buffered channel nobody reads, so a late settle
// can never be observed by the caller. A non-positive timeout disables the
// timer.
func callWithTimeout(ctx context.Context, timeout time.Duration, call func(context.Context) error) error {
	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	result := make(chan error, 1)
	go func() {
		defer func() {
			if recovered := recover(); recovered != nil {
				result <- fmt.Errorf("call panicked: %v", recovered)
			}
		}()
		result <- call(callCtx)
	}()

	var timedOut <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timedOut = timer.C
	}

	select {
	case err := <-result:
		return err
	case <-timedOut:
		return ErrTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}
