package orchestration

import (
	"context"
	"fmt"
)

func withContextCancelHook(ctx context.Context, onContextDone func()) chan struct{} {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			onContextDone()
		case <-done:
		}
	}()
	return done
}

type workerRun func(context.Context) error

func panicSafeNamedWorker(name string, run func(context.Context) error) workerRun {
	return func(ctx context.Context) (err error) {
		defer func() {
			if recovered := recover(); recovered != nil {
				err = fmt.Errorf("%s worker panicked: %v", name, recovered)
			}
		}()

		if err = run(ctx); err != nil {
			return fmt.Errorf("%s worker failed: %w", name, err)
		}

		return nil
	}
}

// safeCall runs a consumer callback, containing any panic.
func safeCall(name string, callback func()) {
	defer func() {
		if recovered := recover(); recovered != nil {
			logger.Error(fmt.Sprintf("%s callback panicked", name), "panic", recovered)
		}
	}()
	callback()
}
