package service

import (
	"context"
	"errors"
	"time"
)

// errSettled stops a run whose record was moved to a terminal state by
// someone else, typically the reaper.
var errSettled = errors.New("settled elsewhere")

// watchRun calls check every interval and stops the run with the cause check
// returns. A nil cause keeps the run going.
func watchRun(ctx context.Context, stop context.CancelCauseFunc, interval time.Duration, check func(context.Context) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if cause := check(ctx); cause != nil {
				stop(cause)
				return
			}
		}
	}
}

// stoppedExternally reports whether runCtx ended because the record changed
// under it rather than because the engine failed.
func stoppedExternally(runCtx context.Context) bool {
	cause := context.Cause(runCtx)
	return errors.Is(cause, ErrBackupCancelled) || errors.Is(cause, errSettled)
}

// withTimeout is context.WithTimeout that treats a zero duration as no bound.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}
