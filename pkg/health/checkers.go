package health

import (
	"context"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/go-faster/errors"
)

// GoroutineCountCheck fails when the process runs more than threshold
// goroutines, which usually means a leak.
func GoroutineCountCheck(threshold int) CheckFunc {
	return func(context.Context) error {
		if n := runtime.NumGoroutine(); n > threshold {
			return errors.Errorf("goroutine count %d exceeds threshold %d", n, threshold)
		}
		return nil
	}
}

// recentPauses is how many of the latest GC pauses GCMaxPauseCheck looks at.
const recentPauses = 16

// GCMaxPauseCheck fails when one of the recent stop-the-world pauses
// exceeded threshold.
func GCMaxPauseCheck(threshold time.Duration) CheckFunc {
	return func(context.Context) error {
		var stats debug.GCStats
		debug.ReadGCStats(&stats)
		// Pause is ordered most recent first.
		pauses := stats.Pause
		if len(pauses) > recentPauses {
			pauses = pauses[:recentPauses]
		}
		for _, p := range pauses {
			if p > threshold {
				return errors.Errorf("GC pause %s exceeds threshold %s", p, threshold)
			}
		}
		return nil
	}
}

// PingCheck adapts a Ping method to a CheckFunc.
func PingCheck(p interface{ Ping(context.Context) error }) CheckFunc {
	return func(ctx context.Context) error {
		if err := p.Ping(ctx); err != nil {
			return errors.Wrap(err, "ping")
		}
		return nil
	}
}
