package utils

import (
	"context"
	"time"
)

// ContextSleep waits for d or until ctx is done, nil means the context won
func ContextSleep(ctx context.Context, d time.Duration) *time.Time {
	if d <= 0 {
		if ctx.Err() != nil {
			return nil
		}
		t := time.Now()
		return &t
	}
	timer := time.NewTimer(d)
	select {
	case <-ctx.Done():
		timer.Stop()
		return nil
	case t := <-timer.C:
		return &t
	}
}
