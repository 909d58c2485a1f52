package netutil

import (
	"context"
	"time"
)

// Backoff grows the wait linearly with the attempt number, up to Max.
type Backoff struct {
	Step time.Duration
	Max  time.Duration
}

// Delay returns the wait before retry number attempt (1-based).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 || b.Step <= 0 {
		return 0
	}
	d := b.Step * time.Duration(attempt)
	if b.Max > 0 && d > b.Max {
		return b.Max
	}
	return d
}

// Wait blocks for d or until ctx is done, whichever comes first.
func Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
