// Package ltm is the long-term memory collaborator: recall beyond the
// capsule's bounded corpus. Two implementations exist, an HTTP client
// for a remote recall service and a SQLite-backed local store. Both
// are best-effort: callers degrade to capsule-only grounding when an
// LTM query fails.
package ltm

import (
	"context"
	"errors"
	"time"

	"mnemos/internal/types"
)

// ErrUnavailable marks an LTM backend that could not be reached after
// all retries. Callers treat it as "no long-term hits", never as fatal.
var ErrUnavailable = errors.New("ltm: service unavailable")

// Service answers long-term recall queries.
type Service interface {
	Query(ctx context.Context, personaID, text string, limit int) ([]types.MemoryHit, error)
}

// BackoffPolicy controls retry pacing for flaky backends.
type BackoffPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultBackoff retries three times with exponential pacing.
func DefaultBackoff() BackoffPolicy {
	return BackoffPolicy{
		MaxAttempts: 3,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    2 * time.Second,
	}
}

// Delay returns how long to wait before the given attempt (1-based).
// The first attempt has no delay; later attempts double the base,
// capped at MaxDelay.
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	d := p.BaseDelay
	for i := 2; i < attempt; i++ {
		d *= 2
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// sleep waits for d or until the context ends.
func sleep(ctx context.Context, d time.Duration) error {
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
