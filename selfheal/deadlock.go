package selfheal

import (
	"context"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/nexus-retail/opsplane/metrics"
)

// deadlockMaxAttempts, per spec 4.2: up to 5 attempts total.
const deadlockMaxAttempts = 5

const deadlockBackoffCap = 2 * time.Second

// IsTransientStoreConflict reports whether err's message indicates a
// serialization failure, deadlock, or lock timeout — the class of error
// the data store raises that is safe to retry in place.
func IsTransientStoreConflict(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"deadlock", "serialize", "serialization failure", "lock timeout", "could not obtain lock"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// WithDeadlockRetry retries fn up to 5 times when it fails with a
// transient store conflict, backing off 50*2^(n-1) ms plus up to 50 ms of
// uniform jitter, capped at 2 s. Any other failure propagates unchanged.
// Emits db.deadlock_retry.count and db.deadlock_retry.exhausted_total.
func WithDeadlockRetry(ctx context.Context, reg *metrics.Registry, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= deadlockMaxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !IsTransientStoreConflict(lastErr) {
			return lastErr
		}
		if attempt == deadlockMaxAttempts {
			break
		}
		reg.Increment("db.deadlock_retry.count")
		delay := deadlockBackoff(attempt)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	reg.Increment("db.deadlock_retry.exhausted_total")
	return lastErr
}

func deadlockBackoff(attempt int) time.Duration {
	base := 50 * math.Pow(2, float64(attempt-1))
	jitter := rand.Float64() * 50
	d := time.Duration(base+jitter) * time.Millisecond
	if d > deadlockBackoffCap {
		return deadlockBackoffCap
	}
	return d
}
