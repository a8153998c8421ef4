package selfheal

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/nexus-retail/opsplane/infrastructure/resilience"
	"github.com/nexus-retail/opsplane/metrics"
)

// networkMaxAttempts, per spec 4.2: up to 4 attempts total.
const networkMaxAttempts = 4

const (
	networkBackoffBase = 200 * time.Millisecond
	networkBackoffCap  = 5 * time.Second
)

// IsTransportFailure reports whether err's message indicates a
// transport-level failure (connection refused, timeout, reset).
func IsTransportFailure(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"connection refused", "timeout", "connection reset", "i/o timeout", "broken pipe"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// WithNetworkRetry retries fn over a circuit breaker up to 4 times on
// transport failures, with exponential backoff base 200ms capped at 5s.
// A circuit-open error is treated as non-retryable and returned immediately.
func WithNetworkRetry(ctx context.Context, reg *metrics.Registry, breaker *Breaker, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= networkMaxAttempts; attempt++ {
		lastErr = breaker.Execute(ctx, fn)
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, resilience.ErrCircuitOpen) {
			return lastErr
		}
		if !IsTransportFailure(lastErr) {
			return lastErr
		}
		if attempt == networkMaxAttempts {
			break
		}
		reg.Increment("network.retry.count")
		delay := networkBackoff(attempt)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	reg.Increment("network.retry.exhausted_total")
	return lastErr
}

func networkBackoff(attempt int) time.Duration {
	d := time.Duration(float64(networkBackoffBase) * math.Pow(2, float64(attempt-1)))
	if d > networkBackoffCap {
		return networkBackoffCap
	}
	return d
}
