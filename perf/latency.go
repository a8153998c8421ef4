// Package perf watches request latency, database advisory signals, memory
// growth, and connection saturation, and combines them into an overload
// prediction, per spec section 4.6.
package perf

import (
	"sync"
	"time"

	"github.com/nexus-retail/opsplane/metrics"
)

// latencyResetInterval is how often each endpoint's bounded sample set is
// rolled over, so the baseline tracks recent behavior rather than
// all-time history.
const latencyResetInterval = 5 * time.Minute

// LatencyTracker records per-endpoint latency samples into the shared
// metrics registry and rolls each endpoint's window every 5 minutes.
type LatencyTracker struct {
	mu       sync.Mutex
	reg      *metrics.Registry
	lastReset map[string]time.Time
	now      func() time.Time
}

// NewLatencyTracker constructs a tracker writing into reg.
func NewLatencyTracker(reg *metrics.Registry) *LatencyTracker {
	return &LatencyTracker{reg: reg, lastReset: make(map[string]time.Time), now: time.Now}
}

func (t *LatencyTracker) metricName(endpoint string) string {
	return "perf.latency." + endpoint + ".ms"
}

// Record appends one latency sample for endpoint, in milliseconds.
func (t *LatencyTracker) Record(endpoint string, ms float64) {
	t.mu.Lock()
	last, ok := t.lastReset[endpoint]
	now := t.now()
	rolled := !ok || now.Sub(last) >= latencyResetInterval
	if rolled {
		t.lastReset[endpoint] = now
	}
	t.mu.Unlock()

	if rolled {
		t.reg.Reset(t.metricName(endpoint))
	}
	t.reg.Record(t.metricName(endpoint), ms)
}

// Baseline returns the endpoint's p50, used by the overload predictor.
func (t *LatencyTracker) Baseline(endpoint string) float64 {
	return t.reg.Percentile(t.metricName(endpoint), 50)
}

// P95 returns the endpoint's current p95 latency.
func (t *LatencyTracker) P95(endpoint string) float64 {
	return t.reg.Percentile(t.metricName(endpoint), 95)
}

// P99 returns the endpoint's current p99 latency.
func (t *LatencyTracker) P99(endpoint string) float64 {
	return t.reg.Percentile(t.metricName(endpoint), 99)
}

// SampleCount returns the number of retained samples for endpoint.
func (t *LatencyTracker) SampleCount(endpoint string) int {
	return t.reg.SampleCount(t.metricName(endpoint))
}

// Endpoints returns the names of every endpoint that has recorded at
// least one sample, in no particular order. Used by the auto-rollback
// watcher to evaluate every known endpoint's p95 against its baseline.
func (t *LatencyTracker) Endpoints() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.lastReset))
	for ep := range t.lastReset {
		out = append(out, ep)
	}
	return out
}
