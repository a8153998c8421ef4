// Package metrics is the control plane's in-process telemetry registry:
// thread-safe gauges, counters, and bounded histograms with percentile
// queries, plus declarative thresholds that emit breach events on an
// explicit observer set. Every control-plane component reads and writes
// this one registry (circuit_breaker.*.state, db.deadlock_retry.count,
// http.error_rate, ...); it also backs the Prometheus exposition served
// at /metrics via a dedicated prometheus.Registry, kept separate from
// prometheus.DefaultRegisterer so tests never collide on global state.
package metrics

import (
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const ringCapacity = 2000

// Registry is a thread-safe metrics store with declarative thresholds.
type Registry struct {
	mu         sync.Mutex
	gauges     map[string]float64
	counters   map[string]float64
	histograms map[string]*ring

	thresholds   []Threshold
	lastBreachAt map[string]time.Time
	observers    []func(BreachEvent)

	promOnce    sync.Once
	promHandler http.Handler
}

type ring struct {
	samples []float64
	next    int
	full    bool
}

func newRing() *ring {
	return &ring{samples: make([]float64, ringCapacity)}
}

func (r *ring) add(v float64) {
	r.samples[r.next] = v
	r.next = (r.next + 1) % ringCapacity
	if r.next == 0 {
		r.full = true
	}
}

func (r *ring) snapshot() []float64 {
	if !r.full {
		out := make([]float64, r.next)
		copy(out, r.samples[:r.next])
		return out
	}
	out := make([]float64, ringCapacity)
	copy(out, r.samples[r.next:])
	copy(out[ringCapacity-r.next:], r.samples[:r.next])
	return out
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		gauges:       make(map[string]float64),
		counters:     make(map[string]float64),
		histograms:   make(map[string]*ring),
		lastBreachAt: make(map[string]time.Time),
	}
}

// Set writes a gauge value and evaluates thresholds bound to name.
func (r *Registry) Set(name string, value float64) {
	r.mu.Lock()
	r.gauges[name] = value
	r.mu.Unlock()
	r.evaluateThresholds(name, value)
}

// Gauge returns the current value of a gauge, or 0 if absent.
func (r *Registry) Gauge(name string) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gauges[name]
}

// Increment adds by (default 1 via IncrementBy(name, 1)) to a counter and
// returns its new value.
func (r *Registry) Increment(name string) float64 {
	return r.IncrementBy(name, 1)
}

// IncrementBy adds an arbitrary delta to a counter and returns its new value.
func (r *Registry) IncrementBy(name string, by float64) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters[name] += by
	return r.counters[name]
}

// Counter returns the current value of a counter, or 0 if absent.
func (r *Registry) Counter(name string) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counters[name]
}

// Record appends a histogram sample, dropping the oldest once the bounded
// ring of 2000 samples is full.
func (r *Registry) Record(name string, value float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.histograms[name]
	if !ok {
		h = newRing()
		r.histograms[name] = h
	}
	h.add(value)
}

// Percentile computes the q-th percentile (0-100) over the most recent
// samples recorded for name. Returns 0 for an empty or absent histogram.
func (r *Registry) Percentile(name string, q float64) float64 {
	r.mu.Lock()
	h, ok := r.histograms[name]
	var samples []float64
	if ok {
		samples = h.snapshot()
	}
	r.mu.Unlock()

	if len(samples) == 0 {
		return 0
	}
	sort.Float64s(samples)
	if q <= 0 {
		return samples[0]
	}
	if q >= 100 {
		return samples[len(samples)-1]
	}
	idx := int(q / 100 * float64(len(samples)-1))
	return samples[idx]
}

// Reset clears the bounded sample ring for name, discarding prior history.
// Used by components (e.g. the latency tracker) that roll a window
// periodically rather than retain all-time samples.
func (r *Registry) Reset(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.histograms, name)
}

// SampleCount returns the number of samples currently retained for name.
func (r *Registry) SampleCount(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.histograms[name]
	if !ok {
		return 0
	}
	if h.full {
		return ringCapacity
	}
	return h.next
}

// Snapshot is a point-in-time JSON-friendly dump of the whole registry.
type Snapshot struct {
	Gauges     map[string]float64            `json:"gauges"`
	Counters   map[string]float64            `json:"counters"`
	Histograms map[string]HistogramSnapshot  `json:"histograms"`
}

// HistogramSnapshot carries the standard percentile trio for one histogram.
type HistogramSnapshot struct {
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

// Snapshot returns every gauge, counter, and histogram p50/p95/p99.
func (r *Registry) Snapshot() Snapshot {
	r.mu.Lock()
	gauges := make(map[string]float64, len(r.gauges))
	for k, v := range r.gauges {
		gauges[k] = v
	}
	counters := make(map[string]float64, len(r.counters))
	for k, v := range r.counters {
		counters[k] = v
	}
	names := make([]string, 0, len(r.histograms))
	for k := range r.histograms {
		names = append(names, k)
	}
	r.mu.Unlock()

	histograms := make(map[string]HistogramSnapshot, len(names))
	for _, name := range names {
		histograms[name] = HistogramSnapshot{
			P50: r.Percentile(name, 50),
			P95: r.Percentile(name, 95),
			P99: r.Percentile(name, 99),
		}
	}

	return Snapshot{Gauges: gauges, Counters: counters, Histograms: histograms}
}

// Describe satisfies prometheus.Collector. Every metric here is dynamic
// (names come from call sites at runtime), so no fixed descriptor set is
// advertised; Collect still emits normally under the lax collection mode
// this implies.
func (r *Registry) Describe(ch chan<- *prometheus.Desc) {}

// Collect satisfies prometheus.Collector, translating the current
// snapshot into Prometheus gauge/counter/summary metric families: gauges
// as-is, counters with a `_total` suffix, and histograms as a summary
// with the same 0.5/0.95/0.99 quantiles the JSON snapshot exposes.
func (r *Registry) Collect(ch chan<- prometheus.Metric) {
	snap := r.Snapshot()

	for _, name := range sortedKeys(snap.Gauges) {
		metric := sanitizeMetricName(name)
		desc := prometheus.NewDesc(metric, name, nil, nil)
		ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, snap.Gauges[name])
	}

	for _, name := range sortedKeys(snap.Counters) {
		metric := sanitizeMetricName(name) + "_total"
		desc := prometheus.NewDesc(metric, name, nil, nil)
		ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, snap.Counters[name])
	}

	histNames := make([]string, 0, len(snap.Histograms))
	for name := range snap.Histograms {
		histNames = append(histNames, name)
	}
	sort.Strings(histNames)
	for _, name := range histNames {
		metric := sanitizeMetricName(name)
		h := snap.Histograms[name]
		desc := prometheus.NewDesc(metric, name, nil, nil)
		quantiles := map[float64]float64{0.5: h.P50, 0.95: h.P95, 0.99: h.P99}
		ch <- prometheus.MustNewConstSummary(desc, uint64(r.SampleCount(name)), 0, quantiles)
	}
}

// PrometheusHandler returns an http.Handler serving this registry's
// current state in Prometheus exposition format, via promhttp against a
// dedicated prometheus.Registry built on first use (never
// prometheus.DefaultRegisterer, so concurrent test processes don't
// collide on global collector state).
func (r *Registry) PrometheusHandler() http.Handler {
	r.promOnce.Do(func() {
		promReg := prometheus.NewRegistry()
		promReg.MustRegister(r)
		r.promHandler = promhttp.HandlerFor(promReg, promhttp.HandlerOpts{})
	})
	return r.promHandler
}

func sortedKeys(m map[string]float64) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sanitizeMetricName(name string) string {
	return strings.NewReplacer(".", "_", "-", "_").Replace(name)
}
