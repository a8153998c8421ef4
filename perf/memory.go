package perf

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
)

const (
	memorySampleInterval = 60 * time.Second
	memoryTrendSamples   = 60
	memoryGrowingSlopeMBPerMin = 5.0
)

type memorySample struct {
	at time.Time
	mb float64
}

// MemoryTracker samples process heap usage every 60s, retains the last 60
// samples, and reports the least-squares growth slope in MB/minute. It
// also records host-level memory pressure (via gopsutil) alongside each
// sample as supporting context for the trend, without feeding the slope.
type MemoryTracker struct {
	mu           sync.Mutex
	samples      []memorySample
	hostUsedPct  float64
	now          func() time.Time
}

// NewMemoryTracker constructs an empty tracker.
func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{now: time.Now}
}

// Sample records one heap-MB reading and the current host memory
// utilization percentage, dropping the oldest sample once 60 are held.
func (m *MemoryTracker) Sample(ctx context.Context) {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	heapMB := float64(stats.HeapAlloc) / (1024 * 1024)

	hostPct := 0.0
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		hostPct = vm.UsedPercent
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.hostUsedPct = hostPct
	m.samples = append(m.samples, memorySample{at: m.now(), mb: heapMB})
	if len(m.samples) > memoryTrendSamples {
		m.samples = m.samples[len(m.samples)-memoryTrendSamples:]
	}
}

// HostUsedPercent returns the most recently observed host memory
// utilization percentage.
func (m *MemoryTracker) HostUsedPercent() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hostUsedPct
}

// Trend computes the least-squares slope over (timestamp, heap-MB) in
// MB-per-minute, and reports whether it crosses the growing threshold.
// Fewer than two samples yields a zero, non-growing trend.
func (m *MemoryTracker) Trend() (slopeMBPerMin float64, growing bool) {
	m.mu.Lock()
	samples := make([]memorySample, len(m.samples))
	copy(samples, m.samples)
	m.mu.Unlock()

	if len(samples) < 2 {
		return 0, false
	}

	t0 := samples[0].at
	var sumX, sumY, sumXY, sumXX float64
	n := float64(len(samples))
	for _, s := range samples {
		x := s.at.Sub(t0).Minutes()
		y := s.mb
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}

	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0, false
	}
	slope := (n*sumXY - sumX*sumY) / denom
	return slope, slope > memoryGrowingSlopeMBPerMin
}
