package perf

import (
	"testing"
	"time"
)

func TestMemoryTrackerTrendBelowTwoSamplesIsZero(t *testing.T) {
	m := NewMemoryTracker()
	slope, growing := m.Trend()
	if slope != 0 || growing {
		t.Errorf("Trend() = (%v, %v), want (0, false)", slope, growing)
	}
}

func TestMemoryTrackerTrendDetectsGrowth(t *testing.T) {
	m := NewMemoryTracker()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	// 10 MB/min growth over 5 synthetic samples, one per minute.
	for i := 0; i < 5; i++ {
		m.samples = append(m.samples, memorySample{at: base.Add(time.Duration(i) * time.Minute), mb: float64(100 + i*10)})
	}
	slope, growing := m.Trend()
	if slope < 9 || slope > 11 {
		t.Errorf("Trend() slope = %v, want ~10", slope)
	}
	if !growing {
		t.Error("Trend() growing = false, want true")
	}
}

func TestMemoryTrackerTrendFlatIsNotGrowing(t *testing.T) {
	m := NewMemoryTracker()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		m.samples = append(m.samples, memorySample{at: base.Add(time.Duration(i) * time.Minute), mb: 100})
	}
	slope, growing := m.Trend()
	if slope != 0 {
		t.Errorf("Trend() slope = %v, want 0", slope)
	}
	if growing {
		t.Error("Trend() growing = true, want false")
	}
}
