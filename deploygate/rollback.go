package deploygate

import (
	"context"
	"sync"
	"time"

	"github.com/nexus-retail/opsplane/incident"
	"github.com/nexus-retail/opsplane/infrastructure/logging"
	"github.com/nexus-retail/opsplane/metrics"
	"github.com/nexus-retail/opsplane/perf"
	"github.com/nexus-retail/opsplane/storage"
)

const (
	rollbackPollInterval = 30 * time.Second
	rollbackSpikeWindow  = 60 * time.Second

	// spikeErrorRateFloor and spikeLatencyFloorMs are epsilon floors
	// applied alongside 2x baseline: a spike requires exceeding
	// max(2*baseline, floor), so a near-zero baseline doesn't make
	// "anything above zero" count as a spike.
	spikeErrorRateFloor = 0.005
	spikeLatencyFloorMs = 500.0
)

// Watcher monitors error rate and per-endpoint p95 latency after a deploy
// and invokes a caller-supplied rollback once a sustained spike is
// detected, per spec section 4.8.
type Watcher struct {
	latency   *perf.LatencyTracker
	reg       *metrics.Registry
	incidents *incident.Manager
	alert     incident.Alerter
	logger    *logging.Logger
	now       func() time.Time

	mu             sync.Mutex
	baselineErr    float64
	baselineP95    map[string]float64
	spikeStartedAt time.Time
	spiking        bool
}

// NewWatcher constructs a watcher. Start captures the baseline; call it
// immediately after a successful deploy.
func NewWatcher(latency *perf.LatencyTracker, reg *metrics.Registry, incidents *incident.Manager,
	alert incident.Alerter, logger *logging.Logger) *Watcher {
	return &Watcher{
		latency: latency, reg: reg, incidents: incidents, alert: alert, logger: logger, now: time.Now,
		baselineP95: make(map[string]float64),
	}
}

// Start captures the current error rate and per-endpoint p95 as the
// baseline, then polls every 30s until ctx is canceled or a sustained
// spike triggers rollback, whichever comes first. rollback is invoked at
// most once.
func (w *Watcher) Start(ctx context.Context, rollback func() error) {
	w.mu.Lock()
	w.baselineErr = w.reg.Gauge(errorRateMetric)
	for _, ep := range w.latency.Endpoints() {
		w.baselineP95[ep] = w.latency.P95(ep)
	}
	w.mu.Unlock()

	ticker := time.NewTicker(rollbackPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if w.tick(ctx, rollback) {
				return
			}
		}
	}
}

// tick runs one evaluation cycle and reports whether the watcher has
// triggered (and should stop polling).
func (w *Watcher) tick(ctx context.Context, rollback func() error) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	spiking, detail := w.evaluateLocked()
	now := w.now()

	if !spiking {
		w.spiking = false
		w.spikeStartedAt = time.Time{}
		return false
	}

	if !w.spiking {
		w.spiking = true
		w.spikeStartedAt = now
		return false
	}

	if now.Sub(w.spikeStartedAt) < rollbackSpikeWindow {
		return false
	}

	w.alert.Alert(ctx, "CRITICAL", "auto-rollback triggered", detail, map[string]interface{}{
		"baselineErrorRate": w.baselineErr, "baselineP95": w.baselineP95,
	})
	if _, err := w.incidents.CreateIncident(ctx, incident.CreateParams{
		Priority: storage.PriorityP1, Title: "auto-rollback triggered",
		Details: storage.JSONMap{"detail": detail},
	}); err != nil {
		w.logger.Error(ctx, "failed to open incident for auto-rollback", err, nil)
	}
	if err := rollback(); err != nil {
		w.logger.Error(ctx, "rollback function failed", err, nil)
	}
	return true
}

// evaluateLocked reports whether current conditions constitute a spike.
// Caller must hold w.mu.
func (w *Watcher) evaluateLocked() (bool, string) {
	currentErr := w.reg.Gauge(errorRateMetric)
	if currentErr > maxFloat(w.baselineErr*2, spikeErrorRateFloor) {
		return true, "error rate spike"
	}

	for ep, baseline := range w.baselineP95 {
		current := w.latency.P95(ep)
		if current > maxFloat(baseline*2, spikeLatencyFloorMs) {
			return true, "latency spike on " + ep
		}
	}
	return false, ""
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
