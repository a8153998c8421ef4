package perf

import (
	"context"

	"github.com/nexus-retail/opsplane/incident"
	"github.com/nexus-retail/opsplane/metrics"
	"github.com/nexus-retail/opsplane/storage"
)

// RiskBand is the overload-prediction severity band.
type RiskBand string

const (
	RiskLow      RiskBand = "LOW"
	RiskMedium   RiskBand = "MEDIUM"
	RiskHigh     RiskBand = "HIGH"
	RiskCritical RiskBand = "CRITICAL"
)

// Prediction is one overload-predictor evaluation.
type Prediction struct {
	Score       int
	Band        RiskBand
	Signals     map[string]interface{}
}

// Predictor combines latency, saturation, error-rate, and memory-growth
// signals into a single 0-100 overload score, per spec section 4.6.
type Predictor struct {
	latency   *LatencyTracker
	memory    *MemoryTracker
	reg       *metrics.Registry
	incidents *incident.Manager
}

// NewPredictor wires the overload predictor's signal sources.
func NewPredictor(latency *LatencyTracker, memory *MemoryTracker, reg *metrics.Registry, incidents *incident.Manager) *Predictor {
	return &Predictor{latency: latency, memory: memory, reg: reg, incidents: incidents}
}

// Evaluate scores one endpoint's current overload risk. A CRITICAL band
// opens a P2 incident with the contributing signals attached.
func (p *Predictor) Evaluate(ctx context.Context, endpoint string) (Prediction, error) {
	score := 0
	signals := map[string]interface{}{}

	baseline := p.latency.Baseline(endpoint)
	p95 := p.latency.P95(endpoint)
	signals["p95Ms"] = p95
	signals["baselineMs"] = baseline
	if baseline > 0 {
		ratio := p95 / baseline
		switch {
		case ratio > 2:
			score += 30
		case ratio > 1.5:
			score += 15
		}
		signals["latencyRatio"] = ratio
	}

	saturationPct := p.reg.Gauge("perf.connection_saturation_pct")
	signals["saturationPct"] = saturationPct
	switch {
	case saturationPct > 85:
		score += 35
	case saturationPct > 70:
		score += 15
	}

	errorRate := p.reg.Gauge("http.error_rate")
	signals["errorRate"] = errorRate
	switch {
	case errorRate > 0.05:
		score += 30
	case errorRate > 0.01:
		score += 15
	}

	slope, growing := p.memory.Trend()
	signals["memoryGrowthMbPerMin"] = slope
	if growing {
		score += 20
	}

	if score > 100 {
		score = 100
	}

	band := bandFor(score)
	signals["band"] = string(band)
	p.reg.Set("perf.overload_score", float64(score))

	if band == RiskCritical {
		if _, err := p.incidents.CreateIncident(ctx, incident.CreateParams{
			Priority: storage.PriorityP2,
			Title:    "Overload risk CRITICAL on " + endpoint,
			Details:  storage.JSONMap(signals),
		}); err != nil {
			return Prediction{}, err
		}
	}

	return Prediction{Score: score, Band: band, Signals: signals}, nil
}

func bandFor(score int) RiskBand {
	switch {
	case score >= 70:
		return RiskCritical
	case score >= 45:
		return RiskHigh
	case score >= 20:
		return RiskMedium
	default:
		return RiskLow
	}
}
