package perf

import (
	"context"

	"github.com/nexus-retail/opsplane/metrics"
	"github.com/nexus-retail/opsplane/storage"
)

// SaturationGauge exports the database connection pool saturation
// ((active+idle)/max_connections) as a registry gauge.
type SaturationGauge struct {
	repo *storage.PerfRepo
	reg  *metrics.Registry
}

// NewSaturationGauge wraps the perf repository as a saturation exporter.
func NewSaturationGauge(repo *storage.PerfRepo, reg *metrics.Registry) *SaturationGauge {
	return &SaturationGauge{repo: repo, reg: reg}
}

// Sample reads connection saturation and publishes it as a percentage gauge.
func (g *SaturationGauge) Sample(ctx context.Context) (float64, error) {
	frac, err := g.repo.ConnectionSaturation(ctx)
	if err != nil {
		return 0, err
	}
	pct := frac * 100
	g.reg.Set("perf.connection_saturation_pct", pct)
	return pct, nil
}
