// Package health computes the composite operational-health score, manages
// the safe-mode singleton, and provides the request-blocking middleware,
// per spec section 4.7.
package health

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/nexus-retail/opsplane/incident"
	"github.com/nexus-retail/opsplane/metrics"
	"github.com/nexus-retail/opsplane/storage"
)

// Grade is the letter band a score maps to.
type Grade string

const (
	GradeA Grade = "A"
	GradeB Grade = "B"
	GradeC Grade = "C"
	GradeD Grade = "D"
	GradeF Grade = "F"
)

// autoEngageThreshold is the score below which safe mode auto-engages.
const autoEngageThreshold = 40

// Components is the six-way score breakdown.
type Components struct {
	Integrity  int `json:"integrity"`
	ErrorRate  int `json:"errorRate"`
	Latency    int `json:"latency"`
	Incidents  int `json:"incidents"`
	Backup     int `json:"backup"`
	Migrations int `json:"migrations"`
}

// Total sums the six components, already individually clamped.
func (c Components) Total() int {
	return c.Integrity + c.ErrorRate + c.Latency + c.Incidents + c.Backup + c.Migrations
}

// Inputs are the raw signals the scorer reduces into Components.
type Inputs struct {
	DriftScore      int
	ErrorRate       float64 // fraction, e.g. 0.01 = 1%
	LatencyP95Ms    float64
	OpenP1          int
	OpenP2          int
	OpenP3          int
	OpenP4          int
	LastBackupAge   time.Duration
	HasPassedBackup bool
	MigrationsErr   bool
	PendingMigrations int
}

// Score reduces Inputs into the six weighted components.
func Score(in Inputs) Components {
	return Components{
		Integrity:  scoreIntegrity(in.DriftScore),
		ErrorRate:  scoreErrorRate(in.ErrorRate),
		Latency:    scoreLatency(in.LatencyP95Ms),
		Incidents:  scoreIncidents(in.OpenP1, in.OpenP2, in.OpenP3, in.OpenP4),
		Backup:     scoreBackup(in.HasPassedBackup, in.LastBackupAge),
		Migrations: scoreMigrations(in.MigrationsErr, in.PendingMigrations),
	}
}

func scoreIntegrity(driftScore int) int {
	return int(math.Round(float64(driftScore) / 100 * 30))
}

func scoreErrorRate(rate float64) int {
	switch {
	case rate == 0:
		return 20
	case rate < 0.005:
		return 18
	case rate < 0.01:
		return 15
	case rate < 0.03:
		return 10
	case rate < 0.05:
		return 5
	default:
		return 0
	}
}

func scoreLatency(p95Ms float64) int {
	switch {
	case p95Ms == 0 || p95Ms < 100:
		return 15
	case p95Ms < 200:
		return 12
	case p95Ms < 500:
		return 8
	case p95Ms < 1000:
		return 4
	default:
		return 0
	}
}

func scoreIncidents(p1, p2, p3, p4 int) int {
	score := 20 - 10*p1 - 5*p2 - 2*p3 - 1*p4
	if score < 0 {
		return 0
	}
	return score
}

func scoreBackup(hasPassed bool, age time.Duration) int {
	if !hasPassed {
		return 0
	}
	switch {
	case age < 12*time.Hour:
		return 10
	case age < 24*time.Hour:
		return 7
	case age < 48*time.Hour:
		return 3
	default:
		return 0
	}
}

func scoreMigrations(queryFailed bool, pending int) int {
	if queryFailed {
		return 3
	}
	if pending == 0 {
		return 5
	}
	return 0
}

// GradeFor maps a total score to its letter band.
func GradeFor(total int) Grade {
	switch {
	case total >= 90:
		return GradeA
	case total >= 75:
		return GradeB
	case total >= 60:
		return GradeC
	case total >= 40:
		return GradeD
	default:
		return GradeF
	}
}

// Scorer computes, persists, and reacts to the composite health score.
type Scorer struct {
	repo     *storage.HealthRepo
	safeMode *SafeMode
	alert    incident.Alerter
	reg      *metrics.Registry
	now      func() time.Time
}

// NewScorer wires the health scorer's collaborators.
func NewScorer(repo *storage.HealthRepo, safeMode *SafeMode, alert incident.Alerter, reg *metrics.Registry) *Scorer {
	return &Scorer{repo: repo, safeMode: safeMode, alert: alert, reg: reg, now: time.Now}
}

// Result is one computed health evaluation.
type Result struct {
	Components Components
	Total      int
	Grade      Grade
}

// Compute scores in, persists the sample, emits gauges, and auto-engages
// safe mode when the grade is F.
func (s *Scorer) Compute(ctx context.Context, in Inputs) (Result, error) {
	components := Score(in)
	total := components.Total()
	grade := GradeFor(total)

	s.reg.Set("health.score", float64(total))

	safeModeOn, err := s.safeMode.Enabled(ctx)
	if err != nil {
		return Result{}, err
	}

	if err := s.repo.InsertScore(ctx, &storage.HealthScore{
		ID: uuid.New().String(), Score: total, SafeMode: safeModeOn, RecordedAt: s.now(),
		Components: storage.JSONMap{
			"integrity": components.Integrity, "errorRate": components.ErrorRate,
			"latency": components.Latency, "incidents": components.Incidents,
			"backup": components.Backup, "migrations": components.Migrations,
		},
	}); err != nil {
		return Result{}, err
	}

	if grade == GradeF && !safeModeOn {
		if err := s.safeMode.Enable(ctx, "Health score F — auto-engaged", "system"); err != nil {
			return Result{}, err
		}
	} else if total >= autoEngageThreshold && total < 50 {
		s.alert.Alert(ctx, "CRITICAL", "Health score in critical band", "score below 50 but safe mode not auto-engaged",
			map[string]interface{}{"score": total, "grade": string(grade)})
	}

	return Result{Components: components, Total: total, Grade: grade}, nil
}
