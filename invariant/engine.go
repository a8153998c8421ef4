package invariant

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nexus-retail/opsplane/incident"
	"github.com/nexus-retail/opsplane/infrastructure/logging"
	"github.com/nexus-retail/opsplane/metrics"
	"github.com/nexus-retail/opsplane/storage"
)

// maxViolationsPerCycle bounds how many violation rows one engine cycle
// persists, per spec 4.4.
const maxViolationsPerCycle = 100

// Result is the outcome of running one check in one cycle.
type Result struct {
	Name           string
	Passed         bool
	DriftScore     int
	Violations     []ViolationRecord
	AutoCorrected  bool
	Err            error
}

// Engine runs the catalogue, computes the composite drift score, persists
// results, and reconciles each check's outcome with the incident manager.
type Engine struct {
	checks    []Check
	invariant *storage.InvariantRepo
	incidents *incident.Manager
	logger    *logging.Logger
	reg       *metrics.Registry
	now       func() time.Time
}

// NewEngine constructs the invariant engine over the fixed catalogue.
func NewEngine(biz *storage.BusinessRepo, invariant *storage.InvariantRepo, incidents *incident.Manager, logger *logging.Logger, reg *metrics.Registry) *Engine {
	return &Engine{
		checks:    Catalogue(biz),
		invariant: invariant,
		incidents: incidents,
		logger:    logger,
		reg:       reg,
		now:       time.Now,
	}
}

// RunCycle executes every registered check in order, auto-corrects where
// safe, persists a capped batch of violations plus one drift-score sample,
// and reconciles each result with the incident manager. It returns the
// per-check results for callers (e.g. the executive report) that need the
// raw detail.
func (e *Engine) RunCycle(ctx context.Context) ([]Result, int, error) {
	results := make([]Result, 0, len(e.checks))
	failedCounts := make(map[string]int)
	components := storage.JSONMap{}
	var toPersist []storage.InvariantViolation

	for _, check := range e.checks {
		violations, err := check.Run(ctx)
		if err != nil {
			e.logger.WithError(err).Error("invariant check failed: " + check.Name)
			results = append(results, Result{Name: check.Name, Passed: false, Err: err})
			failedCounts[check.Name] = 1
			components[check.Name] = "error"
			e.reg.Increment("invariant.check_errors_total")
			continue
		}

		passed := len(violations) == 0
		autoCorrected := false
		if !passed && check.SafeToAutoCorrect && check.AutoCorrect != nil {
			if err := check.AutoCorrect(ctx, violations); err != nil {
				e.logger.WithError(err).Error("auto-correct failed: " + check.Name)
			} else {
				autoCorrected = true
			}
		}

		results = append(results, Result{
			Name: check.Name, Passed: passed, Violations: violations, AutoCorrected: autoCorrected,
		})

		if passed {
			components[check.Name] = "ok"
			continue
		}

		failedCounts[check.Name] = len(violations)
		components[check.Name] = len(violations)
		e.reg.Set("invariant."+check.Name+".violation_count", float64(len(violations)))

		now := e.now()
		for _, v := range violations {
			if len(toPersist) >= maxViolationsPerCycle {
				break
			}
			var shopID *string
			if v.ShopID != "" {
				sid := v.ShopID
				shopID = &sid
			}
			toPersist = append(toPersist, storage.InvariantViolation{
				ID:            uuid.New().String(),
				InvariantName: check.Name,
				ShopID:        shopID,
				EntityID:      v.EntityID,
				EntityType:    v.EntityType,
				Details:       storage.JSONMap(v.Detail),
				AutoCorrected: autoCorrected,
				CreatedAt:     now,
			})
		}

		if err := e.incidents.CreateOrUpdateFromInvariant(ctx, incident.InvariantResult{
			Name: check.Name, Passed: false, AutoCorrected: autoCorrected,
			ViolationCount: len(violations), Priority: check.Priority,
		}); err != nil {
			e.logger.WithError(err).Error("incident reconciliation failed: " + check.Name)
		}
	}

	// Resolve any incident for a check that passed this cycle after having
	// been auto-corrected previously but not yet cleared.
	for _, check := range e.checks {
		if _, failed := failedCounts[check.Name]; failed {
			continue
		}
		if err := e.incidents.CreateOrUpdateFromInvariant(ctx, incident.InvariantResult{
			Name: check.Name, Passed: true, AutoCorrected: true, Priority: check.Priority,
		}); err != nil {
			e.logger.WithError(err).Error("incident reconciliation failed: " + check.Name)
		}
	}

	if err := e.invariant.InsertViolations(ctx, toPersist); err != nil {
		return results, 0, err
	}

	score := computeDriftScore(failedCounts)
	e.reg.Set("invariant.drift_score", float64(score))
	if err := e.invariant.InsertDriftScore(ctx, &storage.DriftScore{
		ID: uuid.New().String(), Score: score, Components: components, CreatedAt: e.now(),
	}); err != nil {
		return results, score, err
	}

	return results, score, nil
}
