// Package deploygate evaluates the blocking predicates that must pass
// before a release is allowed to proceed, and watches a just-completed
// deploy for error-rate or latency spikes that warrant an automatic
// rollback, per spec section 4.8.
package deploygate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nexus-retail/opsplane/incident"
	"github.com/nexus-retail/opsplane/infrastructure/errors"
	"github.com/nexus-retail/opsplane/infrastructure/logging"
	"github.com/nexus-retail/opsplane/metrics"
	"github.com/nexus-retail/opsplane/storage"
)

const (
	driftScoreMinimum   = 85
	testCoverageMinimum = 85.0
	backupFreshnessMax  = 24 * time.Hour
	errorRateMaximum    = 0.03
	errorRateMetric     = "http.error_rate"
)

// GateResult is the outcome of one blocking predicate.
type GateResult struct {
	Name     string `json:"name"`
	Passed   bool   `json:"passed"`
	Detail   string `json:"detail"`
	Blocking bool   `json:"blocking"`
}

// CoverageReporter returns the most recently reported line coverage
// percentage, typically backed by an injected shell command that parses
// a coverage report produced earlier in the pipeline.
type CoverageReporter interface {
	LineCoverage(ctx context.Context) (float64, error)
}

// GateRunner evaluates every blocking gate in parallel and persists the
// combined run.
type GateRunner struct {
	incidentCount    func(ctx context.Context) (int, error)
	alert            incident.Alerter
	invariants       *storage.InvariantRepo
	backups          *storage.BackupRepo
	store            *storage.Store
	reg              *metrics.Registry
	deploy           *storage.DeployRepo
	coverage         CoverageReporter
	skipCoverageGate bool
	logger           *logging.Logger
	now              func() time.Time
}

// NewGateRunner constructs a runner. coverage may be nil only if
// skipCoverage is true.
func NewGateRunner(incidents *incident.Manager, alert incident.Alerter, invariants *storage.InvariantRepo, backups *storage.BackupRepo,
	store *storage.Store, reg *metrics.Registry, deploy *storage.DeployRepo, coverage CoverageReporter,
	skipCoverage bool, logger *logging.Logger) *GateRunner {
	return &GateRunner{
		incidentCount: incidents.GetOpenP1Count, alert: alert, invariants: invariants, backups: backups, store: store, reg: reg,
		deploy: deploy, coverage: coverage, skipCoverageGate: skipCoverage, logger: logger, now: time.Now,
	}
}

// Run evaluates every gate, persists the combined run, and returns a
// terminal error naming every blocker if one or more blocking gates
// failed.
func (g *GateRunner) Run(ctx context.Context, triggeredBy string) ([]GateResult, error) {
	type named struct {
		name string
		fn   func(context.Context) GateResult
	}
	gates := []named{
		{"NO_OPEN_P1_INCIDENTS", g.gateNoOpenP1},
		{"DRIFT_SCORE", g.gateDriftScore},
		{"TEST_COVERAGE", g.gateTestCoverage},
		{"BACKUP_FRESHNESS", g.gateBackupFreshness},
		{"ERROR_RATE", g.gateErrorRate},
		{"MIGRATIONS_CLEAN", g.gateMigrationsClean},
	}

	results := make([]GateResult, len(gates))
	var wg sync.WaitGroup
	for i, gt := range gates {
		wg.Add(1)
		go func(i int, gt named) {
			defer wg.Done()
			results[i] = g.runGate(ctx, gt.name, gt.fn)
		}(i, gt)
	}
	wg.Wait()

	var blockers []string
	passed := true
	for _, r := range results {
		if r.Blocking && !r.Passed {
			passed = false
			blockers = append(blockers, r.Name)
		}
	}

	if err := g.persist(ctx, results, blockers, passed, triggeredBy); err != nil {
		return results, err
	}

	if !passed {
		g.alert.Alert(ctx, "CRITICAL", "deployment gate failed",
			fmt.Sprintf("blocking gates failed: %v", blockers), map[string]interface{}{"blockers": blockers})
		return results, errors.DeploymentGateFailed(blockers[0], fmt.Errorf("blocking gates failed: %v", blockers))
	}
	return results, nil
}

// runGate recovers a panicking or erroring predicate into a failed,
// blocking result rather than letting it crash the whole evaluation.
func (g *GateRunner) runGate(ctx context.Context, name string, fn func(context.Context) GateResult) (result GateResult) {
	defer func() {
		if rec := recover(); rec != nil {
			result = GateResult{Name: name, Passed: false, Blocking: true, Detail: fmt.Sprintf("panic: %v", rec)}
		}
	}()
	return fn(ctx)
}

func (g *GateRunner) gateNoOpenP1(ctx context.Context) GateResult {
	count, err := g.incidentCount(ctx)
	if err != nil {
		return GateResult{Name: "NO_OPEN_P1_INCIDENTS", Passed: false, Blocking: true, Detail: err.Error()}
	}
	return GateResult{
		Name: "NO_OPEN_P1_INCIDENTS", Passed: count == 0, Blocking: true,
		Detail: fmt.Sprintf("%d open P1 incidents", count),
	}
}

func (g *GateRunner) gateDriftScore(ctx context.Context) GateResult {
	latest, err := g.invariants.LatestDriftScore(ctx)
	if err != nil {
		return GateResult{Name: "DRIFT_SCORE", Passed: false, Blocking: true, Detail: err.Error()}
	}
	if latest == nil {
		return GateResult{Name: "DRIFT_SCORE", Passed: false, Blocking: true, Detail: "no drift score sample yet"}
	}
	return GateResult{
		Name: "DRIFT_SCORE", Passed: latest.Score >= driftScoreMinimum, Blocking: true,
		Detail: fmt.Sprintf("drift score %d (minimum %d)", latest.Score, driftScoreMinimum),
	}
}

func (g *GateRunner) gateTestCoverage(ctx context.Context) GateResult {
	if g.skipCoverageGate {
		return GateResult{Name: "TEST_COVERAGE", Passed: true, Blocking: true, Detail: "skipped by flag"}
	}
	pct, err := g.coverage.LineCoverage(ctx)
	if err != nil {
		return GateResult{Name: "TEST_COVERAGE", Passed: false, Blocking: true, Detail: err.Error()}
	}
	return GateResult{
		Name: "TEST_COVERAGE", Passed: pct >= testCoverageMinimum, Blocking: true,
		Detail: fmt.Sprintf("%.1f%% line coverage (minimum %.1f%%)", pct, testCoverageMinimum),
	}
}

func (g *GateRunner) gateBackupFreshness(ctx context.Context) GateResult {
	b, err := g.backups.LatestPassed(ctx)
	if err != nil {
		return GateResult{Name: "BACKUP_FRESHNESS", Passed: false, Blocking: true, Detail: err.Error()}
	}
	if b == nil {
		return GateResult{Name: "BACKUP_FRESHNESS", Passed: false, Blocking: true, Detail: "no passed backup validation on record"}
	}
	age := g.now().Sub(b.ValidatedAt)
	return GateResult{
		Name: "BACKUP_FRESHNESS", Passed: age < backupFreshnessMax, Blocking: true,
		Detail: fmt.Sprintf("newest passed backup is %s old (maximum %s)", age.Round(time.Minute), backupFreshnessMax),
	}
}

func (g *GateRunner) gateErrorRate(ctx context.Context) GateResult {
	rate := g.reg.Gauge(errorRateMetric)
	return GateResult{
		Name: "ERROR_RATE", Passed: rate <= errorRateMaximum, Blocking: true,
		Detail: fmt.Sprintf("%.2f%% error rate (maximum %.2f%%)", rate*100, errorRateMaximum*100),
	}
}

func (g *GateRunner) gateMigrationsClean(ctx context.Context) GateResult {
	pending, err := g.store.PendingMigrationCount(ctx)
	if err != nil {
		return GateResult{Name: "MIGRATIONS_CLEAN", Passed: false, Blocking: true, Detail: err.Error()}
	}
	return GateResult{
		Name: "MIGRATIONS_CLEAN", Passed: pending == 0, Blocking: true,
		Detail: fmt.Sprintf("%d pending migrations", pending),
	}
}

func (g *GateRunner) persist(ctx context.Context, results []GateResult, blockers []string, passed bool, triggeredBy string) error {
	gatesMap := make(storage.JSONMap, len(results))
	for _, r := range results {
		gatesMap[r.Name] = map[string]interface{}{"passed": r.Passed, "detail": r.Detail, "blocking": r.Blocking}
	}
	blockersMap := make(storage.JSONMap, len(blockers))
	for _, b := range blockers {
		blockersMap[b] = true
	}

	var triggeredByPtr *string
	if triggeredBy != "" {
		triggeredByPtr = &triggeredBy
	}

	run := &storage.DeploymentGateRun{
		ID: uuid.NewString(), Passed: passed, Gates: gatesMap, Blockers: blockersMap,
		TriggeredBy: triggeredByPtr, CreatedAt: g.now(),
	}
	return g.deploy.InsertGateRun(ctx, run)
}
