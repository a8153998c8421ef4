package storage

import (
	"context"
	"time"

	"github.com/nexus-retail/opsplane/infrastructure/errors"
)

// DeployRepo persists deployment-gate evaluation runs and executive reports.
type DeployRepo struct {
	s *Store
}

func (s *Store) Deploy() *DeployRepo { return &DeployRepo{s: s} }

// InsertGateRun persists one gate evaluation.
func (r *DeployRepo) InsertGateRun(ctx context.Context, g *DeploymentGateRun) error {
	const q = `
		INSERT INTO deployment_gate_runs (id, passed, gates, blockers, triggered_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.s.db.ExecContext(ctx, q, g.ID, g.Passed, g.Gates, g.Blockers, g.TriggeredBy, g.CreatedAt)
	if err != nil {
		return errors.DatabaseError("insert deployment gate run", err)
	}
	return nil
}

// Reports returns the ExecutiveReport repository.
func (s *Store) Reports() *ReportRepo { return &ReportRepo{s: s} }

// ReportRepo persists the daily executive digest.
type ReportRepo struct {
	s *Store
}

// Upsert inserts or replaces the report for periodDate.
func (r *ReportRepo) Upsert(ctx context.Context, rep *ExecutiveReport) error {
	const q = `
		INSERT INTO executive_reports (id, period_date, report, dispatched, dispatched_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (period_date) DO UPDATE SET
			report = EXCLUDED.report, dispatched = EXCLUDED.dispatched, dispatched_at = EXCLUDED.dispatched_at`
	_, err := r.s.db.ExecContext(ctx, q, rep.ID, rep.PeriodDate, rep.Report, rep.Dispatched, rep.DispatchedAt)
	if err != nil {
		return errors.DatabaseError("upsert executive report", err)
	}
	return nil
}

// MarkDispatched flips the dispatched flag for periodDate.
func (r *ReportRepo) MarkDispatched(ctx context.Context, periodDate time.Time, now time.Time) error {
	const q = `UPDATE executive_reports SET dispatched = TRUE, dispatched_at = $2 WHERE period_date = $1`
	if _, err := r.s.db.ExecContext(ctx, q, periodDate, now); err != nil {
		return errors.DatabaseError("mark report dispatched", err)
	}
	return nil
}
