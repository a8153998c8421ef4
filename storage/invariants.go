package storage

import (
	"context"

	"github.com/nexus-retail/opsplane/infrastructure/errors"
)

// InvariantRepo persists violations and drift-score samples.
type InvariantRepo struct {
	s *Store
}

func (s *Store) Invariants() *InvariantRepo { return &InvariantRepo{s: s} }

// InsertViolations bulk-inserts up to len(vs) violation rows in one statement
// batch. Callers are expected to have already capped the slice (100/cycle).
func (r *InvariantRepo) InsertViolations(ctx context.Context, vs []InvariantViolation) error {
	if len(vs) == 0 {
		return nil
	}
	const q = `
		INSERT INTO invariant_violations
			(id, invariant_name, shop_id, entity_id, entity_type, details, auto_corrected, incident_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	tx, err := r.s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.DatabaseError("begin insert violations", err)
	}
	for _, v := range vs {
		if _, err := tx.ExecContext(ctx, q, v.ID, v.InvariantName, v.ShopID, v.EntityID, v.EntityType,
			v.Details, v.AutoCorrected, v.IncidentID, v.CreatedAt); err != nil {
			tx.Rollback()
			return errors.DatabaseError("insert violation", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.DatabaseError("commit insert violations", err)
	}
	return nil
}

// InsertDriftScore persists one composite drift-score sample.
func (r *InvariantRepo) InsertDriftScore(ctx context.Context, d *DriftScore) error {
	const q = `INSERT INTO drift_scores (id, score, components, created_at) VALUES ($1, $2, $3, $4)`
	if _, err := r.s.db.ExecContext(ctx, q, d.ID, d.Score, d.Components, d.CreatedAt); err != nil {
		return errors.DatabaseError("insert drift score", err)
	}
	return nil
}

// LatestDriftScore returns the most recent drift-score sample, if any.
func (r *InvariantRepo) LatestDriftScore(ctx context.Context) (*DriftScore, error) {
	var d DriftScore
	const q = `SELECT * FROM drift_scores ORDER BY created_at DESC LIMIT 1`
	if err := r.s.db.GetContext(ctx, &d, q); err != nil {
		return nil, nil
	}
	return &d, nil
}

// Last24h returns drift-score samples from the last 24 hours, oldest first.
func (r *InvariantRepo) Last24h(ctx context.Context) ([]DriftScore, error) {
	const q = `SELECT * FROM drift_scores WHERE created_at > now() - interval '24 hours' ORDER BY created_at ASC`
	var out []DriftScore
	if err := r.s.db.SelectContext(ctx, &out, q); err != nil {
		return nil, errors.DatabaseError("list recent drift scores", err)
	}
	return out, nil
}
