package storage

import (
	"context"
	"database/sql"

	"github.com/nexus-retail/opsplane/infrastructure/errors"
)

// IncidentRepo persists Incident rows. Mutated only by the incident manager.
type IncidentRepo struct {
	s *Store
}

func (s *Store) Incidents() *IncidentRepo { return &IncidentRepo{s: s} }

// Insert creates a new incident row.
func (r *IncidentRepo) Insert(ctx context.Context, in *Incident) error {
	const q = `
		INSERT INTO incidents (id, priority, status, title, invariant_name, details, forensic,
			auto_heal_attempts, auto_healed, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err := r.s.db.ExecContext(ctx, q, in.ID, in.Priority, in.Status, in.Title, in.InvariantName,
		in.Details, in.Forensic, in.AutoHealAttempts, in.AutoHealed, in.CreatedAt, in.UpdatedAt)
	if err != nil {
		return errors.DatabaseError("insert incident", err)
	}
	return nil
}

// Get fetches one incident by id.
func (r *IncidentRepo) Get(ctx context.Context, id string) (*Incident, error) {
	var in Incident
	err := r.s.db.GetContext(ctx, &in, `SELECT * FROM incidents WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("incident", id)
	}
	if err != nil {
		return nil, errors.DatabaseError("get incident", err)
	}
	return &in, nil
}

// FindOpenByInvariant returns the most recent OPEN/AUTO_HEALING incident
// referencing the given invariant name, if any.
func (r *IncidentRepo) FindOpenByInvariant(ctx context.Context, invariantName string) (*Incident, error) {
	var in Incident
	const q = `
		SELECT * FROM incidents
		WHERE invariant_name = $1 AND status IN ('OPEN', 'AUTO_HEALING')
		ORDER BY created_at DESC
		LIMIT 1`
	err := r.s.db.GetContext(ctx, &in, q, invariantName)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.DatabaseError("find open incident by invariant", err)
	}
	return &in, nil
}

// UpdateStatus applies a monotone-forward status transition along with any
// touched fields. Callers are responsible for enforcing the monotonicity
// invariant before calling.
func (r *IncidentRepo) UpdateStatus(ctx context.Context, in *Incident) error {
	const q = `
		UPDATE incidents SET
			status = $2, details = $3, auto_heal_attempts = $4, auto_healed = $5,
			updated_at = $6, resolved_at = $7, escalated_at = $8, resolved_by = $9, resolved_reason = $10
		WHERE id = $1`
	res, err := r.s.db.ExecContext(ctx, q, in.ID, in.Status, in.Details, in.AutoHealAttempts, in.AutoHealed,
		in.UpdatedAt, in.ResolvedAt, in.EscalatedAt, in.ResolvedBy, in.ResolvedReason)
	if err != nil {
		return errors.DatabaseError("update incident", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return errors.NotFound("incident", in.ID)
	}
	return nil
}

// OpenCountByPriority counts open-or-escalated incidents at a given priority.
func (r *IncidentRepo) OpenCountByPriority(ctx context.Context, p Priority) (int, error) {
	var n int
	const q = `
		SELECT COUNT(*) FROM incidents
		WHERE priority = $1 AND status IN ('OPEN', 'AUTO_HEALING', 'ESCALATED')`
	if err := r.s.db.GetContext(ctx, &n, q, p); err != nil {
		return 0, errors.DatabaseError("count open incidents by priority", err)
	}
	return n, nil
}

// Summary is the aggregate open-incident count by priority.
type Summary struct {
	OpenP1    int `json:"openP1"`
	OpenP2    int `json:"openP2"`
	OpenP3    int `json:"openP3"`
	OpenP4    int `json:"openP4"`
	TotalOpen int `json:"totalOpen"`
}

// Summary computes the open-incident counts across all priorities.
func (r *IncidentRepo) Summary(ctx context.Context) (Summary, error) {
	var sm Summary
	for p, dst := range map[Priority]*int{
		PriorityP1: &sm.OpenP1,
		PriorityP2: &sm.OpenP2,
		PriorityP3: &sm.OpenP3,
		PriorityP4: &sm.OpenP4,
	} {
		n, err := r.OpenCountByPriority(ctx, p)
		if err != nil {
			return sm, err
		}
		*dst = n
	}
	sm.TotalOpen = sm.OpenP1 + sm.OpenP2 + sm.OpenP3 + sm.OpenP4
	return sm, nil
}

// ListOpen returns up to limit open incidents ordered P1->P4 then newest-first.
func (r *IncidentRepo) ListOpen(ctx context.Context, limit int) ([]Incident, error) {
	const q = `
		SELECT * FROM incidents
		WHERE status IN ('OPEN', 'AUTO_HEALING', 'ESCALATED')
		ORDER BY
			CASE priority WHEN 'P1' THEN 1 WHEN 'P2' THEN 2 WHEN 'P3' THEN 3 ELSE 4 END,
			created_at DESC
		LIMIT $1`
	var out []Incident
	if err := r.s.db.SelectContext(ctx, &out, q, limit); err != nil {
		return nil, errors.DatabaseError("list open incidents", err)
	}
	return out, nil
}
