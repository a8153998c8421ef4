package storage

import (
	"context"
	"time"

	"github.com/nexus-retail/opsplane/infrastructure/errors"
)

// HealthRepo persists health-score samples and the safe-mode singleton.
type HealthRepo struct {
	s *Store
}

func (s *Store) Health() *HealthRepo { return &HealthRepo{s: s} }

// InsertScore persists one health-score sample.
func (r *HealthRepo) InsertScore(ctx context.Context, h *HealthScore) error {
	const q = `INSERT INTO health_scores (id, score, components, safe_mode, recorded_at) VALUES ($1, $2, $3, $4, $5)`
	if _, err := r.s.db.ExecContext(ctx, q, h.ID, h.Score, h.Components, h.SafeMode, h.RecordedAt); err != nil {
		return errors.DatabaseError("insert health score", err)
	}
	return nil
}

// LatestScore returns the most recent health-score sample, if any.
func (r *HealthRepo) LatestScore(ctx context.Context) (*HealthScore, error) {
	var h HealthScore
	const q = `SELECT * FROM health_scores ORDER BY recorded_at DESC LIMIT 1`
	if err := r.s.db.GetContext(ctx, &h, q); err != nil {
		return nil, nil
	}
	return &h, nil
}

// GetSafeMode reads the singleton safe-mode row.
func (r *HealthRepo) GetSafeMode(ctx context.Context) (*SafeModeState, error) {
	var st SafeModeState
	const q = `SELECT * FROM safe_mode_state WHERE id = 1`
	if err := r.s.db.GetContext(ctx, &st, q); err != nil {
		return nil, errors.DatabaseError("get safe mode state", err)
	}
	return &st, nil
}

// Enable atomically turns safe mode on if it is currently off, using the
// singleton row as the compare-and-set target. Returns false if it was
// already enabled (no-op).
func (r *HealthRepo) Enable(ctx context.Context, reason, enabledBy string, now time.Time) (bool, error) {
	const q = `
		UPDATE safe_mode_state SET
			safe_mode = TRUE, reason = $1, enabled_at = $2, enabled_by = $3, updated_at = $2
		WHERE id = 1 AND safe_mode = FALSE`
	res, err := r.s.db.ExecContext(ctx, q, reason, now, enabledBy)
	if err != nil {
		return false, errors.DatabaseError("enable safe mode", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Disable clears safe mode iff the supplied token matches the stored
// override_token, in one atomic statement. Returns false on mismatch.
func (r *HealthRepo) Disable(ctx context.Context, overrideToken string, now time.Time) (bool, error) {
	const q = `
		UPDATE safe_mode_state SET
			safe_mode = FALSE, reason = NULL, enabled_at = NULL, enabled_by = NULL, updated_at = $2
		WHERE id = 1 AND safe_mode = TRUE AND override_token = $1`
	res, err := r.s.db.ExecContext(ctx, q, overrideToken, now)
	if err != nil {
		return false, errors.DatabaseError("disable safe mode", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// SetOverrideToken rotates the token required to disable safe mode.
func (r *HealthRepo) SetOverrideToken(ctx context.Context, token string, now time.Time) error {
	const q = `UPDATE safe_mode_state SET override_token = $1, updated_at = $2 WHERE id = 1`
	if _, err := r.s.db.ExecContext(ctx, q, token, now); err != nil {
		return errors.DatabaseError("rotate override token", err)
	}
	return nil
}
