package storage

import (
	"context"

	"github.com/nexus-retail/opsplane/infrastructure/errors"
)

// BackupRepo persists backup-validation runs.
type BackupRepo struct {
	s *Store
}

func (s *Store) Backups() *BackupRepo { return &BackupRepo{s: s} }

// Insert persists a new backup-validation row.
func (r *BackupRepo) Insert(ctx context.Context, b *BackupValidation) error {
	const q = `
		INSERT INTO backup_validations
			(id, backup_file, size_kb, checksum, restore_tested, drift_clean, incident_id, validated_at, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := r.s.db.ExecContext(ctx, q, b.ID, b.BackupFile, b.SizeKB, b.Checksum, b.RestoreTested, b.DriftClean,
		b.IncidentID, b.ValidatedAt, b.Status)
	if err != nil {
		return errors.DatabaseError("insert backup validation", err)
	}
	return nil
}

// UpdateStatus transitions a validation row to its terminal status.
func (r *BackupRepo) UpdateStatus(ctx context.Context, id string, status BackupValidationStatus, incidentID *string) error {
	const q = `UPDATE backup_validations SET status = $2, incident_id = $3 WHERE id = $1`
	if _, err := r.s.db.ExecContext(ctx, q, id, status, incidentID); err != nil {
		return errors.DatabaseError("update backup validation status", err)
	}
	return nil
}

// LatestPassed returns the most recent PASSED validation, if any.
func (r *BackupRepo) LatestPassed(ctx context.Context) (*BackupValidation, error) {
	var b BackupValidation
	const q = `SELECT * FROM backup_validations WHERE status = 'PASSED' ORDER BY validated_at DESC LIMIT 1`
	if err := r.s.db.GetContext(ctx, &b, q); err != nil {
		return nil, nil
	}
	return &b, nil
}
