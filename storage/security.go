package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/nexus-retail/opsplane/infrastructure/errors"
)

// SecurityRepo persists security events, persistent blocks, and the
// tamper-evident audit chain.
type SecurityRepo struct {
	s *Store
}

func (s *Store) Security() *SecurityRepo { return &SecurityRepo{s: s} }

// InsertEvent records one anomaly observation.
func (r *SecurityRepo) InsertEvent(ctx context.Context, e *SecurityEvent) error {
	const q = `
		INSERT INTO security_events (id, event_type, ip, user_id, details, severity, auto_blocked, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := r.s.db.ExecContext(ctx, q, e.ID, e.EventType, e.IP, e.UserID, e.Details, e.Severity, e.AutoBlocked, e.CreatedAt)
	if err != nil {
		return errors.DatabaseError("insert security event", err)
	}
	return nil
}

// UpsertBlock inserts or refreshes a persistent block for target.
func (r *SecurityRepo) UpsertBlock(ctx context.Context, b *SecurityBlock) error {
	const q = `
		INSERT INTO security_blocks (id, target, target_type, reason, blocked_at, expires_at, lifted_at, lifted_by)
		VALUES ($1, $2, $3, $4, $5, $6, NULL, NULL)
		ON CONFLICT (target) DO UPDATE SET
			reason = EXCLUDED.reason, blocked_at = EXCLUDED.blocked_at, expires_at = EXCLUDED.expires_at,
			lifted_at = NULL, lifted_by = NULL`
	_, err := r.s.db.ExecContext(ctx, q, b.ID, b.Target, b.TargetType, b.Reason, b.BlockedAt, b.ExpiresAt)
	if err != nil {
		return errors.DatabaseError("upsert security block", err)
	}
	return nil
}

// IsBlocked reports whether target is currently subject to an active block.
func (r *SecurityRepo) IsBlocked(ctx context.Context, target string, now time.Time) (bool, error) {
	var n int
	const q = `
		SELECT COUNT(*) FROM security_blocks
		WHERE target = $1 AND lifted_at IS NULL AND expires_at > $2`
	if err := r.s.db.GetContext(ctx, &n, q, target, now); err != nil {
		return false, errors.DatabaseError("check security block", err)
	}
	return n > 0, nil
}

// LiftBlock manually lifts a block ahead of its expiry.
func (r *SecurityRepo) LiftBlock(ctx context.Context, target, liftedBy string, now time.Time) error {
	const q = `UPDATE security_blocks SET lifted_at = $2, lifted_by = $3 WHERE target = $1 AND lifted_at IS NULL`
	if _, err := r.s.db.ExecContext(ctx, q, target, now, liftedBy); err != nil {
		return errors.DatabaseError("lift security block", err)
	}
	return nil
}

// AppendAuditEntry appends one hash-chained audit entry, computing row_hash
// from the immediately preceding entry (by created_at), or GenesisHash for
// the first row in the chain.
func (r *SecurityRepo) AppendAuditEntry(ctx context.Context, rowHashFn func(prevHash string) (rowHash string), e *AuditChainEntry) error {
	tx, err := r.s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.DatabaseError("begin append audit entry", err)
	}
	defer tx.Rollback()

	var prevHash string
	err = tx.GetContext(ctx, &prevHash, `SELECT row_hash FROM audit_chain_entries ORDER BY created_at DESC LIMIT 1`)
	if err == sql.ErrNoRows {
		prevHash = GenesisHash
	} else if err != nil {
		return errors.DatabaseError("read previous audit hash", err)
	}

	e.PrevHash = prevHash
	e.RowHash = rowHashFn(prevHash)

	const q = `
		INSERT INTO audit_chain_entries (id, action, entity_type, entity_id, row_hash, prev_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	if _, err := tx.ExecContext(ctx, q, e.ID, e.Action, e.EntityType, e.EntityID, e.RowHash, e.PrevHash, e.CreatedAt); err != nil {
		return errors.DatabaseError("insert audit entry", err)
	}
	return tx.Commit()
}

// AuditChainPrefix returns up to limit audit entries ordered oldest first,
// for continuity verification.
func (r *SecurityRepo) AuditChainPrefix(ctx context.Context, limit int) ([]AuditChainEntry, error) {
	const q = `SELECT * FROM audit_chain_entries ORDER BY created_at ASC LIMIT $1`
	var out []AuditChainEntry
	if err := r.s.db.SelectContext(ctx, &out, q, limit); err != nil {
		return nil, errors.DatabaseError("list audit chain", err)
	}
	return out, nil
}
