package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/nexus-retail/opsplane/infrastructure/errors"
)

// IdempotencyRepo backs the in-flight request dedup registry.
type IdempotencyRepo struct {
	s *Store
}

func (s *Store) Idempotency() *IdempotencyRepo { return &IdempotencyRepo{s: s} }

// Lookup returns the record for key if it exists and has not expired.
func (r *IdempotencyRepo) Lookup(ctx context.Context, key string, now time.Time) (*IdempotencyRecord, error) {
	var rec IdempotencyRecord
	const q = `SELECT * FROM idempotency_records WHERE id = $1 AND expires_at > $2`
	err := r.s.db.GetContext(ctx, &rec, q, key, now)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.DatabaseError("lookup idempotency record", err)
	}
	return &rec, nil
}

// TryInsertLocked attempts to claim key by inserting a locked row. Returns
// false if another row already holds the key (insert lost the race).
func (r *IdempotencyRepo) TryInsertLocked(ctx context.Context, key string, ttl time.Duration, now time.Time) (bool, error) {
	const q = `
		INSERT INTO idempotency_records (id, locked, locked_at, created_at, expires_at)
		VALUES ($1, TRUE, $2, $2, $3)
		ON CONFLICT (id) DO NOTHING`
	res, err := r.s.db.ExecContext(ctx, q, key, now, now.Add(ttl))
	if err != nil {
		return false, errors.DatabaseError("insert idempotency record", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Complete stores the successful response and releases the lock.
func (r *IdempotencyRepo) Complete(ctx context.Context, key string, statusCode int, body string) error {
	const q = `UPDATE idempotency_records SET response_body = $2, status_code = $3, locked = FALSE WHERE id = $1`
	if _, err := r.s.db.ExecContext(ctx, q, key, body, statusCode); err != nil {
		return errors.DatabaseError("complete idempotency record", err)
	}
	return nil
}

// Release deletes the row after a failed fn, freeing the key for retry.
func (r *IdempotencyRepo) Release(ctx context.Context, key string) error {
	if _, err := r.s.db.ExecContext(ctx, `DELETE FROM idempotency_records WHERE id = $1`, key); err != nil {
		return errors.DatabaseError("release idempotency record", err)
	}
	return nil
}

// GC deletes rows whose TTL has lapsed. Returns the count removed.
func (r *IdempotencyRepo) GC(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.s.db.ExecContext(ctx, `DELETE FROM idempotency_records WHERE expires_at < $1`, now)
	if err != nil {
		return 0, errors.DatabaseError("gc idempotency records", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// DuplicateExists checks the duplicate-business-action façade: keys of the
// form dup:<businessKey>:<ts> within window are treated as the same key
// namespace, so this scans for any row whose id has the given prefix and
// has not expired.
func (r *IdempotencyRepo) DuplicateExists(ctx context.Context, prefix string, now time.Time) (bool, error) {
	var n int
	const q = `SELECT COUNT(*) FROM idempotency_records WHERE id LIKE $1 AND expires_at > $2`
	if err := r.s.db.GetContext(ctx, &n, q, prefix+"%", now); err != nil {
		return false, errors.DatabaseError("check duplicate marker", err)
	}
	return n > 0, nil
}

// MarkDuplicateSeen inserts a short-TTL duplicate marker; best-effort, does
// not participate in the locking protocol above.
func (r *IdempotencyRepo) MarkDuplicateSeen(ctx context.Context, key string, ttl time.Duration, now time.Time) error {
	const q = `
		INSERT INTO idempotency_records (id, locked, created_at, expires_at)
		VALUES ($1, FALSE, $2, $3)
		ON CONFLICT (id) DO NOTHING`
	if _, err := r.s.db.ExecContext(ctx, q, key, now, now.Add(ttl)); err != nil {
		return errors.DatabaseError("mark duplicate seen", err)
	}
	return nil
}
