package storage

import (
	"context"
	"fmt"

	"github.com/nexus-retail/opsplane/infrastructure/errors"
)

// PerfRepo persists per-endpoint performance observations.
type PerfRepo struct {
	s *Store
}

func (s *Store) Perf() *PerfRepo { return &PerfRepo{s: s} }

// Insert persists one perf-analysis sample.
func (r *PerfRepo) Insert(ctx context.Context, p *PerfObservation) error {
	const q = `
		INSERT INTO perf_observations (id, endpoint, p95_ms, p99_ms, sample_count, slow_query, index_suggestion, observed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := r.s.db.ExecContext(ctx, q, p.ID, p.Endpoint, p.P95Ms, p.P99Ms, p.SampleCount, p.SlowQuery, p.IndexSuggestion, p.ObservedAt)
	if err != nil {
		return errors.DatabaseError("insert perf observation", err)
	}
	return nil
}

// SlowQuery is an advisory signal for a single slow statement.
type SlowQuery struct {
	Query     string  `db:"query"`
	MeanMs    float64 `db:"mean_ms"`
	CallCount int64   `db:"calls"`
}

// SlowQueries returns statements with mean time > thresholdMs and call
// count > minCalls, sourced from pg_stat_statements when that extension is
// installed. Returns an empty slice (not an error) when the view is absent.
func (r *PerfRepo) SlowQueries(ctx context.Context, thresholdMs float64, minCalls int64) ([]SlowQuery, error) {
	const q = `
		SELECT query, mean_exec_time AS mean_ms, calls
		FROM pg_stat_statements
		WHERE mean_exec_time > $1 AND calls > $2
		ORDER BY mean_exec_time DESC
		LIMIT 20`
	var out []SlowQuery
	if err := r.s.db.SelectContext(ctx, &out, q, thresholdMs, minCalls); err != nil {
		return []SlowQuery{}, nil
	}
	return out, nil
}

// IndexSuggestion is an advisory signal for a table with poor index usage.
type IndexSuggestion struct {
	Table        string `db:"relname"`
	SeqScans     int64  `db:"seq_scan"`
	SeqTupleRead int64  `db:"seq_tup_read"`
	IndexScans   int64  `db:"idx_scan"`
}

// IndexSuggestions returns tables with > 100 sequential scans reading more
// than 10000 tuples where index scans are less than 10% of sequential scans.
func (r *PerfRepo) IndexSuggestions(ctx context.Context) ([]IndexSuggestion, error) {
	const q = `
		SELECT relname, seq_scan, seq_tup_read, COALESCE(idx_scan, 0) AS idx_scan
		FROM pg_stat_user_tables
		WHERE seq_scan > 100 AND seq_tup_read > 10000
		  AND COALESCE(idx_scan, 0) < seq_scan * 0.1
		ORDER BY seq_tup_read DESC
		LIMIT 20`
	var out []IndexSuggestion
	if err := r.s.db.SelectContext(ctx, &out, q); err != nil {
		return []IndexSuggestion{}, nil
	}
	return out, nil
}

// ConnectionSaturation reports (active+idle)/max_connections as a fraction.
func (r *PerfRepo) ConnectionSaturation(ctx context.Context) (float64, error) {
	var used, max int
	const qUsed = `SELECT COUNT(*) FROM pg_stat_activity`
	const qMax = `SHOW max_connections`
	if err := r.s.db.GetContext(ctx, &used, qUsed); err != nil {
		return 0, errors.DatabaseError("count connections", err)
	}
	var maxStr string
	if err := r.s.db.GetContext(ctx, &maxStr, qMax); err != nil {
		return 0, errors.DatabaseError("read max_connections", err)
	}
	if _, err := fmt.Sscan(maxStr, &max); err != nil || max == 0 {
		return 0, nil
	}
	return float64(used) / float64(max), nil
}
