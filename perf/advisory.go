package perf

import (
	"context"
	"fmt"

	"github.com/nexus-retail/opsplane/storage"
)

const (
	slowQueryMeanThresholdMs = 500
	slowQueryMinCalls        = 10
)

// Advisor surfaces slow-query and index-suggestion signals from the
// store's statement-level statistics, when available. It never issues DDL.
type Advisor struct {
	repo *storage.PerfRepo
}

// NewAdvisor wraps the perf repository as an advisor.
func NewAdvisor(repo *storage.PerfRepo) *Advisor {
	return &Advisor{repo: repo}
}

// SlowQuerySummary describes the single worst slow-query signal found,
// formatted for attachment to a perf observation. Empty if none.
func (a *Advisor) SlowQuerySummary(ctx context.Context) (string, error) {
	rows, err := a.repo.SlowQueries(ctx, slowQueryMeanThresholdMs, slowQueryMinCalls)
	if err != nil {
		return "", err
	}
	if len(rows) == 0 {
		return "", nil
	}
	top := rows[0]
	return fmt.Sprintf("mean %.1fms over %d calls: %s", top.MeanMs, top.CallCount, top.Query), nil
}

// IndexSuggestionSummary describes the single worst index-suggestion
// signal found. Empty if none.
func (a *Advisor) IndexSuggestionSummary(ctx context.Context) (string, error) {
	rows, err := a.repo.IndexSuggestions(ctx)
	if err != nil {
		return "", err
	}
	if len(rows) == 0 {
		return "", nil
	}
	top := rows[0]
	return fmt.Sprintf("table %s: %d seq scans reading %d tuples, %d index scans",
		top.Table, top.SeqScans, top.SeqTupleRead, top.IndexScans), nil
}
